// Package render turns a loaded poll bundle into the Telegram caption of
// its live artifact. Everything here is pure: no database access, no
// network, no clock.
package render

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

const progressBarCells = 20

// Option is the effective per-option view: poll defaults merged with the
// option's override row, plus its voters in insertion order.
type Option struct {
	Index        int
	Text         string
	Emoji        string
	Priority     bool
	ShowNames    bool
	ShowCount    bool
	NamesStyle   string
	Contribution float64
	ShowContrib  bool
	Voters       []models.User
}

// Count returns the vote count of the option.
func (o Option) Count() int { return len(o.Voters) }

// Collected returns the option's money contribution.
func (o Option) Collected() float64 { return float64(len(o.Voters)) * o.Contribution }

// Options builds the effective option views, priority options first,
// original order preserved within each group. For webapp polls the option
// list is derived from the distinct response texts seen so far.
func Options(b *models.Bundle) []Option {
	texts := b.Poll.Options
	if b.Poll.Kind == models.KindWebApp {
		texts = distinctResponses(b)
	}

	voters := make(map[string][]models.User, len(texts))
	for _, r := range b.Responses {
		voters[r.Option] = append(voters[r.Option], b.Voters[r.UserID])
	}

	out := make([]Option, 0, len(texts))
	for i, text := range texts {
		o := Option{
			Index:      i,
			Text:       text,
			ShowNames:  b.Settings.DefaultShowNames,
			ShowCount:  b.Settings.DefaultShowCount,
			NamesStyle: b.Settings.DefaultNamesStyle,
			Voters:     voters[text],
		}
		if ov := b.OptionOverride(i); ov != nil {
			if ov.ShowNames != nil {
				o.ShowNames = *ov.ShowNames
			}
			if ov.ShowCount != nil {
				o.ShowCount = *ov.ShowCount
			}
			if ov.NamesStyle != nil {
				o.NamesStyle = *ov.NamesStyle
			}
			o.Emoji = ov.Emoji
			o.Priority = ov.IsPriority
			o.Contribution = ov.ContributionAmount
			o.ShowContrib = ov.ShowContribution
		}
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority && !out[j].Priority
	})
	return out
}

// NeedsImage reports whether the artifact carries a heat-map photo.
func NeedsImage(b *models.Bundle) bool {
	return b.Settings.ShowHeatmap && len(b.Responses) > 0
}

// Caption renders the artifact text in Telegram Markdown.
func Caption(b *models.Bundle) string {
	var sb strings.Builder

	if b.Poll.Status == models.StatusClosed {
		sb.WriteString("🏁 *ОПРОС ЗАВЕРШЕН*\n")
		sb.WriteString("➖➖➖➖➖➖➖➖➖➖\n")
	}

	sb.WriteString("📊 *")
	sb.WriteString(Escape(b.Poll.Title))
	sb.WriteString("*\n")

	opts := Options(b)
	collected := 0.0
	for _, o := range opts {
		collected += o.Collected()
	}

	// A webapp poll with no votes yet shows nothing but the title, the
	// web-launch button carries the interaction.
	showBlocks := b.Settings.ShowTextResults && !(b.Poll.Kind == models.KindWebApp && len(b.Responses) == 0)
	if showBlocks {
		for _, o := range opts {
			sb.WriteString("\n")
			writeOptionBlock(&sb, o)
		}
	}

	if b.Settings.TargetSum > 0 {
		sb.WriteString("\n")
		sb.WriteString(ProgressBar(collected, b.Settings.TargetSum))
		sb.WriteString("\n")
		percent := 100 * collected / b.Settings.TargetSum
		fmt.Fprintf(&sb, "Собрано: *%s из %s* (%.1f%%)\n", Money(collected), Money(b.Settings.TargetSum), percent)
	} else if collected > 0 {
		fmt.Fprintf(&sb, "\nСобрано: *%s*\n", Money(collected))
	}

	fmt.Fprintf(&sb, "\nВсего проголосовало: *%d*", len(b.Responders()))

	return sb.String()
}

func writeOptionBlock(sb *strings.Builder, o Option) {
	if o.Priority {
		sb.WriteString("📌 ")
	}
	if o.Emoji != "" {
		sb.WriteString(o.Emoji)
		sb.WriteString(" ")
	}
	text := Escape(o.Text)
	if o.Priority {
		text = "*" + text + "*"
	}
	sb.WriteString(text)
	if o.ShowContrib && o.Contribution > 0 {
		fmt.Fprintf(sb, " (по %s)", Money(o.Contribution))
	}
	if o.ShowCount {
		fmt.Fprintf(sb, ": *%d*", o.Count())
	}
	sb.WriteString("\n")

	if !o.ShowNames || len(o.Voters) == 0 {
		return
	}
	switch o.NamesStyle {
	case models.NamesInline:
		names := make([]string, len(o.Voters))
		for i, v := range o.Voters {
			names[i] = Escape(v.DisplayName())
		}
		sb.WriteString(strings.Join(names, ", "))
		sb.WriteString("\n")
	case models.NamesNumbered:
		for i, v := range o.Voters {
			fmt.Fprintf(sb, "%d. %s\n", i+1, Escape(v.DisplayName()))
		}
	default: // list
		for _, v := range o.Voters {
			fmt.Fprintf(sb, "• %s\n", Escape(v.DisplayName()))
		}
	}
}

// ProgressBar renders the 20-cell money bar. The filled cell count is
// floor(cells * collected / target), clamped to the bar width.
func ProgressBar(collected, target float64) string {
	filled := 0
	if target > 0 {
		filled = int(float64(progressBarCells) * collected / target)
	}
	if filled < 0 {
		filled = 0
	}
	if filled > progressBarCells {
		filled = progressBarCells
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", progressBarCells-filled) + "]"
}

// Money renders a money value with minimal decimals: 300 not 300.00.
func Money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Escape escapes free user text for Telegram legacy Markdown. Option texts
// and names are stored verbatim; only the rendering escapes them.
func Escape(s string) string {
	r := strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)
	return r.Replace(s)
}

// Mention renders a clickable user mention.
func Mention(u models.User) string {
	return fmt.Sprintf("[%s](tg://user?id=%d)", Escape(u.DisplayName()), u.ID)
}

// NudgeText renders the "waiting for your vote" companion message for the
// given pending participants, one line per user, sorted by user ID.
func NudgeText(pending []models.Participant, negEmoji string) string {
	sorted := make([]models.Participant, len(pending))
	copy(sorted, pending)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	var sb strings.Builder
	sb.WriteString("📢 Ждем вашего голоса:")
	for _, p := range sorted {
		sb.WriteString("\n")
		sb.WriteString(negEmoji)
		sb.WriteString(" ")
		sb.WriteString(Mention(models.User{
			ID: p.UserID, FirstName: p.FirstName, LastName: p.LastName, Username: p.Username,
		}))
	}
	return sb.String()
}

// AllVotedText is the nudge's terminal text once nobody is pending.
const AllVotedText = "Все проголосовали 🎉"

func distinctResponses(b *models.Bundle) []string {
	seen := make(map[string]bool, len(b.Responses))
	var texts []string
	for _, r := range b.Responses {
		if !seen[r.Option] {
			seen[r.Option] = true
			texts = append(texts, r.Option)
		}
	}
	sort.Strings(texts)
	return texts
}
