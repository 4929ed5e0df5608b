package render

import (
	"strings"
	"testing"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

func testBundle() *models.Bundle {
	poll := models.Poll{
		ID:      1,
		ChatID:  -100,
		Status:  models.StatusActive,
		Kind:    models.KindNative,
		Title:   "Куда едем?",
		Options: []string{"Красный", "Синий"},
	}
	return &models.Bundle{
		Poll:       poll,
		Settings:   models.DefaultPollSettings(poll.ID),
		Voters:     map[int64]models.User{},
		Exclusions: map[int64]bool{},
	}
}

func addVote(b *models.Bundle, userID int64, name, option string) {
	b.Voters[userID] = models.User{ID: userID, FirstName: name}
	b.Responses = append(b.Responses, models.Response{PollID: b.Poll.ID, UserID: userID, Option: option})
}

func TestCaptionBasic(t *testing.T) {
	b := testBundle()
	addVote(b, 10, "Вася", "Красный")

	got := Caption(b)
	for _, want := range []string{
		"📊 *Куда едем?*",
		"Красный: *1*",
		"• Вася",
		"Синий: *0*",
		"Всего проголосовало: *1*",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("caption missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Собрано") {
		t.Errorf("caption has a money line without contributions:\n%s", got)
	}
}

func TestCaptionClosedHeader(t *testing.T) {
	b := testBundle()
	b.Poll.Status = models.StatusClosed

	got := Caption(b)
	wantPrefix := "🏁 *ОПРОС ЗАВЕРШЕН*\n➖➖➖➖➖➖➖➖➖➖\n"
	if !strings.HasPrefix(got, wantPrefix) {
		t.Errorf("closed caption prefix = %q, want %q", got[:min(len(got), len(wantPrefix))], wantPrefix)
	}
}

func TestCaptionMoneyProgress(t *testing.T) {
	b := testBundle()
	b.Settings.TargetSum = 500
	b.OptionSettings = []models.OptionSettings{{
		PollID:             1,
		OptionIndex:        0,
		ContributionAmount: 100,
		ShowContribution:   true,
	}}
	addVote(b, 1, "А", "Красный")
	addVote(b, 2, "Б", "Красный")
	addVote(b, 3, "В", "Красный")

	got := Caption(b)
	for _, want := range []string{
		"Красный (по 100): *3*",
		"[████████████░░░░░░░░]",
		"Собрано: *300 из 500* (60.0%)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("caption missing %q:\n%s", want, got)
		}
	}
}

func TestCaptionCollectedWithoutTarget(t *testing.T) {
	b := testBundle()
	b.OptionSettings = []models.OptionSettings{{
		PollID:             1,
		OptionIndex:        0,
		ContributionAmount: 250.5,
	}}
	addVote(b, 1, "А", "Красный")

	got := Caption(b)
	if !strings.Contains(got, "Собрано: *250.5*") {
		t.Errorf("caption missing collected line:\n%s", got)
	}
	if strings.Contains(got, "[") {
		t.Errorf("caption has a progress bar without a target:\n%s", got)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		collected, target float64
		want              string
	}{
		{0, 500, "[░░░░░░░░░░░░░░░░░░░░]"},
		{300, 500, "[████████████░░░░░░░░]"},
		{500, 500, "[████████████████████]"},
		{900, 500, "[████████████████████]"},
		{499, 500, "[███████████████████░]"},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.collected, tt.target); got != tt.want {
			t.Errorf("ProgressBar(%v, %v) = %q, want %q", tt.collected, tt.target, got, tt.want)
		}
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{300, "300"},
		{300.5, "300.5"},
		{0, "0"},
		{1234.25, "1234.25"},
	}
	for _, tt := range tests {
		if got := Money(tt.in); got != tt.want {
			t.Errorf("Money(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscape(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"a_b", `a\_b`},
		{"a*b", `a\*b`},
		{"a[b]", `a\[b]`},
		{"a`b", "a\\`b"},
		{"60.0%", "60.0%"},
	}
	for _, tt := range tests {
		if got := Escape(tt.in); got != tt.want {
			t.Errorf("Escape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOptionsPriorityFirst(t *testing.T) {
	b := testBundle()
	b.Poll.Options = []string{"Первый", "Второй", "Третий"}
	prio := true
	b.OptionSettings = []models.OptionSettings{{PollID: 1, OptionIndex: 2, IsPriority: prio}}

	opts := Options(b)
	if opts[0].Text != "Третий" {
		t.Fatalf("priority option not first: %v", opts[0].Text)
	}
	if opts[1].Text != "Первый" || opts[2].Text != "Второй" {
		t.Fatalf("non-priority order not preserved: %v, %v", opts[1].Text, opts[2].Text)
	}
}

func TestOptionsWebAppDistinct(t *testing.T) {
	b := testBundle()
	b.Poll.Kind = models.KindWebApp
	b.Poll.Options = nil
	addVote(b, 1, "А", "буду")
	addVote(b, 2, "Б", "не буду")
	addVote(b, 3, "В", "буду")

	opts := Options(b)
	if len(opts) != 2 {
		t.Fatalf("got %d options, want 2", len(opts))
	}
	if opts[0].Text != "буду" || opts[1].Text != "не буду" {
		t.Fatalf("options not sorted: %q, %q", opts[0].Text, opts[1].Text)
	}
	if opts[0].Count() != 2 {
		t.Errorf("count of %q = %d, want 2", opts[0].Text, opts[0].Count())
	}
}

func TestOptionOverridesMerge(t *testing.T) {
	b := testBundle()
	hide := false
	inline := models.NamesInline
	b.OptionSettings = []models.OptionSettings{{
		PollID:      1,
		OptionIndex: 0,
		ShowNames:   &hide,
		NamesStyle:  &inline,
		Emoji:       "🔥",
	}}

	opts := Options(b)
	if opts[0].ShowNames {
		t.Error("override did not hide names")
	}
	if opts[0].NamesStyle != models.NamesInline {
		t.Errorf("style = %q, want inline", opts[0].NamesStyle)
	}
	if opts[0].Emoji != "🔥" {
		t.Errorf("emoji = %q", opts[0].Emoji)
	}
	if opts[1].ShowNames != true || opts[1].NamesStyle != models.NamesList {
		t.Error("defaults leaked out of the overridden option")
	}
}

func TestNamesStyles(t *testing.T) {
	b := testBundle()
	addVote(b, 1, "Аня", "Красный")
	addVote(b, 2, "Боря", "Красный")

	b.Settings.DefaultNamesStyle = models.NamesInline
	if got := Caption(b); !strings.Contains(got, "Аня, Боря") {
		t.Errorf("inline style missing joined names:\n%s", got)
	}

	b.Settings.DefaultNamesStyle = models.NamesNumbered
	got := Caption(b)
	if !strings.Contains(got, "1. Аня") || !strings.Contains(got, "2. Боря") {
		t.Errorf("numbered style missing entries:\n%s", got)
	}
}

func TestNeedsImage(t *testing.T) {
	b := testBundle()
	if NeedsImage(b) {
		t.Error("image wanted with zero responses")
	}
	addVote(b, 1, "А", "Красный")
	if !NeedsImage(b) {
		t.Error("image not wanted with responses and heatmap on")
	}
	b.Settings.ShowHeatmap = false
	if NeedsImage(b) {
		t.Error("image wanted with heatmap off")
	}
}

func TestNudgeText(t *testing.T) {
	pending := []models.Participant{
		{ChatID: -100, UserID: 20, FirstName: "Боря"},
		{ChatID: -100, UserID: 10, FirstName: "Аня"},
	}
	got := NudgeText(pending, "❌")
	want := "📢 Ждем вашего голоса:\n❌ [Аня](tg://user?id=10)\n❌ [Боря](tg://user?id=20)"
	if got != want {
		t.Errorf("NudgeText = %q, want %q", got, want)
	}
}
