package models

import (
	"strconv"
	"strings"
	"time"
)

// Poll lifecycle statuses.
const (
	StatusDraft  = "draft"
	StatusActive = "active"
	StatusClosed = "closed"
)

// Poll kinds.
const (
	KindNative = "native"
	KindWebApp = "webapp"
)

// Voter name list styles.
const (
	NamesList     = "list"
	NamesInline   = "inline"
	NamesNumbered = "numbered"
)

// User represents a Telegram user observed by the bot.
type User struct {
	ID        int64  // Telegram user ID
	FirstName string // First name as last seen
	LastName  string // Last name as last seen
	Username  string // @handle without the "@", may be empty
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "id" + strconv.FormatInt(u.ID, 10)
}

// Chat represents a chat the bot has seen an update in.
type Chat struct {
	ID    int64  // Telegram chat ID (negative for groups)
	Title string // Chat title, empty for private chats
	Kind  string // "private", "group", "supergroup", "channel"
}

// Participant is a chat member known to the bot. The (ChatID, UserID)
// pair is the single source of truth for chat membership.
type Participant struct {
	ChatID    int64
	UserID    int64
	FirstName string
	LastName  string
	Username  string
	Excluded  bool // excluded from nudges and pending lists for all polls in the chat
}

// DisplayName returns the denormalized participant name.
func (p Participant) DisplayName() string {
	return User{ID: p.UserID, FirstName: p.FirstName, LastName: p.LastName, Username: p.Username}.DisplayName()
}

// Poll is a single opinion poll in a chat.
type Poll struct {
	ID        int64
	ChatID    int64
	Status    string // draft / active / closed
	Kind      string // native / webapp
	Title     string
	Options   []string // ordered option texts, positional indices are meaningful
	MessageID int      // Telegram message ID of the live artifact, 0 when none
	PhotoID   string   // Telegram file ID of the artifact photo, "" when text-only
	NudgeID   int      // Telegram message ID of the nudge message, 0 when none
	WebAppID  string   // bundled web app ID, set when Kind == webapp
	CreatedAt time.Time
}

// Response marks "this user voted for this option". The composite
// (PollID, UserID, Option) key makes duplicate votes impossible.
type Response struct {
	PollID    int64
	UserID    int64
	Option    string
	CreatedAt time.Time
}

// PollSettings holds poll-wide defaults, one row per poll.
type PollSettings struct {
	PollID             int64
	AllowMultiple      bool
	ShowHeatmap        bool
	ShowTextResults    bool
	DefaultShowNames   bool
	DefaultShowCount   bool
	DefaultNamesStyle  string  // list / inline / numbered
	TargetSum          float64 // money goal, 0 disables the progress bar
	NudgeNegativeEmoji string
}

// DefaultPollSettings returns the settings row inserted with every new draft.
func DefaultPollSettings(pollID int64) PollSettings {
	return PollSettings{
		PollID:             pollID,
		ShowHeatmap:        true,
		ShowTextResults:    true,
		DefaultShowNames:   true,
		DefaultShowCount:   true,
		DefaultNamesStyle:  NamesList,
		NudgeNegativeEmoji: "❌",
	}
}

// OptionSettings overrides poll defaults for one option, addressed by its
// position in Poll.Options. Nil pointer fields mean "use the poll default".
type OptionSettings struct {
	PollID             int64
	OptionIndex        int
	ShowNames          *bool
	ShowCount          *bool
	NamesStyle         *string
	Emoji              string
	IsPriority         bool
	ContributionAmount float64
	ShowContribution   bool
}

// PollExclusion excludes a participant from a single poll.
type PollExclusion struct {
	PollID int64
	UserID int64
}

// Bundle is everything needed to render one poll: the poll row, its
// settings, option overrides and all responses with their voters.
type Bundle struct {
	Poll           Poll
	Settings       PollSettings
	OptionSettings []OptionSettings
	Responses      []Response     // ordered by insertion
	Voters         map[int64]User // users appearing in Responses
	Exclusions     map[int64]bool // poll-level exclusions
}

// OptionOverride returns the override row for an option index, or nil.
func (b *Bundle) OptionOverride(index int) *OptionSettings {
	for i := range b.OptionSettings {
		if b.OptionSettings[i].OptionIndex == index {
			return &b.OptionSettings[i]
		}
	}
	return nil
}

// Responders returns the distinct voter IDs in response insertion order.
func (b *Bundle) Responders() []int64 {
	seen := make(map[int64]bool, len(b.Responses))
	var out []int64
	for _, r := range b.Responses {
		if !seen[r.UserID] {
			seen[r.UserID] = true
			out = append(out, r.UserID)
		}
	}
	return out
}

// Vote final states.
const (
	VoteStateVoted    = "voted"
	VoteStateUnvoted  = "unvoted"
	VoteStateSwitched = "switched"
)

// VoteOutcome tells the caller whether the artifact needs a rewrite.
type VoteOutcome struct {
	Changed    bool
	FinalState string // voted / unvoted / switched
}
