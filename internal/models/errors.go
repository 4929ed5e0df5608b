package models

import "errors"

// Domain error kinds. Callers match these with errors.Is; the transport
// layer has its own classification for Telegram API failures.
var (
	// ErrPollGone means the poll was deleted while an operation referenced it.
	ErrPollGone = errors.New("poll no longer exists")

	// ErrPollInactive means a vote arrived for a poll that is not active.
	ErrPollInactive = errors.New("poll is not active")

	// ErrOptionOutOfRange means a vote referenced an option index outside
	// the poll's option list.
	ErrOptionOutOfRange = errors.New("option index out of range")

	// ErrUserInputInvalid is surfaced as a non-intrusive alert; wizard
	// state is preserved so the user can retry.
	ErrUserInputInvalid = errors.New("invalid input")
)
