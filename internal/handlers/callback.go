package handlers

import (
	"fmt"
	"strconv"
	"strings"
)

// Callback data is colon-separated tokens. It is parsed into one tagged
// variant per prefix at the dispatcher boundary; handlers never look at
// raw strings.
type Callback interface{ callback() }

// DashCallback covers the private-dashboard navigation prefix.
//
//	dash:groups
//	dash:group:<chat_id>
//	dash:polls:<chat_id>:<status>
//	dash:start_poll:<poll_id>
//	dash:delete_poll:<poll_id>
//	dash:wizard_start:<chat_id>
type DashCallback struct {
	Action string
	ChatID int64
	PollID int64
	Status string
}

// VoteCallback is a native vote button press: vote:<poll_id>:<option_index>.
type VoteCallback struct {
	PollID      int64
	OptionIndex int
}

// ResultsCallback covers results-view actions:
// results:<show|nudge|remove_nudge|close|reopen|bottom>:<poll_id>.
type ResultsCallback struct {
	Action string
	PollID int64
}

// SettingsCallback covers the settings menu tree.
//
//	settings:poll_menu:<poll_id>
//	settings:toggle:<poll_id>:<key>
//	settings:style:<poll_id>:<style>
//	settings:options:<poll_id>
//	settings:option:<poll_id>:<option_index>:<key>:<value>
//	settings:prompt:<poll_id>:<key>[:<option_index>]
//	settings:exclusions:<poll_id>
//	settings:exclude:<poll_id>:<user_id>
//	settings:participants:<chat_id>
//	settings:chat_exclude:<chat_id>:<user_id>
type SettingsCallback struct {
	Action      string
	PollID      int64
	ChatID      int64
	UserID      int64
	OptionIndex int
	Key         string
	Value       string
}

// WizardCallback drives the authoring FSM: wizard:<kind|multiple|webapp|cancel>[:<value>].
type WizardCallback struct {
	Action string
	Value  string
}

// ForwardCallback finishes the add-participant-by-forward flow:
// forward:chat:<chat_id>.
type ForwardCallback struct {
	ChatID int64
}

// NoopCallback acknowledges anything unknown without side effects.
type NoopCallback struct{}

func (DashCallback) callback()     {}
func (VoteCallback) callback()     {}
func (ResultsCallback) callback()  {}
func (SettingsCallback) callback() {}
func (WizardCallback) callback()   {}
func (ForwardCallback) callback()  {}
func (NoopCallback) callback()     {}

// ParseCallback parses raw callback data. Unknown or malformed data maps
// to NoopCallback with an error, producing a non-intrusive acknowledgement.
func ParseCallback(data string) (Callback, error) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return NoopCallback{}, fmt.Errorf("short callback %q", data)
	}

	switch parts[0] {
	case "dash":
		return parseDash(parts[1:])
	case "vote":
		if len(parts) != 3 {
			return NoopCallback{}, fmt.Errorf("malformed vote callback %q", data)
		}
		pollID, err1 := strconv.ParseInt(parts[1], 10, 64)
		index, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			return NoopCallback{}, fmt.Errorf("malformed vote callback %q", data)
		}
		return VoteCallback{PollID: pollID, OptionIndex: index}, nil
	case "results":
		if len(parts) != 3 {
			return NoopCallback{}, fmt.Errorf("malformed results callback %q", data)
		}
		switch parts[1] {
		case "show", "nudge", "remove_nudge", "close", "reopen", "bottom":
		default:
			return NoopCallback{}, fmt.Errorf("unknown results action %q", parts[1])
		}
		pollID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed results callback %q", data)
		}
		return ResultsCallback{Action: parts[1], PollID: pollID}, nil
	case "settings":
		return parseSettings(parts[1:])
	case "wizard":
		cb := WizardCallback{Action: parts[1]}
		if len(parts) > 2 {
			cb.Value = parts[2]
		}
		switch cb.Action {
		case "kind", "multiple", "webapp", "cancel":
			return cb, nil
		}
		return NoopCallback{}, fmt.Errorf("unknown wizard action %q", parts[1])
	case "forward":
		if len(parts) != 3 || parts[1] != "chat" {
			return NoopCallback{}, fmt.Errorf("malformed forward callback %q", data)
		}
		chatID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed forward callback %q", data)
		}
		return ForwardCallback{ChatID: chatID}, nil
	case "noop":
		return NoopCallback{}, nil
	}
	return NoopCallback{}, fmt.Errorf("unknown callback %q", data)
}

func parseDash(parts []string) (Callback, error) {
	cb := DashCallback{Action: parts[0]}
	switch parts[0] {
	case "groups":
		return cb, nil
	case "group", "wizard_start":
		if len(parts) != 2 {
			return NoopCallback{}, fmt.Errorf("malformed dash:%s", parts[0])
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed dash:%s", parts[0])
		}
		cb.ChatID = id
		return cb, nil
	case "polls":
		if len(parts) != 3 {
			return NoopCallback{}, fmt.Errorf("malformed dash:polls")
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed dash:polls")
		}
		cb.ChatID = id
		cb.Status = parts[2]
		return cb, nil
	case "start_poll", "delete_poll":
		if len(parts) != 2 {
			return NoopCallback{}, fmt.Errorf("malformed dash:%s", parts[0])
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed dash:%s", parts[0])
		}
		cb.PollID = id
		return cb, nil
	}
	return NoopCallback{}, fmt.Errorf("unknown dash action %q", parts[0])
}

func parseSettings(parts []string) (Callback, error) {
	if len(parts) < 2 {
		return NoopCallback{}, fmt.Errorf("malformed settings callback")
	}
	cb := SettingsCallback{Action: parts[0], OptionIndex: -1}

	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return NoopCallback{}, fmt.Errorf("malformed settings callback")
	}

	switch cb.Action {
	case "poll_menu", "options", "exclusions":
		cb.PollID = id
		return cb, nil
	case "participants":
		cb.ChatID = id
		return cb, nil
	case "toggle", "style":
		if len(parts) != 3 {
			return NoopCallback{}, fmt.Errorf("malformed settings:%s", cb.Action)
		}
		cb.PollID = id
		cb.Key = parts[2]
		return cb, nil
	case "prompt":
		if len(parts) < 3 || len(parts) > 4 {
			return NoopCallback{}, fmt.Errorf("malformed settings:prompt")
		}
		cb.PollID = id
		cb.Key = parts[2]
		if len(parts) == 4 {
			index, err := strconv.Atoi(parts[3])
			if err != nil {
				return NoopCallback{}, fmt.Errorf("malformed settings:prompt")
			}
			cb.OptionIndex = index
		}
		return cb, nil
	case "option":
		if len(parts) != 5 {
			return NoopCallback{}, fmt.Errorf("malformed settings:option")
		}
		index, err := strconv.Atoi(parts[2])
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed settings:option")
		}
		cb.PollID = id
		cb.OptionIndex = index
		cb.Key = parts[3]
		cb.Value = parts[4]
		return cb, nil
	case "exclude":
		if len(parts) != 3 {
			return NoopCallback{}, fmt.Errorf("malformed settings:exclude")
		}
		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed settings:exclude")
		}
		cb.PollID = id
		cb.UserID = userID
		return cb, nil
	case "chat_exclude":
		if len(parts) != 3 {
			return NoopCallback{}, fmt.Errorf("malformed settings:chat_exclude")
		}
		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return NoopCallback{}, fmt.Errorf("malformed settings:chat_exclude")
		}
		cb.ChatID = id
		cb.UserID = userID
		return cb, nil
	}
	return NoopCallback{}, fmt.Errorf("unknown settings action %q", cb.Action)
}
