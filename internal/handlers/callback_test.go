package handlers

import (
	"reflect"
	"testing"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want Callback
	}{
		{"dash:groups", DashCallback{Action: "groups"}},
		{"dash:group:-100", DashCallback{Action: "group", ChatID: -100}},
		{"dash:polls:-100:draft", DashCallback{Action: "polls", ChatID: -100, Status: "draft"}},
		{"dash:start_poll:7", DashCallback{Action: "start_poll", PollID: 7}},
		{"dash:delete_poll:7", DashCallback{Action: "delete_poll", PollID: 7}},
		{"dash:wizard_start:-100", DashCallback{Action: "wizard_start", ChatID: -100}},
		{"vote:7:2", VoteCallback{PollID: 7, OptionIndex: 2}},
		{"results:show:7", ResultsCallback{Action: "show", PollID: 7}},
		{"results:nudge:7", ResultsCallback{Action: "nudge", PollID: 7}},
		{"results:bottom:7", ResultsCallback{Action: "bottom", PollID: 7}},
		{"settings:poll_menu:7", SettingsCallback{Action: "poll_menu", PollID: 7, OptionIndex: -1}},
		{"settings:toggle:7:heatmap", SettingsCallback{Action: "toggle", PollID: 7, Key: "heatmap", OptionIndex: -1}},
		{"settings:style:7:inline", SettingsCallback{Action: "style", PollID: 7, Key: "inline", OptionIndex: -1}},
		{"settings:prompt:7:title", SettingsCallback{Action: "prompt", PollID: 7, Key: "title", OptionIndex: -1}},
		{"settings:prompt:7:rename:2", SettingsCallback{Action: "prompt", PollID: 7, Key: "rename", OptionIndex: 2}},
		{"settings:option:7:1:priority:on", SettingsCallback{Action: "option", PollID: 7, OptionIndex: 1, Key: "priority", Value: "on"}},
		{"settings:exclude:7:42", SettingsCallback{Action: "exclude", PollID: 7, UserID: 42, OptionIndex: -1}},
		{"settings:participants:-100", SettingsCallback{Action: "participants", ChatID: -100, OptionIndex: -1}},
		{"settings:chat_exclude:-100:42", SettingsCallback{Action: "chat_exclude", ChatID: -100, UserID: 42, OptionIndex: -1}},
		{"wizard:kind:native", WizardCallback{Action: "kind", Value: "native"}},
		{"wizard:cancel", WizardCallback{Action: "cancel"}},
		{"forward:chat:-100", ForwardCallback{ChatID: -100}},
		{"noop:x", NoopCallback{}},
	}
	for _, tt := range tests {
		got, err := ParseCallback(tt.data)
		if err != nil {
			t.Errorf("ParseCallback(%q) error: %v", tt.data, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseCallback(%q) = %#v, want %#v", tt.data, got, tt.want)
		}
	}
}

func TestParseCallbackMalformed(t *testing.T) {
	for _, data := range []string{
		"",
		"dash",
		"vote:x:y",
		"vote:7",
		"results:explode:7",
		"settings:toggle:abc:heatmap",
		"settings:option:7:x:priority:on",
		"wizard:explode",
		"forward:chat:abc",
		"garbage:1:2",
	} {
		got, err := ParseCallback(data)
		if err == nil {
			t.Errorf("ParseCallback(%q) accepted malformed data: %#v", data, got)
			continue
		}
		if _, ok := got.(NoopCallback); !ok {
			t.Errorf("ParseCallback(%q) = %#v, want NoopCallback", data, got)
		}
	}
}

func TestTrimmedLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Красный", []string{"Красный"}},
		{"Красный, Синий", []string{"Красный", "Синий"}},
		{"Красный\nСиний\n", []string{"Красный", "Синий"}},
		{"  ,  \n  ", nil},
	}
	for _, tt := range tests {
		if got := trimmedLines(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("trimmedLines(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
