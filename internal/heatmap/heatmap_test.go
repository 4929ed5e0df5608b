package heatmap

import (
	"bytes"
	"image/png"
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

func TestRenderEmptyMatrix(t *testing.T) {
	raw, err := Render(testBundle(), nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if raw != nil {
		t.Errorf("got %d bytes for an empty matrix, want nil", len(raw))
	}
}

func TestRenderProducesPNG(t *testing.T) {
	b := testBundle()
	b.Voters[1] = models.User{ID: 1, FirstName: "Аня"}
	b.Responses = append(b.Responses, models.Response{PollID: 1, UserID: 1, Option: "Красный"})

	participants := []models.Participant{
		{ChatID: -100, UserID: 1, FirstName: "Аня"},
		{ChatID: -100, UserID: 2, FirstName: "Боря", Excluded: true},
	}

	raw, err := Render(b, participants)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}

	bounds := img.Bounds()
	wantH := headerH + 2*cellHeight
	if bounds.Dy() != wantH {
		t.Errorf("height = %d, want %d (2 participant rows)", bounds.Dy(), wantH)
	}
	if bounds.Dx() <= nameColW {
		t.Errorf("width = %d, too narrow for any option column", bounds.Dx())
	}
}

func TestRenderDeterministic(t *testing.T) {
	b := testBundle()
	b.Voters[1] = models.User{ID: 1, FirstName: "Аня"}
	b.Responses = append(b.Responses, models.Response{PollID: 1, UserID: 1, Option: "Синий"})
	participants := []models.Participant{{ChatID: -100, UserID: 1, FirstName: "Аня"}}

	first, err := Render(b, participants)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, err := Render(b, participants)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same inputs rendered different images")
	}
}

func TestRenderUnknownResponderGetsRow(t *testing.T) {
	b := testBundle()
	b.Voters[9] = models.User{ID: 9, FirstName: "Гость"}
	b.Responses = append(b.Responses, models.Response{PollID: 1, UserID: 9, Option: "Красный"})

	// No participants known at all; the responder alone makes one row.
	raw, err := Render(b, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if got, want := img.Bounds().Dy(), headerH+cellHeight; got != want {
		t.Errorf("height = %d, want %d (one responder row)", got, want)
	}
}
