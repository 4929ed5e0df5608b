package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection keeps the in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db := newTestDB(t)
	if err := CreateSchema(context.Background(), db, DialectSQLite); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return New(db, DialectSQLite)
}

func mustCreateDraft(t *testing.T, r *Repository, options []string, multiple bool) int64 {
	t.Helper()
	pollID, err := r.CreatePollDraft(context.Background(), -100, "Куда едем?", options, models.KindNative, "", multiple)
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	return pollID
}

func TestUpsertParticipantIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	p := models.Participant{ChatID: -100, UserID: 7, FirstName: "Вася"}
	for i := 0; i < 3; i++ {
		if err := r.UpsertParticipant(ctx, p); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	got, err := r.Participants(ctx, -100)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d participants, want 1", len(got))
	}

	// A re-upsert updates the name but preserves the exclusion flag.
	if _, err := r.ToggleParticipantExcluded(ctx, -100, 7); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	p.FirstName = "Василий"
	if err := r.UpsertParticipant(ctx, p); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	got, err = r.Participants(ctx, -100)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if got[0].FirstName != "Василий" {
		t.Errorf("first name not updated: %q", got[0].FirstName)
	}
	if !got[0].Excluded {
		t.Error("exclusion flag lost on re-upsert")
	}
}

func TestCreateDraftRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, true)

	p, err := r.Poll(ctx, pollID)
	if err != nil {
		t.Fatalf("load poll: %v", err)
	}
	if p.Status != models.StatusDraft || p.Kind != models.KindNative || p.Title != "Куда едем?" {
		t.Errorf("poll fields wrong: %+v", p)
	}
	if len(p.Options) != 2 || p.Options[0] != "Красный" {
		t.Errorf("options wrong: %v", p.Options)
	}

	b, err := r.Bundle(ctx, pollID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if !b.Settings.AllowMultiple {
		t.Error("allow_multiple not persisted")
	}
	if !b.Settings.ShowHeatmap || b.Settings.DefaultNamesStyle != models.NamesList {
		t.Errorf("default settings wrong: %+v", b.Settings)
	}
}

func TestPollGone(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, err := r.Poll(ctx, 999); !errors.Is(err, models.ErrPollGone) {
		t.Errorf("Poll error = %v, want ErrPollGone", err)
	}
	if err := r.SetPollStatus(ctx, 999, models.StatusActive); !errors.Is(err, models.ErrPollGone) {
		t.Errorf("SetPollStatus error = %v, want ErrPollGone", err)
	}
	if _, err := r.ApplyVote(ctx, 999, 1, "Красный", false); !errors.Is(err, models.ErrPollGone) {
		t.Errorf("ApplyVote error = %v, want ErrPollGone", err)
	}
}

func TestApplyVoteSingleChoice(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, false)

	out, err := r.ApplyVote(ctx, pollID, 1, "Красный", false)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !out.Changed || out.FinalState != models.VoteStateVoted {
		t.Errorf("first vote outcome = %+v", out)
	}

	// Revote for the same option is a no-op.
	out, err = r.ApplyVote(ctx, pollID, 1, "Красный", false)
	if err != nil {
		t.Fatalf("revote: %v", err)
	}
	if out.Changed {
		t.Errorf("same-option revote reported a change: %+v", out)
	}

	// Switching replaces the previous response.
	out, err = r.ApplyVote(ctx, pollID, 1, "Синий", false)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if !out.Changed || out.FinalState != models.VoteStateSwitched {
		t.Errorf("switch outcome = %+v", out)
	}

	b, err := r.Bundle(ctx, pollID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if len(b.Responses) != 1 || b.Responses[0].Option != "Синий" {
		t.Errorf("responses after switch: %+v", b.Responses)
	}
}

func TestApplyVoteMultipleToggles(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, true)

	for _, opt := range []string{"Красный", "Синий"} {
		if _, err := r.ApplyVote(ctx, pollID, 1, opt, true); err != nil {
			t.Fatalf("vote %q: %v", opt, err)
		}
	}
	b, _ := r.Bundle(ctx, pollID)
	if len(b.Responses) != 2 {
		t.Fatalf("got %d responses, want 2", len(b.Responses))
	}

	out, err := r.ApplyVote(ctx, pollID, 1, "Красный", true)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if !out.Changed || out.FinalState != models.VoteStateUnvoted {
		t.Errorf("toggle-off outcome = %+v", out)
	}
	b, _ = r.Bundle(ctx, pollID)
	if len(b.Responses) != 1 || b.Responses[0].Option != "Синий" {
		t.Errorf("responses after toggle: %+v", b.Responses)
	}
}

func TestRenameOptionRewritesResponses(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, false)

	if _, err := r.ApplyVote(ctx, pollID, 1, "Красный", false); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := r.ApplyVote(ctx, pollID, 2, "Синий", false); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if err := r.RenameOption(ctx, pollID, 0, "Бордовый"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	b, err := r.Bundle(ctx, pollID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if b.Poll.Options[0] != "Бордовый" {
		t.Errorf("option text = %q", b.Poll.Options[0])
	}
	for _, resp := range b.Responses {
		if resp.Option == "Красный" {
			t.Error("stale response text survived the rename")
		}
	}

	if err := r.RenameOption(ctx, pollID, 5, "x"); !errors.Is(err, models.ErrOptionOutOfRange) {
		t.Errorf("out-of-range rename error = %v", err)
	}
}

func TestTogglePollExclusion(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, false)

	excluded, err := r.TogglePollExclusion(ctx, pollID, 7)
	if err != nil || !excluded {
		t.Fatalf("first toggle = (%v, %v), want (true, nil)", excluded, err)
	}
	excluded, err = r.TogglePollExclusion(ctx, pollID, 7)
	if err != nil || excluded {
		t.Fatalf("second toggle = (%v, %v), want (false, nil)", excluded, err)
	}
}

func TestOptionSettingsNullOverrides(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, false)

	hide := false
	style := models.NamesNumbered
	err := r.SaveOptionSettings(ctx, models.OptionSettings{
		PollID:      pollID,
		OptionIndex: 0,
		ShowNames:   &hide,
		NamesStyle:  &style,
		Emoji:       "🔥",
		IsPriority:  true,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	// Second row with all overrides unset.
	if err := r.SaveOptionSettings(ctx, models.OptionSettings{PollID: pollID, OptionIndex: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}

	b, err := r.Bundle(ctx, pollID)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	first := b.OptionOverride(0)
	if first == nil || first.ShowNames == nil || *first.ShowNames || first.NamesStyle == nil || *first.NamesStyle != models.NamesNumbered {
		t.Errorf("override round trip failed: %+v", first)
	}
	if !first.IsPriority || first.Emoji != "🔥" {
		t.Errorf("override fields wrong: %+v", first)
	}
	second := b.OptionOverride(1)
	if second == nil || second.ShowNames != nil || second.ShowCount != nil || second.NamesStyle != nil {
		t.Errorf("unset overrides came back non-nil: %+v", second)
	}
}

func TestDeletePollCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, false)

	if _, err := r.ApplyVote(ctx, pollID, 1, "Красный", false); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := r.TogglePollExclusion(ctx, pollID, 2); err != nil {
		t.Fatalf("exclude: %v", err)
	}

	if err := r.DeletePoll(ctx, pollID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Poll(ctx, pollID); !errors.Is(err, models.ErrPollGone) {
		t.Errorf("poll survived delete: %v", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses WHERE poll_id = $1`, pollID).Scan(&n); err != nil {
		t.Fatalf("count responses: %v", err)
	}
	if n != 0 {
		t.Errorf("%d responses survived the cascade", n)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestRepo(t)
	ctx := context.Background()

	if err := src.UpsertUser(ctx, models.User{ID: 1, FirstName: "Аня"}); err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := src.UpsertChat(ctx, models.Chat{ID: -100, Title: "Поход", Kind: "supergroup"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if err := src.UpsertParticipant(ctx, models.Participant{ChatID: -100, UserID: 1, FirstName: "Аня"}); err != nil {
		t.Fatalf("participant: %v", err)
	}
	pollID := mustCreateDraft(t, src, []string{"Красный", "Синий"}, false)
	if _, err := src.ApplyVote(ctx, pollID, 1, "Красный", false); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := src.TogglePollExclusion(ctx, pollID, 2); err != nil {
		t.Fatalf("exclude: %v", err)
	}

	raw, err := src.ExportAll(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newTestRepo(t)
	if err := dst.ImportAll(ctx, raw); err != nil {
		t.Fatalf("import: %v", err)
	}

	p, err := dst.Poll(ctx, pollID)
	if err != nil {
		t.Fatalf("imported poll: %v", err)
	}
	if p.Title != "Куда едем?" || len(p.Options) != 2 {
		t.Errorf("imported poll wrong: %+v", p)
	}
	b, err := dst.Bundle(ctx, pollID)
	if err != nil {
		t.Fatalf("imported bundle: %v", err)
	}
	if len(b.Responses) != 1 || b.Responses[0].Option != "Красный" {
		t.Errorf("imported responses wrong: %+v", b.Responses)
	}
	if !b.Exclusions[2] {
		t.Error("imported exclusion lost")
	}
	if b.Voters[1].FirstName != "Аня" {
		t.Errorf("imported voter wrong: %+v", b.Voters[1])
	}
}

func TestImportRejectsBadJSON(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	pollID := mustCreateDraft(t, r, []string{"Красный", "Синий"}, false)

	err := r.ImportAll(ctx, []byte("{not json"))
	if !errors.Is(err, models.ErrUserInputInvalid) {
		t.Fatalf("error = %v, want ErrUserInputInvalid", err)
	}

	// The failed import must not have wiped anything.
	if _, err := r.Poll(ctx, pollID); err != nil {
		t.Errorf("existing data lost after rejected import: %v", err)
	}
}

func TestMigrateParticipantsDeduplicates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Old-schema table without the composite primary key.
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE participants (
			chat_id    INTEGER NOT NULL,
			user_id    INTEGER NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name  TEXT NOT NULL DEFAULT '',
			username   TEXT NOT NULL DEFAULT '',
			excluded   INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		t.Fatalf("create old table: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO participants (chat_id, user_id, first_name) VALUES (-100, 7, 'Вася')
		`); err != nil {
			t.Fatalf("insert dup %d: %v", i, err)
		}
	}

	if err := MigrateParticipants(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM participants`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows after migration, want 1", n)
	}
}
