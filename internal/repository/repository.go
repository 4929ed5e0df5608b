package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

// Repository is the typed store over the relational schema. All writes are
// transactional; none of them spans a network call to Telegram. Message and
// photo refs are written in their own short transactions after a successful
// send (SetMessageRef / SetNudgeRef).
type Repository struct {
	db      *sql.DB
	dialect string
}

func New(db *sql.DB, dialect string) *Repository {
	return &Repository{db: db, dialect: dialect}
}

// querier abstracts *sql.DB and *sql.Tx for helpers that run either inside
// or outside a caller transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Users and chats

func (r *Repository) UpsertUser(ctx context.Context, u models.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (user_id, first_name, last_name, username)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			username   = EXCLUDED.username
	`, u.ID, u.FirstName, u.LastName, u.Username)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

func (r *Repository) UpsertChat(ctx context.Context, c models.Chat) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, title, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_id) DO UPDATE SET
			title = EXCLUDED.title,
			kind  = EXCLUDED.kind
	`, c.ID, c.Title, c.Kind)
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", c.ID, err)
	}
	return nil
}

// Groups returns all non-private chats the bot has seen, ordered by title.
func (r *Repository) Groups(ctx context.Context) ([]models.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chat_id, title, kind FROM chats
		WHERE kind <> 'private'
		ORDER BY title, chat_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var c models.Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.Kind); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// Participants

// UpsertParticipant records chat membership. The composite primary key
// makes duplicates impossible no matter how often a user acts in the chat;
// the excluded flag is preserved on conflict.
func (r *Repository) UpsertParticipant(ctx context.Context, p models.Participant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO participants (chat_id, user_id, first_name, last_name, username, excluded)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name  = EXCLUDED.last_name,
			username   = EXCLUDED.username
	`, p.ChatID, p.UserID, p.FirstName, p.LastName, p.Username, p.Excluded)
	if err != nil {
		return fmt.Errorf("upsert participant (%d,%d): %w", p.ChatID, p.UserID, err)
	}
	return nil
}

func (r *Repository) Participants(ctx context.Context, chatID int64) ([]models.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chat_id, user_id, first_name, last_name, username, excluded
		FROM participants WHERE chat_id = $1
		ORDER BY user_id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list participants of %d: %w", chatID, err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.FirstName, &p.LastName, &p.Username, &p.Excluded); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ToggleParticipantExcluded flips the chat-level exclusion flag and returns
// the new state.
func (r *Repository) ToggleParticipantExcluded(ctx context.Context, chatID, userID int64) (bool, error) {
	var excluded bool
	err := r.db.QueryRowContext(ctx, `
		UPDATE participants SET excluded = NOT excluded
		WHERE chat_id = $1 AND user_id = $2
		RETURNING excluded
	`, chatID, userID).Scan(&excluded)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("participant (%d,%d): %w", chatID, userID, models.ErrUserInputInvalid)
	}
	if err != nil {
		return false, fmt.Errorf("toggle exclusion (%d,%d): %w", chatID, userID, err)
	}
	return excluded, nil
}

// Polls

// CreatePollDraft inserts the poll row together with its default settings
// row in one transaction and returns the assigned poll ID.
func (r *Repository) CreatePollDraft(ctx context.Context, chatID int64, title string, options []string, kind, webAppID string, allowMultiple bool) (int64, error) {
	opts, err := json.Marshal(options)
	if err != nil {
		return 0, fmt.Errorf("encode options: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var pollID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO polls (chat_id, status, kind, title, options, web_app_id, created_at)
		VALUES ($1, 'draft', $2, $3, $4, $5, $6)
		RETURNING poll_id
	`, chatID, kind, title, string(opts), webAppID, time.Now().UTC()).Scan(&pollID)
	if err != nil {
		return 0, fmt.Errorf("insert poll: %w", err)
	}

	s := models.DefaultPollSettings(pollID)
	s.AllowMultiple = allowMultiple
	_, err = tx.ExecContext(ctx, `
		INSERT INTO poll_settings (poll_id, allow_multiple, show_heatmap, show_text_results,
			default_show_names, default_show_count, default_names_style, target_sum, nudge_negative_emoji)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.PollID, s.AllowMultiple, s.ShowHeatmap, s.ShowTextResults,
		s.DefaultShowNames, s.DefaultShowCount, s.DefaultNamesStyle, s.TargetSum, s.NudgeNegativeEmoji)
	if err != nil {
		return 0, fmt.Errorf("insert poll settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return pollID, nil
}

const pollColumns = `poll_id, chat_id, status, kind, title, options, message_id, photo_id, nudge_id, web_app_id, created_at`

func scanPoll(row interface{ Scan(...any) error }) (models.Poll, error) {
	var p models.Poll
	var opts string
	err := row.Scan(&p.ID, &p.ChatID, &p.Status, &p.Kind, &p.Title, &opts,
		&p.MessageID, &p.PhotoID, &p.NudgeID, &p.WebAppID, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(opts), &p.Options); err != nil {
		return p, fmt.Errorf("decode options of poll %d: %w", p.ID, err)
	}
	return p, nil
}

// Poll loads one poll. A missing poll is reported as models.ErrPollGone.
func (r *Repository) Poll(ctx context.Context, pollID int64) (models.Poll, error) {
	return r.pollTx(ctx, r.db, pollID)
}

func (r *Repository) pollTx(ctx context.Context, q querier, pollID int64) (models.Poll, error) {
	p, err := scanPoll(q.QueryRowContext(ctx, `SELECT `+pollColumns+` FROM polls WHERE poll_id = $1`, pollID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, models.ErrPollGone
	}
	if err != nil {
		return p, fmt.Errorf("load poll %d: %w", pollID, err)
	}
	return p, nil
}

// PollsByChat lists polls of a chat, optionally filtered by status.
func (r *Repository) PollsByChat(ctx context.Context, chatID int64, status string) ([]models.Poll, error) {
	query := `SELECT ` + pollColumns + ` FROM polls WHERE chat_id = $1 ORDER BY poll_id`
	args := []any{chatID}
	if status != "" {
		query = `SELECT ` + pollColumns + ` FROM polls WHERE chat_id = $1 AND status = $2 ORDER BY poll_id`
		args = append(args, status)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list polls of %d: %w", chatID, err)
	}
	defer rows.Close()

	var polls []models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

func (r *Repository) SetPollStatus(ctx context.Context, pollID int64, status string) error {
	return r.execPoll(ctx, pollID, `UPDATE polls SET status = $1 WHERE poll_id = $2`, status, pollID)
}

// SetMessageRef persists the platform handles of the live artifact. Written
// as its own short transaction right after a successful send or edit.
func (r *Repository) SetMessageRef(ctx context.Context, pollID int64, messageID int, photoID string) error {
	return r.execPoll(ctx, pollID, `UPDATE polls SET message_id = $1, photo_id = $2 WHERE poll_id = $3`, messageID, photoID, pollID)
}

func (r *Repository) SetNudgeRef(ctx context.Context, pollID int64, nudgeID int) error {
	return r.execPoll(ctx, pollID, `UPDATE polls SET nudge_id = $1 WHERE poll_id = $2`, nudgeID, pollID)
}

// SetPollChat points the poll at a new chat after a group-to-supergroup
// migration.
func (r *Repository) SetPollChat(ctx context.Context, pollID, chatID int64) error {
	return r.execPoll(ctx, pollID, `UPDATE polls SET chat_id = $1 WHERE poll_id = $2`, chatID, pollID)
}

func (r *Repository) SetPollTitle(ctx context.Context, pollID int64, title string) error {
	return r.execPoll(ctx, pollID, `UPDATE polls SET title = $1 WHERE poll_id = $2`, title, pollID)
}

func (r *Repository) execPoll(ctx context.Context, pollID int64, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update poll %d: %w", pollID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrPollGone
	}
	return nil
}

// DeletePoll removes the poll; responses, settings and exclusions cascade.
func (r *Repository) DeletePoll(ctx context.Context, pollID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM polls WHERE poll_id = $1`, pollID); err != nil {
		return fmt.Errorf("delete poll %d: %w", pollID, err)
	}
	return nil
}

// RenameOption rewrites one option text and, in the same transaction, every
// response row that was stored under the old text. Positional option_index
// references stay valid because the position does not change.
func (r *Repository) RenameOption(ctx context.Context, pollID int64, index int, newText string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	p, err := r.pollTx(ctx, tx, pollID)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(p.Options) {
		return models.ErrOptionOutOfRange
	}
	oldText := p.Options[index]
	p.Options[index] = newText

	opts, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE polls SET options = $1 WHERE poll_id = $2`, string(opts), pollID); err != nil {
		return fmt.Errorf("update options of poll %d: %w", pollID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE responses SET response = $1 WHERE poll_id = $2 AND response = $3
	`, newText, pollID, oldText); err != nil {
		return fmt.Errorf("rewrite responses of poll %d: %w", pollID, err)
	}

	return tx.Commit()
}

// Votes

// ApplyVote mutates the response rows of one (poll, user) pair under the
// poll rules and reports whether anything changed. The whole effect is a
// single transaction; concurrent votes by different users interleave freely,
// the composite primary key keeps each pair consistent.
func (r *Repository) ApplyVote(ctx context.Context, pollID, userID int64, option string, allowMultiple bool) (models.VoteOutcome, error) {
	var out models.VoteOutcome

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// The poll may have been deleted between dispatch and commit.
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM polls WHERE poll_id = $1`, pollID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return out, models.ErrPollGone
	}
	if err != nil {
		return out, fmt.Errorf("check poll %d: %w", pollID, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT response FROM responses WHERE poll_id = $1 AND user_id = $2
	`, pollID, userID)
	if err != nil {
		return out, fmt.Errorf("load responses: %w", err)
	}
	var existing []string
	for rows.Next() {
		var resp string
		if err := rows.Scan(&resp); err != nil {
			rows.Close()
			return out, fmt.Errorf("scan response: %w", err)
		}
		existing = append(existing, resp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("load responses: %w", err)
	}

	has := false
	for _, e := range existing {
		if e == option {
			has = true
			break
		}
	}

	switch {
	case allowMultiple && has:
		// Toggle off.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM responses WHERE poll_id = $1 AND user_id = $2 AND response = $3
		`, pollID, userID, option); err != nil {
			return out, fmt.Errorf("delete response: %w", err)
		}
		out = models.VoteOutcome{Changed: true, FinalState: models.VoteStateUnvoted}

	case allowMultiple:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO responses (poll_id, user_id, response, created_at) VALUES ($1, $2, $3, $4)
		`, pollID, userID, option, time.Now().UTC()); err != nil {
			return out, fmt.Errorf("insert response: %w", err)
		}
		out = models.VoteOutcome{Changed: true, FinalState: models.VoteStateVoted}

	case has && len(existing) == 1:
		// Single-choice revote for the same option: nothing to do.
		out = models.VoteOutcome{Changed: false, FinalState: models.VoteStateVoted}

	default:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM responses WHERE poll_id = $1 AND user_id = $2
		`, pollID, userID); err != nil {
			return out, fmt.Errorf("clear responses: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO responses (poll_id, user_id, response, created_at) VALUES ($1, $2, $3, $4)
		`, pollID, userID, option, time.Now().UTC()); err != nil {
			return out, fmt.Errorf("insert response: %w", err)
		}
		state := models.VoteStateVoted
		if len(existing) > 0 {
			state = models.VoteStateSwitched
		}
		out = models.VoteOutcome{Changed: true, FinalState: state}
	}

	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("commit vote: %w", err)
	}
	return out, nil
}

// TogglePollExclusion flips the per-poll exclusion of a user and returns
// true when the user is now excluded.
func (r *Repository) TogglePollExclusion(ctx context.Context, pollID, userID int64) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM poll_exclusions WHERE poll_id = $1 AND user_id = $2
	`, pollID, userID)
	if err != nil {
		return false, fmt.Errorf("toggle poll exclusion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("toggle poll exclusion: %w", err)
	}

	excluded := false
	if n == 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO poll_exclusions (poll_id, user_id) VALUES ($1, $2)
		`, pollID, userID); err != nil {
			return false, fmt.Errorf("insert poll exclusion: %w", err)
		}
		excluded = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return excluded, nil
}

// Settings

func (r *Repository) SavePollSettings(ctx context.Context, s models.PollSettings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO poll_settings (poll_id, allow_multiple, show_heatmap, show_text_results,
			default_show_names, default_show_count, default_names_style, target_sum, nudge_negative_emoji)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (poll_id) DO UPDATE SET
			allow_multiple       = EXCLUDED.allow_multiple,
			show_heatmap         = EXCLUDED.show_heatmap,
			show_text_results    = EXCLUDED.show_text_results,
			default_show_names   = EXCLUDED.default_show_names,
			default_show_count   = EXCLUDED.default_show_count,
			default_names_style  = EXCLUDED.default_names_style,
			target_sum           = EXCLUDED.target_sum,
			nudge_negative_emoji = EXCLUDED.nudge_negative_emoji
	`, s.PollID, s.AllowMultiple, s.ShowHeatmap, s.ShowTextResults,
		s.DefaultShowNames, s.DefaultShowCount, s.DefaultNamesStyle, s.TargetSum, s.NudgeNegativeEmoji)
	if err != nil {
		return fmt.Errorf("save poll settings %d: %w", s.PollID, err)
	}
	return nil
}

func (r *Repository) SaveOptionSettings(ctx context.Context, s models.OptionSettings) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO option_settings (poll_id, option_index, show_names, show_count, names_style,
			emoji, is_priority, contribution_amount, show_contribution)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (poll_id, option_index) DO UPDATE SET
			show_names          = EXCLUDED.show_names,
			show_count          = EXCLUDED.show_count,
			names_style         = EXCLUDED.names_style,
			emoji               = EXCLUDED.emoji,
			is_priority         = EXCLUDED.is_priority,
			contribution_amount = EXCLUDED.contribution_amount,
			show_contribution   = EXCLUDED.show_contribution
	`, s.PollID, s.OptionIndex, nullBool(s.ShowNames), nullBool(s.ShowCount), nullString(s.NamesStyle),
		s.Emoji, s.IsPriority, s.ContributionAmount, s.ShowContribution)
	if err != nil {
		return fmt.Errorf("save option settings (%d,%d): %w", s.PollID, s.OptionIndex, err)
	}
	return nil
}

// Bundle

// Bundle loads a poll with its settings, option overrides, responses and
// voters in one pass, ready for rendering.
func (r *Repository) Bundle(ctx context.Context, pollID int64) (*models.Bundle, error) {
	p, err := r.Poll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	b := &models.Bundle{
		Poll:       p,
		Settings:   models.DefaultPollSettings(pollID),
		Voters:     make(map[int64]models.User),
		Exclusions: make(map[int64]bool),
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT allow_multiple, show_heatmap, show_text_results, default_show_names,
			default_show_count, default_names_style, target_sum, nudge_negative_emoji
		FROM poll_settings WHERE poll_id = $1
	`, pollID).Scan(&b.Settings.AllowMultiple, &b.Settings.ShowHeatmap, &b.Settings.ShowTextResults,
		&b.Settings.DefaultShowNames, &b.Settings.DefaultShowCount, &b.Settings.DefaultNamesStyle,
		&b.Settings.TargetSum, &b.Settings.NudgeNegativeEmoji)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load settings of poll %d: %w", pollID, err)
	}

	optRows, err := r.db.QueryContext(ctx, `
		SELECT option_index, show_names, show_count, names_style, emoji, is_priority,
			contribution_amount, show_contribution
		FROM option_settings WHERE poll_id = $1
		ORDER BY option_index
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("load option settings of poll %d: %w", pollID, err)
	}
	defer optRows.Close()
	for optRows.Next() {
		s := models.OptionSettings{PollID: pollID}
		var showNames, showCount sql.NullBool
		var style sql.NullString
		if err := optRows.Scan(&s.OptionIndex, &showNames, &showCount, &style,
			&s.Emoji, &s.IsPriority, &s.ContributionAmount, &s.ShowContribution); err != nil {
			return nil, fmt.Errorf("scan option settings: %w", err)
		}
		if showNames.Valid {
			v := showNames.Bool
			s.ShowNames = &v
		}
		if showCount.Valid {
			v := showCount.Bool
			s.ShowCount = &v
		}
		if style.Valid {
			v := style.String
			s.NamesStyle = &v
		}
		b.OptionSettings = append(b.OptionSettings, s)
	}
	if err := optRows.Err(); err != nil {
		return nil, fmt.Errorf("load option settings of poll %d: %w", pollID, err)
	}

	respRows, err := r.db.QueryContext(ctx, `
		SELECT r.poll_id, r.user_id, r.response, r.created_at,
			COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.username, '')
		FROM responses r
		LEFT JOIN users u ON u.user_id = r.user_id
		WHERE r.poll_id = $1
		ORDER BY r.created_at, r.user_id, r.response
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("load responses of poll %d: %w", pollID, err)
	}
	defer respRows.Close()
	for respRows.Next() {
		var resp models.Response
		var u models.User
		if err := respRows.Scan(&resp.PollID, &resp.UserID, &resp.Option, &resp.CreatedAt,
			&u.FirstName, &u.LastName, &u.Username); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		u.ID = resp.UserID
		b.Responses = append(b.Responses, resp)
		b.Voters[u.ID] = u
	}
	if err := respRows.Err(); err != nil {
		return nil, fmt.Errorf("load responses of poll %d: %w", pollID, err)
	}

	exclRows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM poll_exclusions WHERE poll_id = $1
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("load exclusions of poll %d: %w", pollID, err)
	}
	defer exclRows.Close()
	for exclRows.Next() {
		var userID int64
		if err := exclRows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan exclusion: %w", err)
		}
		b.Exclusions[userID] = true
	}
	return b, exclRows.Err()
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
