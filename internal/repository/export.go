package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
)

// Dump is the owner-facing JSON export: one array per entity type, each
// ordered by primary key so a run is deterministic regardless of physical
// row order.
type Dump struct {
	Users          []models.User           `json:"users"`
	Chats          []models.Chat           `json:"chats"`
	Participants   []models.Participant    `json:"participants"`
	Polls          []models.Poll           `json:"polls"`
	Responses      []models.Response       `json:"responses"`
	PollSettings   []models.PollSettings   `json:"poll_settings"`
	OptionSettings []models.OptionSettings `json:"option_settings"`
	PollExclusions []models.PollExclusion  `json:"poll_exclusions"`
}

// ExportAll reads every table inside one transaction and marshals the dump.
func (r *Repository) ExportAll(ctx context.Context) ([]byte, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: r.dialect == DialectPostgres})
	if err != nil {
		return nil, fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback()

	var d Dump

	if err := collect(ctx, tx, `SELECT user_id, first_name, last_name, username FROM users ORDER BY user_id`,
		func(rows *sql.Rows) error {
			var u models.User
			if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Username); err != nil {
				return err
			}
			d.Users = append(d.Users, u)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export users: %w", err)
	}

	if err := collect(ctx, tx, `SELECT chat_id, title, kind FROM chats ORDER BY chat_id`,
		func(rows *sql.Rows) error {
			var c models.Chat
			if err := rows.Scan(&c.ID, &c.Title, &c.Kind); err != nil {
				return err
			}
			d.Chats = append(d.Chats, c)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export chats: %w", err)
	}

	if err := collect(ctx, tx, `SELECT chat_id, user_id, first_name, last_name, username, excluded FROM participants ORDER BY chat_id, user_id`,
		func(rows *sql.Rows) error {
			var p models.Participant
			if err := rows.Scan(&p.ChatID, &p.UserID, &p.FirstName, &p.LastName, &p.Username, &p.Excluded); err != nil {
				return err
			}
			d.Participants = append(d.Participants, p)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export participants: %w", err)
	}

	if err := collect(ctx, tx, `SELECT `+pollColumns+` FROM polls ORDER BY poll_id`,
		func(rows *sql.Rows) error {
			p, err := scanPoll(rows)
			if err != nil {
				return err
			}
			d.Polls = append(d.Polls, p)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export polls: %w", err)
	}

	if err := collect(ctx, tx, `SELECT poll_id, user_id, response, created_at FROM responses ORDER BY poll_id, user_id, response`,
		func(rows *sql.Rows) error {
			var resp models.Response
			if err := rows.Scan(&resp.PollID, &resp.UserID, &resp.Option, &resp.CreatedAt); err != nil {
				return err
			}
			d.Responses = append(d.Responses, resp)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export responses: %w", err)
	}

	if err := collect(ctx, tx, `SELECT poll_id, allow_multiple, show_heatmap, show_text_results,
			default_show_names, default_show_count, default_names_style, target_sum, nudge_negative_emoji
		FROM poll_settings ORDER BY poll_id`,
		func(rows *sql.Rows) error {
			var s models.PollSettings
			if err := rows.Scan(&s.PollID, &s.AllowMultiple, &s.ShowHeatmap, &s.ShowTextResults,
				&s.DefaultShowNames, &s.DefaultShowCount, &s.DefaultNamesStyle, &s.TargetSum, &s.NudgeNegativeEmoji); err != nil {
				return err
			}
			d.PollSettings = append(d.PollSettings, s)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export poll settings: %w", err)
	}

	if err := collect(ctx, tx, `SELECT poll_id, option_index, show_names, show_count, names_style,
			emoji, is_priority, contribution_amount, show_contribution
		FROM option_settings ORDER BY poll_id, option_index`,
		func(rows *sql.Rows) error {
			s := models.OptionSettings{}
			var showNames, showCount sql.NullBool
			var style sql.NullString
			if err := rows.Scan(&s.PollID, &s.OptionIndex, &showNames, &showCount, &style,
				&s.Emoji, &s.IsPriority, &s.ContributionAmount, &s.ShowContribution); err != nil {
				return err
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
			d.OptionSettings = append(d.OptionSettings, s)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export option settings: %w", err)
	}

	if err := collect(ctx, tx, `SELECT poll_id, user_id FROM poll_exclusions ORDER BY poll_id, user_id`,
		func(rows *sql.Rows) error {
			var e models.PollExclusion
			if err := rows.Scan(&e.PollID, &e.UserID); err != nil {
				return err
			}
			d.PollExclusions = append(d.PollExclusions, e)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("export poll exclusions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit export: %w", err)
	}
	return json.MarshalIndent(&d, "", "  ")
}

// ImportAll wipes every table in reverse dependency order and re-inserts the
// dump in forward order, all inside one transaction. Any failure rolls back
// and leaves the database unchanged.
func (r *Repository) ImportAll(ctx context.Context, raw []byte) error {
	var d Dump
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("%w: %v", models.ErrUserInputInvalid, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"poll_exclusions", "option_settings", "poll_settings", "responses",
		"polls", "participants", "chats", "users",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}

	for _, u := range d.Users {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (user_id, first_name, last_name, username) VALUES ($1, $2, $3, $4)
		`, u.ID, u.FirstName, u.LastName, u.Username); err != nil {
			return fmt.Errorf("import user %d: %w", u.ID, err)
		}
	}
	for _, c := range d.Chats {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chats (chat_id, title, kind) VALUES ($1, $2, $3)
		`, c.ID, c.Title, c.Kind); err != nil {
			return fmt.Errorf("import chat %d: %w", c.ID, err)
		}
	}
	for _, p := range d.Participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participants (chat_id, user_id, first_name, last_name, username, excluded)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ChatID, p.UserID, p.FirstName, p.LastName, p.Username, p.Excluded); err != nil {
			return fmt.Errorf("import participant (%d,%d): %w", p.ChatID, p.UserID, err)
		}
	}
	for _, p := range d.Polls {
		opts, err := json.Marshal(p.Options)
		if err != nil {
			return fmt.Errorf("encode options of poll %d: %w", p.ID, err)
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO polls (poll_id, chat_id, status, kind, title, options, message_id, photo_id, nudge_id, web_app_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, p.ID, p.ChatID, p.Status, p.Kind, p.Title, string(opts),
			p.MessageID, p.PhotoID, p.NudgeID, p.WebAppID, createdAt); err != nil {
			return fmt.Errorf("import poll %d: %w", p.ID, err)
		}
	}
	for _, resp := range d.Responses {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO responses (poll_id, user_id, response, created_at) VALUES ($1, $2, $3, $4)
		`, resp.PollID, resp.UserID, resp.Option, resp.CreatedAt); err != nil {
			return fmt.Errorf("import response (%d,%d): %w", resp.PollID, resp.UserID, err)
		}
	}
	for _, s := range d.PollSettings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO poll_settings (poll_id, allow_multiple, show_heatmap, show_text_results,
				default_show_names, default_show_count, default_names_style, target_sum, nudge_negative_emoji)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, s.PollID, s.AllowMultiple, s.ShowHeatmap, s.ShowTextResults,
			s.DefaultShowNames, s.DefaultShowCount, s.DefaultNamesStyle, s.TargetSum, s.NudgeNegativeEmoji); err != nil {
			return fmt.Errorf("import poll settings %d: %w", s.PollID, err)
		}
	}
	for _, s := range d.OptionSettings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO option_settings (poll_id, option_index, show_names, show_count, names_style,
				emoji, is_priority, contribution_amount, show_contribution)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, s.PollID, s.OptionIndex, nullBool(s.ShowNames), nullBool(s.ShowCount), nullString(s.NamesStyle),
			s.Emoji, s.IsPriority, s.ContributionAmount, s.ShowContribution); err != nil {
			return fmt.Errorf("import option settings (%d,%d): %w", s.PollID, s.OptionIndex, err)
		}
	}
	for _, e := range d.PollExclusions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO poll_exclusions (poll_id, user_id) VALUES ($1, $2)
		`, e.PollID, e.UserID); err != nil {
			return fmt.Errorf("import poll exclusion (%d,%d): %w", e.PollID, e.UserID, err)
		}
	}

	// Explicit poll_id inserts leave the postgres sequence behind.
	if r.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('polls', 'poll_id'), COALESCE(MAX(poll_id), 1)) FROM polls
		`); err != nil {
			return fmt.Errorf("reset poll sequence: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

func collect(ctx context.Context, tx *sql.Tx, query string, scan func(*sql.Rows) error) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
