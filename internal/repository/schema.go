package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the DDL flavor. Queries elsewhere use $N placeholders,
// which both lib/pq and modernc.org/sqlite accept.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// CreateSchema creates all tables. Safe to call multiple times.
func CreateSchema(ctx context.Context, db *sql.DB, dialect string) error {
	var ddl string
	switch dialect {
	case DialectSQLite:
		ddl = schemaSQLite
	case DialectPostgres:
		ddl = schemaPostgres
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return nil
}

// MigrateParticipants de-duplicates the participants table by
// (chat_id, user_id), keeping the lowest physical row. Older schemas
// allowed duplicates; the composite primary key in the current DDL makes
// them impossible, but a database created by an old schema must be cleaned
// before any composite-key write path runs.
func MigrateParticipants(ctx context.Context, db *sql.DB, dialect string) error {
	var stmt string
	switch dialect {
	case DialectSQLite:
		stmt = `DELETE FROM participants WHERE rowid NOT IN (
			SELECT MIN(rowid) FROM participants GROUP BY chat_id, user_id)`
	case DialectPostgres:
		stmt = `DELETE FROM participants WHERE ctid NOT IN (
			SELECT MIN(ctid) FROM participants GROUP BY chat_id, user_id)`
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("deduplicate participants: %w", err)
	}
	return nil
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
    user_id    INTEGER PRIMARY KEY,
    first_name TEXT NOT NULL DEFAULT '',
    last_name  TEXT NOT NULL DEFAULT '',
    username   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chats (
    chat_id INTEGER PRIMARY KEY,
    title   TEXT NOT NULL DEFAULT '',
    kind    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS participants (
    chat_id    INTEGER NOT NULL,
    user_id    INTEGER NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name  TEXT NOT NULL DEFAULT '',
    username   TEXT NOT NULL DEFAULT '',
    excluded   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS polls (
    poll_id    INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id    INTEGER NOT NULL,
    status     TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'closed')),
    kind       TEXT NOT NULL DEFAULT 'native' CHECK (kind IN ('native', 'webapp')),
    title      TEXT NOT NULL,
    options    TEXT NOT NULL DEFAULT '[]',
    message_id INTEGER NOT NULL DEFAULT 0,
    photo_id   TEXT NOT NULL DEFAULT '',
    nudge_id   INTEGER NOT NULL DEFAULT 0,
    web_app_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_polls_chat ON polls(chat_id, status);

CREATE TABLE IF NOT EXISTS responses (
    poll_id    INTEGER NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    user_id    INTEGER NOT NULL,
    response   TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (poll_id, user_id, response)
);

CREATE INDEX IF NOT EXISTS idx_responses_poll ON responses(poll_id);

CREATE TABLE IF NOT EXISTS poll_settings (
    poll_id              INTEGER PRIMARY KEY REFERENCES polls(poll_id) ON DELETE CASCADE,
    allow_multiple       INTEGER NOT NULL DEFAULT 0,
    show_heatmap         INTEGER NOT NULL DEFAULT 1,
    show_text_results    INTEGER NOT NULL DEFAULT 1,
    default_show_names   INTEGER NOT NULL DEFAULT 1,
    default_show_count   INTEGER NOT NULL DEFAULT 1,
    default_names_style  TEXT NOT NULL DEFAULT 'list' CHECK (default_names_style IN ('list', 'inline', 'numbered')),
    target_sum           REAL NOT NULL DEFAULT 0,
    nudge_negative_emoji TEXT NOT NULL DEFAULT '❌'
);

CREATE TABLE IF NOT EXISTS option_settings (
    poll_id             INTEGER NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    option_index        INTEGER NOT NULL,
    show_names          INTEGER,
    show_count          INTEGER,
    names_style         TEXT,
    emoji               TEXT NOT NULL DEFAULT '',
    is_priority         INTEGER NOT NULL DEFAULT 0,
    contribution_amount REAL NOT NULL DEFAULT 0,
    show_contribution   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (poll_id, option_index)
);

CREATE TABLE IF NOT EXISTS poll_exclusions (
    poll_id INTEGER NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    user_id INTEGER NOT NULL,
    PRIMARY KEY (poll_id, user_id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
    user_id    BIGINT PRIMARY KEY,
    first_name TEXT NOT NULL DEFAULT '',
    last_name  TEXT NOT NULL DEFAULT '',
    username   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chats (
    chat_id BIGINT PRIMARY KEY,
    title   TEXT NOT NULL DEFAULT '',
    kind    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS participants (
    chat_id    BIGINT NOT NULL,
    user_id    BIGINT NOT NULL,
    first_name TEXT NOT NULL DEFAULT '',
    last_name  TEXT NOT NULL DEFAULT '',
    username   TEXT NOT NULL DEFAULT '',
    excluded   BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS polls (
    poll_id    BIGSERIAL PRIMARY KEY,
    chat_id    BIGINT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'closed')),
    kind       TEXT NOT NULL DEFAULT 'native' CHECK (kind IN ('native', 'webapp')),
    title      TEXT NOT NULL,
    options    TEXT NOT NULL DEFAULT '[]',
    message_id BIGINT NOT NULL DEFAULT 0,
    photo_id   TEXT NOT NULL DEFAULT '',
    nudge_id   BIGINT NOT NULL DEFAULT 0,
    web_app_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_polls_chat ON polls(chat_id, status);

CREATE TABLE IF NOT EXISTS responses (
    poll_id    BIGINT NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    user_id    BIGINT NOT NULL,
    response   TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    PRIMARY KEY (poll_id, user_id, response)
);

CREATE INDEX IF NOT EXISTS idx_responses_poll ON responses(poll_id);

CREATE TABLE IF NOT EXISTS poll_settings (
    poll_id              BIGINT PRIMARY KEY REFERENCES polls(poll_id) ON DELETE CASCADE,
    allow_multiple       BOOLEAN NOT NULL DEFAULT FALSE,
    show_heatmap         BOOLEAN NOT NULL DEFAULT TRUE,
    show_text_results    BOOLEAN NOT NULL DEFAULT TRUE,
    default_show_names   BOOLEAN NOT NULL DEFAULT TRUE,
    default_show_count   BOOLEAN NOT NULL DEFAULT TRUE,
    default_names_style  TEXT NOT NULL DEFAULT 'list' CHECK (default_names_style IN ('list', 'inline', 'numbered')),
    target_sum           DOUBLE PRECISION NOT NULL DEFAULT 0,
    nudge_negative_emoji TEXT NOT NULL DEFAULT '❌'
);

CREATE TABLE IF NOT EXISTS option_settings (
    poll_id             BIGINT NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    option_index        INTEGER NOT NULL,
    show_names          BOOLEAN,
    show_count          BOOLEAN,
    names_style         TEXT,
    emoji               TEXT NOT NULL DEFAULT '',
    is_priority         BOOLEAN NOT NULL DEFAULT FALSE,
    contribution_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    show_contribution   BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (poll_id, option_index)
);

CREATE TABLE IF NOT EXISTS poll_exclusions (
    poll_id BIGINT NOT NULL REFERENCES polls(poll_id) ON DELETE CASCADE,
    user_id BIGINT NOT NULL,
    PRIMARY KEY (poll_id, user_id)
);
`
