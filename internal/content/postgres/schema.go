package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS lesson_scripts (
		day      TEXT    NOT NULL,
		lesson   TEXT    NOT NULL,
		language TEXT    NOT NULL,
		level    TEXT    NOT NULL DEFAULT '',
		body     TEXT    NOT NULL,
		PRIMARY KEY (day, lesson, language)
	)`,
	`CREATE TABLE IF NOT EXISTS lesson_messages (
		id            TEXT    PRIMARY KEY,
		day           TEXT    NOT NULL,
		lesson        TEXT    NOT NULL,
		language      TEXT    NOT NULL,
		role          TEXT    NOT NULL,
		body          TEXT    NOT NULL,
		message_order BIGINT  NOT NULL,
		step          JSONB,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS lesson_messages_lesson_idx
		ON lesson_messages (day, lesson, language, message_order)`,
	`CREATE TABLE IF NOT EXISTS audio_assets (
		content_hash TEXT PRIMARY KEY,
		text_hash    TEXT NOT NULL,
		url          TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audio_assets_text_idx ON audio_assets (text_hash)`,
}

// Migrate applies the schema. Statements are idempotent, so running it on
// every startup is safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}
