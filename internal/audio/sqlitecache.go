package audio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audio_cache (
	content_hash TEXT PRIMARY KEY,
	data         BLOB NOT NULL,
	created_at   INTEGER NOT NULL
);
`

// SQLiteCache is the durable second tier, backing asset bytes with a local
// sqlite database so assets survive restarts without re-fetching.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache opens (and migrates) the cache database at path.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audio: open sqlite cache: %w", err)
	}
	// Single writer; the queue serializes puts anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audio: migrate sqlite cache: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT data FROM audio_cache WHERE content_hash = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("audio: sqlite get: %w", err)
	}
	return data, true, nil
}

func (c *SQLiteCache) Put(ctx context.Context, key string, data []byte) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audio_cache (content_hash, data, created_at) VALUES (?, ?, ?)`,
		key, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("audio: sqlite put: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM audio_cache`); err != nil {
		return fmt.Errorf("audio: sqlite clear: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
