// Package postgres implements [content.Store] on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lektio/lektio/internal/content"
	"github.com/lektio/lektio/pkg/types"
)

// maxAssetBytes caps a single audio asset download.
const maxAssetBytes = 16 << 20

// Store persists lesson content in PostgreSQL. Audio asset bytes live in
// object storage; the database only holds their URLs, so fetches go over
// plain HTTP. Scripts are immutable per lesson and cached after first load.
type Store struct {
	pool   *pgxpool.Pool
	client *http.Client

	mu      sync.Mutex
	scripts map[string]string
}

// New connects to dsn and applies migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{
		pool:    pool,
		client:  &http.Client{Timeout: 30 * time.Second},
		scripts: make(map[string]string),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) LoadScript(ctx context.Context, key types.LessonKey) (string, error) {
	s.mu.Lock()
	body, ok := s.scripts[key.String()]
	s.mu.Unlock()
	if ok {
		return body, nil
	}

	err := s.pool.QueryRow(ctx,
		`SELECT body FROM lesson_scripts WHERE day = $1 AND lesson = $2 AND language = $3`,
		key.Day, key.Lesson, key.Language).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: script %s: %w", key, content.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: load script %s: %w", key, err)
	}

	s.mu.Lock()
	s.scripts[key.String()] = body
	s.mu.Unlock()
	return body, nil
}

func (s *Store) LoadMessages(ctx context.Context, key types.LessonKey) ([]types.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, body, message_order, step
		 FROM lesson_messages
		 WHERE day = $1 AND lesson = $2 AND language = $3
		 ORDER BY message_order`,
		key.Day, key.Lesson, key.Language)
	if err != nil {
		return nil, fmt.Errorf("postgres: load messages %s: %w", key, err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Text, &m.Order, &m.Step); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load messages %s: %w", key, err)
	}
	return msgs, nil
}

// SaveMessage inserts msg with the next display order for the lesson. The
// order is assigned inside one transaction so concurrent writers cannot
// interleave.
func (s *Store) SaveMessage(ctx context.Context, key types.LessonKey, msg types.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO lesson_messages (id, day, lesson, language, role, body, message_order, step)
		 SELECT $1, $2, $3, $4, $5, $6,
		        COALESCE(MAX(message_order), 0) + 1, $7
		 FROM lesson_messages
		 WHERE day = $2 AND lesson = $3 AND language = $4`,
		msg.ID, key.Day, key.Lesson, key.Language, msg.Role, msg.Text, msg.Step)
	if err != nil {
		return fmt.Errorf("postgres: save message: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save: %w", err)
	}
	return nil
}

func (s *Store) ResolveAudioAsset(ctx context.Context, contentHash, textHash string) (string, error) {
	var url string
	err := s.pool.QueryRow(ctx,
		`SELECT url FROM audio_assets WHERE content_hash = $1`, contentHash).Scan(&url)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: resolve asset: %w", err)
	}
	// Any voice carrying the same text will do.
	err = s.pool.QueryRow(ctx,
		`SELECT url FROM audio_assets WHERE text_hash = $1 LIMIT 1`, textHash).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: resolve asset by text: %w", err)
	}
	return url, nil
}

func (s *Store) FetchAudioBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: build asset request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch asset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("postgres: fetch asset: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("postgres: read asset body: %w", err)
	}
	return data, nil
}
