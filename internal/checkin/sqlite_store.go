package checkin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS visitor (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	email TEXT NOT NULL,
	first_name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS visited (
	slug TEXT PRIMARY KEY,
	position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS retry_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL
);
`

// SQLiteStore keeps kiosk state in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure checkin schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Visitor(ctx context.Context) (Visitor, bool, error) {
	var v Visitor
	err := s.db.QueryRowContext(ctx, `SELECT email, first_name FROM visitor WHERE id = 1`).Scan(&v.Email, &v.FirstName)
	if errors.Is(err, sql.ErrNoRows) {
		return Visitor{}, false, nil
	}
	if err != nil {
		return Visitor{}, false, fmt.Errorf("query visitor: %w", err)
	}
	return v, true, nil
}

func (s *SQLiteStore) SaveVisitor(ctx context.Context, v Visitor) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO visitor (id, email, first_name) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET email = excluded.email, first_name = excluded.first_name`,
		v.Email,
		v.FirstName,
	)
	if err != nil {
		return fmt.Errorf("save visitor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Visited(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM visited ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query visited: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan visited: %w", err)
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkVisited(ctx context.Context, slugs ...string) error {
	for _, slug := range slugs {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO visited (slug, position)
			 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM visited))`,
			slug,
		)
		if err != nil {
			return fmt.Errorf("mark visited %s: %w", slug, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal queued entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO retry_queue (payload) VALUES (?)`, string(payload)); err != nil {
		return fmt.Errorf("enqueue entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Pending(ctx context.Context) ([]Queued, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM retry_queue ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query retry queue: %w", err)
	}
	defer rows.Close()

	var out []Queued
	for rows.Next() {
		var (
			q       Queued
			payload string
		)
		if err := rows.Scan(&q.ID, &payload); err != nil {
			return nil, fmt.Errorf("scan retry queue: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &q.Entry); err != nil {
			return nil, fmt.Errorf("unmarshal queued entry id=%d: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Remove(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := s.db.ExecContext(ctx, `DELETE FROM retry_queue WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("remove queued entries: %w", err)
	}
	return nil
}
