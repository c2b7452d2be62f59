package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists knowledge entries in SQLite so they can be curated
// outside the config file. The caller opens the *sql.DB (mattn
// go-sqlite3 in production) and owns its lifetime.
type Store struct {
	db *sql.DB
}

// NewStore wraps db and creates the schema if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate knowledge store: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS knowledge (
		key        TEXT PRIMARY KEY,
		answer     TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`)
	return err
}

// Put upserts an entry. The key is stored normalized.
func (s *Store) Put(ctx context.Context, key, answer string) error {
	norm := New(map[string]string{key: answer}).Keys()
	if len(norm) == 0 {
		return fmt.Errorf("empty knowledge key or answer")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge (key, answer, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET answer = excluded.answer, updated_at = excluded.updated_at`,
		norm[0], answer, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes an entry. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM knowledge WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// All returns every entry, for building a [Base] at startup.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, answer FROM knowledge`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
