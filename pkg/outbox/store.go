// Package outbox persists sync envelopes whose delivery attempts were
// exhausted, so a background sweeper can redeliver them with fresh
// signatures. It is the opt-in durability layer behind the best-effort
// sync client.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const entryTable = "sync_outbox"

// Entry is one undelivered execution result.
type Entry struct {
	ID         string
	Agent      string
	PlaybookID string
	Result     json.RawMessage
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store persists outbox entries in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite-backed store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}
	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle and ensures the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			playbook_id TEXT NOT NULL,
			result_json BLOB NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`, entryTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_agent ON %s(agent);`, entryTable, entryTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated ON %s(updated_at);`, entryTable, entryTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure outbox schema: %w", err)
		}
	}
	return nil
}

// Enqueue stores an undelivered envelope. It implements sync.FailureSink.
func (s *Store) Enqueue(ctx context.Context, agent, playbookID string, result json.RawMessage, lastErr string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, agent, playbook_id, result_json, attempts, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)`, entryTable),
		uuid.NewString(), agent, playbookID, []byte(result), lastErr, now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// Pending returns up to limit entries, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, agent, playbook_id, result_json, attempts, last_error, created_at, updated_at
			FROM %s ORDER BY created_at ASC LIMIT ?`, entryTable),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var created, updated int64
		if err := rows.Scan(&entry.ID, &entry.Agent, &entry.PlaybookID, (*[]byte)(&entry.Result),
			&entry.Attempts, &entry.LastError, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.CreatedAt = time.Unix(created, 0)
		entry.UpdatedAt = time.Unix(updated, 0)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkAttempt records one more failed redelivery for the entry.
func (s *Store) MarkAttempt(ctx context.Context, id, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`, entryTable),
		lastErr, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox attempt: %w", err)
	}
	return nil
}

// Delete removes a delivered (or abandoned) entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, entryTable), id)
	if err != nil {
		return fmt.Errorf("delete outbox entry: %w", err)
	}
	return nil
}

// Prune drops entries past the attempt bound or older than maxAge, and
// returns how many were removed. Zero values disable the respective bound.
func (s *Store) Prune(ctx context.Context, maxAttempts int, maxAge time.Duration) (int, error) {
	removed := 0
	if maxAttempts > 0 {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE attempts >= ?`, entryTable), maxAttempts)
		if err != nil {
			return removed, fmt.Errorf("prune outbox by attempts: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).Unix()
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE created_at < ?`, entryTable), cutoff)
		if err != nil {
			return removed, fmt.Errorf("prune outbox by age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

// Count returns the number of queued entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, entryTable)).Scan(&count)
	return count, err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
