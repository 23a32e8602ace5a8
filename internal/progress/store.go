// Package progress persists a per-run log of research actions (queries made,
// resources visited, checkpoints taken) for operators watching long runs.
package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	// Drivers: Postgres in production, SQLite for local runs.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Kind classifies a progress entry.
type Kind string

const (
	KindQuery      Kind = "query"
	KindVisit      Kind = "visit"
	KindCheckpoint Kind = "checkpoint"
	KindSubTask    Kind = "sub_task"
)

// Entry is one row of the progress log.
type Entry struct {
	ID         int64     `db:"id" json:"id"`
	RunID      string    `db:"run_id" json:"run_id"`
	Kind       Kind      `db:"kind" json:"kind"`
	Detail     string    `db:"detail" json:"detail"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// Store writes progress entries through sqlx.
type Store struct {
	db *sqlx.DB
}

// Open connects with the given driver ("postgres" or "sqlite3") and DSN.
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect progress store: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection (used by tests).
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Init creates the progress table if needed.
func (s *Store) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS research_progress (
    id          INTEGER PRIMARY KEY,
    run_id      TEXT NOT NULL,
    kind        TEXT NOT NULL,
    detail      TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init progress store: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one entry.
func (s *Store) Record(ctx context.Context, runID string, kind Kind, detail string) error {
	query := s.db.Rebind(
		`INSERT INTO research_progress (run_id, kind, detail, recorded_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, runID, string(kind), detail, time.Now().UTC()); err != nil {
		return fmt.Errorf("record progress %s/%s: %w", runID, kind, err)
	}
	return nil
}

// RecordQuery logs a web query.
func (s *Store) RecordQuery(ctx context.Context, runID, query string) error {
	return s.Record(ctx, runID, KindQuery, query)
}

// RecordVisit logs a visited resource URL.
func (s *Store) RecordVisit(ctx context.Context, runID, url string) error {
	return s.Record(ctx, runID, KindVisit, url)
}

// RecordSubTask logs one finished delegated sub-task.
func (s *Store) RecordSubTask(ctx context.Context, runID, detail string) error {
	return s.Record(ctx, runID, KindSubTask, detail)
}

// Recent returns the latest entries for a run, newest first.
func (s *Store) Recent(ctx context.Context, runID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.Rebind(
		`SELECT id, run_id, kind, detail, recorded_at
		   FROM research_progress WHERE run_id = ?
		  ORDER BY recorded_at DESC, id DESC LIMIT ?`)
	var out []Entry
	if err := s.db.SelectContext(ctx, &out, query, runID, limit); err != nil {
		return nil, fmt.Errorf("read progress for %s: %w", runID, err)
	}
	return out, nil
}

// QueriesMade returns the distinct query strings logged for a run.
func (s *Store) QueriesMade(ctx context.Context, runID string) ([]string, error) {
	query := s.db.Rebind(
		`SELECT detail FROM research_progress WHERE run_id = ? AND kind = ? ORDER BY recorded_at`)
	var out []string
	if err := s.db.SelectContext(ctx, &out, query, runID, string(KindQuery)); err != nil {
		return nil, fmt.Errorf("read queries for %s: %w", runID, err)
	}
	seen := make(map[string]bool, len(out))
	uniq := out[:0]
	for _, q := range out {
		key := strings.TrimSpace(strings.ToLower(q))
		if !seen[key] {
			uniq = append(uniq, q)
			seen[key] = true
		}
	}
	return uniq, nil
}
