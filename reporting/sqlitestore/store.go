// Package sqlitestore persists run results in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id                       TEXT PRIMARY KEY,
    name                     TEXT NOT NULL,
    started_at               INTEGER NOT NULL,
    finished_at              INTEGER,
    run_count                INTEGER NOT NULL DEFAULT 0,
    failure_count            INTEGER NOT NULL DEFAULT 0,
    ignore_count             INTEGER NOT NULL DEFAULT 0,
    assumption_failure_count INTEGER NOT NULL DEFAULT 0,
    duration_ms              INTEGER NOT NULL DEFAULT 0
)`

const createTestsTable = `
CREATE TABLE IF NOT EXISTS tests (
    run_id      TEXT NOT NULL,
    test_id     TEXT NOT NULL,
    name        TEXT NOT NULL,
    status      TEXT NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    message     TEXT NOT NULL DEFAULT '',
    finished_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, test_id)
)`

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Test statuses stored in the tests table.
const (
	StatusPassed           = "passed"
	StatusFailed           = "failed"
	StatusIgnored          = "ignored"
	StatusAssumptionFailed = "assumption_failed"
)

// Run is one stored run.
type Run struct {
	ID                     string
	Name                   string
	StartedAt              time.Time
	FinishedAt             time.Time
	RunCount               int
	FailureCount           int
	IgnoreCount            int
	AssumptionFailureCount int
	Duration               time.Duration
}

// TestRecord is one stored test outcome.
type TestRecord struct {
	RunID      string
	TestID     string
	Name       string
	Status     string
	Duration   time.Duration
	Message    string
	FinishedAt time.Time
}

// Store is a SQLite-backed result store.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and creates the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range []struct {
		sql  string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "set WAL mode"},
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
		{createRunsTable, "create runs table"},
		{createTestsTable, "create tests table"},
	} {
		if _, err := db.ExecContext(ctx, stmt.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", stmt.what, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a run row.
func (s *Store) StartRun(ctx context.Context, id, name string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
		id, name, startedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the totals of a run.
func (s *Store) FinishRun(ctx context.Context, run Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, run_count = ?, failure_count = ?, ignore_count = ?,
			assumption_failure_count = ?, duration_ms = ?
		WHERE id = ?`,
		run.FinishedAt.UnixMilli(), run.RunCount, run.FailureCount, run.IgnoreCount,
		run.AssumptionFailureCount, run.Duration.Milliseconds(), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutTest inserts or replaces a test outcome.
func (s *Store) PutTest(ctx context.Context, rec TestRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tests (run_id, test_id, name, status, duration_ms, message, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.TestID, rec.Name, rec.Status, rec.Duration.Milliseconds(), rec.Message, rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, started_at, COALESCE(finished_at, 0), run_count, failure_count,
			ignore_count, assumption_failure_count, duration_ms
		FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// Runs lists runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, started_at, COALESCE(finished_at, 0), run_count, failure_count,
			ignore_count, assumption_failure_count, duration_ms
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Tests lists the stored outcomes of a run in name order.
func (s *Store) Tests(ctx context.Context, runID string) ([]*TestRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, test_id, name, status, duration_ms, message, finished_at
		FROM tests WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var out []*TestRecord
	for rows.Next() {
		var (
			rec        TestRecord
			durationMS int64
			finishedAt int64
		)
		if err := rows.Scan(&rec.RunID, &rec.TestID, &rec.Name, &rec.Status, &durationMS, &rec.Message, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.FinishedAt = time.UnixMilli(finishedAt)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		startedAt  int64
		finishedAt int64
		durationMS int64
	)
	if err := row.Scan(&r.ID, &r.Name, &startedAt, &finishedAt, &r.RunCount, &r.FailureCount,
		&r.IgnoreCount, &r.AssumptionFailureCount, &durationMS); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(startedAt)
	if finishedAt > 0 {
		r.FinishedAt = time.UnixMilli(finishedAt)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return &r, nil
}
