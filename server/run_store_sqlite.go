package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/copseworks/forage"
)

const runSQLiteSchema = `
CREATE TABLE IF NOT EXISTS fetch_runs (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	method TEXT,
	schedule_id TEXT,
	status TEXT NOT NULL,
	document_count INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_fetch_runs_provider ON fetch_runs(provider);
CREATE INDEX IF NOT EXISTS idx_fetch_runs_started_at ON fetch_runs(started_at);
`

// RunSQLiteStore persists fetch run records in SQLite.
type RunSQLiteStore struct {
	db *sql.DB
}

// NewRunSQLiteStore creates a SQLite-backed run store using an existing
// database connection.
func NewRunSQLiteStore(db *sql.DB) (*RunSQLiteStore, error) {
	if db == nil {
		return nil, errors.New("run sqlite store: db is nil")
	}
	if _, err := db.Exec(runSQLiteSchema); err != nil {
		return nil, fmt.Errorf("run sqlite store create schema: %w", err)
	}
	return &RunSQLiteStore{db: db}, nil
}

// Create records a completed fetch run.
func (s *RunSQLiteStore) Create(ctx context.Context, rec FetchRunRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fetch_runs (id, provider, method, schedule_id, status, document_count, error, started_at, completed_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Provider),
		nullIfEmpty(rec.Method),
		nullIfEmpty(rec.ScheduleID),
		rec.Status,
		rec.DocumentCount,
		nullIfEmpty(rec.Error),
		formatSQLiteTime(rec.StartedAt),
		formatSQLiteTime(rec.CompletedAt),
		rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("run sqlite store create: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RunSQLiteStore) Get(ctx context.Context, id string) (FetchRunRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, provider, method, schedule_id, status, document_count, error, started_at, completed_at, duration_ms
FROM fetch_runs
WHERE id = ?`, id)

	rec, err := scanRunRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FetchRunRecord{}, false, nil
		}
		return FetchRunRecord{}, false, err
	}
	return rec, true, nil
}

// List returns runs newest first, honoring the filter.
func (s *RunSQLiteStore) List(ctx context.Context, filter RunListFilter) ([]FetchRunRecord, error) {
	query := `
SELECT id, provider, method, schedule_id, status, document_count, error, started_at, completed_at, duration_ms
FROM fetch_runs`
	var (
		clauses []string
		args    []any
	)
	if filter.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, string(filter.Provider))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += "\nWHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += "\nORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += "\nLIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run sqlite store list: %w", err)
	}
	defer rows.Close()

	var records []FetchRunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run sqlite store list rows: %w", err)
	}
	return records, nil
}

type runScanner interface {
	Scan(dest ...any) error
}

func scanRunRecord(scanner runScanner) (FetchRunRecord, error) {
	var (
		id            string
		provider      string
		method        sql.NullString
		scheduleID    sql.NullString
		status        string
		documentCount int
		errMsg        sql.NullString
		startedAt     string
		completedAt   string
		durationMs    int64
	)
	if err := scanner.Scan(&id, &provider, &method, &scheduleID, &status, &documentCount, &errMsg, &startedAt, &completedAt, &durationMs); err != nil {
		return FetchRunRecord{}, err
	}

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return FetchRunRecord{}, fmt.Errorf("run sqlite store parse started_at: %w", err)
	}
	completed, err := time.Parse(time.RFC3339Nano, completedAt)
	if err != nil {
		return FetchRunRecord{}, fmt.Errorf("run sqlite store parse completed_at: %w", err)
	}

	return FetchRunRecord{
		ID:            id,
		Provider:      forage.Provider(provider),
		Method:        method.String,
		ScheduleID:    scheduleID.String,
		Status:        status,
		DocumentCount: documentCount,
		Error:         errMsg.String,
		StartedAt:     started,
		CompletedAt:   completed,
		DurationMs:    durationMs,
	}, nil
}

var _ RunStore = (*RunSQLiteStore)(nil)
