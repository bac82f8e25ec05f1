package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/copseworks/forage"
)

const scheduleSQLiteSchema = `
CREATE TABLE IF NOT EXISTS fetch_schedules (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	method TEXT,
	arguments_json TEXT,
	credential_id TEXT,
	cron TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	next_run_at TEXT NOT NULL,
	last_run_at TEXT,
	last_run_id TEXT,
	last_status TEXT,
	last_error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fetch_schedules_due ON fetch_schedules(enabled, next_run_at);
`

// ScheduleSQLiteStore persists fetch schedules in SQLite.
type ScheduleSQLiteStore struct {
	db *sql.DB
}

// NewScheduleSQLiteStore creates a SQLite-backed schedule store using an
// existing database connection.
func NewScheduleSQLiteStore(db *sql.DB) (*ScheduleSQLiteStore, error) {
	if db == nil {
		return nil, errors.New("schedule sqlite store: db is nil")
	}
	if _, err := db.Exec(scheduleSQLiteSchema); err != nil {
		return nil, fmt.Errorf("schedule sqlite store create schema: %w", err)
	}
	return &ScheduleSQLiteStore{db: db}, nil
}

const scheduleSQLiteColumns = `id, provider, method, arguments_json, credential_id, cron, enabled, next_run_at, last_run_at, last_run_id, last_status, last_error, created_at, updated_at`

// List returns all schedules ordered by creation time.
func (s *ScheduleSQLiteStore) List(ctx context.Context) ([]FetchSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+scheduleSQLiteColumns+`
FROM fetch_schedules
ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("schedule sqlite store list: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// Get retrieves a schedule by ID.
func (s *ScheduleSQLiteStore) Get(ctx context.Context, id string) (FetchSchedule, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+scheduleSQLiteColumns+`
FROM fetch_schedules
WHERE id = ?`, id)

	schedule, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FetchSchedule{}, false, nil
		}
		return FetchSchedule{}, false, err
	}
	return schedule, true, nil
}

// Create adds a new schedule.
func (s *ScheduleSQLiteStore) Create(ctx context.Context, schedule FetchSchedule) error {
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = schedule.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO fetch_schedules (`+scheduleSQLiteColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID,
		string(schedule.Provider),
		nullIfEmpty(schedule.Method),
		nullIfEmpty(string(schedule.Arguments)),
		nullIfEmpty(schedule.CredentialID),
		schedule.Cron,
		boolToInt(schedule.Enabled),
		formatSQLiteTime(schedule.NextRunAt),
		nullableTime(schedule.LastRunAt),
		nullIfEmpty(schedule.LastRunID),
		nullIfEmpty(schedule.LastStatus),
		nullIfEmpty(schedule.LastError),
		formatSQLiteTime(schedule.CreatedAt),
		formatSQLiteTime(schedule.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: fetch_schedules.id") {
			return ErrScheduleExists
		}
		return fmt.Errorf("schedule sqlite store create: %w", err)
	}
	return nil
}

// Update modifies an existing schedule.
func (s *ScheduleSQLiteStore) Update(ctx context.Context, schedule FetchSchedule) error {
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE fetch_schedules
SET provider = ?, method = ?, arguments_json = ?, credential_id = ?, cron = ?, enabled = ?,
    next_run_at = ?, last_run_at = ?, last_run_id = ?, last_status = ?, last_error = ?, updated_at = ?
WHERE id = ?`,
		string(schedule.Provider),
		nullIfEmpty(schedule.Method),
		nullIfEmpty(string(schedule.Arguments)),
		nullIfEmpty(schedule.CredentialID),
		schedule.Cron,
		boolToInt(schedule.Enabled),
		formatSQLiteTime(schedule.NextRunAt),
		nullableTime(schedule.LastRunAt),
		nullIfEmpty(schedule.LastRunID),
		nullIfEmpty(schedule.LastStatus),
		nullIfEmpty(schedule.LastError),
		formatSQLiteTime(schedule.UpdatedAt),
		schedule.ID,
	)
	if err != nil {
		return fmt.Errorf("schedule sqlite store update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule sqlite store update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// Delete removes a schedule by ID.
func (s *ScheduleSQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetch_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("schedule sqlite store delete: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule sqlite store delete affected rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// ListDue returns enabled schedules due at or before now, oldest first.
func (s *ScheduleSQLiteStore) ListDue(ctx context.Context, now time.Time, limit int) ([]FetchSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+scheduleSQLiteColumns+`
FROM fetch_schedules
WHERE enabled = 1 AND next_run_at <= ?
ORDER BY next_run_at ASC
LIMIT ?`,
		formatSQLiteTime(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("schedule sqlite store list due: %w", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

func collectSchedules(rows *sql.Rows) ([]FetchSchedule, error) {
	var schedules []FetchSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule sqlite store rows: %w", err)
	}
	return schedules, nil
}

type scheduleScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(scanner scheduleScanner) (FetchSchedule, error) {
	var (
		id           string
		provider     string
		method       sql.NullString
		argumentsRaw sql.NullString
		credentialID sql.NullString
		cronExpr     string
		enabled      int
		nextRunAt    string
		lastRunAt    sql.NullString
		lastRunID    sql.NullString
		lastStatus   sql.NullString
		lastError    sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := scanner.Scan(&id, &provider, &method, &argumentsRaw, &credentialID, &cronExpr, &enabled,
		&nextRunAt, &lastRunAt, &lastRunID, &lastStatus, &lastError, &createdAt, &updatedAt); err != nil {
		return FetchSchedule{}, err
	}

	next, err := time.Parse(time.RFC3339Nano, nextRunAt)
	if err != nil {
		return FetchSchedule{}, fmt.Errorf("schedule sqlite store parse next_run_at: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return FetchSchedule{}, fmt.Errorf("schedule sqlite store parse created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return FetchSchedule{}, fmt.Errorf("schedule sqlite store parse updated_at: %w", err)
	}

	schedule := FetchSchedule{
		ID:           id,
		Provider:     forage.Provider(provider),
		Method:       method.String,
		CredentialID: credentialID.String,
		Cron:         cronExpr,
		Enabled:      enabled != 0,
		NextRunAt:    next,
		LastRunID:    lastRunID.String,
		LastStatus:   lastStatus.String,
		LastError:    lastError.String,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
	if argumentsRaw.Valid && strings.TrimSpace(argumentsRaw.String) != "" {
		schedule.Arguments = json.RawMessage(argumentsRaw.String)
	}
	if lastRunAt.Valid && strings.TrimSpace(lastRunAt.String) != "" {
		last, err := time.Parse(time.RFC3339Nano, lastRunAt.String)
		if err != nil {
			return FetchSchedule{}, fmt.Errorf("schedule sqlite store parse last_run_at: %w", err)
		}
		schedule.LastRunAt = &last
	}
	return schedule, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatSQLiteTime(*t)
}

var _ ScheduleStore = (*ScheduleSQLiteStore)(nil)
