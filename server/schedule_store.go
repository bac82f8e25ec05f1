package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/copseworks/forage"
)

var (
	ErrScheduleExists   = errors.New("fetch schedule already exists")
	ErrScheduleNotFound = errors.New("fetch schedule not found")
)

const (
	ScheduleRunStatusRunning        = "running"
	ScheduleRunStatusCompleted      = "completed"
	ScheduleRunStatusFailed         = "failed"
	ScheduleRunStatusSkippedOverlap = "skipped_overlap"
)

// FetchSchedule represents a persisted cron schedule for a recurring
// provider fetch. Cron expressions are evaluated in UTC.
type FetchSchedule struct {
	ID           string          `json:"id"`
	Provider     forage.Provider `json:"provider"`
	Method       string          `json:"method,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	CredentialID string          `json:"credential_id,omitempty"`
	Cron         string          `json:"cron"`
	Enabled      bool            `json:"enabled"`

	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleStore provides CRUD + due scheduling operations.
type ScheduleStore interface {
	List(ctx context.Context) ([]FetchSchedule, error)
	Get(ctx context.Context, id string) (FetchSchedule, bool, error)
	Create(ctx context.Context, schedule FetchSchedule) error
	Update(ctx context.Context, schedule FetchSchedule) error
	Delete(ctx context.Context, id string) error

	// ListDue returns enabled schedules whose next_run_at is at or
	// before now, oldest first, up to limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]FetchSchedule, error)
}

// MemoryScheduleStore is an in-memory ScheduleStore for tests and
// ephemeral servers.
type MemoryScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]FetchSchedule
}

// NewMemoryScheduleStore creates an empty in-memory schedule store.
func NewMemoryScheduleStore() *MemoryScheduleStore {
	return &MemoryScheduleStore{schedules: make(map[string]FetchSchedule)}
}

func (s *MemoryScheduleStore) List(ctx context.Context) ([]FetchSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedules := make([]FetchSchedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		schedules = append(schedules, schedule)
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	return schedules, nil
}

func (s *MemoryScheduleStore) Get(ctx context.Context, id string) (FetchSchedule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schedule, ok := s.schedules[id]
	return schedule, ok, nil
}

func (s *MemoryScheduleStore) Create(ctx context.Context, schedule FetchSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[schedule.ID]; exists {
		return ErrScheduleExists
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = schedule.CreatedAt
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *MemoryScheduleStore) Update(ctx context.Context, schedule FetchSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; !ok {
		return ErrScheduleNotFound
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = time.Now().UTC()
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *MemoryScheduleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return ErrScheduleNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *MemoryScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]FetchSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []FetchSchedule
	for _, schedule := range s.schedules {
		if !schedule.Enabled {
			continue
		}
		if schedule.NextRunAt.After(now) {
			continue
		}
		due = append(due, schedule)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

var _ ScheduleStore = (*MemoryScheduleStore)(nil)
