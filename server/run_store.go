package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/copseworks/forage"
)

const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// ErrRunNotFound is returned when a fetch run cannot be located.
var ErrRunNotFound = errors.New("fetch run not found")

// FetchRunRecord captures one provider fetch: who ran, how long it took,
// and how it ended.
type FetchRunRecord struct {
	ID            string          `json:"id"`
	Provider      forage.Provider `json:"provider"`
	Method        string          `json:"method,omitempty"`
	ScheduleID    string          `json:"schedule_id,omitempty"`
	Status        string          `json:"status"`
	DocumentCount int             `json:"document_count"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   time.Time       `json:"completed_at"`
	DurationMs    int64           `json:"duration_ms"`
}

// RunListFilter narrows a run listing. Zero values mean "no filter".
type RunListFilter struct {
	Provider forage.Provider
	Status   string
	Limit    int
}

// RunStore defines the interface for fetch run persistence.
type RunStore interface {
	// Create records a completed fetch run.
	Create(ctx context.Context, rec FetchRunRecord) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (FetchRunRecord, bool, error)

	// List returns runs newest first, honoring the filter.
	List(ctx context.Context, filter RunListFilter) ([]FetchRunRecord, error)
}

// MemoryRunStore is an in-memory RunStore for tests and ephemeral servers.
type MemoryRunStore struct {
	mu      sync.RWMutex
	records map[string]FetchRunRecord
}

// NewMemoryRunStore creates an empty in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{records: make(map[string]FetchRunRecord)}
}

func (s *MemoryRunStore) Create(ctx context.Context, rec FetchRunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryRunStore) Get(ctx context.Context, id string) (FetchRunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryRunStore) List(ctx context.Context, filter RunListFilter) ([]FetchRunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]FetchRunRecord, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Provider != "" && rec.Provider != filter.Provider {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

var _ RunStore = (*MemoryRunStore)(nil)
