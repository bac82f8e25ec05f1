package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/copseworks/forage"
)

// CredentialStatus represents whether a credential holds a usable API key.
type CredentialStatus string

const (
	CredentialStatusConfigured   CredentialStatus = "configured"
	CredentialStatusUnconfigured CredentialStatus = "unconfigured"
)

// CredentialRecord represents a stored provider credential.
type CredentialRecord struct {
	ID        string           `json:"id"`
	Provider  forage.Provider  `json:"provider"`
	Name      string           `json:"name"`
	Status    CredentialStatus `json:"status,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Sentinel errors for credential store operations.
var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialExists   = errors.New("credential already exists")
)

// CredentialStore defines the interface for credential persistence.
type CredentialStore interface {
	// List returns all credential records.
	List(ctx context.Context) ([]CredentialRecord, error)

	// Get retrieves a credential by ID.
	Get(ctx context.Context, id string) (CredentialRecord, bool, error)

	// Create adds a new credential record.
	Create(ctx context.Context, rec CredentialRecord) error

	// Update modifies an existing credential record.
	Update(ctx context.Context, rec CredentialRecord) error

	// Delete removes a credential by ID.
	Delete(ctx context.Context, id string) error

	// GetAPIKey retrieves the stored API key for a credential.
	// This is separate to avoid accidentally exposing keys.
	GetAPIKey(ctx context.Context, id string) (string, error)

	// SetAPIKey stores an API key for a credential.
	SetAPIKey(ctx context.Context, id string, apiKey string) error
}

// MemoryCredentialStore is an in-memory CredentialStore for tests and
// ephemeral servers.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	records map[string]CredentialRecord
	keys    map[string]string
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		records: make(map[string]CredentialRecord),
		keys:    make(map[string]string),
	}
}

func (s *MemoryCredentialStore) List(ctx context.Context) ([]CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]CredentialRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemoryCredentialStore) Get(ctx context.Context, id string) (CredentialRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryCredentialStore) Create(ctx context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrCredentialExists
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Status == "" {
		rec.Status = CredentialStatusUnconfigured
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryCredentialStore) Update(ctx context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		return ErrCredentialNotFound
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryCredentialStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return ErrCredentialNotFound
	}
	delete(s.records, id)
	delete(s.keys, id)
	return nil
}

func (s *MemoryCredentialStore) GetAPIKey(ctx context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.records[id]; !ok {
		return "", ErrCredentialNotFound
	}
	return s.keys[id], nil
}

func (s *MemoryCredentialStore) SetAPIKey(ctx context.Context, id string, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrCredentialNotFound
	}
	s.keys[id] = apiKey
	if apiKey != "" {
		rec.Status = CredentialStatusConfigured
	} else {
		rec.Status = CredentialStatusUnconfigured
	}
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return nil
}

var _ CredentialStore = (*MemoryCredentialStore)(nil)
