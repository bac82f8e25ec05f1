package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// UserRecord is a stored operator account.
type UserRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionRecord is an active login session.
type SessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrUserExists      = errors.New("user already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// AuthStore persists operator accounts and their sessions. When a
// server is configured with one, the credential and schedule routes
// require a valid session.
type AuthStore interface {
	// CreateUser adds a new user record.
	CreateUser(ctx context.Context, rec UserRecord) error

	// GetUserByEmail retrieves a user by email address.
	GetUserByEmail(ctx context.Context, email string) (UserRecord, bool, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (UserRecord, bool, error)

	// CreateSession records a new session for a user.
	CreateSession(ctx context.Context, sess SessionRecord) error

	// GetSessionByToken retrieves a live session by its token. An
	// expired session reports ErrSessionExpired.
	GetSessionByToken(ctx context.Context, token string) (SessionRecord, bool, error)

	// DeleteSession removes a session by ID.
	DeleteSession(ctx context.Context, id string) error

	// CleanExpiredSessions removes every expired session.
	CleanExpiredSessions(ctx context.Context) error
}

// MemoryAuthStore is an in-memory AuthStore for tests and ephemeral
// servers.
type MemoryAuthStore struct {
	mu       sync.Mutex
	users    map[string]UserRecord    // keyed by user ID
	sessions map[string]SessionRecord // keyed by token
}

// NewMemoryAuthStore creates an empty in-memory auth store.
func NewMemoryAuthStore() *MemoryAuthStore {
	return &MemoryAuthStore{
		users:    map[string]UserRecord{},
		sessions: map[string]SessionRecord{},
	}
}

func (s *MemoryAuthStore) CreateUser(_ context.Context, rec UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[rec.ID]; ok {
		return ErrUserExists
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, rec.Email) {
			return ErrUserExists
		}
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	s.users[rec.ID] = rec
	return nil
}

func (s *MemoryAuthStore) GetUserByEmail(_ context.Context, email string) (UserRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.users {
		if strings.EqualFold(rec.Email, email) {
			return rec, true, nil
		}
	}
	return UserRecord{}, false, nil
}

func (s *MemoryAuthStore) GetUserByID(_ context.Context, id string) (UserRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[id]
	return rec, ok, nil
}

func (s *MemoryAuthStore) CreateSession(_ context.Context, sess SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	s.sessions[sess.Token] = sess
	return nil
}

func (s *MemoryAuthStore) GetSessionByToken(_ context.Context, token string) (SessionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return SessionRecord{}, false, nil
	}
	if sess.ExpiresAt.Before(time.Now().UTC()) {
		return SessionRecord{}, false, ErrSessionExpired
	}
	return sess, true, nil
}

func (s *MemoryAuthStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, sess := range s.sessions {
		if sess.ID == id {
			delete(s.sessions, token)
			return nil
		}
	}
	return ErrSessionNotFound
}

func (s *MemoryAuthStore) CleanExpiredSessions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for token, sess := range s.sessions {
		if sess.ExpiresAt.Before(now) {
			delete(s.sessions, token)
		}
	}
	return nil
}

var _ AuthStore = (*MemoryAuthStore)(nil)
