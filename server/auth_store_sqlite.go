package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const authSQLiteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT,
	password_hash TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sessions_token ON sessions(token);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
`

// AuthSQLiteStore persists users and sessions in SQLite.
type AuthSQLiteStore struct {
	db *sql.DB
}

// NewAuthSQLiteStore creates a SQLite-backed auth store using an
// existing database connection.
func NewAuthSQLiteStore(db *sql.DB) (*AuthSQLiteStore, error) {
	if db == nil {
		return nil, errors.New("auth sqlite store: db is nil")
	}
	if _, err := db.Exec(authSQLiteSchema); err != nil {
		return nil, fmt.Errorf("auth sqlite store create schema: %w", err)
	}
	return &AuthSQLiteStore{db: db}, nil
}

// CreateUser adds a new user record. Emails are stored lowercased so
// lookups are case-insensitive.
func (s *AuthSQLiteStore) CreateUser(ctx context.Context, rec UserRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		strings.ToLower(rec.Email),
		nullIfEmpty(rec.Name),
		rec.PasswordHash,
		formatSQLiteTime(rec.CreatedAt),
		formatSQLiteTime(rec.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.") {
			return ErrUserExists
		}
		return fmt.Errorf("auth sqlite store create user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email address.
func (s *AuthSQLiteStore) GetUserByEmail(ctx context.Context, email string) (UserRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, name, password_hash, created_at, updated_at
FROM users
WHERE email = ?`, strings.ToLower(email))
	return s.userFromRow(row)
}

// GetUserByID retrieves a user by ID.
func (s *AuthSQLiteStore) GetUserByID(ctx context.Context, id string) (UserRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, name, password_hash, created_at, updated_at
FROM users
WHERE id = ?`, id)
	return s.userFromRow(row)
}

func (s *AuthSQLiteStore) userFromRow(row *sql.Row) (UserRecord, bool, error) {
	var (
		id           string
		email        string
		name         sql.NullString
		passwordHash string
		createdAt    string
		updatedAt    string
	)
	if err := row.Scan(&id, &email, &name, &passwordHash, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserRecord{}, false, nil
		}
		return UserRecord{}, false, fmt.Errorf("auth sqlite store scan user: %w", err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return UserRecord{}, false, fmt.Errorf("auth sqlite store parse created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return UserRecord{}, false, fmt.Errorf("auth sqlite store parse updated_at: %w", err)
	}

	return UserRecord{
		ID:           id,
		Email:        email,
		Name:         name.String,
		PasswordHash: passwordHash,
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, true, nil
}

// CreateSession records a new session for a user.
func (s *AuthSQLiteStore) CreateSession(ctx context.Context, sess SessionRecord) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, token, expires_at, created_at)
VALUES (?, ?, ?, ?, ?)`,
		sess.ID,
		sess.UserID,
		sess.Token,
		formatSQLiteTime(sess.ExpiresAt),
		formatSQLiteTime(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("auth sqlite store create session: %w", err)
	}
	return nil
}

// GetSessionByToken retrieves a live session by its token.
func (s *AuthSQLiteStore) GetSessionByToken(ctx context.Context, token string) (SessionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, token, expires_at, created_at
FROM sessions
WHERE token = ?`, token)

	var (
		id        string
		userID    string
		tok       string
		expiresAt string
		createdAt string
	)
	if err := row.Scan(&id, &userID, &tok, &expiresAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, false, nil
		}
		return SessionRecord{}, false, fmt.Errorf("auth sqlite store scan session: %w", err)
	}

	expires, err := time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("auth sqlite store parse expires_at: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return SessionRecord{}, false, fmt.Errorf("auth sqlite store parse created_at: %w", err)
	}

	if expires.Before(time.Now().UTC()) {
		return SessionRecord{}, false, ErrSessionExpired
	}

	return SessionRecord{
		ID:        id,
		UserID:    userID,
		Token:     tok,
		ExpiresAt: expires,
		CreatedAt: created,
	}, true, nil
}

// DeleteSession removes a session by ID.
func (s *AuthSQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("auth sqlite store delete session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auth sqlite store delete session affected rows: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// CleanExpiredSessions removes every expired session.
func (s *AuthSQLiteStore) CleanExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`,
		formatSQLiteTime(time.Now()))
	if err != nil {
		return fmt.Errorf("auth sqlite store clean expired sessions: %w", err)
	}
	return nil
}

var _ AuthStore = (*AuthSQLiteStore)(nil)
