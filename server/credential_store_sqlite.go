package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/copseworks/forage"
)

const credentialSQLiteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'unconfigured',
	api_key_enc TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credentials_provider ON credentials(provider);
CREATE INDEX IF NOT EXISTS idx_credentials_status ON credentials(status);
`

// CredentialSQLiteStore persists credential records in SQLite. API keys
// are encrypted at rest with the codec in credential_secrets.go.
type CredentialSQLiteStore struct {
	db      *sql.DB
	secrets *secretCodec
}

// NewCredentialSQLiteStore creates a SQLite-backed credential store using
// an existing database connection.
func NewCredentialSQLiteStore(db *sql.DB) (*CredentialSQLiteStore, error) {
	if db == nil {
		return nil, errors.New("credential sqlite store: db is nil")
	}

	if _, err := db.Exec(credentialSQLiteSchema); err != nil {
		return nil, fmt.Errorf("credential sqlite store create schema: %w", err)
	}

	scope, err := sqliteScope(db)
	if err != nil {
		return nil, err
	}
	secrets, err := newSecretCodec(scope)
	if err != nil {
		return nil, fmt.Errorf("credential sqlite store init secrets codec: %w", err)
	}

	return &CredentialSQLiteStore{db: db, secrets: secrets}, nil
}

// List returns all credential records ordered by creation time.
func (s *CredentialSQLiteStore) List(ctx context.Context) ([]CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, provider, name, status, created_at, updated_at
FROM credentials
ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("credential sqlite store list: %w", err)
	}
	defer rows.Close()

	var records []CredentialRecord
	for rows.Next() {
		rec, err := scanCredentialRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credential sqlite store list rows: %w", err)
	}

	return records, nil
}

// Get retrieves a credential by ID.
func (s *CredentialSQLiteStore) Get(ctx context.Context, id string) (CredentialRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, provider, name, status, created_at, updated_at
FROM credentials
WHERE id = ?`, id)

	rec, err := scanCredentialRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CredentialRecord{}, false, nil
		}
		return CredentialRecord{}, false, err
	}
	return rec, true, nil
}

// Create adds a new credential record.
func (s *CredentialSQLiteStore) Create(ctx context.Context, rec CredentialRecord) error {
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

	_, err := s.db.ExecContext(ctx, `
INSERT INTO credentials (id, provider, name, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Provider),
		rec.Name,
		string(rec.Status),
		formatSQLiteTime(rec.CreatedAt),
		formatSQLiteTime(rec.UpdatedAt),
	)
	if err != nil {
		if isCredentialSQLiteUniqueViolation(err) {
			return ErrCredentialExists
		}
		return fmt.Errorf("credential sqlite store create: %w", err)
	}
	return nil
}

// Update modifies an existing credential record.
func (s *CredentialSQLiteStore) Update(ctx context.Context, rec CredentialRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE credentials
SET provider = ?, name = ?, status = ?, updated_at = ?
WHERE id = ?`,
		string(rec.Provider),
		rec.Name,
		string(rec.Status),
		formatSQLiteTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("credential sqlite store update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credential sqlite store update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Delete removes a credential by ID.
func (s *CredentialSQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("credential sqlite store delete: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credential sqlite store delete affected rows: %w", err)
	}
	if affected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// GetAPIKey retrieves and decrypts the stored API key for a credential.
func (s *CredentialSQLiteStore) GetAPIKey(ctx context.Context, id string) (string, error) {
	var encrypted sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT api_key_enc FROM credentials WHERE id = ?`, id).Scan(&encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCredentialNotFound
		}
		return "", fmt.Errorf("credential sqlite store get api key: %w", err)
	}

	if strings.TrimSpace(encrypted.String) == "" {
		return "", nil
	}

	apiKey, err := s.secrets.Decrypt(encrypted.String)
	if err != nil {
		return "", fmt.Errorf("credential sqlite store decrypt api key: %w", err)
	}
	return apiKey, nil
}

// SetAPIKey stores an API key encrypted at rest and flips the status.
func (s *CredentialSQLiteStore) SetAPIKey(ctx context.Context, id string, apiKey string) error {
	encrypted, err := s.secrets.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("credential sqlite store encrypt api key: %w", err)
	}

	status := CredentialStatusUnconfigured
	if strings.TrimSpace(apiKey) != "" {
		status = CredentialStatusConfigured
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE credentials
SET api_key_enc = ?, status = ?, updated_at = ?
WHERE id = ?`,
		nullIfEmpty(encrypted),
		string(status),
		formatSQLiteTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("credential sqlite store set api key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credential sqlite store set api key affected rows: %w", err)
	}
	if affected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// Close is a no-op since the database connection is shared.
func (s *CredentialSQLiteStore) Close() error {
	return nil
}

type credentialScanner interface {
	Scan(dest ...any) error
}

func scanCredentialRecord(scanner credentialScanner) (CredentialRecord, error) {
	var (
		id        string
		provider  string
		name      string
		status    string
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&id, &provider, &name, &status, &createdAt, &updatedAt); err != nil {
		return CredentialRecord{}, err
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("credential sqlite store parse created_at: %w", err)
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("credential sqlite store parse updated_at: %w", err)
	}

	return CredentialRecord{
		ID:        id,
		Provider:  forage.Provider(provider),
		Name:      name,
		Status:    CredentialStatus(status),
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func isCredentialSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: credentials.id")
}

var _ CredentialStore = (*CredentialSQLiteStore)(nil)
