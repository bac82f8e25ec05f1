package server

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is RFC 3339 with a fixed-width fractional second.
// RFC3339Nano drops trailing zeros, so a whole-minute timestamp
// ("…12:05:00Z") compares greater than a fractional one
// ("…12:05:00.123Z") under SQL string comparison. Padding the fraction
// keeps lexicographic order equal to time order for the columns the
// stores compare and sort on.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// OpenSQLite opens a SQLite database for the server stores. The returned
// handle is shared by the credential, run, and schedule stores.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY on concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite database: %w", err)
	}
	return db, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// sqliteScope resolves the database file path so the secret codec can
// bind derived keys to it.
func sqliteScope(db *sql.DB) (string, error) {
	var (
		seq  int
		name string
		path string
	)
	if err := db.QueryRow(`PRAGMA database_list`).Scan(&seq, &name, &path); err != nil {
		return "", fmt.Errorf("resolve sqlite scope: %w", err)
	}
	scope := strings.TrimSpace(path)
	if scope == "" {
		scope = "credentials"
	}
	return scope, nil
}
