// Package kv provides the durable key-value substrate backing local state.
//
// Every piece of device-local state (record collections, sync state, device
// identity) is stored as a JSON value under a stable string key, so a process
// restart rehydrates identical state.
package kv

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed key-value store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the key-value store under dataDir.
// The database is opened with:
// - WAL mode for concurrent reads during writes
// - a single writer connection, since SQLite supports only one
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "healthsync.db")

	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// synchronous=NORMAL keeps every committed write durable enough for the
	// at-most-one-in-flight-operation crash guarantee without paying FULL on
	// each mutation.
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key        TEXT PRIMARY KEY CHECK(length(key) > 0),
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the value stored under key. Found is false when the key has
// never been written.
func (s *Store) Get(key string) (value []byte, found bool, err error) {
	row := s.db.QueryRow("SELECT value FROM kv_entries WHERE key = ?", key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes value under key, overwriting any prior value. The write is
// committed before Set returns.
func (s *Store) Set(key string, value []byte) error {
	query := `
	INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, unixepoch())
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// SetMany writes several keys in one transaction so a crash cannot leave a
// partially-applied batch behind.
func (s *Store) SetMany(entries map[string][]byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin kv transaction: %w", err)
	}

	query := `
	INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, unixepoch())
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	for key, value := range entries {
		if _, err := tx.Exec(query, key, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to write key %q: %w", key, err)
		}
	}

	return tx.Commit()
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Keys returns all stored keys, for diagnostics.
func (s *Store) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM kv_entries ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
