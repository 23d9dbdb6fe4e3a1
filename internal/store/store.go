// Package store provides durable, transactional local storage for cached
// entity snapshots, the pending-operation queue, pending report drafts, the
// conflict log and small configuration values.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store owns all persisted state of the sync engine. Every write is durable
// before the call returns.
type Store struct {
	db *sql.DB
}

// Open opens the local SQLite database under dataDir, creating the schema on
// first use. WAL mode keeps readers unblocked during the drain cycle's
// writes.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "rdosync.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// initialize creates the tables and indexes if they don't exist.
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS pending_operations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		collection TEXT NOT NULL,
		kind TEXT NOT NULL,
		payload BLOB NOT NULL,
		idempotency_key TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_operations_created
		ON pending_operations(created_at);

	CREATE TABLE IF NOT EXISTS pending_reports (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_reports_status
		ON pending_reports(status);

	CREATE TABLE IF NOT EXISTS cached_records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		payload BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS idx_cached_records_collection
		ON cached_records(collection, deleted);

	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		size_bytes INTEGER NOT NULL,
		ttl_ms INTEGER NOT NULL,
		compressed INTEGER NOT NULL DEFAULT 0,
		codec TEXT NOT NULL DEFAULT '',
		last_updated INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed
		ON cache_entries(last_accessed);

	CREATE TABLE IF NOT EXISTS conflict_log (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		local_payload BLOB NOT NULL,
		remote_payload BLOB NOT NULL,
		local_timestamp INTEGER NOT NULL,
		remote_timestamp INTEGER NOT NULL,
		strategy TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		requires_review INTEGER NOT NULL DEFAULT 0,
		conflicting_fields TEXT NOT NULL DEFAULT '',
		detected_at INTEGER NOT NULL,
		resolved_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_conflict_log_record
		ON conflict_log(record_id);

	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetConfigValue stores a small configuration value.
func (s *Store) SetConfigValue(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetConfigValue retrieves a configuration value. A missing key returns an
// empty string and found=false.
func (s *Store) GetConfigValue(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
