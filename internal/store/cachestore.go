package store

import (
	"database/sql"
	"strings"

	"github.com/construtech/rdosync/internal/models"
)

// PutCacheEntry upserts a cache row with its bookkeeping metadata.
func (s *Store) PutCacheEntry(e *models.CacheEntry) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO cache_entries (key, data, size_bytes, ttl_ms, compressed, codec, last_updated, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Data, e.SizeBytes, e.TTLMs, e.Compressed, e.Codec, e.LastUpdated, e.LastAccessed)
	return err
}

// GetCacheEntry loads a cache row. Expiry is the cache manager's concern.
func (s *Store) GetCacheEntry(key string) (*models.CacheEntry, bool, error) {
	var e models.CacheEntry
	err := s.db.QueryRow(`
		SELECT key, data, size_bytes, ttl_ms, compressed, codec, last_updated, last_accessed
		FROM cache_entries WHERE key = ?`, key).
		Scan(&e.Key, &e.Data, &e.SizeBytes, &e.TTLMs, &e.Compressed, &e.Codec, &e.LastUpdated, &e.LastAccessed)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

// TouchCacheEntry refreshes last_accessed after a successful read.
func (s *Store) TouchCacheEntry(key string, accessedMs int64) error {
	_, err := s.db.Exec(`UPDATE cache_entries SET last_accessed = ? WHERE key = ?`, accessedMs, key)
	return err
}

// DeleteCacheEntry removes a single cache row.
func (s *Store) DeleteCacheEntry(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// DeleteCacheByPrefix removes every cache row whose key starts with prefix
// and returns the freed byte total.
func (s *Store) DeleteCacheByPrefix(prefix string) (int64, error) {
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, "%", `\%`), "_", `\_`) + "%"
	var freed sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(size_bytes) FROM cache_entries WHERE key LIKE ? ESCAPE '\'`, pattern).Scan(&freed)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(`DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`, pattern); err != nil {
		return 0, err
	}
	return freed.Int64, nil
}

// ListCacheEntries returns metadata for every cache row, ascending by
// last_accessed so the caller can evict in true LRU order. Data blobs are not
// loaded.
func (s *Store) ListCacheEntries() ([]*models.CacheEntry, error) {
	rows, err := s.db.Query(`
		SELECT key, size_bytes, ttl_ms, compressed, codec, last_updated, last_accessed
		FROM cache_entries ORDER BY last_accessed ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.CacheEntry
	for rows.Next() {
		var e models.CacheEntry
		if err := rows.Scan(&e.Key, &e.SizeBytes, &e.TTLMs, &e.Compressed, &e.Codec, &e.LastUpdated, &e.LastAccessed); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// CacheSize returns the total tracked bytes and entry count.
func (s *Store) CacheSize() (int64, int, error) {
	var total sql.NullInt64
	var count int
	err := s.db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0), COUNT(*) FROM cache_entries`).
		Scan(&total, &count)
	return total.Int64, count, err
}

// ClearCache removes every cache row.
func (s *Store) ClearCache() error {
	_, err := s.db.Exec(`DELETE FROM cache_entries`)
	return err
}
