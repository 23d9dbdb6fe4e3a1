// Package models provides data model definitions for the rdosync core.
package models

// CacheEntry is the stored form of a memoized remote snapshot plus the
// bookkeeping the cache manager needs for TTL expiry and LRU eviction.
type CacheEntry struct {
	Key          string `db:"key" json:"key"`
	Data         []byte `db:"data" json:"-"`
	SizeBytes    int64  `db:"size_bytes" json:"size_bytes"`
	TTLMs        int64  `db:"ttl_ms" json:"ttl_ms"`
	Compressed   bool   `db:"compressed" json:"compressed"`
	Codec        string `db:"codec" json:"codec,omitempty"`
	LastUpdated  int64  `db:"last_updated" json:"last_updated"`
	LastAccessed int64  `db:"last_accessed" json:"last_accessed"`
}

// TableName returns the local table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// Expired reports whether the entry is past its TTL at the given instant
// (unix milliseconds).
func (e *CacheEntry) Expired(nowMs int64) bool {
	return e.TTLMs > 0 && nowMs-e.LastUpdated > e.TTLMs
}

// CachedRecord is a cached snapshot of a single remote record, kept
// offline-available. Deletions are soft so a later full re-cache supersedes
// them without duplicate-key errors.
type CachedRecord struct {
	Collection string `db:"collection" json:"collection"`
	ID         string `db:"id" json:"id"`
	Payload    []byte `db:"payload" json:"payload"`
	UpdatedAt  int64  `db:"updated_at" json:"updated_at"`
	Deleted    bool   `db:"deleted" json:"deleted"`
}

// TableName returns the local table name for CachedRecord.
func (CachedRecord) TableName() string {
	return "cached_records"
}
