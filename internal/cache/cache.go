// Package cache provides a TTL- and size-bounded read-through cache over the
// local store, with LRU eviction, background expiry sweeps and prefetch of
// essential reference collections.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/construtech/rdosync/internal/config"
	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/models"
	"github.com/construtech/rdosync/internal/remote"
	"github.com/construtech/rdosync/internal/store"
)

// CollectionKey returns the cache key under which a full collection snapshot
// is stored.
func CollectionKey(collection string) string {
	return "collection:" + collection
}

// Stats summarizes the cache's tracked footprint.
type Stats struct {
	TrackedBytes int64   `json:"tracked_bytes"`
	Entries      int     `json:"entries"`
	PercentUsed  float64 `json:"percent_used"`
}

// Manager is the cache layer. All stored bytes are accounted against a
// configured ceiling; writes that would exceed it evict least-recently
// accessed entries first.
type Manager struct {
	store  *store.Store
	remote remote.Store
	codec  Codec

	maxBytes             int64
	defaultTTL           time.Duration
	compressionThreshold int
	sweepInterval        time.Duration
	essential            []string

	mu           sync.Mutex
	trackedBytes int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewManager creates a cache manager over the local store. remoteStore may be
// nil when prefetch is not needed (tests, offline-only tooling).
func NewManager(s *store.Store, remoteStore remote.Store, cfg config.CacheConfig) *Manager {
	m := &Manager{
		store:                s,
		remote:               remoteStore,
		codec:                CodecByName(cfg.Codec),
		maxBytes:             cfg.MaxBytes,
		defaultTTL:           cfg.DefaultTTL(),
		compressionThreshold: cfg.CompressionThreshold,
		sweepInterval:        cfg.SweepInterval(),
		essential:            cfg.EssentialCollections,
		stopCh:               make(chan struct{}),
	}
	if tracked, _, err := s.CacheSize(); err == nil {
		m.trackedBytes = tracked
	}
	return m
}

// Get returns the cached value for key, or found=false when the key was
// never set or its TTL has elapsed. Expired entries are purged on read so
// stale bytes stop counting against the size ceiling.
func (m *Manager) Get(key string) ([]byte, bool, error) {
	entry, ok, err := m.store.GetCacheEntry(key)
	if err != nil || !ok {
		return nil, false, err
	}

	now := time.Now().UnixMilli()
	if entry.Expired(now) {
		m.evict(entry.Key, entry.SizeBytes)
		return nil, false, nil
	}

	if err := m.store.TouchCacheEntry(key, now); err != nil {
		return nil, false, err
	}

	data := entry.Data
	if entry.Compressed {
		data, err = CodecByName(entry.Codec).Decompress(data)
		if err != nil {
			// Unreadable entry; drop it rather than serve garbage.
			m.evict(entry.Key, entry.SizeBytes)
			return nil, false, err
		}
	}
	return data, true, nil
}

// Set stores data under key with the given TTL (zero means the default).
// Entries at or above the compression threshold run through the codec and
// are flagged compressed.
func (m *Manager) Set(key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	stored := data
	compressed := false
	codecName := ""
	if m.compressionThreshold > 0 && len(data) >= m.compressionThreshold {
		var err error
		stored, err = m.codec.Compress(data)
		if err != nil {
			return err
		}
		compressed = true
		codecName = m.codec.Name()
	}

	size := int64(len(stored))

	// Replace-in-place: retire the old entry's bytes before making room.
	if old, ok, err := m.store.GetCacheEntry(key); err != nil {
		return err
	} else if ok {
		m.evict(key, old.SizeBytes)
	}

	if !m.ensureSpace(size) {
		// The entry alone exceeds the ceiling; degrade to a miss.
		logging.Debug("cache entry larger than ceiling, not stored",
			logging.Fields{"key": key, "size_bytes": size})
		return nil
	}

	now := time.Now().UnixMilli()
	entry := &models.CacheEntry{
		Key:          key,
		Data:         stored,
		SizeBytes:    size,
		TTLMs:        ttl.Milliseconds(),
		Compressed:   compressed,
		Codec:        codecName,
		LastUpdated:  now,
		LastAccessed: now,
	}
	if err := m.store.PutCacheEntry(entry); err != nil {
		return err
	}

	m.mu.Lock()
	m.trackedBytes += size
	m.mu.Unlock()
	return nil
}

// SetJSON marshals v and stores it under key.
func (m *Manager) SetJSON(key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.Set(key, data, ttl)
}

// ensureSpace evicts least-recently-accessed entries until required bytes
// fit under the ceiling. Returns false only when required alone exceeds the
// ceiling; it never errors out.
func (m *Manager) ensureSpace(required int64) bool {
	if required > m.maxBytes {
		return false
	}

	m.mu.Lock()
	tracked := m.trackedBytes
	m.mu.Unlock()
	if tracked+required <= m.maxBytes {
		return true
	}

	entries, err := m.store.ListCacheEntries() // ascending last_accessed
	if err != nil {
		logging.Error("cache eviction scan failed", err, nil)
		return true
	}
	for _, entry := range entries {
		if tracked+required <= m.maxBytes {
			break
		}
		m.evict(entry.Key, entry.SizeBytes)
		tracked -= entry.SizeBytes
		logging.Debug("evicted cache entry",
			logging.Fields{"key": entry.Key, "size_bytes": entry.SizeBytes})
	}
	return true
}

// evict removes one entry and releases its tracked bytes.
func (m *Manager) evict(key string, size int64) {
	if err := m.store.DeleteCacheEntry(key); err != nil {
		logging.Error("failed to delete cache entry", err, logging.Fields{"key": key})
		return
	}
	m.mu.Lock()
	m.trackedBytes -= size
	if m.trackedBytes < 0 {
		m.trackedBytes = 0
	}
	m.mu.Unlock()
}

// Invalidate unconditionally removes one key.
func (m *Manager) Invalidate(key string) error {
	entry, ok, err := m.store.GetCacheEntry(key)
	if err != nil {
		return err
	}
	if ok {
		m.evict(entry.Key, entry.SizeBytes)
	}
	return nil
}

// InvalidateCollection removes the collection snapshot and every key scoped
// under it. Used after known-fresh remote writes.
func (m *Manager) InvalidateCollection(collection string) error {
	freed, err := m.store.DeleteCacheByPrefix(CollectionKey(collection))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.trackedBytes -= freed
	if m.trackedBytes < 0 {
		m.trackedBytes = 0
	}
	m.mu.Unlock()
	return nil
}

// ClearAll removes every cache entry.
func (m *Manager) ClearAll() error {
	if err := m.store.ClearCache(); err != nil {
		return err
	}
	m.mu.Lock()
	m.trackedBytes = 0
	m.mu.Unlock()
	return nil
}

// PrefetchEssentialData fetches the configured reference collections from
// the remote store and seeds both the snapshot table and the cache. A
// failing collection is logged and skipped; it never aborts the others.
func (m *Manager) PrefetchEssentialData(ctx context.Context) {
	if m.remote == nil {
		return
	}
	for _, collection := range m.essential {
		records, err := m.remote.SelectAll(ctx, collection, nil)
		if err != nil {
			logging.Warn("prefetch failed for collection",
				logging.Fields{"collection": collection, "error": err.Error()})
			continue
		}

		snapshots := make([]*models.CachedRecord, 0, len(records))
		for _, raw := range records {
			id := remote.RecordID(raw)
			if id == "" {
				continue
			}
			snapshots = append(snapshots, &models.CachedRecord{
				Collection: collection,
				ID:         id,
				Payload:    raw,
			})
		}
		if err := m.store.ReplaceCollection(collection, snapshots); err != nil {
			logging.Error("prefetch snapshot store failed", err,
				logging.Fields{"collection": collection})
			continue
		}
		if err := m.SetJSON(CollectionKey(collection), records, 0); err != nil {
			logging.Error("prefetch cache seed failed", err,
				logging.Fields{"collection": collection})
			continue
		}
		logging.Info("prefetched collection",
			logging.Fields{"collection": collection, "records": len(records)})
	}
}

// Sweep evicts every entry past its TTL, bounding growth from write-only
// keys that are never read.
func (m *Manager) Sweep() int {
	entries, err := m.store.ListCacheEntries()
	if err != nil {
		logging.Error("cache sweep scan failed", err, nil)
		return 0
	}
	now := time.Now().UnixMilli()
	evicted := 0
	for _, entry := range entries {
		if entry.Expired(now) {
			m.evict(entry.Key, entry.SizeBytes)
			evicted++
		}
	}
	if evicted > 0 {
		logging.Debug("cache sweep completed", logging.Fields{"evicted": evicted})
	}
	return evicted
}

// Start launches the background sweep loop.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running || m.sweepInterval <= 0 {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop halts the background sweep loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// Stats returns the tracked footprint, used by callers to decide whether to
// force a sweep.
func (m *Manager) Stats() Stats {
	tracked, count, err := m.store.CacheSize()
	if err != nil {
		m.mu.Lock()
		tracked = m.trackedBytes
		m.mu.Unlock()
	}
	percent := 0.0
	if m.maxBytes > 0 {
		percent = float64(tracked) / float64(m.maxBytes) * 100
	}
	return Stats{TrackedBytes: tracked, Entries: count, PercentUsed: percent}
}
