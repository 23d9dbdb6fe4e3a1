package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construtech/rdosync/internal/config"
	"github.com/construtech/rdosync/internal/store"
)

// fakeRemote serves canned collection snapshots; collections listed in fail
// error out on SelectAll.
type fakeRemote struct {
	collections map[string][]json.RawMessage
	fail        map[string]bool
}

func (f *fakeRemote) Insert(_ context.Context, _ string, record json.RawMessage, _ string) (json.RawMessage, error) {
	return record, nil
}

func (f *fakeRemote) Update(context.Context, string, string, json.RawMessage) error {
	return nil
}

func (f *fakeRemote) Delete(context.Context, string, string) error {
	return nil
}

func (f *fakeRemote) SelectByID(context.Context, string, string) (json.RawMessage, bool, error) {
	return nil, false, nil
}

func (f *fakeRemote) SelectAll(_ context.Context, collection string, _ map[string]string) ([]json.RawMessage, error) {
	if f.fail[collection] {
		return nil, errors.New("remote unavailable")
	}
	return f.collections[collection], nil
}

func testManager(t *testing.T, cfg config.CacheConfig) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 1024 * 1024
	}
	if cfg.DefaultTTLSeconds == 0 {
		cfg.DefaultTTLSeconds = 3600
	}
	return NewManager(s, nil, cfg), s
}

func TestSetGetRoundTrip(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{})

	data := []byte(`{"id":"r1","notes":"poured foundation"}`)
	require.NoError(t, m.Set("reports:r1", data, 0))

	got, found, err := m.Get("reports:r1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, data, got)

	_, found, err = m.Get("reports:missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetEvictsExpiredEntry(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{})

	require.NoError(t, m.Set("k", []byte("value"), 20*time.Millisecond))
	before := m.Stats()
	assert.Equal(t, 1, before.Entries)

	time.Sleep(50 * time.Millisecond)

	_, found, err := m.Get("k")
	require.NoError(t, err)
	assert.False(t, found, "expired entry must read as a miss")

	after := m.Stats()
	assert.Equal(t, 0, after.Entries, "lazy expiry must purge the row")
	assert.Zero(t, after.TrackedBytes)
}

func TestSweepEvictsExpired(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{})

	require.NoError(t, m.Set("short", []byte("a"), 20*time.Millisecond))
	require.NoError(t, m.Set("long", []byte("b"), time.Hour))

	time.Sleep(50 * time.Millisecond)
	evicted := m.Sweep()
	assert.Equal(t, 1, evicted)

	_, found, _ := m.Get("long")
	assert.True(t, found)
}

func TestLRUEvictionOrder(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{MaxBytes: 300})

	payload := bytes.Repeat([]byte("x"), 100)
	require.NoError(t, m.Set("a", payload, 0))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Set("b", payload, 0))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.Set("c", payload, 0))
	time.Sleep(5 * time.Millisecond)

	// Touch "a" so "b" becomes the least recently accessed.
	_, found, err := m.Get("a")
	require.NoError(t, err)
	require.True(t, found)
	time.Sleep(5 * time.Millisecond)

	// A fourth entry needs room; "b" must go first.
	require.NoError(t, m.Set("d", payload, 0))

	_, foundB, _ := m.Get("b")
	assert.False(t, foundB, "least recently accessed entry should be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, found, _ := m.Get(key)
		assert.True(t, found, "entry %s should survive", key)
	}
}

func TestOversizedEntryDegradesToMiss(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{MaxBytes: 100})

	require.NoError(t, m.Set("small", []byte("fits"), 0))
	require.NoError(t, m.Set("huge", bytes.Repeat([]byte("x"), 200), 0))

	_, found, err := m.Get("huge")
	require.NoError(t, err)
	assert.False(t, found, "entry above the ceiling is not stored")

	_, found, _ = m.Get("small")
	assert.True(t, found, "existing entries are not evicted for an unstorable entry")
}

func TestReplaceInPlaceAccounting(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{MaxBytes: 1000})

	require.NoError(t, m.Set("k", bytes.Repeat([]byte("x"), 400), 0))
	require.NoError(t, m.Set("k", bytes.Repeat([]byte("y"), 100), 0))

	stats := m.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(100), stats.TrackedBytes)
}

func TestCompressionRoundTrip(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{
		CompressionThreshold: 64,
		Codec:                "snappy",
	})

	big := bytes.Repeat([]byte("equipment_entry "), 100)
	require.NoError(t, m.Set("big", big, 0))

	got, found, err := m.Get("big")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, big, got)

	stats := m.Stats()
	assert.Less(t, stats.TrackedBytes, int64(len(big)), "stored bytes should be the compressed size")
}

func TestInvalidateCollection(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{})

	require.NoError(t, m.Set(CollectionKey("reports"), []byte("[]"), 0))
	require.NoError(t, m.Set(CollectionKey("reports")+":page2", []byte("[]"), 0))
	require.NoError(t, m.Set(CollectionKey("projects"), []byte("[]"), 0))

	require.NoError(t, m.InvalidateCollection("reports"))

	_, found, _ := m.Get(CollectionKey("reports"))
	assert.False(t, found)
	_, found, _ = m.Get(CollectionKey("reports") + ":page2")
	assert.False(t, found)
	_, found, _ = m.Get(CollectionKey("projects"))
	assert.True(t, found, "other collections are untouched")
}

func TestClearAll(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{})

	require.NoError(t, m.Set("a", []byte("1"), 0))
	require.NoError(t, m.Set("b", []byte("2"), 0))
	require.NoError(t, m.ClearAll())

	stats := m.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Zero(t, stats.TrackedBytes)
}

func TestPrefetchSkipsFailingCollection(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	remote := &fakeRemote{
		collections: map[string][]json.RawMessage{
			"projects": {
				json.RawMessage(`{"id":"p1","name":"Bridge"}`),
				json.RawMessage(`{"id":"p2","name":"Tunnel"}`),
			},
			"labor_roles": {
				json.RawMessage(`{"id":"lr1","name":"mason"}`),
			},
		},
		fail: map[string]bool{"labor_roles": true},
	}
	cfg := config.CacheConfig{
		MaxBytes:             1024 * 1024,
		DefaultTTLSeconds:    3600,
		EssentialCollections: []string{"projects", "labor_roles", "equipment_types"},
	}
	m := NewManager(s, remote, cfg)

	m.PrefetchEssentialData(context.Background())

	// The failing collection must not keep the others from seeding.
	recs, err := s.QueryRecords("projects")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	_, found, err := m.Get(CollectionKey("projects"))
	require.NoError(t, err)
	assert.True(t, found, "surviving collection should be cached")

	recs, err = s.QueryRecords("labor_roles")
	require.NoError(t, err)
	assert.Empty(t, recs)
	_, found, _ = m.Get(CollectionKey("labor_roles"))
	assert.False(t, found, "failing collection is left unseeded")

	// An empty remote collection still seeds an empty snapshot.
	_, found, err = m.Get(CollectionKey("equipment_types"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSweeperRestarts(t *testing.T) {
	m, _ := testManager(t, config.CacheConfig{SweepIntervalSeconds: 1})

	m.Start()
	m.Stop()

	// A stopped manager can be started again with a fresh sweep loop.
	m.Start()
	require.NoError(t, m.Set("short", []byte("a"), 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, m.Sweep())
	m.Stop()
	m.Stop()
}

func TestTrackedBytesSurviveReopen(t *testing.T) {
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	cfg := config.CacheConfig{MaxBytes: 1024, DefaultTTLSeconds: 3600}
	m := NewManager(s, nil, cfg)
	require.NoError(t, m.Set("k", bytes.Repeat([]byte("x"), 128), 0))

	// A fresh manager over the same store picks up the persisted footprint.
	m2 := NewManager(s, nil, cfg)
	assert.Equal(t, int64(128), m2.Stats().TrackedBytes)
}
