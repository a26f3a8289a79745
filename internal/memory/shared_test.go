package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/memtier/internal/cache"
	"github.com/blueberrycongee/memtier/internal/observability"
	"github.com/blueberrycongee/memtier/internal/scope"
	"github.com/blueberrycongee/memtier/internal/store"
	"github.com/blueberrycongee/memtier/pkg/types"
)

func newSharedFixture() (*SharedStore, cache.Cache, store.Store, *health) {
	c := cache.NewLocal(cache.LocalConfig{DefaultTTL: time.Hour})
	s := store.NewMemoryStore()
	h := &health{}
	ss := NewSharedStore(c, s, scope.NewResolver("memtier"), observability.NopLogger(), h, time.Hour)
	return ss, c, s, h
}

func TestSharedStore_SetReturnsIncreasingVersions(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	assert.Equal(t, int64(1), ss.Set(ctx, "conv-1", types.Document{"goal": "a"}))
	assert.Equal(t, int64(2), ss.Set(ctx, "conv-1", types.Document{"goal": "b"}))
	assert.Equal(t, int64(1), ss.Set(ctx, "conv-2", types.Document{"goal": "c"}))
}

func TestSharedStore_GetMissingReturnsEmptyDocument(t *testing.T) {
	ss, _, _, _ := newSharedFixture()

	doc := ss.Get(context.Background(), "nobody")
	assert.NotNil(t, doc)
	assert.Empty(t, doc)
}

func TestSharedStore_CacheMissBackfillsFromDurable(t *testing.T) {
	ss, c, s, _ := newSharedFixture()
	ctx := context.Background()

	_, err := s.UpsertShared(ctx, "conv-1", []byte(`{"goal":"ship"}`))
	require.NoError(t, err)

	doc := ss.Get(ctx, "conv-1")
	assert.Equal(t, "ship", doc["goal"])

	cached, err := c.Get(ctx, "memtier:shared:conv-1")
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestSharedStore_UpdateMergesAndStampsMarker(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	ss.Set(ctx, "conv-1", types.Document{"goal": "ship", "owner": "alex"})
	version := ss.Update(ctx, "conv-1", types.Document{"owner": "sam", "phase": "review"})
	assert.Equal(t, int64(2), version)

	doc := ss.Get(ctx, "conv-1")
	assert.Equal(t, "ship", doc["goal"])
	assert.Equal(t, "sam", doc["owner"])
	assert.Equal(t, "review", doc["phase"])

	marker, ok := doc[lastUpdatedKey].(string)
	require.True(t, ok, "missing last-updated marker")
	_, err := time.Parse(time.RFC3339, marker)
	require.NoError(t, err)
}

func TestSharedStore_UpdateOnMissingRecordCreatesIt(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	version := ss.Update(ctx, "conv-new", types.Document{"first": true})
	assert.Equal(t, int64(1), version)

	doc := ss.Get(ctx, "conv-new")
	assert.Equal(t, true, doc["first"])
}

func TestSharedStore_DeleteIsSoft(t *testing.T) {
	ss, _, s, _ := newSharedFixture()
	ctx := context.Background()

	ss.Set(ctx, "conv-1", types.Document{"goal": "a"})
	ss.Set(ctx, "conv-1", types.Document{"goal": "b"})
	ss.Delete(ctx, "conv-1")

	// Reads see nothing.
	assert.Empty(t, ss.Get(ctx, "conv-1"))

	// The row survives with its version intact.
	row, err := s.GetShared(ctx, "conv-1", false)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.False(t, row.IsActive)
	assert.Equal(t, int64(2), row.Version)

	// Version remains readable after soft delete.
	assert.Equal(t, int64(2), ss.Version(ctx, "conv-1"))
}

func TestSharedStore_WriteResurrectsDeletedRecord(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	ss.Set(ctx, "conv-1", types.Document{"goal": "a"})
	ss.Delete(ctx, "conv-1")

	version := ss.Set(ctx, "conv-1", types.Document{"goal": "back"})
	assert.Equal(t, int64(2), version)
	assert.Equal(t, "back", ss.Get(ctx, "conv-1")["goal"])
}

func TestSharedStore_SyncRefreshesCacheFromDurable(t *testing.T) {
	ss, c, s, _ := newSharedFixture()
	ctx := context.Background()

	ss.Set(ctx, "conv-1", types.Document{"goal": "old"})

	// Out-of-band durable write leaves the cache stale.
	_, err := s.UpsertShared(ctx, "conv-1", []byte(`{"goal":"new"}`))
	require.NoError(t, err)
	assert.Equal(t, "old", ss.Get(ctx, "conv-1")["goal"])

	doc := ss.Sync(ctx, "conv-1")
	assert.Equal(t, "new", doc["goal"])
	assert.Equal(t, "new", ss.Get(ctx, "conv-1")["goal"])

	cached, err := c.Get(ctx, "memtier:shared:conv-1")
	require.NoError(t, err)
	assert.Contains(t, string(cached), "new")
}

func TestSharedStore_VersionReadsDurableOnly(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	assert.Equal(t, int64(0), ss.Version(ctx, "absent"))

	ss.Set(ctx, "conv-1", types.Document{"a": 1})
	ss.Set(ctx, "conv-1", types.Document{"a": 2})
	assert.Equal(t, int64(2), ss.Version(ctx, "conv-1"))
}

func TestSharedStore_SearchSkipsDeleted(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	ss.Set(ctx, "proj-a", types.Document{"n": 1})
	ss.Set(ctx, "proj-b", types.Document{"n": 2})
	ss.Delete(ctx, "proj-b")

	recs := ss.Search(ctx, "proj-*")
	require.Len(t, recs, 1)
	assert.Equal(t, "proj-a", recs[0].ConversationID)
	assert.Equal(t, int64(1), recs[0].Version)
}

func TestSharedStore_CleanupIsNoOp(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	ss.Set(ctx, "conv-1", types.Document{"a": 1})
	assert.Equal(t, 0, ss.Cleanup(ctx))
	// The record is untouched.
	assert.NotEmpty(t, ss.Get(ctx, "conv-1"))
}

func TestSharedStore_CacheOutageFallsBackToDurable(t *testing.T) {
	s := store.NewMemoryStore()
	h := &health{}
	ss := NewSharedStore(faultyCache{}, s, scope.NewResolver("memtier"), observability.NopLogger(), h, time.Hour)
	ctx := context.Background()

	version := ss.Set(ctx, "conv-1", types.Document{"goal": "persist"})
	assert.Equal(t, int64(1), version)

	doc := ss.Get(ctx, "conv-1")
	assert.Equal(t, "persist", doc["goal"])
	assert.True(t, h.snapshot())
}

func TestSharedStore_StatsCountsActiveSeparately(t *testing.T) {
	ss, _, _, _ := newSharedFixture()
	ctx := context.Background()

	ss.Set(ctx, "c1", types.Document{"a": 1})
	ss.Set(ctx, "c2", types.Document{"b": 2})
	ss.Delete(ctx, "c2")

	stats := ss.Stats(ctx)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 1, stats.ActiveRecords)
	assert.Greater(t, stats.AverageSize, 0.0)
}
