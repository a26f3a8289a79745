package memory

import (
	"bytes"
	"context"
	"errors"
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

// faultyCache fails every operation, simulating a Redis outage.
type faultyCache struct{}

func (faultyCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("cache down")
}
func (faultyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("cache down")
}
func (faultyCache) Delete(ctx context.Context, key string) error { return errors.New("cache down") }
func (faultyCache) Exists(ctx context.Context, key string) (bool, error) {
	return false, errors.New("cache down")
}
func (faultyCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, errors.New("cache down")
}
func (faultyCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	return nil, errors.New("cache down")
}
func (faultyCache) Ping(ctx context.Context) error { return errors.New("cache down") }
func (faultyCache) Ready() bool                    { return false }
func (faultyCache) Stats() cache.Stats             { return cache.Stats{} }
func (faultyCache) Close() error                   { return nil }

func newIndividualFixture() (*IndividualStore, cache.Cache, store.Store, *health) {
	c := cache.NewLocal(cache.LocalConfig{DefaultTTL: time.Hour})
	s := store.NewMemoryStore()
	h := &health{}
	is := NewIndividualStore(c, s, scope.NewResolver("memtier"), observability.NopLogger(), h, time.Hour)
	return is, c, s, h
}

func TestIndividualStore_SetGetRoundTrip(t *testing.T) {
	is, _, _, _ := newIndividualFixture()
	ctx := context.Background()

	is.Set(ctx, "conv-1", "agent-a", types.Document{"task": "research"}, 0)

	doc := is.Get(ctx, "conv-1", "agent-a")
	assert.Equal(t, "research", doc["task"])
}

func TestIndividualStore_GetMissingReturnsEmptyDocument(t *testing.T) {
	is, _, _, h := newIndividualFixture()

	doc := is.Get(context.Background(), "conv-1", "nobody")
	assert.NotNil(t, doc)
	assert.Empty(t, doc)
	assert.False(t, h.snapshot())
}

func TestIndividualStore_CacheMissBackfillsFromDurable(t *testing.T) {
	is, c, s, _ := newIndividualFixture()
	ctx := context.Background()

	// Row exists only in the durable tier, as after a cache restart.
	require.NoError(t, s.UpsertIndividual(ctx, &store.IndividualRow{
		ConversationID: "conv-1",
		ScopeID:        "agent-a",
		Payload:        []byte(`{"task":"resume"}`),
		ExpiresAt:      time.Now().Add(time.Hour),
	}))

	doc := is.Get(ctx, "conv-1", "agent-a")
	assert.Equal(t, "resume", doc["task"])

	// The read must have repopulated the cache.
	cached, err := c.Get(ctx, "memtier:individual:conv-1:agent-a")
	require.NoError(t, err)
	assert.NotNil(t, cached)
}

func TestIndividualStore_SetWritesBothTiers(t *testing.T) {
	is, c, s, _ := newIndividualFixture()
	ctx := context.Background()

	is.Set(ctx, "conv-1", "agent-a", types.Document{"n": float64(1)}, 30*time.Minute)

	cached, err := c.Get(ctx, "memtier:individual:conv-1:agent-a")
	require.NoError(t, err)
	assert.NotNil(t, cached)

	row, err := s.GetIndividual(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), row.ExpiresAt, time.Minute)
}

func TestIndividualStore_DeleteRemovesBothTiers(t *testing.T) {
	is, c, s, _ := newIndividualFixture()
	ctx := context.Background()

	is.Set(ctx, "conv-1", "agent-a", types.Document{"x": true}, 0)
	is.Delete(ctx, "conv-1", "agent-a")

	cached, err := c.Get(ctx, "memtier:individual:conv-1:agent-a")
	require.NoError(t, err)
	assert.Nil(t, cached)

	row, err := s.GetIndividual(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	assert.Nil(t, row)

	// Deleting again stays quiet.
	is.Delete(ctx, "conv-1", "agent-a")
}

func TestIndividualStore_SearchMatchesScopeGlob(t *testing.T) {
	is, _, _, _ := newIndividualFixture()
	ctx := context.Background()

	is.Set(ctx, "conv-1", "agent-researcher", types.Document{"role": "r"}, 0)
	is.Set(ctx, "conv-1", "agent-writer", types.Document{"role": "w"}, 0)
	is.Set(ctx, "conv-1", "tool-browser", types.Document{"role": "t"}, 0)

	recs := is.Search(ctx, "conv-1", "agent-*")
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, "conv-1", rec.ConversationID)
		assert.Contains(t, rec.ScopeID, "agent-")
		assert.Greater(t, rec.TTL, time.Duration(0))
	}
}

func TestIndividualStore_CleanupReclaimsExpired(t *testing.T) {
	is, _, s, _ := newIndividualFixture()
	ctx := context.Background()

	require.NoError(t, s.UpsertIndividual(ctx, &store.IndividualRow{
		ConversationID: "conv-1", ScopeID: "stale", Payload: []byte(`{}`),
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.UpsertIndividual(ctx, &store.IndividualRow{
		ConversationID: "conv-1", ScopeID: "fresh", Payload: []byte(`{}`),
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	assert.Equal(t, 1, is.Cleanup(ctx))

	row, err := s.GetIndividual(ctx, "conv-1", "stale")
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = s.GetIndividual(ctx, "conv-1", "fresh")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestIndividualStore_CacheOutageFallsBackToDurable(t *testing.T) {
	s := store.NewMemoryStore()
	h := &health{}
	is := NewIndividualStore(faultyCache{}, s, scope.NewResolver("memtier"), observability.NopLogger(), h, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.UpsertIndividual(ctx, &store.IndividualRow{
		ConversationID: "conv-1", ScopeID: "agent-a", Payload: []byte(`{"task":"survive"}`),
	}))

	doc := is.Get(ctx, "conv-1", "agent-a")
	assert.Equal(t, "survive", doc["task"])
	assert.True(t, h.snapshot())
}

func TestIndividualStore_CacheOutageSetStillReachesDurable(t *testing.T) {
	s := store.NewMemoryStore()
	h := &health{}
	is := NewIndividualStore(faultyCache{}, s, scope.NewResolver("memtier"), observability.NopLogger(), h, time.Hour)
	ctx := context.Background()

	is.Set(ctx, "conv-1", "agent-a", types.Document{"kept": true}, 0)

	row, err := s.GetIndividual(ctx, "conv-1", "agent-a")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, h.snapshot())
}

// searchFailingStore simulates a durable tier that rejects scans.
type searchFailingStore struct{ *store.MemoryStore }

func (searchFailingStore) SearchIndividual(ctx context.Context, conversationID, pattern string) ([]*store.IndividualRow, error) {
	return nil, errors.New("db down")
}

func TestIndividualStore_SearchFaultLogsPatternAsOwnField(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LoggerConfig{Output: &buf, JSONFormat: true})
	h := &health{}
	is := NewIndividualStore(cache.NewLocal(cache.LocalConfig{DefaultTTL: time.Hour}),
		searchFailingStore{store.NewMemoryStore()}, scope.NewResolver("memtier"), logger, h, time.Hour)

	recs := is.Search(context.Background(), "conv-1", "agent-*")
	assert.Nil(t, recs)
	assert.True(t, h.snapshot())

	// The glob is its own log field; it must not show up as the record's
	// scope id.
	line := buf.String()
	assert.Contains(t, line, `"pattern":"agent-*"`)
	assert.NotContains(t, line, "scope=agent-*")
	assert.Contains(t, line, "conversation=conv-1")
}

func TestIndividualStore_CorruptCacheEntryFallsBackToDurable(t *testing.T) {
	is, c, s, h := newIndividualFixture()
	ctx := context.Background()

	require.NoError(t, s.UpsertIndividual(ctx, &store.IndividualRow{
		ConversationID: "conv-1", ScopeID: "agent-a", Payload: []byte(`{"ok":true}`),
	}))
	require.NoError(t, c.Set(ctx, "memtier:individual:conv-1:agent-a", []byte("not json"), time.Minute))

	doc := is.Get(ctx, "conv-1", "agent-a")
	assert.Equal(t, true, doc["ok"])
	assert.True(t, h.snapshot())
}
