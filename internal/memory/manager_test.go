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

func newManagerFixture() *Manager {
	c := cache.NewLocal(cache.LocalConfig{DefaultTTL: time.Hour})
	s := store.NewMemoryStore()
	return NewManager(c, s, scope.NewResolver("memtier"), observability.NopLogger(), time.Hour, time.Hour)
}

func TestManager_IndividualLifecycle(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetIndividual(ctx, "c1", "financial-agent", types.Document{"goal": "expand sales"}, 0)

	doc := m.GetIndividual(ctx, "c1", "financial-agent")
	assert.Equal(t, "expand sales", doc["goal"])

	m.DeleteIndividual(ctx, "c1", "financial-agent")

	doc = m.GetIndividual(ctx, "c1", "financial-agent")
	assert.NotNil(t, doc)
	assert.Empty(t, doc)
}

func TestManager_SharedLifecycle(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	v := m.SetShared(ctx, "c1", types.Document{"phase": "plan"})
	assert.Equal(t, int64(1), v)

	v = m.UpdateShared(ctx, "c1", types.Document{"phase": "build"})
	assert.Equal(t, int64(2), v)
	assert.Equal(t, int64(2), m.SharedVersion(ctx, "c1"))

	doc := m.GetShared(ctx, "c1")
	assert.Equal(t, "build", doc["phase"])

	m.DeleteShared(ctx, "c1")
	assert.Empty(t, m.GetShared(ctx, "c1"))
	assert.Equal(t, int64(2), m.SharedVersion(ctx, "c1"))
}

func TestManager_ClearAllOnlyTouchesShared(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetIndividual(ctx, "c1", "agent-a", types.Document{"kept": true}, 0)
	m.SetShared(ctx, "c1", types.Document{"cleared": true})

	m.ClearAll(ctx, "c1")

	// Individual memory is left to its TTL.
	assert.Equal(t, true, m.GetIndividual(ctx, "c1", "agent-a")["kept"])
	assert.Empty(t, m.GetShared(ctx, "c1"))
}

func TestManager_CleanupResult(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	require.NoError(t, m.store.UpsertIndividual(ctx, &store.IndividualRow{
		ConversationID: "c1", ScopeID: "stale", Payload: []byte(`{}`),
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	m.SetShared(ctx, "c1", types.Document{"live": true})

	result := m.Cleanup(ctx)
	assert.Equal(t, 1, result.IndividualCleaned)
	assert.Equal(t, 0, result.SharedCleaned)
	assert.Equal(t, 1, result.TotalCleaned)
	assert.Greater(t, result.ExecutionTime, time.Duration(0))
}

func TestManager_StatsAggregatesTiers(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetIndividual(ctx, "c1", "agent-a", types.Document{"a": 1}, 0)
	m.SetShared(ctx, "c1", types.Document{"b": 2})
	m.GetIndividual(ctx, "c1", "agent-a")

	stats := m.Stats(ctx)
	assert.Equal(t, 1, stats.Individual.TotalRecords)
	assert.Equal(t, 1, stats.Shared.TotalRecords)
	assert.Equal(t, 1, stats.Shared.ActiveRecords)
	assert.Greater(t, stats.Cache.Hits+stats.Cache.Misses, int64(0))
	assert.Greater(t, stats.Performance.AverageGetTime, time.Duration(0))
	assert.Greater(t, stats.Performance.AverageSetTime, time.Duration(0))
	assert.False(t, stats.Performance.Degraded)
}

func TestManager_DegradedFlagSetAndClearedByStatsRead(t *testing.T) {
	s := store.NewMemoryStore()
	m := NewManager(faultyCache{}, s, scope.NewResolver("memtier"), observability.NopLogger(), time.Hour, time.Hour)
	ctx := context.Background()

	// A swallowed cache fault flips the flag.
	m.GetIndividual(ctx, "c1", "agent-a")

	stats := m.Stats(ctx)
	assert.True(t, stats.Performance.Degraded)

	// The read consumed the flag; a clean interval reports healthy.
	stats = m.Stats(ctx)
	assert.False(t, stats.Performance.Degraded)
}

func TestManager_CacheHitRateApproximation(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetIndividual(ctx, "c1", "agent-a", types.Document{"a": 1}, 0)
	for i := 0; i < 5; i++ {
		m.GetIndividual(ctx, "c1", "agent-a")
	}

	// In-process reads are far under the hit threshold; the denominator
	// counts every tracked call, so the single write dilutes the rate.
	stats := m.Stats(ctx)
	assert.InDelta(t, 5.0/6.0, stats.Performance.CacheHitRate, 1e-9)
}

func TestManager_UpdateSharedCountedInSetLatency(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	require.Greater(t, m.SetShared(ctx, "c1", types.Document{"topic": "go"}), int64(0))
	m.ResetPerformance()

	for i := 0; i < 5; i++ {
		m.UpdateShared(ctx, "c1", types.Document{"round": i})
	}

	perf := m.Stats(ctx).Performance
	assert.Greater(t, perf.AverageSetTime, time.Duration(0))
	assert.Equal(t, time.Duration(0), perf.AverageGetTime)
}

func TestManager_ResetPerformance(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetIndividual(ctx, "c1", "agent-a", types.Document{"a": 1}, 0)
	m.GetIndividual(ctx, "c1", "agent-a")

	m.ResetPerformance()

	perf := m.performance()
	assert.Equal(t, time.Duration(0), perf.AverageGetTime)
	assert.Equal(t, time.Duration(0), perf.AverageSetTime)
	assert.Equal(t, 0.0, perf.CacheHitRate)
}

func TestManager_TTLHotReload(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetIndividualTTL(10 * time.Minute)
	m.SetIndividual(ctx, "c1", "agent-a", types.Document{"a": 1}, 0)

	row, err := m.store.GetIndividual(ctx, "c1", "agent-a")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), row.ExpiresAt, time.Minute)
}

func TestManager_SyncSharedAfterOutOfBandWrite(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetShared(ctx, "c1", types.Document{"goal": "old"})
	_, err := m.store.UpsertShared(ctx, "c1", []byte(`{"goal":"new"}`))
	require.NoError(t, err)

	doc := m.SyncShared(ctx, "c1")
	assert.Equal(t, "new", doc["goal"])
	assert.Equal(t, "new", m.GetShared(ctx, "c1")["goal"])
}

func TestManager_SearchBothKinds(t *testing.T) {
	m := newManagerFixture()
	ctx := context.Background()

	m.SetIndividual(ctx, "c1", "agent-a", types.Document{"a": 1}, 0)
	m.SetIndividual(ctx, "c1", "agent-b", types.Document{"b": 2}, 0)
	m.SetShared(ctx, "c1", types.Document{"s": 3})

	assert.Len(t, m.SearchIndividual(ctx, "c1", "agent-*"), 2)
	assert.Len(t, m.SearchShared(ctx, "c*"), 1)
}

func TestManager_ReadyReflectsTiers(t *testing.T) {
	m := newManagerFixture()
	assert.True(t, m.Ready(context.Background()))

	degraded := NewManager(faultyCache{}, store.NewMemoryStore(), scope.NewResolver("memtier"), observability.NopLogger(), time.Hour, time.Hour)
	assert.False(t, degraded.Ready(context.Background()))
}
