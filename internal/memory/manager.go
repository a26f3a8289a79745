package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/memtier/internal/cache"
	"github.com/blueberrycongee/memtier/internal/metrics"
	"github.com/blueberrycongee/memtier/internal/observability"
	"github.com/blueberrycongee/memtier/internal/scope"
	"github.com/blueberrycongee/memtier/internal/store"
	"github.com/blueberrycongee/memtier/pkg/types"
)

// cacheHitThreshold classifies a read as a cache hit for the performance
// stats. Calls that complete faster than this are assumed to have been
// served by the cache tier; the count is an approximation, not an exact
// cache-layer signal.
const cacheHitThreshold = 10 * time.Millisecond

// Manager is the facade over both memory stores. It owns latency sampling
// and aggregate statistics, and is the single entry point host
// applications use.
type Manager struct {
	individual *IndividualStore
	shared     *SharedStore
	cache      cache.Cache
	store      store.Store
	logger     *observability.Logger
	health     *health

	getTimes   *sampleWindow
	setTimes   *sampleWindow
	cacheHits  atomic.Int64
	totalCalls atomic.Int64
}

// NewManager wires a manager over the given tiers. Non-positive TTLs fall
// back to the per-kind defaults.
func NewManager(c cache.Cache, s store.Store, keys *scope.Resolver, logger *observability.Logger, individualTTL, sharedTTL time.Duration) *Manager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	h := &health{}
	return &Manager{
		individual: NewIndividualStore(c, s, keys, logger, h, individualTTL),
		shared:     NewSharedStore(c, s, keys, logger, h, sharedTTL),
		cache:      c,
		store:      s,
		logger:     logger,
		health:     h,
		getTimes:   newSampleWindow(),
		setTimes:   newSampleWindow(),
	}
}

// Individual returns the per-agent store for direct use.
func (m *Manager) Individual() *IndividualStore { return m.individual }

// Shared returns the conversation-wide store for direct use.
func (m *Manager) Shared() *SharedStore { return m.shared }

// SetIndividualTTL updates the default TTL for individual records.
func (m *Manager) SetIndividualTTL(d time.Duration) { m.individual.SetDefaultTTL(d) }

// SetSharedTTL updates the cache TTL for shared records.
func (m *Manager) SetSharedTTL(d time.Duration) { m.shared.SetDefaultTTL(d) }

func (m *Manager) recordGet(elapsed time.Duration) {
	m.getTimes.add(elapsed)
	m.totalCalls.Add(1)
	if elapsed < cacheHitThreshold {
		m.cacheHits.Add(1)
	}
}

func (m *Manager) recordSet(elapsed time.Duration) {
	m.setTimes.add(elapsed)
	m.totalCalls.Add(1)
}

func observe(kind, op string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(kind, op).Observe(time.Since(start).Seconds())
}

// GetIndividual returns an agent's working memory, or an empty document
// when none exists or a tier is down.
func (m *Manager) GetIndividual(ctx context.Context, conversationID, scopeID string) types.Document {
	ctx, span := observability.StartSpan(ctx, "memory.individual.get", conversationID, scopeID)
	defer span.End()

	start := time.Now()
	doc := m.individual.Get(ctx, conversationID, scopeID)
	m.recordGet(time.Since(start))
	observe("individual", "get", start)
	return doc
}

// SetIndividual stores an agent's working memory with the given TTL; a
// non-positive TTL uses the configured default.
func (m *Manager) SetIndividual(ctx context.Context, conversationID, scopeID string, payload types.Document, ttl time.Duration) {
	ctx, span := observability.StartSpan(ctx, "memory.individual.set", conversationID, scopeID)
	defer span.End()

	start := time.Now()
	m.individual.Set(ctx, conversationID, scopeID, payload, ttl)
	m.recordSet(time.Since(start))
	observe("individual", "set", start)
}

// DeleteIndividual removes an agent's working memory from both tiers.
func (m *Manager) DeleteIndividual(ctx context.Context, conversationID, scopeID string) {
	ctx, span := observability.StartSpan(ctx, "memory.individual.delete", conversationID, scopeID)
	defer span.End()

	start := time.Now()
	m.individual.Delete(ctx, conversationID, scopeID)
	observe("individual", "delete", start)
}

// SearchIndividual returns the durable individual records in a conversation
// whose scope matches the glob pattern.
func (m *Manager) SearchIndividual(ctx context.Context, conversationID, pattern string) []types.IndividualRecord {
	ctx, span := observability.StartSpan(ctx, "memory.individual.search", conversationID, "")
	defer span.End()

	start := time.Now()
	recs := m.individual.Search(ctx, conversationID, pattern)
	observe("individual", "search", start)
	return recs
}

// GetShared returns the conversation's shared memory, or an empty document
// when none exists, the record is soft-deleted, or a tier is down.
func (m *Manager) GetShared(ctx context.Context, conversationID string) types.Document {
	ctx, span := observability.StartSpan(ctx, "memory.shared.get", conversationID, "")
	defer span.End()

	start := time.Now()
	doc := m.shared.Get(ctx, conversationID)
	m.recordGet(time.Since(start))
	observe("shared", "get", start)
	return doc
}

// SetShared replaces the conversation's shared memory and returns the new
// version, or zero when the durable tier was unreachable.
func (m *Manager) SetShared(ctx context.Context, conversationID string, payload types.Document) int64 {
	ctx, span := observability.StartSpan(ctx, "memory.shared.set", conversationID, "")
	defer span.End()

	start := time.Now()
	version := m.shared.Set(ctx, conversationID, payload)
	m.recordSet(time.Since(start))
	observe("shared", "set", start)
	return version
}

// UpdateShared merges updates into the current shared memory, stamping a
// last-updated marker, and returns the new version.
func (m *Manager) UpdateShared(ctx context.Context, conversationID string, updates types.Document) int64 {
	ctx, span := observability.StartSpan(ctx, "memory.shared.update", conversationID, "")
	defer span.End()

	start := time.Now()
	version := m.shared.Update(ctx, conversationID, updates)
	m.recordSet(time.Since(start))
	observe("shared", "update", start)
	return version
}

// SyncShared refreshes the cache from the durable tier and returns the
// durable payload. Used after out-of-band writes to the durable store.
func (m *Manager) SyncShared(ctx context.Context, conversationID string) types.Document {
	ctx, span := observability.StartSpan(ctx, "memory.shared.sync", conversationID, "")
	defer span.End()

	start := time.Now()
	doc := m.shared.Sync(ctx, conversationID)
	observe("shared", "sync", start)
	return doc
}

// SharedVersion returns the durable version counter for the conversation's
// shared record, or zero when none exists.
func (m *Manager) SharedVersion(ctx context.Context, conversationID string) int64 {
	ctx, span := observability.StartSpan(ctx, "memory.shared.version", conversationID, "")
	defer span.End()

	start := time.Now()
	version := m.shared.Version(ctx, conversationID)
	observe("shared", "version", start)
	return version
}

// DeleteShared soft-deletes the conversation's shared record.
func (m *Manager) DeleteShared(ctx context.Context, conversationID string) {
	ctx, span := observability.StartSpan(ctx, "memory.shared.delete", conversationID, "")
	defer span.End()

	start := time.Now()
	m.shared.Delete(ctx, conversationID)
	observe("shared", "delete", start)
}

// SearchShared returns active shared records whose conversation id matches
// the glob pattern.
func (m *Manager) SearchShared(ctx context.Context, pattern string) []types.SharedRecord {
	ctx, span := observability.StartSpan(ctx, "memory.shared.search", "", "")
	defer span.End()

	start := time.Now()
	recs := m.shared.Search(ctx, pattern)
	observe("shared", "search", start)
	return recs
}

// ClearAll clears the conversation's memory. Only the shared record is
// removed; individual records are left to expire on their own TTLs.
func (m *Manager) ClearAll(ctx context.Context, conversationID string) {
	ctx, span := observability.StartSpan(ctx, "memory.clear_all", conversationID, "")
	defer span.End()

	start := time.Now()
	m.shared.Delete(ctx, conversationID)
	m.logger.Info("cleared conversation memory", "conversation_id", conversationID)
	observe("shared", "clear_all", start)
}

// Cleanup runs a reclamation pass over both stores. Shared memory is
// soft-deleted only, so its count is always zero.
func (m *Manager) Cleanup(ctx context.Context) types.CleanupResult {
	ctx, span := observability.StartSpan(ctx, "memory.cleanup", "", "")
	defer span.End()

	start := time.Now()
	individual := m.individual.Cleanup(ctx)
	shared := m.shared.Cleanup(ctx)
	return types.CleanupResult{
		IndividualCleaned: individual,
		SharedCleaned:     shared,
		TotalCleaned:      individual + shared,
		ExecutionTime:     time.Since(start),
	}
}

// Stats aggregates tier counts, cache counters and latency samples.
// Reading stats resets the degraded flag, so each read reports faults
// swallowed since the previous one.
func (m *Manager) Stats(ctx context.Context) types.MemoryStats {
	ctx, span := observability.StartSpan(ctx, "memory.stats", "", "")
	defer span.End()

	cs := m.cache.Stats()
	return types.MemoryStats{
		Individual: m.individual.Stats(ctx),
		Shared:     m.shared.Stats(ctx),
		Cache: types.CacheStats{
			Hits:    cs.Hits,
			Misses:  cs.Misses,
			Sets:    cs.Sets,
			Deletes: cs.Deletes,
			Errors:  cs.Errors,
			HitRate: cs.HitRate,
		},
		Performance: m.performance(),
	}
}

func (m *Manager) performance() types.PerformanceStats {
	// The hit rate divides fast reads by every sampled call, writes
	// included, so heavy write traffic dilutes it.
	var hitRate float64
	if calls := m.totalCalls.Load(); calls > 0 {
		hitRate = float64(m.cacheHits.Load()) / float64(calls)
	}
	return types.PerformanceStats{
		AverageGetTime: m.getTimes.average(),
		AverageSetTime: m.setTimes.average(),
		CacheHitRate:   hitRate,
		Degraded:       m.health.snapshot(),
	}
}

// ResetPerformance discards all accumulated latency samples and hit
// counters.
func (m *Manager) ResetPerformance() {
	m.getTimes.reset()
	m.setTimes.reset()
	m.cacheHits.Store(0)
	m.totalCalls.Store(0)
}

// Ready reports whether both tiers are reachable. The cache answer is the
// last-known state; the durable tier is probed with a round trip.
func (m *Manager) Ready(ctx context.Context) bool {
	if !m.cache.Ready() {
		return false
	}
	return m.store.Ping(ctx) == nil
}

// Close releases both tiers.
func (m *Manager) Close() error {
	return errors.Join(m.cache.Close(), m.store.Close())
}
