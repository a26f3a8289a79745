package memory

import (
	"context"
	"time"

	"github.com/blueberrycongee/memtier/internal/cache"
	"github.com/blueberrycongee/memtier/internal/metrics"
	"github.com/blueberrycongee/memtier/internal/observability"
	"github.com/blueberrycongee/memtier/internal/scope"
	"github.com/blueberrycongee/memtier/internal/store"
	memerrors "github.com/blueberrycongee/memtier/pkg/errors"
	"github.com/blueberrycongee/memtier/pkg/types"
)

// lastUpdatedKey is stamped into the payload on every merge update so
// consumers can see when the shared state last changed.
const lastUpdatedKey = "_lastUpdated"

// SharedStore manages conversation-wide memory visible to every agent in a
// conversation. One record exists per conversation; writes bump a version
// counter in the durable tier and deletes are soft, so history survives
// until a later write resurrects the record.
type SharedStore struct {
	cache  cache.Cache
	store  store.Store
	keys   *scope.Resolver
	logger *observability.Logger
	health *health
	ttl    *ttlSetting
}

// NewSharedStore creates a shared memory store.
func NewSharedStore(c cache.Cache, s store.Store, keys *scope.Resolver, logger *observability.Logger, h *health, defaultTTL time.Duration) *SharedStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultSharedTTL
	}
	return &SharedStore{
		cache:  c,
		store:  s,
		keys:   keys,
		logger: logger,
		health: h,
		ttl:    newTTLSetting(defaultTTL),
	}
}

// SetDefaultTTL updates the cache-tier TTL for shared records. Safe for
// concurrent use; applied by config hot reload.
func (ss *SharedStore) SetDefaultTTL(d time.Duration) {
	ss.ttl.set(d)
}

func (ss *SharedStore) fault(tier, op, conversationID string, start time.Time, err error, attrs ...any) {
	ss.health.markDegraded()
	metrics.TierFaults.WithLabelValues(tier, op).Inc()
	me := memerrors.NewTierUnavailable(tier, op, err).WithRecord(conversationID, "")
	args := append([]any{"error", me, "elapsed", time.Since(start)}, attrs...)
	ss.logger.Error("shared memory tier fault", args...)
}

func (ss *SharedStore) codecFault(tier, op, conversationID string, err error) {
	ss.health.markDegraded()
	me := memerrors.NewSerializationFault(tier, op, err).WithRecord(conversationID, "")
	ss.logger.Error("shared memory codec fault", "error", me)
}

// Get reads the cache tier first; on miss it falls back to the active
// durable row, backfills the cache, and returns the payload. Soft-deleted
// records and total misses both yield an empty document.
func (ss *SharedStore) Get(ctx context.Context, conversationID string) types.Document {
	start := time.Now()
	key := ss.keys.Shared(conversationID)

	cached, err := ss.cache.Get(ctx, key)
	if err != nil {
		ss.fault(memerrors.TierCache, "get", conversationID, start, err)
	}
	if cached != nil {
		doc, err := types.UnmarshalDocument(cached)
		if err == nil {
			metrics.CacheOutcomes.WithLabelValues("shared", "hit").Inc()
			return doc
		}
		ss.codecFault(memerrors.TierCache, "get", conversationID, err)
	}
	metrics.CacheOutcomes.WithLabelValues("shared", "miss").Inc()

	return ss.loadDurable(ctx, conversationID, start)
}

// loadDurable reads the active durable row and refreshes the cache entry.
func (ss *SharedStore) loadDurable(ctx context.Context, conversationID string, start time.Time) types.Document {
	row, err := ss.store.GetShared(ctx, conversationID, true)
	if err != nil {
		ss.fault(memerrors.TierDurable, "get", conversationID, start, err)
		return types.Document{}
	}
	if row == nil {
		return types.Document{}
	}

	doc, err := types.UnmarshalDocument(row.Payload)
	if err != nil {
		ss.codecFault(memerrors.TierDurable, "get", conversationID, err)
		return types.Document{}
	}

	key := ss.keys.Shared(conversationID)
	if err := ss.cache.Set(ctx, key, row.Payload, ss.ttl.get()); err != nil {
		ss.fault(memerrors.TierCache, "backfill", conversationID, start, err)
	}
	return doc
}

// Set replaces the conversation's shared payload in both tiers. The durable
// upsert bumps the version atomically and reactivates a soft-deleted
// record. Returns the new version, or zero when the durable tier was
// unreachable (the cache write may still have landed).
func (ss *SharedStore) Set(ctx context.Context, conversationID string, payload types.Document) int64 {
	start := time.Now()

	data, err := payload.Marshal()
	if err != nil {
		ss.codecFault(memerrors.TierCache, "set", conversationID, err)
		return 0
	}

	key := ss.keys.Shared(conversationID)
	if err := ss.cache.Set(ctx, key, data, ss.ttl.get()); err != nil {
		ss.fault(memerrors.TierCache, "set", conversationID, start, err)
	}

	version, err := ss.store.UpsertShared(ctx, conversationID, data)
	if err != nil {
		ss.fault(memerrors.TierDurable, "set", conversationID, start, err)
		return 0
	}
	metrics.SharedWrites.Inc()
	return version
}

// Update merges the updates into the current shared payload (update keys
// win) and stamps an RFC 3339 last-updated marker before writing. The
// read-modify-write is not atomic across callers; concurrent updates are
// last-writer-wins. Returns the new version.
func (ss *SharedStore) Update(ctx context.Context, conversationID string, updates types.Document) int64 {
	current := ss.Get(ctx, conversationID)
	merged := current.Merge(updates)
	merged[lastUpdatedKey] = time.Now().UTC().Format(time.RFC3339)
	return ss.Set(ctx, conversationID, merged)
}

// Sync bypasses the cache, re-reads the active durable row, and refreshes
// the cache entry from it. Used after out-of-band durable writes.
func (ss *SharedStore) Sync(ctx context.Context, conversationID string) types.Document {
	return ss.loadDurable(ctx, conversationID, time.Now())
}

// Version returns the durable-tier version counter, or zero when no record
// exists or the tier is unreachable. The cache is never consulted: version
// lives only in the durable tier.
func (ss *SharedStore) Version(ctx context.Context, conversationID string) int64 {
	start := time.Now()
	version, err := ss.store.GetSharedVersion(ctx, conversationID)
	if err != nil {
		ss.fault(memerrors.TierDurable, "version", conversationID, start, err)
		return 0
	}
	return version
}

// Delete soft-deletes the durable record, preserving its version, and
// drops the cache entry. A later Set resurrects the record. Idempotent.
func (ss *SharedStore) Delete(ctx context.Context, conversationID string) {
	start := time.Now()

	if err := ss.cache.Delete(ctx, ss.keys.Shared(conversationID)); err != nil {
		ss.fault(memerrors.TierCache, "delete", conversationID, start, err)
	}
	if err := ss.store.DeactivateShared(ctx, conversationID); err != nil {
		ss.fault(memerrors.TierDurable, "delete", conversationID, start, err)
	}
}

// Search scans the durable tier for active records whose conversation id
// matches the glob pattern.
func (ss *SharedStore) Search(ctx context.Context, pattern string) []types.SharedRecord {
	start := time.Now()

	rows, err := ss.store.SearchShared(ctx, pattern)
	if err != nil {
		ss.fault(memerrors.TierDurable, "search", "", start, err, "pattern", pattern)
		return nil
	}

	out := make([]types.SharedRecord, 0, len(rows))
	for _, row := range rows {
		doc, err := types.UnmarshalDocument(row.Payload)
		if err != nil {
			ss.codecFault(memerrors.TierDurable, "search", row.ConversationID, err)
			continue
		}
		out = append(out, types.SharedRecord{
			ConversationID: row.ConversationID,
			Payload:        doc,
			Version:        row.Version,
			IsActive:       row.IsActive,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		})
	}
	return out
}

// Cleanup is a no-op for shared memory. Records are soft-deleted, never
// expired, so there is nothing to reclaim; the method exists so the
// janitor can treat both stores uniformly.
func (ss *SharedStore) Cleanup(ctx context.Context) int {
	return 0
}

// Stats reports durable-tier record counts for this store.
func (ss *SharedStore) Stats(ctx context.Context) types.SharedStats {
	total, active, avgSize, err := ss.store.CountShared(ctx)
	if err != nil {
		ss.fault(memerrors.TierDurable, "stats", "", time.Now(), err)
		return types.SharedStats{}
	}
	return types.SharedStats{TotalRecords: total, ActiveRecords: active, AverageSize: avgSize}
}
