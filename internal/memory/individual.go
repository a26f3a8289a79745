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

// IndividualStore manages per-agent, per-conversation working memory.
// Reads are cache-aside with durable backfill; writes go to the cache tier
// first, then the durable tier, as two independent operations. Every tier
// fault is logged and absorbed: absent memory must never block a
// conversation.
type IndividualStore struct {
	cache  cache.Cache
	store  store.Store
	keys   *scope.Resolver
	logger *observability.Logger
	health *health
	ttl    *ttlSetting
}

// NewIndividualStore creates an individual memory store.
func NewIndividualStore(c cache.Cache, s store.Store, keys *scope.Resolver, logger *observability.Logger, h *health, defaultTTL time.Duration) *IndividualStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultIndividualTTL
	}
	return &IndividualStore{
		cache:  c,
		store:  s,
		keys:   keys,
		logger: logger,
		health: h,
		ttl:    newTTLSetting(defaultTTL),
	}
}

// SetDefaultTTL updates the tier default TTL. Safe for concurrent use;
// applied by config hot reload.
func (is *IndividualStore) SetDefaultTTL(d time.Duration) {
	is.ttl.set(d)
}

func (is *IndividualStore) fault(tier, op, conversationID, scopeID string, start time.Time, err error, attrs ...any) {
	is.health.markDegraded()
	metrics.TierFaults.WithLabelValues(tier, op).Inc()
	me := memerrors.NewTierUnavailable(tier, op, err).WithRecord(conversationID, scopeID)
	args := append([]any{"error", me, "elapsed", time.Since(start)}, attrs...)
	is.logger.Error("individual memory tier fault", args...)
}

func (is *IndividualStore) codecFault(tier, op, conversationID, scopeID string, err error) {
	is.health.markDegraded()
	me := memerrors.NewSerializationFault(tier, op, err).WithRecord(conversationID, scopeID)
	is.logger.Error("individual memory codec fault", "error", me)
}

// Get reads the cache tier first; on miss it falls back to the most
// recently updated durable row, backfills the cache with the default TTL,
// and returns the payload. A total miss or any tier fault yields an empty
// document, never an error.
func (is *IndividualStore) Get(ctx context.Context, conversationID, scopeID string) types.Document {
	start := time.Now()
	key := is.keys.Individual(conversationID, scopeID)

	cached, err := is.cache.Get(ctx, key)
	if err != nil {
		is.fault(memerrors.TierCache, "get", conversationID, scopeID, start, err)
	}
	if cached != nil {
		doc, err := types.UnmarshalDocument(cached)
		if err == nil {
			metrics.CacheOutcomes.WithLabelValues("individual", "hit").Inc()
			return doc
		}
		// A corrupt cache entry is treated as a miss; the durable tier is
		// the recovery path.
		is.codecFault(memerrors.TierCache, "get", conversationID, scopeID, err)
	}
	metrics.CacheOutcomes.WithLabelValues("individual", "miss").Inc()

	row, err := is.store.GetIndividual(ctx, conversationID, scopeID)
	if err != nil {
		is.fault(memerrors.TierDurable, "get", conversationID, scopeID, start, err)
		return types.Document{}
	}
	if row == nil {
		return types.Document{}
	}

	doc, err := types.UnmarshalDocument(row.Payload)
	if err != nil {
		is.codecFault(memerrors.TierDurable, "get", conversationID, scopeID, err)
		return types.Document{}
	}

	if err := is.cache.Set(ctx, key, row.Payload, is.ttl.get()); err != nil {
		is.fault(memerrors.TierCache, "backfill", conversationID, scopeID, start, err)
	}
	return doc
}

// Set writes the payload to the cache tier with the given TTL (default when
// non-positive), then upserts the durable row with a matching expiry. The
// writes are independent: a durable failure is logged but does not roll
// back the cache write.
func (is *IndividualStore) Set(ctx context.Context, conversationID, scopeID string, payload types.Document, ttl time.Duration) {
	start := time.Now()
	if ttl <= 0 {
		ttl = is.ttl.get()
	}

	data, err := payload.Marshal()
	if err != nil {
		is.codecFault(memerrors.TierCache, "set", conversationID, scopeID, err)
		return
	}

	key := is.keys.Individual(conversationID, scopeID)
	if err := is.cache.Set(ctx, key, data, ttl); err != nil {
		is.fault(memerrors.TierCache, "set", conversationID, scopeID, start, err)
	}

	row := &store.IndividualRow{
		ConversationID: conversationID,
		ScopeID:        scopeID,
		Payload:        data,
		ExpiresAt:      time.Now().Add(ttl),
	}
	if err := is.store.UpsertIndividual(ctx, row); err != nil {
		is.fault(memerrors.TierDurable, "set", conversationID, scopeID, start, err)
	}
}

// Delete removes the cache key and the durable row. Idempotent; deleting a
// non-existent record is not an error.
func (is *IndividualStore) Delete(ctx context.Context, conversationID, scopeID string) {
	start := time.Now()
	key := is.keys.Individual(conversationID, scopeID)

	if err := is.cache.Delete(ctx, key); err != nil {
		is.fault(memerrors.TierCache, "delete", conversationID, scopeID, start, err)
	}
	if err := is.store.DeleteIndividual(ctx, conversationID, scopeID); err != nil {
		is.fault(memerrors.TierDurable, "delete", conversationID, scopeID, start, err)
	}
}

// Search scans the durable tier for records in the conversation whose
// scope matches the glob pattern. The cache tier has no secondary index,
// so it is not consulted. Returns an empty list on no match or fault.
func (is *IndividualStore) Search(ctx context.Context, conversationID, pattern string) []types.IndividualRecord {
	start := time.Now()

	rows, err := is.store.SearchIndividual(ctx, conversationID, pattern)
	if err != nil {
		is.fault(memerrors.TierDurable, "search", conversationID, "", start, err, "pattern", pattern)
		return nil
	}

	out := make([]types.IndividualRecord, 0, len(rows))
	for _, row := range rows {
		doc, err := types.UnmarshalDocument(row.Payload)
		if err != nil {
			is.codecFault(memerrors.TierDurable, "search", row.ConversationID, row.ScopeID, err)
			continue
		}
		rec := types.IndividualRecord{
			ConversationID: row.ConversationID,
			ScopeID:        row.ScopeID,
			Payload:        doc,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		}
		if !row.ExpiresAt.IsZero() {
			if remaining := time.Until(row.ExpiresAt); remaining > 0 {
				rec.TTL = remaining
			}
		}
		out = append(out, rec)
	}
	return out
}

// Cleanup removes durable rows past their expiry timestamp together with
// any still-present cache entries, returning the number reclaimed.
func (is *IndividualStore) Cleanup(ctx context.Context) int {
	start := time.Now()
	cleaned := 0

	rows, err := is.store.ListExpiredIndividual(ctx, time.Now(), cleanupBatchSize)
	if err != nil {
		is.fault(memerrors.TierDurable, "cleanup", "", "", start, err)
		return 0
	}

	for _, row := range rows {
		key := is.keys.Individual(row.ConversationID, row.ScopeID)
		if err := is.cache.Delete(ctx, key); err != nil {
			is.fault(memerrors.TierCache, "cleanup", row.ConversationID, row.ScopeID, start, err)
		}
		if err := is.store.DeleteIndividualByID(ctx, row.ID); err != nil {
			is.fault(memerrors.TierDurable, "cleanup", row.ConversationID, row.ScopeID, start, err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		metrics.CleanupReclaimed.Add(float64(cleaned))
		is.logger.Info("individual memory cleanup", "reclaimed", cleaned, "elapsed", time.Since(start))
	}
	return cleaned
}

// Stats reports durable-tier record counts for this store.
func (is *IndividualStore) Stats(ctx context.Context) types.IndividualStats {
	total, avgSize, err := is.store.CountIndividual(ctx)
	if err != nil {
		is.fault(memerrors.TierDurable, "stats", "", "", time.Now(), err)
		return types.IndividualStats{}
	}
	return types.IndividualStats{TotalRecords: total, AverageSize: avgSize}
}
