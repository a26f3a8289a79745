// Package types defines the public data model for the tiered memory
// subsystem: payload documents, record views, statistics and cleanup
// results.
package types

import "time"

// IndividualRecord is the read view of a per-agent working memory record.
// At most one live record exists per (ConversationID, ScopeID) pair.
type IndividualRecord struct {
	ConversationID string        `json:"conversation_id"`
	ScopeID        string        `json:"scope_id"`
	Payload        Document      `json:"payload"`
	TTL            time.Duration `json:"ttl,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// SharedRecord is the read view of a conversation-wide memory record.
// Version strictly increases with each successful write; IsActive is the
// soft-delete flag.
type SharedRecord struct {
	ConversationID string    `json:"conversation_id"`
	Payload        Document  `json:"payload"`
	Version        int64     `json:"version"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IndividualStats summarizes the durable tier's individual memory rows.
type IndividualStats struct {
	TotalRecords int     `json:"total_records"`
	AverageSize  float64 `json:"average_size"`
}

// SharedStats summarizes the durable tier's shared memory rows. Soft-deleted
// rows count toward TotalRecords but not ActiveRecords.
type SharedStats struct {
	TotalRecords  int     `json:"total_records"`
	ActiveRecords int     `json:"active_records"`
	AverageSize   float64 `json:"average_size"`
}

// CacheStats reports cache-tier counters since process start.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Deletes int64   `json:"deletes"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// PerformanceStats aggregates per-call latency samples collected by the
// memory manager. CacheHitRate is the share of all tracked calls, reads and
// writes alike, whose read finished under a fixed threshold; it is an
// approximation, not an exact cache-layer signal. Degraded reports whether
// any tier fault was swallowed since the previous stats read.
type PerformanceStats struct {
	AverageGetTime time.Duration `json:"average_get_time"`
	AverageSetTime time.Duration `json:"average_set_time"`
	CacheHitRate   float64       `json:"cache_hit_rate"`
	Degraded       bool          `json:"degraded"`
}

// MemoryStats is the aggregate returned by the manager's GetStats.
type MemoryStats struct {
	Individual  IndividualStats  `json:"individual"`
	Shared      SharedStats      `json:"shared"`
	Cache       CacheStats       `json:"cache"`
	Performance PerformanceStats `json:"performance"`
}

// CleanupResult reports the outcome of a cleanup pass. SharedCleaned is
// always zero: shared records are soft-deleted and never reclaimed.
type CleanupResult struct {
	IndividualCleaned int           `json:"individual_cleaned"`
	SharedCleaned     int           `json:"shared_cleaned"`
	TotalCleaned      int           `json:"total_cleaned"`
	ExecutionTime     time.Duration `json:"execution_time"`
}
