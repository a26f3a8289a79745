// Package memtier provides tiered memory for multi-agent conversational
// systems: a fast TTL cache tier backed by a durable relational tier.
//
// Two kinds of memory are managed per conversation:
//   - Individual memory: private per-agent working state with TTL expiry.
//   - Shared memory: one versioned record per conversation, visible to all
//     agents, soft-deleted rather than destroyed.
//
// Reads are cache-aside (cache first, durable backfill on miss) and writes
// go through both tiers. Tier outages never surface as errors: callers get
// empty results and the outage shows up in stats and logs.
//
// Basic usage:
//
//	client, err := memtier.New(
//	    memtier.WithRedis(memtier.RedisConfig{Addrs: []string{"localhost:6379"}}),
//	    memtier.WithPostgres(memtier.PostgresConfig{DSN: os.Getenv("DATABASE_URL")}),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetIndividualMemory(ctx, "conv-1", "agent-researcher", memtier.Document{
//	    "findings": []string{"lead A"},
//	})
//	doc := client.GetIndividualMemory(ctx, "conv-1", "agent-researcher")
package memtier

import (
	"github.com/blueberrycongee/memtier/pkg/types"
)

// Version is the current version of the module.
const Version = "1.0.0"

// Re-export the public data model so callers can use memtier.Document
// instead of types.Document.
type (
	// Document is a schemaless memory payload.
	Document = types.Document

	// IndividualRecord is the read view of a per-agent memory record.
	IndividualRecord = types.IndividualRecord

	// SharedRecord is the read view of a conversation-wide memory record.
	SharedRecord = types.SharedRecord

	// MemoryStats aggregates tier counts and performance samples.
	MemoryStats = types.MemoryStats

	// IndividualStats summarizes durable individual records.
	IndividualStats = types.IndividualStats

	// SharedStats summarizes durable shared records.
	SharedStats = types.SharedStats

	// CacheStats reports cache tier counters.
	CacheStats = types.CacheStats

	// PerformanceStats reports latency averages and the degraded flag.
	PerformanceStats = types.PerformanceStats

	// CleanupResult reports the outcome of a cleanup pass.
	CleanupResult = types.CleanupResult
)
