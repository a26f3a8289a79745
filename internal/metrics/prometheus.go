// Package metrics provides Prometheus collectors for the memory subsystem:
// operation latencies, cache outcomes, tier faults and cleanup counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "memtier"

// OperationBuckets covers cache round trips through slow durable scans.
var OperationBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

var (
	// OperationDuration tracks per-operation latency. kind is "individual"
	// or "shared"; op is get/set/update/delete/search/sync/cleanup.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Memory operation latency in seconds",
			Buckets:   OperationBuckets,
		},
		[]string{"kind", "op"},
	)

	// CacheOutcomes counts cache-tier read outcomes per memory kind.
	CacheOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_outcomes_total",
			Help:      "Cache-tier read outcomes (hit, miss)",
		},
		[]string{"kind", "outcome"},
	)

	// TierFaults counts swallowed tier faults. These never propagate to
	// callers, so this counter is the primary outage signal.
	TierFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_faults_total",
			Help:      "Swallowed cache/durable tier faults",
		},
		[]string{"tier", "op"},
	)

	// CleanupReclaimed counts expired individual records removed by
	// cleanup passes.
	CleanupReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_reclaimed_total",
			Help:      "Expired individual memory records reclaimed",
		},
	)

	// SharedWrites counts successful shared-memory writes, each of which
	// bumps the record version by one.
	SharedWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shared_writes_total",
			Help:      "Successful shared memory writes (set and update)",
		},
	)

	// DBConnectionPoolSize reports durable-tier pool state.
	DBConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_pool_size",
			Help:      "Durable tier connection pool state",
		},
		[]string{"state"},
	)
)
