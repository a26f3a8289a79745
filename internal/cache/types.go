// Package cache implements the fast tier of the memory subsystem: a
// TTL-capable key-value service used as the primary read/write path.
// Two backends are provided: Redis for shared deployments and an
// in-process cache for tests and single-node use.
package cache

import (
	"context"
	"time"
)

// Stats holds cache counters for monitoring.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Deletes int64   `json:"deletes"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// Cache defines the cache-tier contract. Values are opaque serialized
// documents; the tier enforces TTL expiry on its own.
type Cache interface {
	// Get retrieves a value. Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A non-positive TTL uses the
	// backend's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining time to live for a key. Missing keys
	// return zero remaining time.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys returns the keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks backend health.
	Ping(ctx context.Context) error

	// Ready reports last-known connectivity without a round trip.
	Ready() bool

	// Stats returns counters accumulated since construction.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}
