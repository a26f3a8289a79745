package cache

import (
	"context"
	"path"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LocalConfig holds configuration for the in-process cache tier.
type LocalConfig struct {
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultLocalConfig returns sensible defaults.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// Local implements Cache in process memory. It is used by tests and by
// single-node deployments that have no Redis; it provides the same TTL
// semantics but no cross-process sharing.
type Local struct {
	c          *gocache.Cache
	defaultTTL time.Duration

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// NewLocal creates an in-process cache.
func NewLocal(cfg LocalConfig) *Local {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	return &Local{
		c:          gocache.New(cfg.DefaultTTL, cfg.CleanupInterval),
		defaultTTL: cfg.DefaultTTL,
	}
}

// Get retrieves a value. Returns nil, nil on miss.
func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	val, found := l.c.Get(key)
	if !found {
		l.misses.Add(1)
		return nil, nil
	}
	data, ok := val.([]byte)
	if !ok {
		l.misses.Add(1)
		return nil, nil
	}
	l.hits.Add(1)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a value with the given TTL.
func (l *Local) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	l.c.Set(key, stored, ttl)
	l.sets.Add(1)
	return nil
}

// Delete removes a key.
func (l *Local) Delete(ctx context.Context, key string) error {
	l.c.Delete(key)
	l.deletes.Add(1)
	return nil
}

// Exists reports whether the key is present and unexpired.
func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	_, found := l.c.Get(key)
	return found, nil
}

// TTL returns the remaining time to live for a key.
func (l *Local) TTL(ctx context.Context, key string) (time.Duration, error) {
	for k, item := range l.c.Items() {
		if k != key {
			continue
		}
		if item.Expiration == 0 {
			return 0, nil
		}
		remaining := time.Until(time.Unix(0, item.Expiration))
		if remaining < 0 {
			return 0, nil
		}
		return remaining, nil
	}
	return 0, nil
}

// Keys returns keys matching the glob pattern.
func (l *Local) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	for k := range l.c.Items() {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Ping always succeeds for the in-process cache.
func (l *Local) Ping(ctx context.Context) error {
	return nil
}

// Ready always reports true for the in-process cache.
func (l *Local) Ready() bool {
	return true
}

// Stats returns cache counters.
func (l *Local) Stats() Stats {
	hits := l.hits.Load()
	misses := l.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    l.sets.Load(),
		Deletes: l.deletes.Load(),
		HitRate: hitRate,
	}
}

// Close flushes the cache.
func (l *Local) Close() error {
	l.c.Flush()
	return nil
}
