package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for the Redis cache tier.
type RedisConfig struct {
	// Single node configuration
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Cluster configuration
	ClusterAddrs []string `yaml:"cluster_addrs"`

	// Sentinel configuration
	SentinelAddrs  []string `yaml:"sentinel_addrs"`
	SentinelMaster string   `yaml:"sentinel_master"`

	// Common configuration
	Namespace    string        `yaml:"namespace"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		Namespace:    "memtier",
		DefaultTTL:   24 * time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// Redis implements Cache backed by a Redis server, cluster or sentinel
// group. Every operation carries the client's configured timeouts; a fault
// flips the ready flag until the next successful round trip.
type Redis struct {
	client     goredis.UniversalClient
	namespace  string
	defaultTTL time.Duration
	ready      atomic.Bool

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
}

// NewRedis creates a Redis cache client and verifies connectivity.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}

	var client goredis.UniversalClient

	switch {
	case len(cfg.ClusterAddrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	case len(cfg.SentinelAddrs) > 0:
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	c := &Redis{
		client:     client,
		namespace:  cfg.Namespace,
		defaultTTL: cfg.DefaultTTL,
	}
	c.ready.Store(true)
	return c, nil
}

func (c *Redis) prefixKey(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

func (c *Redis) stripPrefix(key string) string {
	if c.namespace == "" {
		return key
	}
	prefix := c.namespace + ":"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

func (c *Redis) fault() {
	c.errors.Add(1)
	c.ready.Store(false)
}

// Get retrieves a value from Redis.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			c.misses.Add(1)
			return nil, nil
		}
		c.fault()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	c.ready.Store(true)
	c.hits.Add(1)
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if err := c.client.Set(ctx, c.prefixKey(key), value, ttl).Err(); err != nil {
		c.fault()
		return fmt.Errorf("redis set: %w", err)
	}

	c.ready.Store(true)
	c.sets.Add(1)
	return nil
}

// Delete removes a key from Redis.
func (c *Redis) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefixKey(key)).Err(); err != nil {
		c.fault()
		return fmt.Errorf("redis del: %w", err)
	}

	c.ready.Store(true)
	c.deletes.Add(1)
	return nil
}

// Exists reports whether the key is present.
func (c *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefixKey(key)).Result()
	if err != nil {
		c.fault()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	c.ready.Store(true)
	return n > 0, nil
}

// TTL returns the remaining time to live for a key. Missing keys and keys
// without an expiry report zero.
func (c *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.client.TTL(ctx, c.prefixKey(key)).Result()
	if err != nil {
		c.fault()
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	c.ready.Store(true)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Keys returns keys matching the glob pattern, with the namespace prefix
// stripped. Uses SCAN to avoid blocking the server.
func (c *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.prefixKey(pattern), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, c.stripPrefix(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		c.fault()
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	c.ready.Store(true)
	return keys, nil
}

// Ping checks Redis connectivity.
func (c *Redis) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.fault()
		return fmt.Errorf("redis ping: %w", err)
	}
	c.ready.Store(true)
	return nil
}

// Ready reports last-known connectivity.
func (c *Redis) Ready() bool {
	return c.ready.Load()
}

// Stats returns cache counters.
func (c *Redis) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		Deletes: c.deletes.Load(),
		Errors:  c.errors.Load(),
		HitRate: hitRate,
	}
}

// Close releases the client connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}
