package memtier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blueberrycongee/memtier/internal/cache"
	"github.com/blueberrycongee/memtier/internal/config"
	"github.com/blueberrycongee/memtier/internal/janitor"
	"github.com/blueberrycongee/memtier/internal/memory"
	"github.com/blueberrycongee/memtier/internal/metrics"
	"github.com/blueberrycongee/memtier/internal/observability"
	"github.com/blueberrycongee/memtier/internal/scope"
	"github.com/blueberrycongee/memtier/internal/secret"
	"github.com/blueberrycongee/memtier/internal/secret/env"
	"github.com/blueberrycongee/memtier/internal/secret/vault"
	"github.com/blueberrycongee/memtier/internal/store"
)

// secretCacheTTL bounds how long resolved credentials are reused across
// reconnects and config reloads.
const secretCacheTTL = 5 * time.Minute

// Client is the entry point for the memory subsystem. It owns both tiers,
// the background janitor and, when built from a config file, the hot
// reload watcher.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	manager *memory.Manager
	pg      *store.PostgresStore
	secrets *secret.Manager
	janitor *janitor.Janitor
	cfgMgr  *config.Manager
	logger  *observability.Logger
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New creates a client from functional options. A cache tier and a durable
// tier must both be selected.
//
// Example:
//
//	client, err := memtier.New(
//	    memtier.WithRedis(memtier.RedisConfig{Addrs: []string{"localhost:6379"}}),
//	    memtier.WithPostgres(memtier.PostgresConfig{DSN: "env://DATABASE_URL"}),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newClient(cfg)
}

// NewFromConfigFile creates a client from a YAML config file and watches
// it for changes. TTL changes apply to running stores without a restart;
// connection changes require one. Options override file values.
func NewFromConfigFile(path string, opts ...Option) (*Client, error) {
	fileCfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(fileCfg.Logging.Level),
		JSONFormat: fileCfg.Logging.Format == "json",
	})

	cm, err := config.NewManager(path, logger.Logger)
	if err != nil {
		return nil, err
	}

	cfg := fromFileConfig(fileCfg)
	cfg.Logger = logger.Logger
	for _, opt := range opts {
		opt(cfg)
	}

	c, err := newClient(cfg)
	if err != nil {
		_ = cm.Close()
		return nil, err
	}
	c.cfgMgr = cm

	cm.OnTTLChange(func(ttl config.TTLConfig) {
		c.manager.SetIndividualTTL(ttl.Individual)
		c.manager.SetSharedTTL(ttl.Shared)
	})

	// Chain the watcher's lifetime onto the client's so Close stops it
	// along with the janitor.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	prev := c.cancel
	c.cancel = func() {
		watchCancel()
		if prev != nil {
			prev()
		}
	}
	if err := cm.Watch(watchCtx); err != nil {
		c.logger.Warn("config watch disabled", "error", err)
	}

	return c, nil
}

func fromFileConfig(fc *config.Config) *ClientConfig {
	cfg := defaultClientConfig()
	cfg.KeyPrefix = fc.KeyPrefix
	cfg.IndividualTTL = fc.TTL.Individual
	cfg.SharedTTL = fc.TTL.Shared
	cfg.CleanupEnabled = fc.Cleanup.Enabled
	cfg.CleanupInterval = fc.Cleanup.Interval
	cfg.CleanupRatePerSecond = fc.Cleanup.RatePerSecond

	switch fc.Cache.Type {
	case "local":
		cfg.LocalCache = true
	default:
		cfg.Redis = &RedisConfig{
			Addrs:        fc.Cache.Redis.Addrs,
			Password:     fc.Cache.Redis.Password,
			DB:           fc.Cache.Redis.DB,
			MasterName:   fc.Cache.Redis.MasterName,
			PoolSize:     fc.Cache.Redis.PoolSize,
			DialTimeout:  fc.Cache.Redis.DialTimeout,
			ReadTimeout:  fc.Cache.Redis.ReadTimeout,
			WriteTimeout: fc.Cache.Redis.WriteTimeout,
		}
	}

	cfg.Postgres = &PostgresConfig{
		DSN:             fc.Postgres.DSN,
		Host:            fc.Postgres.Host,
		Port:            fc.Postgres.Port,
		User:            fc.Postgres.User,
		Password:        fc.Postgres.Password,
		Database:        fc.Postgres.Database,
		SSLMode:         fc.Postgres.SSLMode,
		MaxOpenConns:    fc.Postgres.MaxOpenConns,
		MaxIdleConns:    fc.Postgres.MaxIdleConns,
		ConnMaxLifetime: fc.Postgres.ConnMaxLifetime,
	}
	return cfg
}

func newClient(cfg *ClientConfig) (*Client, error) {
	logger := &observability.Logger{Logger: cfg.Logger}

	secrets, err := buildSecretManager(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	c := &Client{
		secrets: secrets,
		logger:  logger,
	}

	cacheTier, err := c.buildCache(ctx, cfg)
	if err != nil {
		_ = secrets.Close()
		return nil, err
	}

	storeTier, err := c.buildStore(ctx, cfg)
	if err != nil {
		_ = cacheTier.Close()
		_ = secrets.Close()
		return nil, err
	}

	keys := scope.NewResolver(cfg.KeyPrefix)
	c.manager = memory.NewManager(cacheTier, storeTier, keys, logger, cfg.IndividualTTL, cfg.SharedTTL)

	if cfg.CleanupEnabled {
		c.janitor = janitor.New(c.manager, cfg.CleanupInterval, cfg.CleanupRatePerSecond, logger)
		var jctx context.Context
		jctx, c.cancel = context.WithCancel(context.Background())
		c.janitor.Start(jctx)
	}

	return c, nil
}

func buildSecretManager(cfg *ClientConfig, logger *observability.Logger) (*secret.Manager, error) {
	m := secret.NewManager()
	m.Register("env", env.New())

	if cfg.Vault != nil {
		vp, err := vault.New(vault.Config{
			Address:    cfg.Vault.Address,
			AuthMethod: cfg.Vault.AuthMethod,
			RoleID:     cfg.Vault.RoleID,
			SecretID:   cfg.Vault.SecretID,
			CACert:     cfg.Vault.CACert,
			ClientCert: cfg.Vault.ClientCert,
			ClientKey:  cfg.Vault.ClientKey,
		}, logger.Logger)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("vault provider: %w", err)
		}
		m.Register("vault", secret.NewCachedProvider(vp, secretCacheTTL))
	}

	return m, nil
}

func (c *Client) buildCache(ctx context.Context, cfg *ClientConfig) (cache.Cache, error) {
	if cfg.LocalCache {
		return cache.NewLocal(cache.LocalConfig{DefaultTTL: cfg.IndividualTTL}), nil
	}
	if cfg.Redis == nil {
		return nil, errors.New("no cache tier configured: use WithRedis or WithLocalCache")
	}

	password, err := c.secrets.Resolve(ctx, cfg.Redis.Password)
	if err != nil {
		return nil, fmt.Errorf("resolve redis password: %w", err)
	}

	// The key resolver carries the namespace prefix, so the cache itself
	// runs unprefixed.
	rc := cache.DefaultRedisConfig()
	rc.Namespace = ""
	rc.Password = password
	rc.DB = cfg.Redis.DB
	rc.DefaultTTL = cfg.IndividualTTL
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}

	switch {
	case cfg.Redis.MasterName != "":
		rc.SentinelMaster = cfg.Redis.MasterName
		rc.SentinelAddrs = cfg.Redis.Addrs
	case len(cfg.Redis.Addrs) > 1:
		rc.ClusterAddrs = cfg.Redis.Addrs
	case len(cfg.Redis.Addrs) == 1:
		rc.Addr = cfg.Redis.Addrs[0]
	}

	return cache.NewRedis(rc)
}

func (c *Client) buildStore(ctx context.Context, cfg *ClientConfig) (store.Store, error) {
	if cfg.InMemoryStore {
		return store.NewMemoryStore(), nil
	}
	if cfg.Postgres == nil {
		return nil, errors.New("no durable tier configured: use WithPostgres or WithInMemoryStore")
	}

	dsn, err := c.secrets.Resolve(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("resolve postgres dsn: %w", err)
	}
	password, err := c.secrets.Resolve(ctx, cfg.Postgres.Password)
	if err != nil {
		return nil, fmt.Errorf("resolve postgres password: %w", err)
	}

	pc := store.DefaultPostgresConfig()
	pc.DSN = dsn
	pc.Password = password
	if cfg.Postgres.Host != "" {
		pc.Host = cfg.Postgres.Host
	}
	if cfg.Postgres.Port > 0 {
		pc.Port = cfg.Postgres.Port
	}
	if cfg.Postgres.User != "" {
		pc.User = cfg.Postgres.User
	}
	if cfg.Postgres.Database != "" {
		pc.Database = cfg.Postgres.Database
	}
	if cfg.Postgres.SSLMode != "" {
		pc.SSLMode = cfg.Postgres.SSLMode
	}
	if cfg.Postgres.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.Postgres.MaxOpenConns
	}
	if cfg.Postgres.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.Postgres.MaxIdleConns
	}
	if cfg.Postgres.ConnMaxLifetime > 0 {
		pc.ConnLifetime = cfg.Postgres.ConnMaxLifetime
	}

	pg, err := store.NewPostgresStore(pc)
	if err != nil {
		return nil, err
	}
	c.pg = pg
	return pg, nil
}

// GetIndividualMemory returns an agent's private working memory for the
// conversation. A missing record or a tier outage yields an empty
// document, never an error.
func (c *Client) GetIndividualMemory(ctx context.Context, conversationID, scopeID string) Document {
	return c.manager.GetIndividual(ctx, conversationID, scopeID)
}

// SetIndividualMemory stores an agent's working memory with the default
// TTL.
func (c *Client) SetIndividualMemory(ctx context.Context, conversationID, scopeID string, payload Document) {
	c.manager.SetIndividual(ctx, conversationID, scopeID, payload, 0)
}

// SetIndividualMemoryWithTTL stores an agent's working memory with an
// explicit TTL. A non-positive TTL uses the default.
func (c *Client) SetIndividualMemoryWithTTL(ctx context.Context, conversationID, scopeID string, payload Document, ttl time.Duration) {
	c.manager.SetIndividual(ctx, conversationID, scopeID, payload, ttl)
}

// DeleteIndividualMemory removes an agent's working memory from both
// tiers. Idempotent.
func (c *Client) DeleteIndividualMemory(ctx context.Context, conversationID, scopeID string) {
	c.manager.DeleteIndividual(ctx, conversationID, scopeID)
}

// SearchIndividualMemory returns durable individual records in the
// conversation whose scope matches the glob pattern, newest first.
func (c *Client) SearchIndividualMemory(ctx context.Context, conversationID, pattern string) []IndividualRecord {
	return c.manager.SearchIndividual(ctx, conversationID, pattern)
}

// GetSharedMemory returns the conversation's shared memory. Missing and
// soft-deleted records yield an empty document.
func (c *Client) GetSharedMemory(ctx context.Context, conversationID string) Document {
	return c.manager.GetShared(ctx, conversationID)
}

// SetSharedMemory replaces the conversation's shared memory and returns
// the new version, or zero when the durable tier was unreachable.
func (c *Client) SetSharedMemory(ctx context.Context, conversationID string, payload Document) int64 {
	return c.manager.SetShared(ctx, conversationID, payload)
}

// UpdateSharedMemory merges updates into the current shared memory,
// stamping a last-updated marker, and returns the new version. Concurrent
// updates are last-writer-wins.
func (c *Client) UpdateSharedMemory(ctx context.Context, conversationID string, updates Document) int64 {
	return c.manager.UpdateShared(ctx, conversationID, updates)
}

// SyncMemories refreshes the cache from the durable tier and returns the
// durable shared payload. Use after out-of-band database writes.
func (c *Client) SyncMemories(ctx context.Context, conversationID string) Document {
	return c.manager.SyncShared(ctx, conversationID)
}

// GetSharedVersion returns the durable version counter for the shared
// record, or zero when none exists.
func (c *Client) GetSharedVersion(ctx context.Context, conversationID string) int64 {
	return c.manager.SharedVersion(ctx, conversationID)
}

// DeleteSharedMemory soft-deletes the conversation's shared record,
// preserving its version. A later write resurrects it.
func (c *Client) DeleteSharedMemory(ctx context.Context, conversationID string) {
	c.manager.DeleteShared(ctx, conversationID)
}

// SearchSharedMemory returns active shared records whose conversation id
// matches the glob pattern.
func (c *Client) SearchSharedMemory(ctx context.Context, pattern string) []SharedRecord {
	return c.manager.SearchShared(ctx, pattern)
}

// ClearAllMemories clears the conversation's memory. Only the shared
// record is removed; individual records expire on their own TTLs.
func (c *Client) ClearAllMemories(ctx context.Context, conversationID string) {
	c.manager.ClearAll(ctx, conversationID)
}

// GetStats aggregates tier counts, cache counters and performance
// samples. Reading stats resets the degraded flag.
func (c *Client) GetStats(ctx context.Context) MemoryStats {
	if c.pg != nil {
		metrics.UpdateDBPoolStats(c.pg.DBStats())
	}
	return c.manager.Stats(ctx)
}

// Cleanup runs an immediate reclamation pass over expired individual
// records. The janitor runs the same pass on its interval.
func (c *Client) Cleanup(ctx context.Context) CleanupResult {
	return c.manager.Cleanup(ctx)
}

// ResetPerformanceMetrics discards accumulated latency samples and hit
// counters.
func (c *Client) ResetPerformanceMetrics() {
	c.manager.ResetPerformance()
}

// Ready reports whether both tiers are reachable.
func (c *Client) Ready(ctx context.Context) bool {
	return c.manager.Ready(ctx)
}

// Close stops the janitor and config watcher and releases both tiers.
// Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.janitor != nil {
			c.janitor.Stop()
		}
		var errs []error
		if c.cfgMgr != nil {
			errs = append(errs, c.cfgMgr.Close())
		}
		errs = append(errs, c.manager.Close(), c.secrets.Close())
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
