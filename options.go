package memtier

import (
	"log/slog"
	"time"
)

// RedisConfig configures the Redis cache tier. Addrs with more than one
// entry selects cluster mode; MasterName selects sentinel mode. Password
// may be a secret reference such as env://REDIS_PASSWORD.
type RedisConfig struct {
	Addrs        []string
	Password     string
	DB           int
	MasterName   string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the durable tier. DSN takes precedence over
// the discrete fields; DSN and Password accept secret references.
type PostgresConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// VaultConfig enables resolving vault:// secret references for datastore
// credentials.
type VaultConfig struct {
	Address    string
	AuthMethod string // "approle" or "cert"
	RoleID     string
	SecretID   string
	CACert     string
	ClientCert string
	ClientKey  string
}

// ClientConfig holds all configuration for the memtier client.
type ClientConfig struct {
	// Key namespace shared by both tiers.
	KeyPrefix string

	// Cache tier. Redis is used when configured; LocalCache selects an
	// in-process cache instead, for tests and single-node deployments.
	Redis      *RedisConfig
	LocalCache bool

	// Durable tier. Postgres is used when configured; InMemoryStore
	// selects a volatile in-process store instead.
	Postgres      *PostgresConfig
	InMemoryStore bool

	// Default expirations per memory kind.
	IndividualTTL time.Duration
	SharedTTL     time.Duration

	// Background cleanup of expired individual records.
	CleanupEnabled       bool
	CleanupInterval      time.Duration
	CleanupRatePerSecond float64

	// Secret resolution for credential references.
	Vault *VaultConfig

	// Logging.
	Logger *slog.Logger
}

// Option configures the Client.
type Option func(*ClientConfig)

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		KeyPrefix:       "memtier",
		IndividualTTL:   24 * time.Hour,
		SharedTTL:       7 * 24 * time.Hour,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
		Logger:          slog.Default(),
	}
}

// WithKeyPrefix sets the key namespace used for cache keys. Deployments
// sharing one Redis must use distinct prefixes.
func WithKeyPrefix(prefix string) Option {
	return func(c *ClientConfig) { c.KeyPrefix = prefix }
}

// WithRedis selects Redis as the cache tier.
func WithRedis(cfg RedisConfig) Option {
	return func(c *ClientConfig) {
		c.Redis = &cfg
		c.LocalCache = false
	}
}

// WithLocalCache selects an in-process cache tier. Intended for tests and
// single-node deployments; entries are lost on restart.
func WithLocalCache() Option {
	return func(c *ClientConfig) {
		c.LocalCache = true
		c.Redis = nil
	}
}

// WithPostgres selects Postgres as the durable tier.
func WithPostgres(cfg PostgresConfig) Option {
	return func(c *ClientConfig) {
		c.Postgres = &cfg
		c.InMemoryStore = false
	}
}

// WithInMemoryStore selects a volatile in-process durable tier. Intended
// for tests; nothing survives a restart.
func WithInMemoryStore() Option {
	return func(c *ClientConfig) {
		c.InMemoryStore = true
		c.Postgres = nil
	}
}

// WithIndividualTTL sets the default expiration for individual records.
func WithIndividualTTL(d time.Duration) Option {
	return func(c *ClientConfig) { c.IndividualTTL = d }
}

// WithSharedTTL sets the cache expiration for shared records.
func WithSharedTTL(d time.Duration) Option {
	return func(c *ClientConfig) { c.SharedTTL = d }
}

// WithCleanup configures the background janitor. ratePerSecond caps pass
// frequency; zero means no cap beyond the interval.
func WithCleanup(interval time.Duration, ratePerSecond float64) Option {
	return func(c *ClientConfig) {
		c.CleanupEnabled = true
		c.CleanupInterval = interval
		c.CleanupRatePerSecond = ratePerSecond
	}
}

// WithoutCleanup disables the background janitor. Cleanup can still be
// run explicitly via Client.Cleanup.
func WithoutCleanup() Option {
	return func(c *ClientConfig) { c.CleanupEnabled = false }
}

// WithVault enables vault:// secret references in datastore credentials.
func WithVault(cfg VaultConfig) Option {
	return func(c *ClientConfig) { c.Vault = &cfg }
}

// WithLogger sets the structured logger. The default logs to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *ClientConfig) { c.Logger = logger }
}
