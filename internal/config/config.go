// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/memtier/internal/scope"
)

// Config represents the complete memory subsystem configuration.
type Config struct {
	KeyPrefix string         `yaml:"key_prefix"`
	Cache     CacheConfig    `yaml:"cache"`
	Postgres  PostgresConfig `yaml:"postgres"`
	TTL       TTLConfig      `yaml:"ttl"`
	Cleanup   CleanupConfig  `yaml:"cleanup"`
	Logging   LoggingConfig  `yaml:"logging"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// CacheConfig selects and parameterizes the cache tier backend.
type CacheConfig struct {
	// Type is "redis" or "local".
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
	Local LocalConfig `yaml:"local"`
}

// RedisConfig contains Redis connection settings. Password may be a plain
// value or a secret reference such as env://REDIS_PASSWORD or
// vault://secret/data/redis#password.
type RedisConfig struct {
	Addrs        []string      `yaml:"addrs"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	MasterName   string        `yaml:"master_name"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LocalConfig contains in-process cache settings.
type LocalConfig struct {
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// PostgresConfig contains durable tier connection settings. DSN takes
// precedence over the discrete fields when set; DSN and Password accept
// secret references.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// TTLConfig sets per-kind default expirations.
type TTLConfig struct {
	Individual time.Duration `yaml:"individual"`
	Shared     time.Duration `yaml:"shared"`
}

// CleanupConfig controls the background janitor.
type CleanupConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// RatePerSecond caps cleanup passes; zero means no cap.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix: scope.DefaultPrefix,
		Cache: CacheConfig{
			Type: "redis",
			Redis: RedisConfig{
				Addrs:        []string{"localhost:6379"},
				PoolSize:     10,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
			Local: LocalConfig{
				CleanupInterval: time.Minute,
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Database:        "memtier",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		TTL: TTLConfig{
			Individual: 24 * time.Hour,
			Shared:     7 * 24 * time.Hour,
		},
		Cleanup: CleanupConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("key_prefix is required")
	}

	switch c.Cache.Type {
	case "redis":
		if len(c.Cache.Redis.Addrs) == 0 {
			return fmt.Errorf("cache.redis.addrs: at least one address is required")
		}
	case "local":
	default:
		return fmt.Errorf("cache.type must be %q or %q, got %q", "redis", "local", c.Cache.Type)
	}

	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required when postgres.dsn is not set")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			return fmt.Errorf("invalid postgres port: %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required when postgres.dsn is not set")
		}
	}

	if c.TTL.Individual < 0 {
		return fmt.Errorf("ttl.individual cannot be negative")
	}
	if c.TTL.Shared < 0 {
		return fmt.Errorf("ttl.shared cannot be negative")
	}

	if c.Cleanup.Enabled && c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup.interval must be positive when cleanup is enabled")
	}
	if c.Cleanup.RatePerSecond < 0 {
		return fmt.Errorf("cleanup.rate_per_second cannot be negative")
	}

	return nil
}
