package config

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager handles configuration loading and hot-reload. It uses atomic
// pointer swaps so readers never see a partially applied config, and a
// rejected reload keeps the previous config in place.
//
// Only the retention TTLs are applied live; cache and durable-tier
// connection settings take effect on the next client start, and a reload
// that touches them logs a warning instead.
type Manager struct {
	config   atomic.Pointer[Config]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	onTTL    []func(TTLConfig)
	logger   *slog.Logger
}

// NewManager loads the file and creates a configuration manager.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		path:   path,
		logger: logger,
	}
	m.config.Store(cfg)

	return m, nil
}

// Get returns the current configuration.
// Safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// OnChange registers a callback invoked after each successful reload.
// Register all callbacks before calling Watch.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// OnTTLChange registers a callback invoked only when a reload actually
// changes a retention TTL. The memory tiers subscribe here so a reload
// that touches unrelated sections does not churn their settings.
// Register before calling Watch.
func (m *Manager) OnTTLChange(fn func(TTLConfig)) {
	m.onTTL = append(m.onTTL, fn)
}

// Watch starts watching the configuration file for changes. It debounces
// rapid writes and swaps the config atomically.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Editors often emit several events per save.
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, m.Reload)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Reload re-reads the file. An invalid file is logged and the current
// config kept.
func (m *Manager) Reload() {
	newCfg, err := LoadFromFile(m.path)
	if err != nil {
		m.logger.Error("failed to reload config, keeping current", "error", err)
		return
	}

	prev := m.config.Load()
	m.config.Store(newCfg)
	m.logger.Info("configuration reloaded")

	if prev != nil && connectionSettingsChanged(prev, newCfg) {
		m.logger.Warn("cache or postgres settings changed; they apply on next start")
	}

	for _, fn := range m.onChange {
		fn(newCfg)
	}
	if prev == nil || prev.TTL != newCfg.TTL {
		m.logger.Info("retention ttls updated",
			"individual", newCfg.TTL.Individual,
			"shared", newCfg.TTL.Shared,
		)
		for _, fn := range m.onTTL {
			fn(newCfg.TTL)
		}
	}
}

func connectionSettingsChanged(prev, next *Config) bool {
	return !reflect.DeepEqual(prev.Cache, next.Cache) ||
		prev.Postgres != next.Postgres
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
