// Package secret resolves credential references found in configuration,
// such as Redis passwords and Postgres DSNs, without requiring plaintext
// secrets on disk. References use URI schemes: "env://REDIS_PASSWORD",
// "vault://secret/data/memtier#db_password". A value with no scheme is
// returned verbatim.
package secret

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Provider retrieves secrets from a single backing source.
type Provider interface {
	// Get retrieves the secret value at the given path. The scheme has
	// already been stripped by the Manager.
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Manager routes secret references to registered providers by URI scheme.
type Manager struct {
	providers map[string]Provider
	mu        sync.RWMutex
}

// NewManager creates an empty secret manager.
func NewManager() *Manager {
	return &Manager{providers: make(map[string]Provider)}
}

// Register binds a provider to a scheme such as "env" or "vault".
func (m *Manager) Register(scheme string, provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = provider
}

// Resolve parses the reference and delegates to the matching provider.
// A reference without a scheme is a static value and is returned as-is.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, path, ok := strings.Cut(ref, "://")
	if !ok {
		return ref, nil
	}

	m.mu.RLock()
	provider, registered := m.providers[scheme]
	m.mu.RUnlock()

	if !registered {
		return "", fmt.Errorf("no secret provider registered for scheme %q", scheme)
	}
	return provider.Get(ctx, path)
}

// Close closes all registered providers.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []string
	for scheme, p := range m.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", scheme, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close secret providers: %s", strings.Join(errs, "; "))
	}
	return nil
}
