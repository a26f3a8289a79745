// Package vault implements a secret provider backed by HashiCorp Vault,
// used for production datastore credentials. It supports AppRole and TLS
// certificate auth and renews its token in the background.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// Config holds connection and auth settings for the Vault provider.
type Config struct {
	Address    string
	AuthMethod string // "approle" or "cert"
	RoleID     string
	SecretID   string
	CACert     string
	ClientCert string
	ClientKey  string
}

// Provider resolves secret paths against a Vault KV mount.
type Provider struct {
	client *vault.Client
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New authenticates against Vault and starts the token renewer.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vConfig := vault.DefaultConfig()
	vConfig.Address = cfg.Address

	if cfg.ClientCert != "" || cfg.ClientKey != "" || cfg.CACert != "" {
		tlsConfig := &vault.TLSConfig{
			ClientCert: cfg.ClientCert,
			ClientKey:  cfg.ClientKey,
			CACert:     cfg.CACert,
		}
		if err := vConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("configure tls: %w", err)
		}
	}

	client, err := vault.NewClient(vConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	secret, err := login(client, cfg)
	if err != nil {
		return nil, err
	}
	client.SetToken(secret.Auth.ClientToken)

	p := &Provider{
		client: client,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	p.wg.Add(1)
	go p.renewToken(secret.Auth)

	return p, nil
}

func login(client *vault.Client, cfg Config) (*vault.Secret, error) {
	var (
		secret *vault.Secret
		err    error
	)
	switch cfg.AuthMethod {
	case "cert":
		secret, err = client.Logical().Write("auth/cert/login", nil)
	case "approle", "":
		if cfg.RoleID == "" {
			return nil, fmt.Errorf("approle auth requires a role id")
		}
		secret, err = client.Logical().Write("auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
	default:
		return nil, fmt.Errorf("unknown auth method %q", cfg.AuthMethod)
	}
	if err != nil {
		return nil, fmt.Errorf("vault login (%s): %w", cfg.AuthMethod, err)
	}
	if secret == nil || secret.Auth == nil {
		return nil, fmt.Errorf("vault login returned no auth info")
	}
	return secret, nil
}

// Get reads a secret from Vault. Path format: "path/to/secret#key"; a
// missing #key defaults to "value". KV v2 data wrappers are unwrapped.
func (p *Provider) Get(ctx context.Context, path string) (string, error) {
	secretPath := path
	key := "value"
	if idx := strings.LastIndex(path, "#"); idx != -1 {
		secretPath = path[:idx]
		key = path[idx+1:]
	}

	secret, err := p.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("read vault secret %q: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret %q not found", secretPath)
	}

	data := secret.Data
	if v, ok := data["data"]; ok {
		if nested, ok := v.(map[string]interface{}); ok {
			data = nested
		}
	}

	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	return fmt.Sprintf("%v", val), nil
}

// Close stops the token renewer and releases resources.
func (p *Provider) Close() error {
	close(p.stopCh)
	p.wg.Wait()
	return nil
}

func (p *Provider) renewToken(auth *vault.SecretAuth) {
	defer p.wg.Done()

	if !auth.Renewable {
		return
	}

	watcher, err := p.client.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
		Secret: &vault.Secret{Auth: auth},
	})
	if err != nil {
		p.logger.Error("create vault lifetime watcher", "error", err)
		return
	}

	go watcher.Start()
	defer watcher.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case err := <-watcher.DoneCh():
			if err != nil {
				p.logger.Error("vault token renewal failed", "error", err)
			}
			return
		case <-watcher.RenewCh():
		}
	}
}
