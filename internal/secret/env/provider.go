// Package env implements a secret provider backed by environment
// variables, the default source for datastore credentials in development
// and container deployments.
package env

import (
	"context"
	"fmt"
	"os"
)

// Provider resolves secret paths as environment variable names.
type Provider struct{}

// New creates an environment variable provider.
func New() *Provider {
	return &Provider{}
}

// Get returns the value of the environment variable named by path.
// An unset variable is an error; an empty value is not.
func (p *Provider) Get(ctx context.Context, path string) (string, error) {
	val, ok := os.LookupEnv(path)
	if !ok {
		return "", fmt.Errorf("environment variable %q not set", path)
	}
	return val, nil
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
