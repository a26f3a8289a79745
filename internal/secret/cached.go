package secret

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedProvider decorates a Provider with in-memory caching so repeated
// resolutions of the same reference, for example on config hot reload, do
// not hit the backing source.
type CachedProvider struct {
	inner Provider
	cache *gocache.Cache
}

// NewCachedProvider wraps inner with a cache whose entries expire after ttl.
func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		inner: inner,
		cache: gocache.New(ttl, ttl*2),
	}
}

// Get returns the cached value when present, otherwise delegates to the
// inner provider and caches the result.
func (p *CachedProvider) Get(ctx context.Context, path string) (string, error) {
	if val, found := p.cache.Get(path); found {
		if s, ok := val.(string); ok {
			return s, nil
		}
	}

	val, err := p.inner.Get(ctx, path)
	if err != nil {
		return "", err
	}
	p.cache.Set(path, val, gocache.DefaultExpiration)
	return val, nil
}

// Close closes the inner provider.
func (p *CachedProvider) Close() error {
	return p.inner.Close()
}
