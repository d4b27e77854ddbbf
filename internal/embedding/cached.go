package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kyleking/sql-assist/internal/cache"
	"github.com/kyleking/sql-assist/internal/logging"
)

// CachedProvider serves vectors from a cache, falling back to the wrapped
// provider on a miss. Keys are namespaced by the provider name so switching
// models never returns stale vectors.
type CachedProvider struct {
	provider Provider
	store    cache.Cache
	ttl      time.Duration
}

// NewCachedProvider wraps provider; a zero ttl uses the cache default
func NewCachedProvider(provider Provider, store cache.Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{provider: provider, store: store, ttl: ttl}
}

// GenerateEmbedding generates an embedding for the given text
func (p *CachedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := p.provider.GetName() + "\x00" + text

	if data, err := p.store.Get(ctx, key); err == nil {
		var vec []float32
		if err := json.Unmarshal(data, &vec); err == nil && len(vec) == p.provider.GetDimensions() {
			return vec, nil
		}
	}

	vec, err := p.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		if err := p.store.Set(ctx, key, data, p.ttl); err != nil {
			logging.WithError(err).Debug("failed to cache embedding")
		}
	}

	return vec, nil
}

// GetDimensions returns the dimensionality of embeddings produced by this provider
func (p *CachedProvider) GetDimensions() int {
	return p.provider.GetDimensions()
}

// IsEnabled returns whether the wrapped provider is ready to use
func (p *CachedProvider) IsEnabled() bool {
	return p.provider.IsEnabled()
}

// Unwrap returns the provider behind the cache
func (p *CachedProvider) Unwrap() Provider {
	return p.provider
}

// Uncached strips any cache layers from p
func Uncached(p Provider) Provider {
	for {
		c, ok := p.(*CachedProvider)
		if !ok {
			return p
		}

		p = c.provider
	}
}

// GetName returns the wrapped provider's name
func (p *CachedProvider) GetName() string {
	return p.provider.GetName()
}
