package embedding

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/kyleking/sql-assist/internal/cache"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// GenerateEmbedding returns an L2-normalised vector for text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GetDimensions returns the dimensionality of embeddings produced by this provider
	GetDimensions() int

	// IsEnabled returns whether the provider is ready to use
	IsEnabled() bool

	// GetName identifies the provider and model; it namespaces cached vectors
	GetName() string
}

// Config represents embedding provider configuration
type Config struct {
	Provider   string        // "hash" or "remote"
	Model      string        // remote model name
	BaseURL    string        // remote endpoint root, defaults to the OpenAI API
	APIKey     string        // remote bearer token
	Dimensions int           // vector length
	Timeout    time.Duration // per remote request
}

// DefaultConfig returns the offline configuration
func DefaultConfig() Config {
	return Config{
		Provider:   "hash",
		Model:      "text-embedding-3-small",
		Dimensions: 256,
		Timeout:    30 * time.Second,
	}
}

// NewProvider builds the configured provider. When store is non-nil a remote
// provider is wrapped so repeated texts are served from the cache; the local
// hash provider is never cached.
func NewProvider(cfg Config, store cache.Cache) (Provider, error) {
	var (
		provider Provider
		err      error
	)

	switch cfg.Provider {
	case "hash", "":
		provider, err = NewHashProvider(cfg.Dimensions)
	case "remote":
		provider, err = NewRemoteProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	if store != nil && cfg.Provider == "remote" {
		provider = NewCachedProvider(provider, store, 0)
	}

	return provider, nil
}

// Normalize scales v to unit length in place; a zero vector is left unchanged
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}

	return v
}
