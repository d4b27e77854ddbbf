package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	tokenWeight   = 1.0
	trigramWeight = 0.5
)

// HashProvider embeds text offline by hashing word and character-trigram
// features into a fixed number of signed buckets. Identical text always
// yields the identical vector.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a hashing embedder with the given vector length
func NewHashProvider(dimensions int) (*HashProvider, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive: %d", dimensions)
	}

	return &HashProvider{dimensions: dimensions}, nil
}

// GenerateEmbedding generates an embedding for the given text
func (p *HashProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dimensions)

	for _, tok := range Tokenize(text) {
		p.add(vec, "w:"+tok, tokenWeight)

		padded := "^" + tok + "$"
		for i := 0; i+3 <= len(padded); i++ {
			p.add(vec, "t:"+padded[i:i+3], trigramWeight)
		}
	}

	return Normalize(vec), nil
}

func (p *HashProvider) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	bucket := h % uint64(p.dimensions)

	if h>>63 == 1 {
		weight = -weight
	}

	vec[bucket] += weight
}

// GetDimensions returns the dimensionality of embeddings produced by this provider
func (p *HashProvider) GetDimensions() int {
	return p.dimensions
}

// IsEnabled always reports true; the provider needs no external service
func (p *HashProvider) IsEnabled() bool {
	return true
}

// GetName returns the provider name for identification
func (p *HashProvider) GetName() string {
	return fmt.Sprintf("hash:%d", p.dimensions)
}

// Tokenize lowercases text, splits it on anything that is not a letter or
// digit (so snake_case identifiers split into words) and folds a trailing
// plural "s" on longer words
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for i, f := range fields {
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			fields[i] = f[:len(f)-1]
		}
	}

	return fields
}
