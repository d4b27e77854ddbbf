package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kyleking/sql-assist/internal/embedding"
	"github.com/kyleking/sql-assist/internal/prompt"
	"github.com/kyleking/sql-assist/internal/types"
)

// Reply is one scripted generator outcome
type Reply struct {
	Query *types.GeneratedQuery
	Err   error
}

// MockGenerator replays scripted replies in order and records every request
type MockGenerator struct {
	mu       sync.Mutex
	replies  []Reply
	requests []prompt.Request
}

// GeneratorOption is a functional option for configuring MockGenerator
type GeneratorOption func(*MockGenerator)

// WithQuery scripts a successful reply
func WithQuery(description, sql string) GeneratorOption {
	return func(m *MockGenerator) {
		m.replies = append(m.replies, Reply{Query: &types.GeneratedQuery{Description: description, SQL: sql}})
	}
}

// WithGenerateError scripts a failed reply
func WithGenerateError(err error) GeneratorOption {
	return func(m *MockGenerator) {
		m.replies = append(m.replies, Reply{Err: err})
	}
}

// NewMockGenerator creates a generator with the given script
func NewMockGenerator(opts ...GeneratorOption) *MockGenerator {
	m := &MockGenerator{}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Generate returns the next scripted reply; the last reply repeats once the script is exhausted
func (m *MockGenerator) Generate(ctx context.Context, req prompt.Request) (*types.GeneratedQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(m.replies) == 0 {
		return nil, fmt.Errorf("mock generator has no scripted reply")
	}

	i := min(len(m.requests), len(m.replies)) - 1
	r := m.replies[i]

	if r.Err != nil {
		return nil, r.Err
	}

	q := *r.Query

	return &q, nil
}

// Calls returns the number of Generate invocations
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// LastRequest returns the most recent request
func (m *MockGenerator) LastRequest() prompt.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.requests) == 0 {
		return prompt.Request{}
	}

	return m.requests[len(m.requests)-1]
}

// KeywordEmbedder embeds text as normalised counts of a fixed vocabulary,
// so similarity in tests is easy to reason about
type KeywordEmbedder struct {
	vocabulary []string
	mu         sync.Mutex
	calls      int
}

// NewKeywordEmbedder creates an embedder over the given lowercase words
func NewKeywordEmbedder(vocabulary ...string) *KeywordEmbedder {
	return &KeywordEmbedder{vocabulary: vocabulary}
}

// GenerateEmbedding counts each vocabulary word in text
func (k *KeywordEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.calls++
	k.mu.Unlock()

	lower := strings.ToLower(text)
	vec := make([]float32, len(k.vocabulary))

	for i, w := range k.vocabulary {
		vec[i] = float32(strings.Count(lower, w))
	}

	return embedding.Normalize(vec), nil
}

// Calls returns the number of embeddings generated
func (k *KeywordEmbedder) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.calls
}

// GetDimensions returns the vocabulary size
func (k *KeywordEmbedder) GetDimensions() int { return len(k.vocabulary) }

// IsEnabled always reports true
func (k *KeywordEmbedder) IsEnabled() bool { return true }

// GetName returns the provider name for identification
func (k *KeywordEmbedder) GetName() string { return "keyword" }
