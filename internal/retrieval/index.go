// Package retrieval ranks schema columns by semantic similarity to a question.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kyleking/sql-assist/internal/embedding"
	"github.com/kyleking/sql-assist/internal/errors"
	"github.com/kyleking/sql-assist/internal/schema"
)

// DefaultTopK is the number of descriptors returned when k is not positive
const DefaultTopK = 5

// Element is one (table, column) pair of the schema
type Element struct {
	Table       string
	Column      string
	Type        string
	Description string
}

// Descriptor renders the canonical text that is embedded for e
func (e Element) Descriptor() string {
	return fmt.Sprintf("Table: %s, Column: %s, Type: %s, Desc: %s", e.Table, e.Column, e.Type, e.Description)
}

// Entry is an indexed element with its embedding
type Entry struct {
	Element
	Descriptor string
	Vector     []float32
}

// Match is a ranked entry
type Match struct {
	Element
	Descriptor string
	Score      float64
}

// Index holds one entry per schema column in schema order. It is read-only
// after BuildIndex returns and may be shared between sessions.
type Index struct {
	entries  []Entry
	provider embedding.Provider
}

// BuildOptions tunes index construction
type BuildOptions struct {
	Workers     int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// BuildIndex embeds every column descriptor of model. A caching provider
// stores the descriptor vectors; questions passed to Retrieve bypass the cache.
func BuildIndex(ctx context.Context, model *schema.Model, provider embedding.Provider, opts BuildOptions) (*Index, error) {
	if !provider.IsEnabled() {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "embedding provider %s is not enabled", provider.GetName()).
			WithSuggestion("Set an API key for remote embeddings or use the hash provider")
	}

	var elements []Element
	for _, t := range model.Tables() {
		for _, c := range t.Columns {
			elements = append(elements, Element{
				Table:       t.Name,
				Column:      c.Name,
				Type:        c.Type,
				Description: c.Description,
			})
		}
	}

	tasks := make([]Task[[]float32], len(elements))
	for i, el := range elements {
		descriptor := el.Descriptor()
		tasks[i] = func(ctx context.Context) ([]float32, error) {
			return provider.GenerateEmbedding(ctx, descriptor)
		}
	}

	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}

	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}

	vectors, err := Run(ctx, NewWorkerPool(opts.Workers, opts.BackoffBase, opts.MaxBackoff), tasks)
	if err != nil {
		if errors.GetType(err) != errors.ErrTypeInternal {
			return nil, err
		}

		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to embed schema descriptors")
	}

	entries := make([]Entry, len(elements))
	for i, el := range elements {
		entries[i] = Entry{Element: el, Descriptor: el.Descriptor(), Vector: vectors[i]}
	}

	return &Index{entries: entries, provider: embedding.Uncached(provider)}, nil
}

// Len returns the number of indexed columns
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entries returns the indexed entries in schema order
func (idx *Index) Entries() []Entry {
	return append([]Entry(nil), idx.entries...)
}

// Retrieve returns the k entries most similar to question, highest score
// first. Equal scores keep schema order. A k larger than the index returns
// every entry.
func (idx *Index) Retrieve(ctx context.Context, question string, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	q, err := idx.provider.GenerateEmbedding(ctx, question)
	if err != nil {
		if errors.GetType(err) != errors.ErrTypeInternal {
			return nil, err
		}

		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to embed question")
	}

	matches := make([]Match, len(idx.entries))
	for i, e := range idx.entries {
		matches[i] = Match{Element: e.Element, Descriptor: e.Descriptor, Score: cosineSimilarity(q, e.Vector)}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k < len(matches) {
		matches = matches[:k]
	}

	return matches, nil
}

// Descriptors returns the descriptor text of each match, in rank order
func Descriptors(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Descriptor
	}

	return out
}

// Tables returns the distinct tables of matches in order of first appearance
func Tables(matches []Match) []string {
	seen := map[string]bool{}

	var out []string
	for _, m := range matches {
		if !seen[m.Table] {
			seen[m.Table] = true
			out = append(out, m.Table)
		}
	}

	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
