package semantic

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"
)

const (
	// DefaultLimit bounds search results when the caller passes no limit.
	DefaultLimit = 10

	// DefaultThreshold is the minimum cosine similarity a result must reach.
	DefaultThreshold = 0.3
)

// Document is one indexable item.
type Document struct {
	ID   string
	Text string
}

// Result is one search hit, ordered by descending score.
type Result struct {
	ID    string
	Score float64
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithLimit sets the default result limit. Values outside 1..100 are clamped.
func WithLimit(n int) IndexOption {
	return func(ix *Index) {
		if n < 1 {
			n = 1
		}
		if n > 100 {
			n = 100
		}
		ix.limit = n
	}
}

// WithThreshold sets the minimum similarity score for results.
func WithThreshold(t float64) IndexOption {
	return func(ix *Index) { ix.threshold = t }
}

// WithIndexLogger sets the logger. If not provided, logs are discarded.
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(ix *Index) { ix.log = l }
}

// Index is an in-memory cosine similarity index over embedded documents.
// Safe for concurrent use.
type Index struct {
	emb       Embedder
	limit     int
	threshold float64
	log       *slog.Logger

	mu   sync.RWMutex
	ids  []string
	vecs [][]float32
}

// NewIndex builds an empty index backed by emb.
func NewIndex(emb Embedder, opts ...IndexOption) *Index {
	ix := &Index{
		emb:       emb,
		limit:     DefaultLimit,
		threshold: DefaultThreshold,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Rebuild replaces the index contents with the given documents.
func (ix *Index) Rebuild(ctx context.Context, docs []Document) error {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vecs, err := ix.emb.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	ix.mu.Lock()
	ix.ids = ids
	ix.vecs = vecs
	ix.mu.Unlock()

	ix.log.Debug("index.rebuild", slog.Int("docs", len(docs)))
	return nil
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// Search embeds the query and returns the closest documents by cosine
// similarity, best first. Results below the threshold are dropped. A
// non-positive limit uses the index default.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = ix.limit
	}

	qvecs, err := ix.emb.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qv := qvecs[0]

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]Result, 0, len(ix.ids))
	for i, id := range ix.ids {
		score := cosine(qv, ix.vecs[i])
		if score < ix.threshold {
			continue
		}
		results = append(results, Result{ID: id, Score: score})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// cosine returns the cosine similarity of a and b, or 0 when either vector
// is empty or zero-length.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
