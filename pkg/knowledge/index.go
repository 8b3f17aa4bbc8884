package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/germanamz/promptkit/pkg/modeladapter"
)

// ErrEmptyIndex is returned when searching an index with no chunks.
var ErrEmptyIndex = errors.New("knowledge: index is empty")

// IndexOptions configures an Index.
type IndexOptions struct {
	BatchSize   int // Texts per Embed call (default 16).
	Concurrency int // Embed calls in flight (default 4).
}

// Result is a chunk returned by Search.
type Result struct {
	Text  string
	Score float64
	// Position is the chunk's insertion order.
	Position int
}

type chunk struct {
	text   string
	vector []float32
}

// Index holds embedded chunks in memory and searches them by cosine
// similarity.
type Index struct {
	embedder modeladapter.Embedder
	opts     IndexOptions

	mu     sync.RWMutex
	chunks []chunk
}

// NewIndex creates an empty Index.
func NewIndex(embedder modeladapter.Embedder, opts IndexOptions) *Index {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Index{embedder: embedder, opts: opts}
}

// Len returns the number of chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.chunks)
}

// AddDocument splits text and adds the chunks.
func (ix *Index) AddDocument(ctx context.Context, text string, s Splitter) error {
	return ix.Add(ctx, s.Split(text)...)
}

// Add embeds texts in concurrent batches and appends them in the given
// order. Nothing is added when any batch fails.
func (ix *Index) Add(ctx context.Context, texts ...string) error {
	if len(texts) == 0 {
		return nil
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Concurrency)

	for start := 0; start < len(texts); start += ix.opts.BatchSize {
		end := min(start+ix.opts.BatchSize, len(texts))

		g.Go(func() error {
			vecs, err := ix.embedder.Embed(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("knowledge: embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("knowledge: embed chunks %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			copy(vectors[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, t := range texts {
		ix.chunks = append(ix.chunks, chunk{text: t, vector: vectors[i]})
	}

	return nil
}

// Search returns the k chunks most similar to query, best first. Equal
// scores keep insertion order.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	chunks := ix.chunks
	ix.mu.RUnlock()

	if len(chunks) == 0 {
		return nil, ErrEmptyIndex
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("knowledge: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("knowledge: embed query: got %d vectors", len(vecs))
	}

	results := make([]Result, len(chunks))
	for i, c := range chunks {
		results[i] = Result{Text: c.text, Score: Cosine(vecs[0], c.vector), Position: i}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}

	return results, nil
}

// Retrieve returns the text of the k best chunks. An empty index yields no
// chunks rather than an error.
func (ix *Index) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	results, err := ix.Search(ctx, query, k)
	if errors.Is(err, ErrEmptyIndex) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Text
	}
	return out, nil
}
