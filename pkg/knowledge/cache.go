package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/germanamz/promptkit/pkg/modeladapter"
	"github.com/germanamz/promptkit/pkg/store"
)

var _ modeladapter.Embedder = (*CachedEmbedder)(nil)

// Cache stores vectors by model and content hash. *store.Store implements it.
type Cache interface {
	GetEmbedding(ctx context.Context, model, hash string) ([]float32, error)
	PutEmbedding(ctx context.Context, model, hash string, vec []float32) error
}

// CachedEmbedder serves embeddings from a Cache and only sends misses to the
// wrapped Embedder.
type CachedEmbedder struct {
	inner modeladapter.Embedder
	cache Cache
	model string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder wraps inner. model namespaces the cache so vectors from
// different embedding models never mix.
func NewCachedEmbedder(inner modeladapter.Embedder, cache Cache, model string) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: cache, model: model}
}

// Hits returns how many inputs were served from the cache.
func (c *CachedEmbedder) Hits() int64 { return c.hits.Load() }

// Misses returns how many inputs were sent to the wrapped embedder.
func (c *CachedEmbedder) Misses() int64 { return c.misses.Load() }

// Embed implements modeladapter.Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))
	hashes := make([]string, len(inputs))

	var (
		missIdx   []int
		missTexts []string
	)

	for i, in := range inputs {
		hashes[i] = Hash(in)

		vec, err := c.cache.GetEmbedding(ctx, c.model, hashes[i])
		switch {
		case err == nil:
			out[i] = vec
			c.hits.Add(1)
		case errors.Is(err, store.ErrNotFound):
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, in)
		default:
			return nil, fmt.Errorf("knowledge: cache lookup: %w", err)
		}
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	c.misses.Add(int64(len(missTexts)))

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("knowledge: got %d embeddings for %d inputs", len(vecs), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.cache.PutEmbedding(ctx, c.model, hashes[i], vecs[j]); err != nil {
			return nil, fmt.Errorf("knowledge: cache store: %w", err)
		}
	}

	return out, nil
}

// Hash returns the hex SHA-256 of text, the cache key for its embedding.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
