package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingEmbedder memoises query embeddings in an LRU keyed by text.
// Document batches pass straight through; chunk texts are rarely repeated.
type CachingEmbedder struct {
	Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachingEmbedder wraps inner with an LRU of the given capacity.
func NewCachingEmbedder(inner Embedder, size int) (*CachingEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachingEmbedder{Embedder: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, embedding it on a miss.
// Errors are not cached.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// Len returns the number of cached queries.
func (c *CachingEmbedder) Len() int {
	return c.cache.Len()
}
