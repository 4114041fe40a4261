package embedding

import "context"

// CachedEmbedder memoizes query-time Embed calls. Batch calls bypass the
// cache; they are build-time bulk work that would only churn it.
type CachedEmbedder struct {
	Embedder
	cache *Cache
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: inner, cache: NewCache(size)}
}

// Embed returns the cached vector for text or computes and stores it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, v)
	return v, nil
}

// Cache exposes the underlying cache for stats.
func (c *CachedEmbedder) Cache() *Cache {
	return c.cache
}
