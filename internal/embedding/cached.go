package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps an Embedder with an LRU cache keyed by exact input
// text, capped at DefaultCacheSize entries per spec §4.1. On overflow the
// least-recently-inserted entry is evicted: lookups use Peek, which does
// not refresh an entry's recency, so golang-lru's Cache evicts in
// insertion order.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU cache of the given size. A
// size of 0 uses DefaultCacheSize.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if v, ok := c.cache.Peek(k); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(k, v)
	return v, nil
}

// EmbedBatch preserves input order in the output slice, checking the cache
// per-text and only calling the inner embedder for cache misses.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missText := make([]string, 0, len(texts))

	for i, t := range texts {
		if v, ok := c.cache.Peek(c.key(t)); ok {
			results[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, t)
	}

	if len(missText) == 0 {
		return results, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missText)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = embedded[j]
		c.cache.Add(c.key(texts[idx]), embedded[j])
	}
	return results, nil
}

func (c *CachedEmbedder) Dimensions() int         { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string       { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Reset clears the cache and resets the inner embedder.
func (c *CachedEmbedder) Reset() {
	c.cache.Purge()
	c.inner.Reset()
}

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }
