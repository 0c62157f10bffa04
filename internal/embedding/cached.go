package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

var _ Embedder = (*Cached)(nil)

// Cached memoizes vectors from another Embedder keyed by model and text, so
// a full-history rebuild only embeds entries it has not seen recently.
type Cached struct {
	inner Embedder
	cache *cache.Cache
}

// NewCached wraps inner with an in-memory cache. Entries expire after ttl
// (cache.NoExpiration when ttl <= 0).
func NewCached(inner Embedder, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := 10 * time.Minute
	if ttl == cache.NoExpiration {
		cleanup = 0
	}
	return &Cached{
		inner: inner,
		cache: cache.New(ttl, cleanup),
	}
}

// Embed returns the cached vector for text or computes and stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.cache.Get(key); ok {
		return v.([]float32), nil
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, v)
	return v, nil
}

// EmbedBatch serves hits from the cache and sends only misses to the inner
// embedder, preserving input order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if v, ok := c.cache.Get(c.key(text)); ok {
			out[i] = v.([]float32)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingUnavailable, len(missTexts), len(vectors))
	}
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.cache.SetDefault(c.key(missTexts[j]), v)
	}
	return out, nil
}

// ModelName returns the wrapped embedder's model.
func (c *Cached) ModelName() string {
	return c.inner.ModelName()
}

// Len returns the number of cached vectors.
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}

func (c *Cached) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
