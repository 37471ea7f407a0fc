// Package embedding defines the embedder contract and the cache that fronts
// every provider call.
//
// Cache keys bind the vector to everything that influenced it: the embedder,
// its version, the canonicalization profile, and the content hash of the
// canonical text. Any of those changing means a different key, so stale
// vectors can never be served after a model or profile upgrade.
package embedding

import (
	"context"
	"fmt"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/textnorm"
	"github.com/quarrylabs/quarry/internal/trace"
)

// Embedder turns texts into vectors. One call embeds the whole batch;
// implementations may fan out internally but must preserve order.
type Embedder interface {
	ID() string
	Version() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CacheKey builds the embedding cache key for one text.
func CacheKey(embedderID, embedderVersion, profileID, contentHash string) string {
	return embedderID + ":" + embedderVersion + ":" + profileID + ":" + contentHash
}

// Cache stores vectors by cache key. Get returns only the keys it has;
// callers treat absent keys as misses.
type Cache interface {
	Get(ctx context.Context, keys []string) (map[string][]float32, error)
	Put(ctx context.Context, vectors map[string][]float32) error
}

// Stats reports the outcome of one cached embedding batch.
type Stats struct {
	Hits   int
	Misses int
}

// CachedEmbedder wraps an Embedder with a Cache. Misses are embedded in a
// single batched provider call; results come back in input order regardless
// of the hit/miss interleaving.
type CachedEmbedder struct {
	inner     Embedder
	cache     Cache
	profileID string
	emitter   trace.Emitter
	logger    log.Logger
}

// NewCachedEmbedder wraps inner with cache. A nil emitter disables events.
func NewCachedEmbedder(inner Embedder, cache Cache, profileID string, emitter trace.Emitter, logger log.Logger) *CachedEmbedder {
	if emitter == nil {
		emitter = trace.NopEmitter{}
	}
	return &CachedEmbedder{
		inner:     inner,
		cache:     cache,
		profileID: profileID,
		emitter:   emitter,
		logger:    logger.With("component", "embedding"),
	}
}

// ID returns the wrapped embedder's ID.
func (c *CachedEmbedder) ID() string { return c.inner.ID() }

// Version returns the wrapped embedder's version.
func (c *CachedEmbedder) Version() string { return c.inner.Version() }

// Dimension returns the wrapped embedder's output dimension.
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

// Embed returns one vector per text, serving from cache where possible.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, _, err := c.EmbedWithStats(ctx, texts)
	return vecs, err
}

// EmbedWithStats is Embed plus hit/miss counts.
func (c *CachedEmbedder) EmbedWithStats(ctx context.Context, texts []string) ([][]float32, Stats, error) {
	var stats Stats
	if len(texts) == 0 {
		return nil, stats, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		hash, err := textnorm.ContentHash(text, c.profileID)
		if err != nil {
			return nil, stats, fmt.Errorf("hashing text %d: %w", i, err)
		}
		keys[i] = CacheKey(c.inner.ID(), c.inner.Version(), c.profileID, hash)
	}

	cached, err := c.cache.Get(ctx, keys)
	if err != nil {
		return nil, stats, fmt.Errorf("reading embedding cache: %w", err)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, key := range keys {
		if vec, ok := cached[key]; ok {
			out[i] = vec
			stats.Hits++
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
		stats.Misses++
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, stats, fmt.Errorf("embedding %d texts with %s: %w", len(missTexts), c.inner.ID(), err)
		}
		if len(vecs) != len(missTexts) {
			return nil, stats, fmt.Errorf("embedder %s returned %d vectors for %d texts",
				c.inner.ID(), len(vecs), len(missTexts))
		}

		fresh := make(map[string][]float32, len(missIdx))
		for j, i := range missIdx {
			out[i] = vecs[j]
			fresh[keys[i]] = vecs[j]
		}
		if err := c.cache.Put(ctx, fresh); err != nil {
			// A write failure only costs a future recompute.
			c.logger.Warn("failed to write embedding cache", "error", err, "count", len(fresh))
		}
	}

	c.emitter.Emit(ctx, trace.EventEmbedCache, map[string]any{
		"embedder": c.inner.ID(),
		"hits":     stats.Hits,
		"misses":   stats.Misses,
	})
	return out, stats, nil
}
