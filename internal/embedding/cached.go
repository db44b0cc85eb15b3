package embedding

import (
	"context"
	"time"

	"go.uber.org/zap"

	rediscache "github.com/product-agent/backend/internal/cache/redis"
	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/pkg/logger"
	"github.com/product-agent/backend/pkg/utils"
)

// Cached consults Redis before calling the wrapped embedder. Cache failures
// are logged and fall through to the provider.
type Cached struct {
	next  Embedder
	cache *rediscache.Client
	ttl   time.Duration
}

func NewCached(next Embedder, cache *rediscache.Client, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func (c *Cached) key(text string) string {
	return utils.CacheKey("embedding", c.next.Model(), text)
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok, err := c.cache.GetEmbedding(ctx, key); err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	} else if ok && len(vec) == c.next.Dimension() {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		return vec, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetEmbedding(ctx, key, vec, c.ttl); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return vec, nil
}

// EmbedBatch only sends cache misses to the provider, preserving input order.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		vec, ok, err := c.cache.GetEmbedding(ctx, c.key(text))
		if err == nil && ok && len(vec) == c.next.Dimension() {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(texts) - len(missIdx)))
	metrics.CacheMisses.WithLabelValues("embedding").Add(float64(len(missIdx)))

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vectors[j]
		if err := c.cache.SetEmbedding(ctx, c.key(missTexts[j]), vectors[j], c.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

func (c *Cached) Model() string  { return c.next.Model() }
func (c *Cached) Dimension() int { return c.next.Dimension() }
