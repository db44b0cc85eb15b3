// Package retrieval answers "which manual passages of this one model are
// relevant to the query". It is best-effort: any failure yields no context.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/embedding"
	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/internal/vector"
	"github.com/product-agent/backend/pkg/logger"
)

const (
	DefaultTopK    = 3
	DefaultTimeout = 30 * time.Second
)

type Retriever struct {
	index    vector.Index
	embedder embedding.Embedder
	topK     int
	timeout  time.Duration
}

type Option func(*Retriever)

func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New returns a retriever. A nil index or embedder yields a retriever that
// always returns no context, which is how "no index configured" is expressed.
func New(index vector.Index, embedder embedding.Embedder, opts ...Option) *Retriever {
	r := &Retriever{index: index, embedder: embedder, topK: DefaultTopK, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retriever) Enabled() bool {
	return r != nil && r.index != nil && r.embedder != nil
}

// Search returns at most topK chunks belonging to modelID. Chunks tagged with
// any other model are discarded even if the index returned them.
func (r *Retriever) Search(ctx context.Context, modelID, query string) ([]vector.Hit, error) {
	if !r.Enabled() || modelID == "" || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	emb, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, vector.Namespace(modelID), modelID, emb, r.topK)
	if err != nil {
		return nil, err
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.ModelID != modelID {
			logger.Warn("Discarding chunk from foreign namespace",
				zap.String("model_id", modelID),
				zap.String("chunk_model_id", h.ModelID),
				zap.String("chunk_id", h.ChunkID),
			)
			continue
		}
		kept = append(kept, h)
		if len(kept) == r.topK {
			break
		}
	}
	return kept, nil
}

// Retrieve is Search formatted for the prompt. Errors are logged and
// reported as empty context.
func (r *Retriever) Retrieve(ctx context.Context, modelID, query string) string {
	hits, err := r.Search(ctx, modelID, query)
	if err != nil {
		metrics.DegradedLayers.WithLabelValues("retrieval").Inc()
		logger.Warn("Retrieval unavailable, continuing without documents",
			zap.String("model_id", modelID),
			zap.Error(err),
		)
		return ""
	}
	metrics.RetrievedChunks.Observe(float64(len(hits)))
	return Format(hits)
}

// Format renders hits as "[section] text (relevance: 0.87)" separated by blank lines.
func Format(hits []vector.Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		text := strings.TrimSpace(h.Text)
		if text == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s] %s (relevance: %.2f)", h.Section, text, h.Score))
	}
	return strings.Join(parts, "\n\n")
}
