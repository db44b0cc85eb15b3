// Package ingestion chunks catalog manuals and writes them into the vector
// index, one namespace per model.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/catalog"
	"github.com/product-agent/backend/internal/embedding"
	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/internal/vector"
	"github.com/product-agent/backend/pkg/logger"
)

// RunRecorder persists the outcome of indexing one model.
type RunRecorder interface {
	RecordIndexRun(ctx context.Context, modelID, namespace string, chunks int, indexedAt time.Time) error
}

type Indexer struct {
	index    vector.Index
	embedder embedding.Embedder
	chunker  *Chunker
	recorder RunRecorder
}

func NewIndexer(index vector.Index, embedder embedding.Embedder, chunker *Chunker, recorder RunRecorder) *Indexer {
	return &Indexer{index: index, embedder: embedder, chunker: chunker, recorder: recorder}
}

// IndexModel embeds one model's chunks into its own namespace and returns the count.
func (ix *Indexer) IndexModel(ctx context.Context, m catalog.Model) (int, error) {
	chunks, err := ix.chunker.ChunkModel(m)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		logger.Info("No manual content to index", zap.String("model_id", m.ModelID))
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed %s: %w", m.ModelID, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch for %s: got %d, want %d", m.ModelID, len(embeddings), len(chunks))
	}

	namespace := vector.Namespace(m.ModelID)
	rows := make([]vector.Chunk, len(chunks))
	for i, ch := range chunks {
		rows[i] = vector.Chunk{
			ID:        ch.ID,
			ModelID:   ch.ModelID,
			Section:   ch.Section,
			Text:      ch.Text,
			Embedding: embeddings[i],
		}
		metrics.ChunksIndexed.WithLabelValues(ch.Section).Inc()
	}

	if err := ix.index.Upsert(ctx, namespace, rows); err != nil {
		return 0, fmt.Errorf("failed to upsert %s: %w", m.ModelID, err)
	}

	if ix.recorder != nil {
		if err := ix.recorder.RecordIndexRun(ctx, m.ModelID, namespace, len(rows), time.Now()); err != nil {
			logger.Warn("Failed to record index run", zap.String("model_id", m.ModelID), zap.Error(err))
		}
	}

	logger.Info("Model indexed",
		zap.String("model_id", m.ModelID),
		zap.String("namespace", namespace),
		zap.Int("chunks", len(rows)),
	)
	return len(rows), nil
}

// IndexCatalog indexes every model, continuing past individual failures.
func (ix *Indexer) IndexCatalog(ctx context.Context, cat *catalog.Catalog) (indexed int, failed []string) {
	for _, match := range cat.All() {
		if err := ctx.Err(); err != nil {
			failed = append(failed, match.Model.ModelID)
			continue
		}
		if _, err := ix.IndexModel(ctx, match.Model); err != nil {
			logger.Error("Failed to index model", zap.String("model_id", match.Model.ModelID), zap.Error(err))
			failed = append(failed, match.Model.ModelID)
			continue
		}
		indexed++
	}
	return indexed, failed
}

func (ix *Indexer) DropModel(ctx context.Context, modelID string) error {
	return ix.index.DropNamespace(ctx, vector.Namespace(modelID))
}
