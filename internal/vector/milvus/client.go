package milvus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/vector"
	"github.com/product-agent/backend/pkg/logger"
)

const (
	fieldID        = "chunk_id"
	fieldModelID   = "model_id"
	fieldSection   = "section"
	fieldText      = "text"
	fieldEmbedding = "embedding"
	fieldIndexedAt = "indexed_at"

	maxTextLen = 8192
)

// Client stores every model's manual in one collection, one partition per
// namespace, with model_id carried on each row as a second isolation key.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int

	mu         sync.Mutex
	partitions map[string]bool
}

var _ vector.Index = (*Client)(nil)

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	cfg := client.Config{Address: endpoint}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.EnableTLSAuth = true
	}

	c, err := client.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
		zap.Int("dim", vectorDim),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		partitions:     make(map[string]bool),
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// EnsureCollection creates and loads the collection if it is missing.
func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return m.client.LoadCollection(ctx, m.collectionName, false)
	}

	schema := entity.NewSchema().
		WithName(m.collectionName).
		WithDescription("Product manual chunks, partitioned per model").
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).
			WithIsPrimaryKey(true).WithMaxLength(256)).
		WithField(entity.NewField().WithName(fieldModelID).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(128)).
		WithField(entity.NewField().WithName(fieldSection).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxTextLen)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(m.vectorDim))).
		WithField(entity.NewField().WithName(fieldIndexedAt).WithDataType(entity.FieldTypeInt64))

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := m.client.CreateIndex(ctx, m.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

func (m *Client) ensurePartition(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.partitions[namespace] {
		return nil
	}
	has, err := m.client.HasPartition(ctx, m.collectionName, namespace)
	if err != nil {
		return fmt.Errorf("failed to check partition %s: %w", namespace, err)
	}
	if !has {
		if err := m.client.CreatePartition(ctx, m.collectionName, namespace); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", namespace, err)
		}
	}
	m.partitions[namespace] = true
	return nil
}

// Upsert replaces a model's rows in namespace with chunks.
func (m *Client) Upsert(ctx context.Context, namespace string, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := m.ensurePartition(ctx, namespace); err != nil {
		return err
	}

	modelID := chunks[0].ModelID
	ids := make([]string, len(chunks))
	models := make([]string, len(chunks))
	sections := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	indexedAt := make([]int64, len(chunks))
	now := time.Now().Unix()

	for i, ch := range chunks {
		if ch.ModelID != modelID {
			return fmt.Errorf("chunk %s belongs to %s, batch is for %s", ch.ID, ch.ModelID, modelID)
		}
		if len(ch.Embedding) != m.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", ch.ID, len(ch.Embedding), m.vectorDim)
		}
		text := ch.Text
		if len(text) > maxTextLen {
			text = text[:maxTextLen]
		}
		ids[i] = ch.ID
		models[i] = ch.ModelID
		sections[i] = ch.Section
		texts[i] = text
		embeddings[i] = ch.Embedding
		indexedAt[i] = now
	}

	if err := m.client.Delete(ctx, m.collectionName, namespace, modelFilter(modelID)); err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", namespace, err)
	}

	_, err := m.client.Insert(ctx, m.collectionName, namespace,
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldModelID, models),
		entity.NewColumnVarChar(fieldSection, sections),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnFloatVector(fieldEmbedding, m.vectorDim, embeddings),
		entity.NewColumnInt64(fieldIndexedAt, indexedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks indexed",
		zap.String("namespace", namespace),
		zap.String("model_id", modelID),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func (m *Client) Search(ctx context.Context, namespace, modelID string, embedding []float32, topK int) ([]vector.Hit, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	results, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{namespace},
		modelFilter(modelID),
		[]string{fieldID, fieldModelID, fieldSection, fieldText},
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", namespace, err)
	}

	hits := make([]vector.Hit, 0, topK)
	for _, sr := range results {
		idCol := sr.Fields.GetColumn(fieldID)
		modelCol := sr.Fields.GetColumn(fieldModelID)
		sectionCol := sr.Fields.GetColumn(fieldSection)
		textCol := sr.Fields.GetColumn(fieldText)
		if idCol == nil || modelCol == nil || sectionCol == nil || textCol == nil {
			return nil, fmt.Errorf("search result for %s is missing output fields", namespace)
		}

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := idCol.GetAsString(i)
			model, _ := modelCol.GetAsString(i)
			section, _ := sectionCol.GetAsString(i)
			text, _ := textCol.GetAsString(i)
			hits = append(hits, vector.Hit{
				ChunkID: id,
				ModelID: model,
				Section: section,
				Text:    text,
				Score:   normaliseCosine(sr.Scores[i]),
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.String("namespace", namespace),
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
	)
	return hits, nil
}

func (m *Client) HasNamespace(ctx context.Context, namespace string) (bool, error) {
	has, err := m.client.HasPartition(ctx, m.collectionName, namespace)
	if err != nil {
		return false, fmt.Errorf("failed to check partition %s: %w", namespace, err)
	}
	return has, nil
}

func (m *Client) DropNamespace(ctx context.Context, namespace string) error {
	has, err := m.HasNamespace(ctx, namespace)
	if err != nil || !has {
		return err
	}
	if err := m.client.ReleasePartitions(ctx, m.collectionName, []string{namespace}); err != nil {
		return fmt.Errorf("failed to release partition %s: %w", namespace, err)
	}
	if err := m.client.DropPartition(ctx, m.collectionName, namespace); err != nil {
		return fmt.Errorf("failed to drop partition %s: %w", namespace, err)
	}

	m.mu.Lock()
	delete(m.partitions, namespace)
	m.mu.Unlock()

	logger.Info("Namespace dropped", zap.String("namespace", namespace))
	return nil
}

func modelFilter(modelID string) string {
	return fieldModelID + " == " + strconv.Quote(modelID)
}

// normaliseCosine maps cosine similarity from [-1,1] to [0,1].
func normaliseCosine(s float32) float32 {
	v := (s + 1) / 2
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
