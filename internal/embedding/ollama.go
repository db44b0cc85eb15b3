package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.uber.org/zap"

	"github.com/product-agent/backend/pkg/logger"
)

// Ollama embeds through a local Ollama server via langchaingo.
type Ollama struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

func NewOllama(serverURL, model string, dimension int) (*Ollama, error) {
	if dimension == 0 {
		dimension = DefaultDimension
	}

	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(32))
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}

	logger.Info("Ollama embedder initialized", zap.String("model", model), zap.Int("dimension", dimension))
	return &Ollama{embedder: emb, model: model, dimension: dimension}, nil
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vector) != o.dimension {
		return nil, fmt.Errorf("dimension mismatch: got %d, want %d", len(vector), o.dimension)
	}

	logger.Debug("Embedding complete",
		zap.String("model", o.model),
		zap.Int("text_len", len(text)),
		zap.Duration("duration", time.Since(start)),
	)
	return vector, nil
}

func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := o.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, errors.New("embed batch: result count does not match input")
	}
	if err := checkDimensions(vectors, o.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (o *Ollama) Model() string  { return o.model }
func (o *Ollama) Dimension() int { return o.dimension }
