package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/product-agent/backend/pkg/logger"
	"github.com/product-agent/backend/pkg/retry"
)

const openAIBatchSize = 100

// OpenAI embeds through any OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client      *openai.Client
	model       string
	dimension   int
	retryConfig retry.Config
}

func NewOpenAI(apiKey, baseURL, model string, dimension int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	retryConfig := retry.DefaultConfig()
	retryConfig.Logger = logger.GetLogger()

	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		dimension:   dimension,
		retryConfig: retryConfig,
	}
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += openAIBatchSize {
		end := min(i+openAIBatchSize, len(texts))

		req := openai.EmbeddingRequest{
			Input: texts[i:end],
			Model: openai.EmbeddingModel(o.model),
		}

		resp, err := retry.DoWithResult(ctx, o.retryConfig, func(ctx context.Context) (openai.EmbeddingResponse, error) {
			return o.client.CreateEmbeddings(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != end-i {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), end-i)
		}
		for _, d := range resp.Data {
			out = append(out, d.Embedding)
		}
	}

	if err := checkDimensions(out, o.dimension); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *OpenAI) Model() string  { return o.model }
func (o *OpenAI) Dimension() int { return o.dimension }
