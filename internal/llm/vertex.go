package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/pkg/circuitbreaker"
	"github.com/product-agent/backend/pkg/logger"
	"github.com/product-agent/backend/pkg/retry"
)

type VertexConfig struct {
	ProjectID   string
	Location    string
	Model       string
	VisionModel string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// VertexClient serves generation and vision through Gemini on Vertex AI.
type VertexClient struct {
	client      *genai.Client
	cfg         VertexConfig
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.Logger = logger.GetLogger()

	logger.Info("Vertex client initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("location", cfg.Location),
		zap.String("model", cfg.Model),
	)

	return &VertexClient{
		client: client,
		cfg:    cfg,
		cb: circuitbreaker.New("vertex", circuitbreaker.Config{
			MaxRequests:      3,
			OpenTimeout:      30 * time.Second,
			FailureThreshold: 5,
			OnStateChange:    recordBreakerState,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retryConfig,
	}, nil
}

func (v *VertexClient) Close() error { return v.client.Close() }

func (v *VertexClient) Name() string { return "vertex:" + v.cfg.Model }

// session builds a fresh model handle per call; GenerativeModel carries
// per-request settings and is not safe to share.
func (v *VertexClient) session(req Request) *genai.ChatSession {
	model := v.client.GenerativeModel(v.cfg.Model)
	temperature := req.Temperature
	if temperature == 0 {
		temperature = v.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = v.cfg.MaxTokens
	}
	model.SetTemperature(temperature)
	if maxTokens > 0 {
		model.SetMaxOutputTokens(int32(maxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	cs := model.StartChat()
	for _, m := range req.History {
		role := "user"
		if m.Role == RoleAgent {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return cs
}

func (v *VertexClient) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	var result *Response
	err := v.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, v.retryConfig, func(ctx context.Context) error {
			resp, err := v.session(req).SendMessage(ctx, genai.Text(req.Query))
			if err != nil {
				return fmt.Errorf("failed to generate content: %w", err)
			}
			text := collectText(resp)
			if strings.TrimSpace(text) == "" {
				return retry.Permanent(ErrEmptyResponse)
			}
			result = &Response{Content: text, Model: v.cfg.Model, Usage: usageOf(resp)}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(v.cfg.Model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(v.cfg.Model, "completion").Add(float64(result.Usage.CompletionTokens))
	return result, nil
}

func (v *VertexClient) Stream(ctx context.Context, req Request, onChunk func(string) error) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	var sb strings.Builder
	var usage Usage
	err := v.cb.Execute(ctx, func(ctx context.Context) error {
		it := v.session(req).SendMessageStream(ctx, genai.Text(req.Query))
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("content stream failed: %w", err)
			}
			if resp.UsageMetadata != nil {
				usage = usageOf(resp)
			}
			if text := collectText(resp); text != "" {
				sb.WriteString(text)
				if err := onChunk(text); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{Content: sb.String(), Model: v.cfg.Model, Usage: usage}, nil
}

func (v *VertexClient) Describe(ctx context.Context, instruction string, img Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	format := strings.TrimPrefix(img.MIMEType, "image/")
	if format == "" || format == img.MIMEType {
		format = "jpeg"
	}

	model := v.client.GenerativeModel(v.cfg.VisionModel)
	model.SetTemperature(0.1)

	var out string
	err := v.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, v.retryConfig, func(ctx context.Context) error {
			resp, err := model.GenerateContent(ctx, genai.Text(instruction), genai.ImageData(format, img.Data))
			if err != nil {
				return fmt.Errorf("failed to analyze image: %w", err)
			}
			out = collectText(resp)
			return nil
		})
	})
	return out, err
}

func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return sb.String()
}

func usageOf(resp *genai.GenerateContentResponse) Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}
