package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/product-agent/backend/internal/metrics"
	"github.com/product-agent/backend/pkg/circuitbreaker"
	"github.com/product-agent/backend/pkg/logger"
	"github.com/product-agent/backend/pkg/retry"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client      *openai.Client
	cfg         OpenAIConfig
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.InitialDelay = 500 * time.Millisecond
	retryConfig.Retryable = isTransient
	retryConfig.Logger = logger.GetLogger()

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("vision_model", cfg.VisionModel),
		zap.String("base_url", clientCfg.BaseURL),
	)

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		cb: circuitbreaker.New("openai", circuitbreaker.Config{
			MaxRequests:      3,
			OpenTimeout:      30 * time.Second,
			FailureThreshold: 5,
			IsFailure:        isTransient,
			OnStateChange:    recordBreakerState,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retryConfig,
	}
}

func (c *OpenAIClient) Name() string { return "openai:" + c.cfg.Model }

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	chatReq := c.chatRequest(req)

	var result *Response
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return retry.Permanent(ErrEmptyResponse)
			}

			result = &Response{
				Content: resp.Choices[0].Message.Content,
				Model:   resp.Model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues(c.cfg.Model, "prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(c.cfg.Model, "completion").Add(float64(result.Usage.CompletionTokens))
	logger.Debug("LLM completion generated",
		zap.Int("prompt_tokens", result.Usage.PromptTokens),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
	)

	return result, nil
}

// Stream forwards deltas to onChunk as they arrive. It is not retried once
// any chunk has been delivered.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, onChunk func(string) error) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	chatReq := c.chatRequest(req)
	chatReq.Stream = true

	var sb strings.Builder
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("failed to open completion stream: %w", err)
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("completion stream failed: %w", err)
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			sb.WriteString(delta)
			if err := onChunk(delta); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(sb.String()) == "" {
		return nil, ErrEmptyResponse
	}

	return &Response{Content: sb.String(), Model: c.cfg.Model}, nil
}

// Describe sends one image as a data URI alongside the instruction.
func (c *OpenAIClient) Describe(ctx context.Context, instruction string, img Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	mime := img.MIMEType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	dataURI := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)

	chatReq := openai.ChatCompletionRequest{
		Model:       c.cfg.VisionModel,
		Temperature: 0.1,
		MaxTokens:   800,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: instruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	}

	var out string
	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return fmt.Errorf("failed to analyze image: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(ErrEmptyResponse)
			}
			out = resp.Choices[0].Message.Content
			return nil
		})
	})
	return out, err
}

func (c *OpenAIClient) chatRequest(req Request) openai.ChatCompletionRequest {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.System,
	})
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAgent {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Query,
	})

	return openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// isTransient reports whether err is worth retrying: network failures,
// rate limits and 5xx. Other 4xx responses are caller errors.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, ErrEmptyResponse)
}

func recordBreakerState(name string, _, to circuitbreaker.State) {
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
}
