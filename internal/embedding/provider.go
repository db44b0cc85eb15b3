package embedding

import (
	"fmt"

	"github.com/product-agent/backend/pkg/config"
)

// FromConfig builds the configured provider. OpenAI reuses the LLM key and
// base URL so OpenAI-compatible gateways work for both.
func FromConfig(cfg config.EmbeddingConfig, llmCfg config.LLMConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(llmCfg.APIKey, llmCfg.BaseURL, cfg.Model, cfg.Dimension), nil
	case "ollama", "":
		return NewOllama(cfg.OllamaURL, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}
