package factory

import (
	"context"
	"fmt"
	"time"

	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/bedrock"
	"bioinsight-be/pkg/llm/huggingface"
	"bioinsight-be/pkg/llm/ollama"
	"bioinsight-be/pkg/llm/openai"
)

// ProviderConfig selects and configures one LLM backend.
type ProviderConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Region   string
	Timeout  time.Duration
}

func NewLLMProvider(ctx context.Context, cfg ProviderConfig) (llm.LLMProvider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an api key")
		}
		return openai.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "bedrock":
		return bedrock.NewBedrockProvider(ctx, cfg.Region, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
