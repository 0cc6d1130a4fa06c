package embeddings

import (
	"context"
	"fmt"

	"supportbot/internal/config"
	"supportbot/internal/rag/interfaces"
)

// NewClient is a factory that creates an embedding client for the provider
// named in the configuration.
func NewClient(ctx context.Context, cfg config.EmbeddingConfig) (interfaces.EmbeddingModel, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiModel(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "openai":
		return NewOpenAIModel(cfg.OpenAI.APIKey, cfg.OpenAI.Model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
