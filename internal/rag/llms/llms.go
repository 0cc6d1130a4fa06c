package llms

import (
	"context"
	"fmt"

	"supportbot/internal/config"
	"supportbot/internal/rag/interfaces"
)

// NewClient is a factory that creates an LLM client for the provider named
// in the configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig) (interfaces.LLM, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "openai":
		return NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
