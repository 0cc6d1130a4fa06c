package llms

import (
	"context"
	"testing"

	"supportbot/internal/config"
)

func TestNewClientUnknownProvider(t *testing.T) {
	if _, err := NewClient(context.Background(), config.LLMConfig{Provider: "llama"}); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}

func TestNewClientOpenAI(t *testing.T) {
	llm, err := NewClient(context.Background(), config.LLMConfig{
		Provider: "openai",
		OpenAI:   config.OpenAIConfig{APIKey: "sk-test"},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, ok := llm.(*OpenAI); !ok {
		t.Errorf("got %T, want *OpenAI", llm)
	}
}
