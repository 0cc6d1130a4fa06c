package llms

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"supportbot/internal/rag/interfaces"
)

// OpenAI implements the LLM interface against the OpenAI chat API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI client. An empty modelName falls back to
// gpt-4o-mini.
func NewOpenAI(apiKey, modelName string) *OpenAI {
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  modelName,
	}
}

// Generate sends the prompt to the model and returns the generated text.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ interfaces.LLM = (*OpenAI)(nil)
