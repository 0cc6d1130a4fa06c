package llms

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"supportbot/internal/rag/interfaces"
)

// Gemini implements the LLM interface against the Gemini API.
type Gemini struct {
	model *genai.GenerativeModel
}

// NewGemini creates a new Gemini client for the named generative model,
// e.g. "gemini-2.0-flash".
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(modelName)
	// Keep answers grounded in the retrieved context rather than creative.
	model.SetTemperature(0.2)

	return &Gemini{model: model}, nil
}

// Generate sends the prompt to the model and returns the generated text.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var answer string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			answer += string(text)
		}
	}
	return answer, nil
}

var _ interfaces.LLM = (*Gemini)(nil)
