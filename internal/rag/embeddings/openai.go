package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"supportbot/internal/rag/interfaces"
)

// OpenAIModel is a client for the OpenAI embeddings API.
type OpenAIModel struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIModel creates a new OpenAIModel client. An empty modelName falls
// back to text-embedding-3-small.
func NewOpenAIModel(apiKey, modelName string) *OpenAIModel {
	model := openai.EmbeddingModel(modelName)
	if modelName == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAIModel{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Embed generates the embedding vector for a single text.
func (m *OpenAIModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for a batch of texts.
func (m *OpenAIModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: m.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

var _ interfaces.EmbeddingModel = (*OpenAIModel)(nil)
