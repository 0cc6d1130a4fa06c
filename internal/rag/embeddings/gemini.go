package embeddings

import (
	"context"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"supportbot/internal/rag/interfaces"
)

// GeminiModel is a client for the Google GenAI embedding API.
type GeminiModel struct {
	model *genai.EmbeddingModel
}

// NewGeminiModel creates a new GeminiModel client for the named embedding
// model, e.g. "embedding-001".
func NewGeminiModel(ctx context.Context, apiKey, modelName string) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiModel{
		model: client.EmbeddingModel(modelName),
	}, nil
}

// Embed generates the embedding vector for a single text.
func (m *GeminiModel) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := m.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	return res.Embedding.Values, nil
}

// EmbedBatch generates embedding vectors for a batch of texts.
func (m *GeminiModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := m.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := m.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, 0, len(res.Embeddings))
	for _, emb := range res.Embeddings {
		embeddings = append(embeddings, emb.Values)
	}
	return embeddings, nil
}

var _ interfaces.EmbeddingModel = (*GeminiModel)(nil)
