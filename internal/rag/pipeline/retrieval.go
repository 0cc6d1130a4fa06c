package pipeline

import (
	"context"
	"fmt"

	"supportbot/internal/rag/interfaces"
	"supportbot/internal/rag/schema"
	"supportbot/internal/rag/vectorstore"
	"supportbot/pkg/logger"
)

// RetrievalPipeline retrieves the passages most relevant to a query from a
// vector store handle. The handle is passed per call: rebuilds publish a new
// handle and in-flight retrievals keep the one they started with.
type RetrievalPipeline struct {
	embedder interfaces.EmbeddingModel
	log      *logger.Logger
}

// NewRetrievalPipeline creates a new RetrievalPipeline.
func NewRetrievalPipeline(embedder interfaces.EmbeddingModel, log *logger.Logger) *RetrievalPipeline {
	return &RetrievalPipeline{
		embedder: embedder,
		log:      log,
	}
}

// Run embeds the query and returns the top-k passages from a candidate pool
// of fetchK, re-ranked by maximal marginal relevance.
func (p *RetrievalPipeline) Run(ctx context.Context, store *vectorstore.Store, query string, k, fetchK int) ([]*schema.Document, error) {
	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	docs, err := store.SimilaritySearch(ctx, queryVec, k, fetchK, true)
	if err != nil {
		return nil, err
	}

	p.log.Debug(fmt.Sprintf("Retrieved %d passages for query", len(docs)))
	return docs, nil
}
