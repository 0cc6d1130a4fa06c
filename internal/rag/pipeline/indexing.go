package pipeline

import (
	"context"
	"fmt"
	"time"

	"supportbot/internal/rag/interfaces"
	"supportbot/internal/rag/loaders"
	"supportbot/internal/rag/schema"
	"supportbot/internal/rag/vectorstore"
	"supportbot/pkg/logger"
)

const (
	// embedBatchSize bounds how many passages go to the embedding gateway
	// in one call.
	embedBatchSize = 100

	// embedRetries and defaultRetryDelay implement the bounded retry policy
	// for transient embedding failures; exhaustion skips the file.
	embedRetries      = 3
	defaultRetryDelay = 2 * time.Second
)

// IndexingResult reports what a pipeline run produced.
type IndexingResult struct {
	// FilesSeen is the number of recognized source files in the corpus.
	FilesSeen int
	// FailedFiles lists files skipped due to extraction or embedding
	// failures.
	FailedFiles []string
	// Passages is the number of passages produced from the files that
	// survived, all of which were handed to the store.
	Passages int
	// Inserted is the number of entries the store reported inserting.
	Inserted int
}

// IndexingPipeline orchestrates loading, splitting, embedding and storing a
// document corpus. Extraction and embedding failures are scoped to the file
// they occur in; the rest of the corpus proceeds.
type IndexingPipeline struct {
	loader   *loaders.DirectoryLoader
	splitter interfaces.Splitter
	embedder interfaces.EmbeddingModel
	log      *logger.Logger

	// RetryDelay between embedding attempts. Tests shorten it.
	RetryDelay time.Duration
}

// NewIndexingPipeline creates a new IndexingPipeline.
func NewIndexingPipeline(
	loader *loaders.DirectoryLoader,
	splitter interfaces.Splitter,
	embedder interfaces.EmbeddingModel,
	log *logger.Logger,
) *IndexingPipeline {
	return &IndexingPipeline{
		loader:     loader,
		splitter:   splitter,
		embedder:   embedder,
		log:        log,
		RetryDelay: defaultRetryDelay,
	}
}

// Run ingests the corpus at dir into the store and returns what was
// produced. The returned result is valid even when some files were skipped;
// a non-nil error means the run as a whole could not proceed.
func (p *IndexingPipeline) Run(ctx context.Context, dir string, store *vectorstore.Store) (*IndexingResult, error) {
	corpus, err := p.loader.Load(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}

	result := &IndexingResult{FilesSeen: corpus.FilesSeen}
	for _, failure := range corpus.Failures {
		result.FailedFiles = append(result.FailedFiles, failure.Path)
	}
	p.log.Info(fmt.Sprintf("Loaded %d pages from %d files (%d failed)",
		len(corpus.Documents), result.FilesSeen, len(result.FailedFiles)))

	chunks, err := p.splitter.Split(ctx, corpus.Documents)
	if err != nil {
		return nil, fmt.Errorf("failed to split corpus: %w", err)
	}
	p.log.Info(fmt.Sprintf("Split into %d passages", len(chunks)))

	kept, embedFailed, err := p.embedByFile(ctx, chunks)
	if err != nil {
		return nil, err
	}
	result.FailedFiles = append(result.FailedFiles, embedFailed...)
	result.Passages = len(kept)

	inserted, err := store.InsertBatch(ctx, kept)
	if err != nil {
		return result, fmt.Errorf("failed to insert passages: %w", err)
	}
	result.Inserted = inserted

	p.log.Info(fmt.Sprintf("Indexed %d passages into %s", inserted, store.Dir()))
	return result, nil
}

// embedByFile embeds the chunks grouped per source file so an exhausted
// retry budget drops only that file's passages. Returns the chunks that
// were embedded and the files that were dropped.
func (p *IndexingPipeline) embedByFile(ctx context.Context, chunks []*schema.Document) ([]*schema.Document, []string, error) {
	groups, order := groupByFile(chunks)

	var kept []*schema.Document
	var failed []string
	for _, file := range order {
		group := groups[file]
		if err := p.embedGroup(ctx, group); err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			p.log.Warn(fmt.Sprintf("Embedding failed for %s after %d attempts, skipping file: %v",
				file, embedRetries, err))
			failed = append(failed, file)
			continue
		}
		kept = append(kept, group...)
	}
	return kept, failed, nil
}

// embedGroup embeds one file's chunks in bounded batches, retrying each
// batch with a fixed delay.
func (p *IndexingPipeline) embedGroup(ctx context.Context, group []*schema.Document) error {
	for start := 0; start < len(group); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(group) {
			end = len(group)
		}
		batch := group[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		var vectors [][]float32
		var err error
		for attempt := 1; attempt <= embedRetries; attempt++ {
			vectors, err = p.embedder.EmbedBatch(ctx, texts)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < embedRetries {
				p.log.Warn(fmt.Sprintf("Embedding attempt %d failed, retrying: %v", attempt, err))
				select {
				case <-time.After(p.RetryDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding gateway returned %d vectors for %d passages", len(vectors), len(batch))
		}

		for i, chunk := range batch {
			chunk.Embedding = vectors[i]
		}
	}
	return nil
}

// groupByFile buckets chunks by source file, preserving first-seen order.
func groupByFile(chunks []*schema.Document) (map[string][]*schema.Document, []string) {
	groups := make(map[string][]*schema.Document)
	var order []string
	for _, chunk := range chunks {
		file := chunk.Metadata[schema.MetadataKeyFileName]
		if _, ok := groups[file]; !ok {
			order = append(order, file)
		}
		groups[file] = append(groups[file], chunk)
	}
	return groups, order
}
