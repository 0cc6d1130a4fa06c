package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"supportbot/internal/rag/interfaces"
	"supportbot/internal/rag/schema"
	"supportbot/pkg/logger"
)

const (
	// DefaultBatchSize is the largest number of entries the engine accepts
	// in a single insertion; larger inputs are partitioned.
	DefaultBatchSize = 5000

	// DefaultBatchPause is the delay between sub-batches so a large rebuild
	// does not overwhelm the storage backend.
	DefaultBatchPause = 100 * time.Millisecond
)

// Store is a persistent named collection of passages and their embeddings,
// backed by an embedded chromem database at a directory. State survives
// process restart; independently opened handles on the same directory see
// the same contents.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	dir        string
	name       string

	// BatchSize caps the entries per insertion call; InsertBatch partitions
	// larger inputs. BatchPause is the delay between sub-batches.
	BatchSize  int
	BatchPause time.Duration

	log *logger.Logger
}

// EmbeddingFunc converts an EmbeddingModel into the single-text embedding
// function chromem expects. It is only invoked for documents inserted
// without a precomputed embedding.
func EmbeddingFunc(model interfaces.EmbeddingModel) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return model.Embed(ctx, text)
	}
}

// Open opens (or creates) the collection under dir. A fresh directory yields
// an empty, valid collection.
func Open(dir, name string, embedFn chromem.EmbeddingFunc, log *logger.Logger) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store at %s: %w", dir, err)
	}

	collection, err := db.GetOrCreateCollection(name, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", name, err)
	}

	return &Store{
		db:         db,
		collection: collection,
		dir:        dir,
		name:       name,
		BatchSize:  DefaultBatchSize,
		BatchPause: DefaultBatchPause,
		log:        log,
	}, nil
}

// Dir returns the storage directory backing this store.
func (s *Store) Dir() string {
	return s.dir
}

// InsertBatch inserts the documents, partitioning the input into sub-batches
// of at most BatchSize entries applied sequentially. It returns the number of
// entries inserted; partitioning neither drops nor duplicates entries.
func (s *Store) InsertBatch(ctx context.Context, docs []*schema.Document) (int, error) {
	total := 0
	for start := 0; start < len(docs); start += s.BatchSize {
		end := start + s.BatchSize
		if end > len(docs) {
			end = len(docs)
		}

		if total > 0 && s.BatchPause > 0 {
			select {
			case <-time.After(s.BatchPause):
			case <-ctx.Done():
				return total, ctx.Err()
			}
		}

		batch := docs[start:end]
		entries := make([]chromem.Document, len(batch))
		for i, doc := range batch {
			entries[i] = chromem.Document{
				ID:        doc.ID,
				Content:   doc.Text,
				Embedding: doc.Embedding,
				Metadata:  doc.Metadata,
			}
		}

		if err := s.collection.AddDocuments(ctx, entries, 1); err != nil {
			return total, fmt.Errorf("failed to insert sub-batch [%d:%d]: %w", start, end, err)
		}
		total += len(batch)
		s.log.Debug(fmt.Sprintf("Inserted sub-batch of %d entries into %s (%d total)", len(batch), s.name, total))
	}
	return total, nil
}

// Count returns the number of entries currently in the collection.
func (s *Store) Count() int {
	return s.collection.Count()
}

// SimilaritySearch returns the k entries best matching the query vector.
// It fetches a candidate pool of fetchK entries and, when mmr is set,
// re-ranks them by maximal marginal relevance so near-duplicate passages do
// not dominate the result.
func (s *Store) SimilaritySearch(ctx context.Context, queryVec []float32, k, fetchK int, mmr bool) ([]*schema.Document, error) {
	count := s.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if fetchK < k {
		fetchK = k
	}
	if fetchK > count {
		fetchK = count
	}
	if k > fetchK {
		k = fetchK
	}

	results, err := s.collection.QueryEmbedding(ctx, queryVec, fetchK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	if mmr && len(results) > k {
		results = rerankMMR(queryVec, results, k, defaultMMRLambda)
	} else if len(results) > k {
		results = results[:k]
	}

	docs := make([]*schema.Document, len(results))
	for i, r := range results {
		md := make(map[string]string, len(r.Metadata)+1)
		for key, v := range r.Metadata {
			md[key] = v
		}
		md["score"] = strconv.FormatFloat(float64(r.Similarity), 'f', 4, 32)
		docs[i] = &schema.Document{
			ID:        r.ID,
			Text:      r.Content,
			Embedding: r.Embedding,
			Metadata:  md,
		}
	}
	return docs, nil
}

// DeleteCollection removes the named collection and its entries.
func (s *Store) DeleteCollection(name string) error {
	return s.db.DeleteCollection(name)
}
