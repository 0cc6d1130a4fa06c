package vectorstore

import (
	"context"
	"fmt"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/sirupsen/logrus"

	"supportbot/internal/rag/schema"
	"supportbot/pkg/logger"
)

func testLogger() *logger.Logger {
	logger.Init(logrus.ErrorLevel)
	return logger.New("vectorstore_test", "", "")
}

// testEmbedFn should never run: test documents carry precomputed embeddings.
func testEmbedFn(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("unexpected embedding call for %q", text)
}

// axisDoc builds a document whose embedding is the unit vector along axis.
func axisDoc(id string, axis int) *schema.Document {
	vec := make([]float32, 4)
	vec[axis%4] = 1
	return &schema.Document{
		ID:        id,
		Text:      "passage " + id,
		Embedding: vec,
		Metadata:  map[string]string{schema.MetadataKeyFileName: "manual.pdf"},
	}
}

func TestOpenFreshDirectoryIsEmpty(t *testing.T) {
	store, err := Open(t.TempDir(), "manuals", testEmbedFn, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := store.Count(); got != 0 {
		t.Errorf("fresh store count = %d, want 0", got)
	}

	docs, err := store.SimilaritySearch(context.Background(), []float32{1, 0, 0, 0}, 5, 20, true)
	if err != nil {
		t.Fatalf("search on empty store failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("search on empty store returned %d docs", len(docs))
	}
}

func TestInsertBatchPartitions(t *testing.T) {
	store, err := Open(t.TempDir(), "manuals", testEmbedFn, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.BatchSize = 3
	store.BatchPause = 0

	docs := make([]*schema.Document, 10)
	for i := range docs {
		docs[i] = axisDoc(fmt.Sprintf("doc-%d", i), i)
	}

	inserted, err := store.InsertBatch(context.Background(), docs)
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if inserted != len(docs) {
		t.Errorf("inserted = %d, want %d", inserted, len(docs))
	}
	if got := store.Count(); got != len(docs) {
		t.Errorf("count = %d, want %d", got, len(docs))
	}
}

func TestIndependentHandleSeesSameContents(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, "manuals", testEmbedFn, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	docs := []*schema.Document{axisDoc("a", 0), axisDoc("b", 1), axisDoc("c", 2)}
	if _, err := store.InsertBatch(context.Background(), docs); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	reopened, err := Open(dir, "manuals", testEmbedFn, testLogger())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := reopened.Count(); got != len(docs) {
		t.Errorf("reopened count = %d, want %d", got, len(docs))
	}

	results, err := reopened.SimilaritySearch(context.Background(), []float32{0, 1, 0, 0}, 1, 3, false)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Errorf("expected doc b, got %v", results)
	}
}

func TestSimilaritySearchRanksByQuery(t *testing.T) {
	store, err := Open(t.TempDir(), "manuals", testEmbedFn, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	docs := []*schema.Document{axisDoc("x", 0), axisDoc("y", 1), axisDoc("z", 2)}
	if _, err := store.InsertBatch(context.Background(), docs); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	results, err := store.SimilaritySearch(context.Background(), []float32{1, 0, 0, 0}, 2, 10, false)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "x" {
		t.Errorf("best match = %s, want x", results[0].ID)
	}
	if results[0].Metadata["score"] == "" {
		t.Error("result missing score metadata")
	}
	if results[0].Metadata[schema.MetadataKeyFileName] != "manual.pdf" {
		t.Error("result lost source metadata")
	}
}

func TestSimilaritySearchClampsToCount(t *testing.T) {
	store, err := Open(t.TempDir(), "manuals", testEmbedFn, testLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := store.InsertBatch(context.Background(), []*schema.Document{axisDoc("only", 0)}); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}

	results, err := store.SimilaritySearch(context.Background(), []float32{1, 0, 0, 0}, 5, 20, true)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestRerankMMRPrefersDiversity(t *testing.T) {
	query := []float32{1, 0}
	candidates := []chromem.Result{
		{ID: "best", Embedding: []float32{1, 0}, Similarity: 1.0},
		{ID: "near-dup", Embedding: []float32{0.999, 0.045}, Similarity: 0.999},
		{ID: "diverse", Embedding: []float32{0.7, 0.714}, Similarity: 0.7},
	}

	selected := rerankMMR(query, candidates, 2, defaultMMRLambda)
	if len(selected) != 2 {
		t.Fatalf("expected 2 results, got %d", len(selected))
	}
	if selected[0].ID != "best" {
		t.Errorf("first pick = %s, want best", selected[0].ID)
	}
	if selected[1].ID != "diverse" {
		t.Errorf("second pick = %s, want diverse (near-dup should be penalized)", selected[1].ID)
	}
}

func TestRerankMMRSmallPool(t *testing.T) {
	candidates := []chromem.Result{{ID: "a"}, {ID: "b"}}
	selected := rerankMMR([]float32{1, 0}, candidates, 5, defaultMMRLambda)
	if len(selected) != 2 {
		t.Errorf("expected all candidates back, got %d", len(selected))
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tc := range cases {
		if got := cosineSimilarity(tc.a, tc.b); got < tc.want-1e-5 || got > tc.want+1e-5 {
			t.Errorf("%s: cosineSimilarity = %v, want %v", tc.name, got, tc.want)
		}
	}
}
