package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"supportbot/internal/models"
	"supportbot/internal/rag/loaders"
	"supportbot/internal/rag/schema"
	"supportbot/internal/rag/splitters"
	"supportbot/internal/rag/vectorstore"
	"supportbot/pkg/logger"
)

func testLogger() *logger.Logger {
	logger.Init(logrus.ErrorLevel)
	return logger.New("pipeline_test", "", "")
}

// textFileLoader yields one page per file with the file's bytes as text.
type textFileLoader struct{}

func (textFileLoader) Load(_ context.Context, path string) ([]*schema.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []*schema.Document{{
		ID:   path,
		Text: string(data),
		Metadata: map[string]string{
			schema.MetadataKeyFileName:  filepath.Base(path),
			schema.MetadataKeyPageLabel: "1",
		},
	}}, nil
}

// fakeEmbedder hashes each text into a deterministic unit vector. Texts
// containing poisonSubstr always fail; failFirst makes the first n batch
// calls fail regardless, to exercise the retry path.
type fakeEmbedder struct {
	poisonSubstr string
	failFirst    int
	calls        int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.poisonSubstr != "" && strings.Contains(text, e.poisonSubstr) {
		return nil, fmt.Errorf("embedding rejected")
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	sum := h.Sum64()

	vec := make([]float32, 4)
	var norm float64
	for i := range vec {
		vec[i] = float32((sum>>(i*16))&0xFFFF) + 1
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.calls <= e.failFirst {
		return nil, fmt.Errorf("transient gateway error")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func newTestPipeline(t *testing.T, embedder *fakeEmbedder) *IndexingPipeline {
	t.Helper()
	log := testLogger()
	splitter, err := splitters.NewCharacterSplitter(200, 20)
	if err != nil {
		t.Fatal(err)
	}
	p := NewIndexingPipeline(loaders.NewDirectoryLoader(textFileLoader{}, log), splitter, embedder, log)
	p.RetryDelay = time.Millisecond
	return p
}

func newTestStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	store, err := vectorstore.Open(t.TempDir(), "manuals", func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("unexpected embedding call")
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIndexingRunIndexesCorpus(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "charging.pdf", "Charge to 80 percent for daily use.")
	writeDoc(t, dir, "towing.pdf", "Enable transport mode before towing.")

	p := newTestPipeline(t, &fakeEmbedder{})
	store := newTestStore(t)

	result, err := p.Run(context.Background(), dir, store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.FilesSeen != 2 {
		t.Errorf("FilesSeen = %d, want 2", result.FilesSeen)
	}
	if len(result.FailedFiles) != 0 {
		t.Errorf("FailedFiles = %v, want none", result.FailedFiles)
	}
	if result.Passages == 0 || result.Inserted != result.Passages {
		t.Errorf("Inserted = %d, Passages = %d; want equal and non-zero", result.Inserted, result.Passages)
	}
	if store.Count() != result.Passages {
		t.Errorf("store count = %d, want %d", store.Count(), result.Passages)
	}
}

func TestIndexingRunSkipsFileWhoseEmbeddingFails(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.pdf", "Perfectly ordinary manual text.")
	writeDoc(t, dir, "bad.pdf", "This page contains poison content.")

	p := newTestPipeline(t, &fakeEmbedder{poisonSubstr: "poison"})
	store := newTestStore(t)

	result, err := p.Run(context.Background(), dir, store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.FailedFiles) != 1 || result.FailedFiles[0] != "bad.pdf" {
		t.Errorf("FailedFiles = %v, want [bad.pdf]", result.FailedFiles)
	}
	if result.Inserted == 0 {
		t.Error("the good file's passages should still be indexed")
	}
	if store.Count() != result.Inserted {
		t.Errorf("store count = %d, want %d", store.Count(), result.Inserted)
	}
}

func TestIndexingRunRetriesTransientFailures(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "manual.pdf", "Content behind a flaky gateway.")

	embedder := &fakeEmbedder{failFirst: 2}
	p := newTestPipeline(t, embedder)
	store := newTestStore(t)

	result, err := p.Run(context.Background(), dir, store)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.FailedFiles) != 0 {
		t.Errorf("FailedFiles = %v; two transient failures should be retried away", result.FailedFiles)
	}
	if embedder.calls != 3 {
		t.Errorf("embedder called %d times, want 3 (two failures, one success)", embedder.calls)
	}
}

func TestGroupByFilePreservesFirstSeenOrder(t *testing.T) {
	chunks := []*schema.Document{
		{ID: "1", Metadata: map[string]string{schema.MetadataKeyFileName: "b.pdf"}},
		{ID: "2", Metadata: map[string]string{schema.MetadataKeyFileName: "a.pdf"}},
		{ID: "3", Metadata: map[string]string{schema.MetadataKeyFileName: "b.pdf"}},
	}

	groups, order := groupByFile(chunks)
	if len(order) != 2 || order[0] != "b.pdf" || order[1] != "a.pdf" {
		t.Errorf("order = %v, want [b.pdf a.pdf]", order)
	}
	if len(groups["b.pdf"]) != 2 || len(groups["a.pdf"]) != 1 {
		t.Errorf("unexpected grouping: %v", groups)
	}
}

func TestComposePromptIncludesPassagesAndQuery(t *testing.T) {
	passages := []*schema.Document{
		{Text: "First passage."},
		{Text: "Second passage."},
	}
	history := []models.Turn{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
	}

	prompt := ComposePrompt(passages, history, "How do I tow the car?")

	for _, want := range []string{
		"Context 1:\nFirst passage.",
		"Context 2:\nSecond passage.",
		"user: earlier question",
		"assistant: earlier answer",
		"Question: How do I tow the car?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestComposePromptIsDeterministic(t *testing.T) {
	passages := []*schema.Document{{Text: "stable"}}
	history := []models.Turn{{Role: models.RoleUser, Content: "hello"}}

	first := ComposePrompt(passages, history, "q")
	if second := ComposePrompt(passages, history, "q"); second != first {
		t.Error("identical inputs produced different prompts")
	}
}

func TestComposePromptTruncatesOldHistory(t *testing.T) {
	long := strings.Repeat("x", maxHistoryChars)
	history := []models.Turn{
		{Role: models.RoleUser, Content: "oldest " + long},
		{Role: models.RoleUser, Content: "newest turn"},
	}

	prompt := ComposePrompt(nil, history, "q")
	if strings.Contains(prompt, "oldest") {
		t.Error("oversized old turn should be dropped")
	}
	if !strings.Contains(prompt, "newest turn") {
		t.Error("most recent turn must survive truncation")
	}
}

func TestComposePromptOmitsEmptyHistorySection(t *testing.T) {
	prompt := ComposePrompt(nil, nil, "q")
	if strings.Contains(prompt, "Conversation so far") {
		t.Error("history section should be omitted when there is none")
	}
}
