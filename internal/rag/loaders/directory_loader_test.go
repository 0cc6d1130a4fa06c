package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"supportbot/internal/rag/schema"
	"supportbot/pkg/logger"
)

func testLogger() *logger.Logger {
	logger.Init(logrus.ErrorLevel)
	return logger.New("loaders_test", "", "")
}

// stubLoader yields one page per file and fails for paths containing "broken".
type stubLoader struct{}

func (stubLoader) Load(_ context.Context, path string) ([]*schema.Document, error) {
	if strings.Contains(path, "broken") {
		return nil, fmt.Errorf("unparseable document")
	}
	return []*schema.Document{{
		ID:   path,
		Text: "content of " + filepath.Base(path),
		Metadata: map[string]string{
			schema.MetadataKeyFileName: filepath.Base(path),
		},
	}}, nil
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListDocumentsFiltersByExtension(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.pdf")
	touch(t, dir, "B.PDF")
	touch(t, dir, "notes.txt")
	touch(t, dir, "image.png")
	if err := os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755); err != nil {
		t.Fatal(err)
	}

	d := NewDirectoryLoader(stubLoader{}, testLogger())
	files, err := d.ListDocuments(dir)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
	for _, f := range files {
		if !strings.EqualFold(filepath.Ext(f), ".pdf") {
			t.Errorf("unexpected file %s", f)
		}
	}
}

func TestLoadKeepsListingOrder(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.pdf")
	touch(t, dir, "b.pdf")
	touch(t, dir, "c.pdf")

	d := NewDirectoryLoader(stubLoader{}, testLogger())
	result, err := d.Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(result.Documents) != 3 {
		t.Fatalf("got %d docs, want 3", len(result.Documents))
	}
	for i, want := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if got := result.Documents[i].Metadata[schema.MetadataKeyFileName]; got != want {
			t.Errorf("doc %d from %s, want %s", i, got, want)
		}
	}
}

func TestLoadRecordsPerFileFailures(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "good.pdf")
	touch(t, dir, "broken.pdf")
	touch(t, dir, "fine.pdf")

	d := NewDirectoryLoader(stubLoader{}, testLogger())
	result, err := d.Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("a per-file failure must not abort the load: %v", err)
	}
	if result.FilesSeen != 3 {
		t.Errorf("FilesSeen = %d, want 3", result.FilesSeen)
	}
	if len(result.Failures) != 1 || !strings.Contains(result.Failures[0].Path, "broken.pdf") {
		t.Errorf("Failures = %v, want the broken file only", result.Failures)
	}
	if len(result.Documents) != 2 {
		t.Errorf("got %d docs, want 2 from the surviving files", len(result.Documents))
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	d := NewDirectoryLoader(stubLoader{}, testLogger())
	result, err := d.Load(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(result.Documents) != 0 || result.FilesSeen != 0 {
		t.Errorf("expected an empty result, got %d docs, %d files", len(result.Documents), result.FilesSeen)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	d := NewDirectoryLoader(stubLoader{}, testLogger())
	if _, err := d.Load(context.Background(), filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
