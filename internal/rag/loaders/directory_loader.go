package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"supportbot/internal/rag/interfaces"
	"supportbot/internal/rag/schema"
	"supportbot/pkg/logger"
)

// loadConcurrency bounds how many files are extracted at once. PDF parsing
// is CPU and I/O heavy; a small bound keeps a large corpus from starving
// request handling.
const loadConcurrency = 4

// FileFailure records a single source file whose extraction failed.
type FileFailure struct {
	Path string
	Err  error
}

// LoadResult is the outcome of one directory load: the extracted page
// documents plus how many recognized files were seen and which of them
// failed.
type LoadResult struct {
	Documents []*schema.Document
	FilesSeen int
	Failures  []FileFailure
}

// DirectoryLoader loads every recognized document in a directory through a
// per-file Loader. A file that fails to parse is recorded and skipped so one
// bad document never blocks the rest of the corpus.
type DirectoryLoader struct {
	fileLoader interfaces.Loader
	extensions []string
	log        *logger.Logger
}

// NewDirectoryLoader creates a DirectoryLoader that feeds matching files to
// the given per-file loader. Only files with a recognized extension are
// considered.
func NewDirectoryLoader(fileLoader interfaces.Loader, log *logger.Logger) *DirectoryLoader {
	return &DirectoryLoader{
		fileLoader: fileLoader,
		extensions: []string{".pdf"},
		log:        log,
	}
}

// ListDocuments returns the recognized document paths in dir, in
// directory-listing order.
func (d *DirectoryLoader) ListDocuments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read document directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !d.recognized(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// Load extracts every recognized document in dir and returns the page
// documents in directory-listing order. Files are extracted with bounded
// parallelism; per-file failures are collected in the result instead of
// aborting the whole load.
func (d *DirectoryLoader) Load(ctx context.Context, dir string) (*LoadResult, error) {
	files, err := d.ListDocuments(dir)
	if err != nil {
		return nil, err
	}

	// Indexed result slots keep listing order without locking.
	perFile := make([][]*schema.Document, len(files))
	failures := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, path := range files {
		g.Go(func() error {
			docs, err := d.fileLoader.Load(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d.log.Warn(fmt.Sprintf("Failed to load %s, skipping: %v", path, err))
				failures[i] = err
				return nil
			}
			perFile[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &LoadResult{FilesSeen: len(files)}
	for i, docs := range perFile {
		if failures[i] != nil {
			result.Failures = append(result.Failures, FileFailure{Path: files[i], Err: failures[i]})
			continue
		}
		result.Documents = append(result.Documents, docs...)
	}
	return result, nil
}

func (d *DirectoryLoader) recognized(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range d.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
