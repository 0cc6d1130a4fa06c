package splitters

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"supportbot/internal/rag/interfaces"
	"supportbot/internal/rag/schema"
)

// CharacterSplitter implements the Splitter interface by cutting text into
// fixed-size overlapping passages. Cuts land preferentially on paragraph
// breaks, then line breaks, then word boundaries, falling back to a hard
// character cut. Chunk boundaries are a pure function of the input text and
// the size parameters.
type CharacterSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewCharacterSplitter creates a new CharacterSplitter.
func NewCharacterSplitter(chunkSize, chunkOverlap int) (*CharacterSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, chunkSize), got %d", chunkOverlap)
	}
	return &CharacterSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	}, nil
}

// Split splits a list of documents into smaller chunks. A document whose text
// is empty or whitespace-only contributes no chunks and is not an error.
func (s *CharacterSplitter) Split(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	var chunks []*schema.Document

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for i, text := range s.SplitText(doc.Text) {
			newDoc := &schema.Document{
				ID:       uuid.New().String(),
				Text:     text,
				Metadata: doc.CopyMetadata(),
			}
			newDoc.Metadata[schema.MetadataKeyChunkNumber] = strconv.Itoa(i + 1)
			chunks = append(chunks, newDoc)
		}
	}

	return chunks, nil
}

// SplitText cuts a single text into overlapping passages. Exposed so the
// chunking behavior can be exercised directly.
func (s *CharacterSplitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	var passages []string
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			if p := strings.TrimSpace(string(runes[start:])); p != "" {
				passages = append(passages, p)
			}
			break
		}

		cut := s.findCut(runes, start, end)
		if p := strings.TrimSpace(string(runes[start:cut])); p != "" {
			passages = append(passages, p)
		}

		next := cut - s.ChunkOverlap
		if next <= start {
			// The overlap would stall the scan; give up the overlap
			// for this boundary instead of looping forever.
			next = cut
		}
		start = next
	}

	return passages
}

// findCut returns the index one past the preferred split point within
// runes[start:limit]. Separators are only considered in the second half of
// the window so chunks never degenerate to a fraction of the target size.
func (s *CharacterSplitter) findCut(runes []rune, start, limit int) int {
	floor := start + s.ChunkSize/2
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := lastIndex(runes, []rune(sep), floor, limit); i >= 0 {
			return i + len([]rune(sep))
		}
	}
	return limit
}

// lastIndex finds the last occurrence of sep within runes[floor:limit],
// returning its start index or -1.
func lastIndex(runes, sep []rune, floor, limit int) int {
	for i := limit - len(sep); i >= floor; i-- {
		match := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// compile-time check to ensure CharacterSplitter implements the Splitter interface
var _ interfaces.Splitter = (*CharacterSplitter)(nil)
