package loaders

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"supportbot/internal/rag/interfaces"
	"supportbot/internal/rag/schema"
)

// PDFLoader implements the Loader interface for reading PDF files.
type PDFLoader struct{}

// NewPDFLoader creates a new PDFLoader.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{}
}

// Load reads a PDF file, extracts the plain text of each page, and returns a
// Document per page. Pages without any extractable text are skipped.
func (l *PDFLoader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	defer f.Close()

	var documents []*schema.Document
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d of %s: %w", i, path, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		documents = append(documents, &schema.Document{
			ID:   uuid.New().String(),
			Text: text,
			Metadata: map[string]string{
				schema.MetadataKeyFileName:  filepath.Base(path),
				schema.MetadataKeyPageLabel: fmt.Sprintf("%d", i),
			},
		})
	}

	return documents, nil
}

// compile-time check to ensure PDFLoader implements the Loader interface
var _ interfaces.Loader = (*PDFLoader)(nil)
