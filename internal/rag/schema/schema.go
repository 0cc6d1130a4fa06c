package schema

const (
	// MetadataKeyFileName is the key for the source file name.
	MetadataKeyFileName = "file_name"
	// MetadataKeyPageLabel is the key for the page number from the source document.
	MetadataKeyPageLabel = "page_label"
	// MetadataKeyChunkNumber is the key for the passage's position within its page.
	MetadataKeyChunkNumber = "chunk_number"
)

// Document is the central data structure representing a piece of text and its
// associated data. It is the primary data carrier throughout the RAG pipeline:
// loaders emit one Document per page, the splitter turns pages into passages,
// and the vector store persists passages together with their embeddings.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string

	// Text is the string content of the document chunk.
	Text string

	// Embedding is the vector representation of the text.
	Embedding []float32

	// Metadata holds arbitrary data about the document, such as
	// file_name and page_label.
	Metadata map[string]string
}

// CopyMetadata returns a shallow copy of the document's metadata so derived
// chunks never share the same map.
func (d *Document) CopyMetadata() map[string]string {
	md := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		md[k] = v
	}
	return md
}
