package vectorstore

// Payload keys. Collections written by langchain keep the passage under
// "page_content" and everything else nested under "metadata"; collections
// written by Upsert use the same layout.
const (
	PayloadContentKey  = "page_content"
	PayloadLegacyKey   = "content"
	PayloadMetadataKey = "metadata"
	PayloadIDKey       = "id"
)

// Document is a passage to store.
type Document struct {
	// ID is the caller's identifier. It is kept in the payload and returned
	// as SearchResult.ID.
	ID string

	Content string

	// Metadata holds flat key/value pairs such as source and page.
	Metadata map[string]interface{}
}

// SearchResult is one passage returned by a similarity search.
type SearchResult struct {
	// ID is the stored document ID, or the point ID when none was stored.
	ID string

	Content string

	// Score is the similarity score (higher = more similar).
	Score float32

	// Metadata is the flattened passage metadata.
	Metadata map[string]interface{}
}
