// Package vectorstore provides read access to pre-populated vector
// collections, plus the write boundary used by ingestion tools and tests.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCircuitOpen is returned while the store refuses calls after repeated failures.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// collectionNamePattern accepts the names Qdrant and chromem both allow
// without escaping.
var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateCollectionName rejects empty names, path separators and other
// characters outside [a-zA-Z0-9_-], and names longer than 64 characters.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-zA-Z0-9_-]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
	VectorSize int    `json:"vector_size"`
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for passages.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a search query.
	// Some models embed queries and passages differently.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is a similarity-searchable set of named collections.
//
// Implementations:
//   - QdrantStore: external Qdrant over gRPC
//   - ChromemStore: embedded chromem-go
type Index interface {
	// Search returns up to k results from collection ordered by similarity,
	// best first. A missing collection returns ErrCollectionNotFound.
	Search(ctx context.Context, collection, query string, k int) ([]SearchResult, error)

	// Upsert embeds and stores docs in collection, creating it if needed.
	// It returns the stored document IDs. ragd itself never writes; this is
	// the boundary for ingestion tools and tests.
	Upsert(ctx context.Context, collection string, docs []Document) ([]string, error)

	// DeleteCollection removes a collection and all its points.
	// A missing collection returns ErrCollectionNotFound.
	DeleteCollection(ctx context.Context, collection string) error

	// CollectionExists reports whether collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// ListCollections returns all collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// GetCollectionInfo returns point count and vector size.
	// A missing collection returns ErrCollectionNotFound.
	GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)

	// Close releases connections and resources.
	Close() error
}
