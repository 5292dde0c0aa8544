package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const chromemInstrumentationName = "github.com/fyrsmithlabs/ragd/internal/vectorstore/chromem"

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is reported by GetCollectionInfo. chromem itself does not
	// track dimensions.
	VectorSize int
}

// ChromemStore is an Index backed by chromem-go.
//
// chromem-go is a pure Go, embeddable vector database that persists to gob
// files. It always performs exact search.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewChromemStore opens or creates the store at config.Path.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.VectorSize < 0 {
		return nil, fmt.Errorf("%w: vector size cannot be negative", ErrInvalidConfig)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer(chromemInstrumentationName),
	}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder. It must be passed on every
// GetCollection call, otherwise chromem falls back to its OpenAI default for
// persisted collections.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection(name string) *chromem.Collection {
	return s.db.GetCollection(name, s.embeddingFunc())
}

// Search returns up to k results ordered by cosine similarity.
func (s *ChromemStore) Search(ctx context.Context, collection, query string, k int) (results []SearchResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ChromemStore.Search")
	defer func() {
		observe("chromem", "search", start, err)
		span.End()
	}()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("k", k),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	c := s.collection(collection)
	if c == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, ErrCollectionNotFound
	}

	// chromem requires nResults <= document count.
	count := c.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	hits, err := c.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	results = make([]SearchResult, len(hits))
	for i, h := range hits {
		results[i] = SearchResult{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Similarity,
			Metadata: typedMetadata(h.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Upsert embeds docs and adds them to collection, creating it if needed.
// Documents with an existing ID replace the stored one.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, docs []Document) (ids []string, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ChromemStore.Upsert")
	defer func() {
		observe("chromem", "upsert", start, err)
		span.End()
	}()

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	c, err := s.db.GetOrCreateCollection(collection, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting or creating collection %s: %w", collection, err)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(vectors), len(docs))
	}

	ids = make([]string, len(docs))
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("doc_%d_%d", time.Now().UnixNano(), i)
		}
		ids[i] = id
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   doc.Content,
			Metadata:  stringMetadata(doc.Metadata),
			Embedding: vectors[i],
		}
	}

	// Embeddings are precomputed, so one goroutine is enough.
	if err := c.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("upserted documents",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// DeleteCollection deletes a collection and all its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) (err error) {
	start := time.Now()
	_, span := s.tracer.Start(ctx, "ChromemStore.DeleteCollection")
	defer func() {
		observe("chromem", "delete_collection", start, err)
		span.End()
	}()

	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if s.collection(collection) == nil {
		return ErrCollectionNotFound
	}

	if err := s.db.DeleteCollection(collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}

	s.logger.Info("deleted chromem collection", zap.String("collection", collection))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionExists checks if a collection exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return false, err
	}
	return s.collection(collection) != nil, nil
}

// ListCollections returns all collection names.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	return names, nil
}

// GetCollectionInfo returns the document count and configured vector size.
func (s *ChromemStore) GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	c := s.collection(collection)
	if c == nil {
		return nil, ErrCollectionNotFound
	}
	return &CollectionInfo{
		Name:       collection,
		PointCount: c.Count(),
		VectorSize: s.config.VectorSize,
	}, nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

var (
	_ Index = (*ChromemStore)(nil)
	_ Index = (*QdrantStore)(nil)
)
