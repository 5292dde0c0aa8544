package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const qdrantInstrumentationName = "github.com/fyrsmithlabs/ragd/internal/vectorstore/qdrant"

// maxK bounds a single search.
const maxK = 10000

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	Host string

	// Port is the gRPC port (6334), not the 6333 REST port.
	Port int

	UseTLS bool
	APIKey string

	// VectorSize must match the embedder's output dimension. It is used when
	// Upsert creates a collection.
	VectorSize uint64

	Distance qdrant.Distance

	// MaxRetries is the number of retries after the first attempt for
	// transient gRPC errors. Backoff starts at RetryBackoff and doubles.
	MaxRetries   int
	RetryBackoff time.Duration

	// MaxMessageSize bounds gRPC messages in both directions.
	MaxMessageSize int

	// CircuitBreakerThreshold consecutive transient failures open the
	// circuit for CircuitBreakerCooldown.
	CircuitBreakerThreshold int
	CircuitBreakerCooldown  time.Duration
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
}

// ParseDistance maps a config distance name to the Qdrant enum.
func ParseDistance(name string) (qdrant.Distance, error) {
	switch strings.ToLower(name) {
	case "", "cosine":
		return qdrant.Distance_Cosine, nil
	case "dot":
		return qdrant.Distance_Dot, nil
	case "euclid":
		return qdrant.Distance_Euclid, nil
	case "manhattan":
		return qdrant.Distance_Manhattan, nil
	default:
		return qdrant.Distance_UnknownDistance, fmt.Errorf("%w: unknown distance %q", ErrInvalidConfig, name)
	}
}

// IsTransientError reports whether err is worth retrying: unavailable,
// deadline exceeded, aborted or resource exhausted.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// qdrantClient is the subset of *qdrant.Client the store uses.
type qdrantClient interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore is an Index backed by Qdrant's native gRPC API.
//
// Transient gRPC failures are retried with exponential backoff, and a
// circuit breaker rejects calls for a cooldown after repeated failures.
// Callers above this layer do not retry.
type QdrantStore struct {
	client   qdrantClient
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
	tracer   trace.Tracer

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// NewQdrantStore dials Qdrant and performs a health check.
func NewQdrantStore(ctx context.Context, config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext; enable use_tls outside local development",
			zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := newQdrantStore(client, config, embedder, logger)

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.healthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Uint64("vector_size", config.VectorSize),
	)
	return store, nil
}

func newQdrantStore(client qdrantClient, config QdrantConfig, embedder Embedder, logger *zap.Logger) *QdrantStore {
	return &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer(qdrantInstrumentationName),
	}
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// retryOperation runs operation, retrying transient errors with
// exponential backoff. Permanent errors return immediately and do not
// count against the circuit breaker.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		if s.isCircuitOpen() {
			CircuitOpenTotal.Inc()
			return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
		}

		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}

		s.recordFailure()
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}

		RetriesTotal.WithLabelValues(name).Inc()
		s.logger.Debug("retrying qdrant call",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (s *QdrantStore) recordFailure() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures++
	s.breaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()
	s.breaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.breaker.mu.Lock()
	defer s.breaker.mu.Unlock()

	if s.breaker.failures < s.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(s.breaker.lastFail) > s.config.CircuitBreakerCooldown {
		s.breaker.failures = 0
		return false
	}
	return true
}

// Search embeds query and returns the k nearest points.
func (s *QdrantStore) Search(ctx context.Context, collection, query string, k int) (results []SearchResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "QdrantStore.Search")
	defer func() {
		observe("qdrant", "search", start, err)
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
	if k > maxK {
		k = maxK
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			if isNotFound(err) {
				return ErrCollectionNotFound
			}
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results = make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = resultFromPoint(p)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Upsert embeds docs and writes them to collection, creating it with the
// configured vector size and distance when missing.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, docs []Document) (ids []string, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "QdrantStore.Upsert")
	defer func() {
		observe("qdrant", "upsert", start, err)
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

	if err := s.ensureCollection(ctx, collection); err != nil {
		span.RecordError(err)
		return nil, err
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

	points := make([]*qdrant.PointStruct, len(docs))
	ids = make([]string, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("doc_%d_%d", time.Now().UnixNano(), i)
		}
		ids[i] = id
		points[i] = &qdrant.PointStruct{
			Id:      pointIDFor(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payloadFromDocument(id, doc),
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: s.config.Distance,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	s.logger.Info("created qdrant collection",
		zap.String("collection", collection),
		zap.Uint64("vector_size", s.config.VectorSize),
	)
	return nil
}

// DeleteCollection deletes a collection and all its points.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer func() {
		observe("qdrant", "delete_collection", start, err)
		span.End()
	}()

	span.SetAttributes(attribute.String("collection", collection))

	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return ErrCollectionNotFound
	}

	err = s.retryOperation(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, collection)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}

	s.logger.Info("deleted qdrant collection", zap.String("collection", collection))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionExists checks if a collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "QdrantStore.CollectionExists")
	defer span.End()

	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return false, err
	}

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		ok, err := s.client.CollectionExists(ctx, collection)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("checking collection %s: %w", collection, err)
	}
	return exists, nil
}

// ListCollections returns all collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) (names []string, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "QdrantStore.ListCollections")
	defer func() {
		observe("qdrant", "list_collections", start, err)
		span.End()
	}()

	err = s.retryOperation(ctx, "list_collections", func() error {
		res, err := s.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	return names, nil
}

// GetCollectionInfo returns point count and vector size.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, collection string) (info *CollectionInfo, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "QdrantStore.GetCollectionInfo")
	defer func() {
		observe("qdrant", "get_collection_info", start, err)
		span.End()
	}()

	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	err = s.retryOperation(ctx, "get_collection_info", func() error {
		ci, err := s.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			if isNotFound(err) {
				return ErrCollectionNotFound
			}
			return err
		}
		info = &CollectionInfo{
			Name:       collection,
			PointCount: int(ci.GetPointsCount()),
			VectorSize: int(ci.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
		}
		if info.VectorSize == 0 {
			info.VectorSize = int(s.config.VectorSize)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrCollectionNotFound) {
			span.SetStatus(codes.Error, "collection not found")
			return nil, ErrCollectionNotFound
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting collection info for %s: %w", collection, err)
	}

	span.SetAttributes(attribute.Int("point_count", info.PointCount))
	return info, nil
}
