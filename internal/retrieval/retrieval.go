// Package retrieval runs similarity searches against a vector index and
// returns ranked candidates.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/retrieval"

// DefaultK is the number of candidates per query when none is given.
const DefaultK = 5

// Metadata keys read from stored passages.
const (
	MetadataSource = "source"
	MetadataPage   = "page"
)

// ErrRetrieval is matched by every *Error.
var ErrRetrieval = errors.New("retrieval failed")

// Error wraps an index failure for one query.
type Error struct {
	Namespace string
	Query     string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retrieval failed in %q: %v", e.Namespace, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrRetrieval }

// Candidate is one retrieved passage.
type Candidate struct {
	// SourceID identifies the passage across queries. Fusion dedups on it.
	SourceID string `json:"source_id"`

	Content string `json:"content"`

	// Page is the page label from metadata, empty when absent.
	Page string `json:"page,omitempty"`

	Score float64 `json:"score"`

	// Rank is the 1-based position in the result list it came from.
	Rank int `json:"rank"`

	Namespace string                 `json:"namespace"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Retriever searches one index.
type Retriever struct {
	index        vectorstore.Index
	logger       *zap.Logger
	tracer       trace.Tracer
	metrics      *metrics
	queryTimeout time.Duration
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithQueryTimeout bounds each index search made by Retrieve and FanOut. An
// expired search fails only that query. Zero means no bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(r *Retriever) { r.queryTimeout = d }
}

// New creates a Retriever over index.
func New(index vectorstore.Index, logger *zap.Logger, opts ...Option) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retriever{
		index:  index,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
	r.metrics = newMetrics(otel.Meter(instrumentationName), logger)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to k candidates for query from namespace, best first.
// k <= 0 uses DefaultK. Index failures are returned as *Error.
func (r *Retriever) Retrieve(ctx context.Context, query, namespace string, k int) (candidates []Candidate, err error) {
	if k <= 0 {
		k = DefaultK
	}
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "Retriever.Retrieve", trace.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("k", k),
	))
	defer func() {
		r.metrics.recordQuery(ctx, namespace, time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	results, err := r.search(ctx, query, namespace, k)
	if err != nil {
		r.logger.Error("retrieval failed",
			zap.String("namespace", namespace),
			zap.Int("k", k),
			zap.Error(err),
		)
		return nil, &Error{Namespace: namespace, Query: query, Err: err}
	}

	candidates = make([]Candidate, 0, len(results))
	for i, res := range results {
		if i == k {
			break
		}
		candidates = append(candidates, candidateFrom(res, namespace, i+1))
	}
	span.SetAttributes(attribute.Int("results", len(candidates)))
	return candidates, nil
}

func candidateFrom(res vectorstore.SearchResult, namespace string, rank int) Candidate {
	page := metadataString(res.Metadata, MetadataPage)
	id := res.ID
	if id == "" {
		id = metadataString(res.Metadata, MetadataSource) + ":" + page
	}
	return Candidate{
		SourceID:  id,
		Content:   res.Content,
		Page:      page,
		Score:     float64(res.Score),
		Rank:      rank,
		Namespace: namespace,
		Metadata:  res.Metadata,
	}
}

func metadataString(md map[string]interface{}, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func (r *Retriever) search(ctx context.Context, query, namespace string, k int) ([]vectorstore.SearchResult, error) {
	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}
	return r.index.Search(ctx, namespace, query, k)
}
