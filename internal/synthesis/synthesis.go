// Package synthesis turns retrieved passages into answers, one sub-query at
// a time, carrying context and conversation history forward.
package synthesis

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/prompts"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/synthesis"

// minSubQueryLength is the shortest trimmed sub-query worth answering, in
// characters.
const minSubQueryLength = 3

// FallbackText is the built-in answer when no sub-query produced one.
const FallbackText = prompts.DefaultFallback

var (
	skippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "synthesis",
			Name:      "skipped_subqueries_total",
			Help:      "Sub-queries skipped during synthesis by reason",
		},
		[]string{"reason"},
	)

	fallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "synthesis",
			Name:      "fallbacks_total",
			Help:      "Syntheses that produced no answer and returned the fallback text",
		},
	)
)

// Answer is the reply to one query.
type Answer struct {
	Query    string                   `json:"query"`
	Text     string                   `json:"answer"`
	Pages    []string                 `json:"pages"`
	Metadata []map[string]interface{} `json:"metadata,omitempty"`

	// Fallback is set when nothing relevant was found.
	Fallback bool `json:"fallback,omitempty"`
}

// Retriever fetches candidates for one query.
type Retriever interface {
	Retrieve(ctx context.Context, query, namespace string, k int) ([]retrieval.Candidate, error)
}

// Synthesizer answers a list of sub-queries in order.
type Synthesizer struct {
	retriever Retriever
	answerer  *Answerer
	prompts   *prompts.Prompts
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewSynthesizer creates a Synthesizer. A nil prompts uses the built-ins.
func NewSynthesizer(retriever Retriever, completer llm.Completer, p *prompts.Prompts, logger *zap.Logger) *Synthesizer {
	if p == nil {
		p = prompts.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		retriever: retriever,
		answerer:  NewAnswerer(completer, p, logger),
		prompts:   p,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}
}

// Synthesize answers each sub-query against namespace.
//
// Every retrieval is made with the sub-query followed by the passages found
// for the last sub-query that had hits. Sub-queries that are too short, match nothing, or fail are
// skipped; the turn of each answered one is recorded in sess. When nothing
// is answered the result is a single fallback Answer. It never fails.
func (s *Synthesizer) Synthesize(ctx context.Context, sess *conversation.Session, subQueries []string, namespace string, k int) []Answer {
	ctx, span := s.tracer.Start(ctx, "Synthesizer.Synthesize", trace.WithAttributes(
		attribute.Int("subqueries", len(subQueries)),
		attribute.String("namespace", namespace),
	))
	defer span.End()

	var (
		answers        []Answer
		runningContext string
	)
	for i, sub := range subQueries {
		log := s.logger.With(zap.Int("subquery", i))

		if utf8.RuneCountInString(strings.TrimSpace(sub)) < minSubQueryLength {
			skippedTotal.WithLabelValues("too_short").Inc()
			continue
		}

		hits, err := s.retriever.Retrieve(ctx, strings.TrimSpace(sub+" "+runningContext), namespace, k)
		if err != nil {
			skippedTotal.WithLabelValues("retrieval_error").Inc()
			log.Warn("skipping sub-query after retrieval failure", zap.Error(err))
			continue
		}
		if len(hits) == 0 {
			skippedTotal.WithLabelValues("no_hits").Inc()
			log.Debug("skipping sub-query without hits")
			continue
		}

		runningContext = joinContents(hits)

		answer, err := s.answerer.answer(ctx, sess, sub, hits)
		if err != nil {
			skippedTotal.WithLabelValues("completion_error").Inc()
			log.Warn("skipping sub-query after completion failure", zap.Error(err))
			continue
		}
		answers = append(answers, *answer)
	}

	span.SetAttributes(attribute.Int("answers", len(answers)))
	if len(answers) == 0 {
		fallbacksTotal.Inc()
		span.SetAttributes(attribute.Bool("fallback", true))
		return []Answer{s.Fallback("")}
	}
	return answers
}

// Fallback returns the no-result Answer for query.
func (s *Synthesizer) Fallback(query string) Answer {
	return Answer{Query: query, Text: s.prompts.Fallback(), Pages: []string{}, Fallback: true}
}
