// Package engine is ragd's outward API: query expansion, fused retrieval,
// iterative synthesis and single-shot answers over a vector index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/prompts"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/synthesis"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/engine"

// GuidanceText is the built-in answer to an empty question.
const GuidanceText = prompts.DefaultGuidance

// errInvalidQuery marks an empty question. It is answered with guidance and
// never returned.
var errInvalidQuery = errors.New("invalid query")

// Deps are the collaborators of an Engine.
type Deps struct {
	Index     vectorstore.Index
	Completer llm.Completer
	Sessions  *conversation.Manager

	// Optional.
	Prompts          *prompts.Prompts
	Publisher        events.Publisher
	Logger           *logging.Logger
	QueryTimeout     time.Duration
	DefaultNamespace string
}

// Engine answers questions over an Index.
type Engine struct {
	index            vectorstore.Index
	retriever        *retrieval.Retriever
	expander         *expansion.Expander
	synthesizer      *synthesis.Synthesizer
	answerer         *synthesis.Answerer
	sessions         *conversation.Manager
	publisher        events.Publisher
	prompts          *prompts.Prompts
	logger           *logging.Logger
	tracer           trace.Tracer
	defaultNamespace string

	settings atomic.Pointer[Settings]
}

// New wires an Engine.
func New(deps Deps, settings Settings) (*Engine, error) {
	if deps.Index == nil {
		return nil, errors.New("engine: index required")
	}
	if deps.Completer == nil {
		return nil, errors.New("engine: completer required")
	}
	if deps.Sessions == nil {
		deps.Sessions = conversation.NewManager(nil, 0, nil)
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.DefaultNamespace == "" {
		deps.DefaultNamespace = "parallel_query"
	}

	zl := deps.Logger.Underlying()
	retriever := retrieval.New(deps.Index, zl.Named("retrieval"), retrieval.WithQueryTimeout(deps.QueryTimeout))

	e := &Engine{
		index:            deps.Index,
		retriever:        retriever,
		expander:         expansion.New(deps.Completer, deps.Prompts, zl.Named("expansion")),
		synthesizer:      synthesis.NewSynthesizer(retriever, deps.Completer, deps.Prompts, zl.Named("synthesis")),
		answerer:         synthesis.NewAnswerer(deps.Completer, deps.Prompts, zl.Named("synthesis")),
		sessions:         deps.Sessions,
		publisher:        deps.Publisher,
		prompts:          deps.Prompts,
		logger:           deps.Logger,
		tracer:           otel.Tracer(instrumentationName),
		defaultNamespace: deps.DefaultNamespace,
	}
	e.UpdateSettings(settings)
	return e, nil
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// UpdateSettings replaces the settings for subsequent requests.
func (e *Engine) UpdateSettings(s Settings) {
	s = s.withDefaults()
	e.settings.Store(&s)
}

// Expand expands query with the configured mode.
func (e *Engine) Expand(ctx context.Context, query string) (expansion.Result, error) {
	s := e.Settings()
	return e.ExpandWith(ctx, query, s.Expansion, s.Variants)
}

// ExpandWith expands query with an explicit mode and variant count. Zero
// values use the configured ones.
func (e *Engine) ExpandWith(ctx context.Context, query string, mode expansion.Mode, n int) (expansion.Result, error) {
	s := e.Settings()
	if mode == "" {
		mode = s.Expansion
	}
	if n <= 0 {
		n = s.Variants
	}
	return e.expander.Expand(ctx, query, mode, n)
}

// RetrieveOption adjusts one RetrieveFused call.
type RetrieveOption func(*retrieveOptions)

type retrieveOptions struct {
	policy fusion.Policy
}

// WithPolicy overrides the fusion policy.
func WithPolicy(p fusion.Policy) RetrieveOption {
	return func(o *retrieveOptions) { o.policy = p }
}

// RetrieveFused retrieves up to k candidates per query from namespace and
// fuses the lists. It waits for every retrieval before fusing.
func (e *Engine) RetrieveFused(ctx context.Context, queries []string, namespace string, k int, opts ...RetrieveOption) (result fusion.Result, err error) {
	s := e.Settings()
	o := retrieveOptions{policy: s.Fusion}
	for _, opt := range opts {
		opt(&o)
	}
	if k <= 0 {
		k = s.K
	}
	namespace, err = e.namespace(namespace)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "Engine.RetrieveFused", trace.WithAttributes(
		attribute.Int("queries", len(queries)),
		attribute.String("namespace", namespace),
		attribute.String("fusion", string(o.policy)),
	))
	defer endSpan(span, &err)

	lists, err := e.retriever.FanOut(ctx, queries, namespace, k, s.Parallel)
	if err != nil {
		return nil, err
	}
	result, err = fusion.Fuse(o.policy, lists, s.RRFK)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(result)))
	return result, nil
}

// Synthesize decomposes query and answers each sub-query in turn within the
// session, returning at least one Answer. An empty query yields the guidance
// answer. Per sub-query failures are absorbed.
func (e *Engine) Synthesize(ctx context.Context, sessionID, query, namespace string, k int) (answers []synthesis.Answer, err error) {
	ctx, err = withSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "Engine.Synthesize")
	defer endSpan(span, &err)

	if err := validateQuery(query); err != nil {
		return []synthesis.Answer{e.guidance(query)}, nil
	}
	namespace, err = e.namespace(namespace)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = e.Settings().K
	}
	span.SetAttributes(attribute.String("namespace", namespace))

	subs := e.expander.Decompose(ctx, query)
	span.SetAttributes(attribute.String("expansion.outcome", string(subs.Outcome)))
	e.logger.Debug(ctx, "query decomposed",
		zap.Int("subqueries", len(subs.Queries)),
		zap.String("outcome", string(subs.Outcome)),
	)

	sess, err := e.sessions.Open(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	answers = e.synthesizer.Synthesize(ctx, sess, subs.Queries, namespace, k)
	sess.Close()

	if len(answers) == 1 && answers[0].Fallback {
		answers[0].Query = query
	}
	e.publish(ctx, events.KindSynthesize, sessionID, namespace, query, answers)
	return answers, nil
}

// Ask expands question, retrieves and fuses candidates, and answers once
// with the session history. An empty question yields the guidance answer.
func (e *Engine) Ask(ctx context.Context, sessionID, question, namespace string, k int) (answer *synthesis.Answer, err error) {
	ctx, err = withSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "Engine.Ask")
	defer endSpan(span, &err)

	if err := validateQuery(question); err != nil {
		g := e.guidance(question)
		return &g, nil
	}
	namespace, err = e.namespace(namespace)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("namespace", namespace))

	expanded, err := e.Expand(ctx, question)
	if err != nil {
		return nil, err
	}
	fused, err := e.RetrieveFused(ctx, expanded.Queries, namespace, k)
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Open(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer sess.Close()

	answer, err = e.answerer.Answer(ctx, sess, question, fused)
	if err != nil {
		e.logger.Error(ctx, "answer failed", zap.String("namespace", namespace), zap.Error(err))
		return nil, err
	}
	e.publish(ctx, events.KindAsk, sessionID, namespace, question, []synthesis.Answer{*answer})
	return answer, nil
}

// ResetSession clears a session's history.
func (e *Engine) ResetSession(ctx context.Context, sessionID string) error {
	ctx, err := withSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := e.sessions.Reset(ctx, sessionID); err != nil {
		return err
	}
	e.logger.Info(ctx, "session reset")
	return nil
}

// Collections lists the index's collections.
func (e *Engine) Collections(ctx context.Context) ([]string, error) {
	return e.index.ListCollections(ctx)
}

// CollectionInfo describes one collection.
func (e *Engine) CollectionInfo(ctx context.Context, name string) (*vectorstore.CollectionInfo, error) {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return nil, err
	}
	return e.index.GetCollectionInfo(ctx, name)
}

// DeleteCollection removes a collection and its passages.
func (e *Engine) DeleteCollection(ctx context.Context, name string) error {
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return err
	}
	if err := e.index.DeleteCollection(ctx, name); err != nil {
		return err
	}
	e.logger.Info(ctx, "collection deleted", zap.String("collection", name))
	return nil
}

// DefaultNamespace is used when a request names no collection.
func (e *Engine) DefaultNamespace() string {
	return e.defaultNamespace
}

func (e *Engine) namespace(ns string) (string, error) {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		ns = e.defaultNamespace
	}
	if err := vectorstore.ValidateCollectionName(ns); err != nil {
		return "", err
	}
	return ns, nil
}

func (e *Engine) guidance(query string) synthesis.Answer {
	return synthesis.Answer{Query: query, Text: e.prompts.Guidance(), Pages: []string{}}
}

func (e *Engine) publish(ctx context.Context, kind, sessionID, namespace, query string, answers []synthesis.Answer) {
	summaries := make([]events.AnswerSummary, len(answers))
	for i, a := range answers {
		summaries[i] = events.AnswerSummary{Query: a.Query, Text: a.Text, Pages: a.Pages, Fallback: a.Fallback}
	}
	err := e.publisher.PublishAnswer(ctx, events.AnswerEvent{
		Kind:      kind,
		RequestID: logging.RequestIDFromContext(ctx),
		SessionID: sessionID,
		Namespace: namespace,
		Query:     query,
		Answers:   summaries,
	})
	if err != nil {
		e.logger.Warn(ctx, "failed to publish answer event", zap.Error(err))
	}
}

func withSession(ctx context.Context, sessionID string) (context.Context, error) {
	if err := logging.ValidateID(sessionID); err != nil {
		return ctx, fmt.Errorf("%w: %v", conversation.ErrInvalidSession, err)
	}
	return logging.WithSessionID(ctx, sessionID), nil
}

func validateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return errInvalidQuery
	}
	return nil
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
