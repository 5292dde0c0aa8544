package synthesis

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/prompts"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Answerer answers one question from a fixed set of passages.
type Answerer struct {
	completer llm.Completer
	prompts   *prompts.Prompts
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAnswerer creates an Answerer. A nil prompts uses the built-ins.
func NewAnswerer(completer llm.Completer, p *prompts.Prompts, logger *zap.Logger) *Answerer {
	if p == nil {
		p = prompts.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Answerer{
		completer: completer,
		prompts:   p,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}
}

// Answer asks the model about question using the fused passages and the
// session's recent history, and records the exchange. With no passages it
// returns the fallback Answer without calling the model. Completion failures
// are returned.
func (a *Answerer) Answer(ctx context.Context, sess *conversation.Session, question string, fused fusion.Result) (*Answer, error) {
	ctx, span := a.tracer.Start(ctx, "Answerer.Answer", trace.WithAttributes(
		attribute.Int("passages", len(fused)),
	))
	defer span.End()

	if len(fused) == 0 {
		fallbacksTotal.Inc()
		span.SetAttributes(attribute.Bool("fallback", true))
		return &Answer{Query: question, Text: a.prompts.Fallback(), Pages: []string{}, Fallback: true}, nil
	}

	hits := make([]retrieval.Candidate, len(fused))
	for i, f := range fused {
		hits[i] = f.Candidate
	}
	answer, err := a.answer(ctx, sess, question, hits)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return answer, nil
}

func (a *Answerer) answer(ctx context.Context, sess *conversation.Session, query string, hits []retrieval.Candidate) (*Answer, error) {
	pages := pagesOf(hits)

	system, err := a.prompts.System(joinContents(hits), strings.Join(pages, ", "))
	if err != nil {
		return nil, err
	}
	history, err := sess.Recent(ctx, 0)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.System(system))
	for _, t := range history {
		if t.Role == conversation.RoleAssistant {
			messages = append(messages, llm.Assistant(t.Text))
		} else {
			messages = append(messages, llm.User(t.Text))
		}
	}
	messages = append(messages, llm.User(query))

	text, err := a.completer.Complete(ctx, messages)
	if err != nil {
		return nil, err
	}
	if err := sess.Record(ctx, query, text); err != nil {
		a.logger.Warn("failed to record turn", zap.String("session_id", sess.ID()), zap.Error(err))
	}

	metadata := make([]map[string]interface{}, len(hits))
	for i, h := range hits {
		metadata[i] = h.Metadata
	}
	return &Answer{Query: query, Text: text, Pages: pages, Metadata: metadata}, nil
}

func joinContents(hits []retrieval.Candidate) string {
	contents := make([]string, len(hits))
	for i, h := range hits {
		contents[i] = h.Content
	}
	return strings.Join(contents, "\n")
}

func pagesOf(hits []retrieval.Candidate) []string {
	pages := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Page != "" {
			pages = append(pages, h.Page)
		}
	}
	return pages
}
