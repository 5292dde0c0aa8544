// Package expansion turns one user query into several retrieval queries,
// either by decomposing it into sub-questions or by paraphrasing it.
package expansion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/expansion"

const (
	// MaxSubQueries caps decomposition output.
	MaxSubQueries = 5

	// DefaultVariants is the paraphrase count when none is given.
	DefaultVariants = 5

	paraphraseTemperature = 0.5
	paraphraseMaxTokens   = 200
	degenerateLength      = 3
)

// ErrMalformedExpansion is matched by every *ParseError.
var ErrMalformedExpansion = errors.New("malformed expansion")

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown expansion mode")

// ParseError reports completion output that is not the expected format.
type ParseError struct {
	Raw    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "malformed expansion: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrMalformedExpansion }

// Mode selects the expansion strategy.
type Mode string

const (
	ModeDecompose  Mode = "decompose"
	ModeParaphrase Mode = "paraphrase"
	ModeNone       Mode = "none"
)

// ParseMode parses a mode name. Empty selects decompose.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDecompose:
		return ModeDecompose, nil
	case ModeParaphrase:
		return ModeParaphrase, nil
	case ModeNone:
		return ModeNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Outcome records how a Result was produced.
type Outcome string

const (
	// OutcomeParsed means the completion output was parsed.
	OutcomeParsed Outcome = "parsed"
	// OutcomeUnparseable means decomposition output had no numbered items.
	OutcomeUnparseable Outcome = "unparseable"
	// OutcomeDegenerate means the query was too short to expand.
	OutcomeDegenerate Outcome = "degenerate"
	// OutcomeServiceFailed means the completion service failed.
	OutcomeServiceFailed Outcome = "service_failed"
	// OutcomePassthrough means expansion was disabled.
	OutcomePassthrough Outcome = "passthrough"
)

// Result is the list of queries to retrieve with. It is never empty.
type Result struct {
	Queries []string `json:"queries"`
	Outcome Outcome  `json:"outcome"`
}

// IsDegenerate reports whether q is too short to expand. Length counts
// characters, not bytes.
func IsDegenerate(q string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(q)) <= degenerateLength
}

// Expander asks the completion service for query variants.
type Expander struct {
	completer llm.Completer
	prompts   *prompts.Prompts
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New creates an Expander. A nil prompts uses the built-in prompts.
func New(completer llm.Completer, p *prompts.Prompts, logger *zap.Logger) *Expander {
	if p == nil {
		p = prompts.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		completer: completer,
		prompts:   p,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
	}
}

// Decompose splits query into at most MaxSubQueries sub-questions. It never
// fails: unparseable output and service failures yield [query] with the
// reason in Outcome.
func (e *Expander) Decompose(ctx context.Context, query string) Result {
	if IsDegenerate(query) {
		return Result{Queries: []string{query}, Outcome: OutcomeDegenerate}
	}

	ctx, span := e.tracer.Start(ctx, "Expander.Decompose")
	defer span.End()

	text, err := e.completer.Complete(ctx, []llm.Message{
		llm.System(e.prompts.Decompose()),
		llm.User(query),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("decomposition failed, using original query", zap.Error(err))
		return e.finish(span, Result{Queries: []string{query}, Outcome: OutcomeServiceFailed})
	}

	subs := ParseNumberedList(text)
	if len(subs) == 0 {
		e.logger.Debug("decomposition output had no numbered items", zap.Int("length", len(text)))
		return e.finish(span, Result{Queries: []string{query}, Outcome: OutcomeUnparseable})
	}
	return e.finish(span, Result{Queries: subs, Outcome: OutcomeParsed})
}

// Paraphrase asks for n reformulations of query as a JSON array of strings.
// n is capped at MaxSubQueries. Output that is not such an array is a
// *ParseError.
func (e *Expander) Paraphrase(ctx context.Context, query string, n int) (Result, error) {
	if n <= 0 {
		n = DefaultVariants
	}
	n = min(n, MaxSubQueries)
	if IsDegenerate(query) {
		return Result{Queries: []string{query}, Outcome: OutcomeDegenerate}, nil
	}

	ctx, span := e.tracer.Start(ctx, "Expander.Paraphrase")
	defer span.End()
	span.SetAttributes(attribute.Int("expansion.requested", n))

	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	system, err := e.prompts.Paraphrase(n)
	if err != nil {
		return fail(err)
	}
	payload, err := json.Marshal(struct {
		Query string `json:"query"`
	}{query})
	if err != nil {
		return fail(fmt.Errorf("encoding query: %w", err))
	}

	text, err := e.completer.Complete(ctx,
		[]llm.Message{llm.System(system), llm.User(string(payload))},
		llm.WithTemperature(paraphraseTemperature),
		llm.WithMaxTokens(paraphraseMaxTokens),
	)
	if err != nil {
		return fail(fmt.Errorf("paraphrasing query: %w", err))
	}

	variants, err := ParseJSONArray(text, n)
	if err != nil {
		e.logger.Warn("paraphrase output rejected", zap.Error(err))
		return fail(err)
	}
	return e.finish(span, Result{Queries: variants, Outcome: OutcomeParsed}), nil
}

// Expand dispatches on mode. n is the paraphrase count.
func (e *Expander) Expand(ctx context.Context, query string, mode Mode, n int) (Result, error) {
	switch mode {
	case ModeDecompose, "":
		return e.Decompose(ctx, query), nil
	case ModeParaphrase:
		return e.Paraphrase(ctx, query, n)
	case ModeNone:
		return Result{Queries: []string{query}, Outcome: OutcomePassthrough}, nil
	}
	return Result{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

func (e *Expander) finish(span trace.Span, r Result) Result {
	span.SetAttributes(
		attribute.String("expansion.outcome", string(r.Outcome)),
		attribute.Int("expansion.queries", len(r.Queries)),
	)
	return r
}

// ParseNumberedList extracts items written as "1. text" through "9. text",
// one per line, in order of appearance. Lines without such a prefix are
// ignored. At most MaxSubQueries items are returned.
func ParseNumberedList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !hasNumberPrefix(line) {
			continue
		}
		_, rest, _ := strings.Cut(line, ".")
		if item := strings.TrimSpace(rest); item != "" {
			out = append(out, item)
			if len(out) == MaxSubQueries {
				break
			}
		}
	}
	return out
}

func hasNumberPrefix(line string) bool {
	for i := 1; i <= 9; i++ {
		if strings.HasPrefix(line, strconv.Itoa(i)+".") {
			return true
		}
	}
	return false
}

// ParseJSONArray decodes a JSON array of strings, dropping blank items and
// keeping at most n. A surrounding markdown code fence is tolerated.
func ParseJSONArray(text string, n int) ([]string, error) {
	raw := stripCodeFence(text)

	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, &ParseError{Raw: text, Reason: "not a JSON array of strings", Err: err}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil, &ParseError{Raw: text, Reason: "empty array"}
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
