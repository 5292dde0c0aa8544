package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/engine"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/synthesis"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_ask",
		Description: "Answer a question from an indexed document collection. Pass the returned session_id back to continue the conversation.",
	}, instrument(s, "rag_ask", s.handleAsk))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_synthesize",
		Description: "Break a question into sub-questions and answer each one from the collection in turn.",
	}, instrument(s, "rag_synthesize", s.handleSynthesize))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_expand",
		Description: "Show the retrieval queries a question expands into, without searching.",
	}, instrument(s, "rag_expand", s.handleExpand))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_retrieve",
		Description: "Search a collection with one or more queries and return the fused, deduplicated passages.",
	}, instrument(s, "rag_retrieve", s.handleRetrieve))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_collections",
		Description: "List indexed collections with their passage counts.",
	}, instrument(s, "rag_collections", s.handleCollections))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_session_reset",
		Description: "Forget the conversation history of a session.",
	}, instrument(s, "rag_session_reset", s.handleSessionReset))
}

// instrument records metrics and logs failures around a tool handler.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		}
		return res, out, err
	}
}

// ===== ANSWER TOOLS =====

type askInput struct {
	Question   string `json:"question" jsonschema:"The question to answer"`
	Collection string `json:"collection,omitempty" jsonschema:"Collection to search (default: the configured default collection)"`
	SessionID  string `json:"session_id,omitempty" jsonschema:"Conversation to continue; a new one is started when empty"`
	K          int    `json:"k,omitempty" jsonschema:"Passages to retrieve per query (default: 5)"`
}

type answerOutput struct {
	Query    string   `json:"query" jsonschema:"The question this answers"`
	Answer   string   `json:"answer" jsonschema:"Answer text"`
	Pages    []string `json:"pages" jsonschema:"Pages of the passages used"`
	Fallback bool     `json:"fallback,omitempty" jsonschema:"True when nothing relevant was found"`
}

type askOutput struct {
	Answer    string   `json:"answer" jsonschema:"Answer text"`
	Pages     []string `json:"pages" jsonschema:"Pages of the passages used"`
	Fallback  bool     `json:"fallback,omitempty" jsonschema:"True when nothing relevant was found"`
	SessionID string   `json:"session_id" jsonschema:"Session the answer was recorded in"`
}

type synthesizeOutput struct {
	Answers   []answerOutput `json:"answers" jsonschema:"One answer per sub-question"`
	SessionID string         `json:"session_id" jsonschema:"Session the answers were recorded in"`
}

func toAnswerOutput(a synthesis.Answer) answerOutput {
	pages := a.Pages
	if pages == nil {
		pages = []string{}
	}
	return answerOutput{Query: a.Query, Answer: a.Text, Pages: pages, Fallback: a.Fallback}
}

func sessionOrNew(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, args askInput) (*mcp.CallToolResult, askOutput, error) {
	if strings.TrimSpace(args.Question) == "" {
		return nil, askOutput{}, fmt.Errorf("question is required")
	}
	sessionID := sessionOrNew(args.SessionID)

	ans, err := s.engine.Ask(ctx, sessionID, args.Question, args.Collection, args.K)
	if err != nil {
		return nil, askOutput{}, err
	}
	a := toAnswerOutput(*ans)
	return nil, askOutput{Answer: a.Answer, Pages: a.Pages, Fallback: a.Fallback, SessionID: sessionID}, nil
}

func (s *Server) handleSynthesize(ctx context.Context, _ *mcp.CallToolRequest, args askInput) (*mcp.CallToolResult, synthesizeOutput, error) {
	if strings.TrimSpace(args.Question) == "" {
		return nil, synthesizeOutput{}, fmt.Errorf("question is required")
	}
	sessionID := sessionOrNew(args.SessionID)

	answers, err := s.engine.Synthesize(ctx, sessionID, args.Question, args.Collection, args.K)
	if err != nil {
		return nil, synthesizeOutput{}, err
	}
	out := synthesizeOutput{Answers: make([]answerOutput, len(answers)), SessionID: sessionID}
	for i, a := range answers {
		out.Answers[i] = toAnswerOutput(a)
	}
	return nil, out, nil
}

// ===== RETRIEVAL TOOLS =====

type expandInput struct {
	Query string `json:"query" jsonschema:"Query to expand"`
	Mode  string `json:"mode,omitempty" jsonschema:"decompose, paraphrase or none (default: configured mode)"`
	N     int    `json:"n,omitempty" jsonschema:"Paraphrases to request (default: 5)"`
}

type expandOutput struct {
	Queries []string `json:"queries" jsonschema:"Queries to retrieve with"`
	Outcome string   `json:"outcome" jsonschema:"How the expansion went: parsed, unparseable, degenerate, service_failed or passthrough"`
}

func (s *Server) handleExpand(ctx context.Context, _ *mcp.CallToolRequest, args expandInput) (*mcp.CallToolResult, expandOutput, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, expandOutput{}, fmt.Errorf("query is required")
	}
	var mode expansion.Mode
	if args.Mode != "" {
		m, err := expansion.ParseMode(args.Mode)
		if err != nil {
			return nil, expandOutput{}, err
		}
		mode = m
	}

	res, err := s.engine.ExpandWith(ctx, args.Query, mode, args.N)
	if err != nil {
		return nil, expandOutput{}, err
	}
	return nil, expandOutput{Queries: res.Queries, Outcome: string(res.Outcome)}, nil
}

type retrieveInput struct {
	Queries    []string `json:"queries" jsonschema:"Queries to search with"`
	Collection string   `json:"collection,omitempty" jsonschema:"Collection to search (default: the configured default collection)"`
	K          int      `json:"k,omitempty" jsonschema:"Passages per query (default: 5)"`
	Fusion     string   `json:"fusion,omitempty" jsonschema:"rrf or union (default: configured policy)"`
}

type passage struct {
	SourceID string  `json:"source_id" jsonschema:"Passage identity"`
	Content  string  `json:"content" jsonschema:"Passage text"`
	Page     string  `json:"page,omitempty" jsonschema:"Page label"`
	Score    float64 `json:"score" jsonschema:"Fused score"`
}

type retrieveOutput struct {
	Passages []passage `json:"passages" jsonschema:"Fused passages, best first"`
	Count    int       `json:"count" jsonschema:"Number of passages"`
}

func (s *Server) handleRetrieve(ctx context.Context, _ *mcp.CallToolRequest, args retrieveInput) (*mcp.CallToolResult, retrieveOutput, error) {
	var queries []string
	for _, q := range args.Queries {
		if strings.TrimSpace(q) != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return nil, retrieveOutput{}, fmt.Errorf("at least one query is required")
	}
	var opts []engine.RetrieveOption
	if args.Fusion != "" {
		policy, err := fusion.ParsePolicy(args.Fusion)
		if err != nil {
			return nil, retrieveOutput{}, err
		}
		opts = append(opts, engine.WithPolicy(policy))
	}

	fused, err := s.engine.RetrieveFused(ctx, queries, args.Collection, args.K, opts...)
	if err != nil {
		return nil, retrieveOutput{}, err
	}
	out := retrieveOutput{Passages: make([]passage, len(fused)), Count: len(fused)}
	for i, f := range fused {
		out.Passages[i] = passage{SourceID: f.SourceID, Content: f.Content, Page: f.Page, Score: f.FusedScore}
	}
	return nil, out, nil
}

// ===== COLLECTION AND SESSION TOOLS =====

type collectionsInput struct{}

type collectionSummary struct {
	Name       string `json:"name" jsonschema:"Collection name"`
	PointCount int    `json:"point_count" jsonschema:"Indexed passages, -1 when unknown"`
}

type collectionsOutput struct {
	Collections []collectionSummary `json:"collections" jsonschema:"Indexed collections"`
}

func (s *Server) handleCollections(ctx context.Context, _ *mcp.CallToolRequest, _ collectionsInput) (*mcp.CallToolResult, collectionsOutput, error) {
	names, err := s.engine.Collections(ctx)
	if err != nil {
		return nil, collectionsOutput{}, err
	}
	sort.Strings(names)
	out := collectionsOutput{Collections: make([]collectionSummary, 0, len(names))}
	for _, name := range names {
		summary := collectionSummary{Name: name, PointCount: -1}
		if info, err := s.engine.CollectionInfo(ctx, name); err == nil && info != nil {
			summary.PointCount = info.PointCount
		}
		out.Collections = append(out.Collections, summary)
	}
	return nil, out, nil
}

type sessionResetInput struct {
	SessionID string `json:"session_id" jsonschema:"Session to clear"`
}

type sessionResetOutput struct {
	SessionID string `json:"session_id" jsonschema:"Session that was cleared"`
}

func (s *Server) handleSessionReset(ctx context.Context, _ *mcp.CallToolRequest, args sessionResetInput) (*mcp.CallToolResult, sessionResetOutput, error) {
	if err := s.engine.ResetSession(ctx, args.SessionID); err != nil {
		return nil, sessionResetOutput{}, err
	}
	return nil, sessionResetOutput{SessionID: args.SessionID}, nil
}
