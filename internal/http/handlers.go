package http

import (
	"net/http"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/engine"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// bindRAG reads and checks a RAGRequest, assigning a session ID when the
// client sent none.
func (s *Server) bindRAG(c echo.Context) (RAGRequest, error) {
	var req RAGRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid rag request", zap.Error(err))
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}
	if strings.TrimSpace(req.CollectionName) == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "collection_name field is required")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return req, nil
}

// handleRAG answers one question within a session.
func (s *Server) handleRAG(c echo.Context) error {
	req, err := s.bindRAG(c)
	if err != nil {
		return err
	}

	ans, err := s.engine.Ask(c.Request().Context(), req.SessionID, req.Question, req.CollectionName, req.K)
	if err != nil {
		return engineError(err)
	}

	return c.JSON(http.StatusOK, RAGResponse{
		Answer:         ans.Text,
		Pages:          nonNil(ans.Pages),
		CollectionName: req.CollectionName,
		SessionID:      req.SessionID,
		Fallback:       ans.Fallback,
	})
}

// handleDecompose answers each sub-question of a decomposed question.
func (s *Server) handleDecompose(c echo.Context) error {
	req, err := s.bindRAG(c)
	if err != nil {
		return err
	}

	answers, err := s.engine.Synthesize(c.Request().Context(), req.SessionID, req.Question, req.CollectionName, req.K)
	if err != nil {
		return engineError(err)
	}

	resp := DecomposeResponse{
		Answers:        make([]SubAnswer, len(answers)),
		CollectionName: req.CollectionName,
		SessionID:      req.SessionID,
	}
	for i, a := range answers {
		resp.Answers[i] = SubAnswer{Query: a.Query, Answer: a.Text, Pages: nonNil(a.Pages), Fallback: a.Fallback}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleExpand returns the expansion of a query without retrieving.
func (s *Server) handleExpand(c echo.Context) error {
	var req ExpandRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	var mode expansion.Mode
	if req.Mode != "" {
		m, err := expansion.ParseMode(req.Mode)
		if err != nil {
			return engineError(err)
		}
		mode = m
	}

	res, err := s.engine.ExpandWith(c.Request().Context(), req.Query, mode, req.N)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, ExpandResponse{Queries: res.Queries, Outcome: res.Outcome, Mode: mode})
}

// handleRetrieve returns fused candidates for one or more queries.
func (s *Server) handleRetrieve(c echo.Context) error {
	var req RetrieveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	queries := make([]string, 0, len(req.Queries)+1)
	for _, q := range append(req.Queries, req.Query) {
		if strings.TrimSpace(q) != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "query or queries field is required")
	}
	if strings.TrimSpace(req.CollectionName) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "collection_name field is required")
	}

	var opts []engine.RetrieveOption
	if req.Fusion != "" {
		policy, err := fusion.ParsePolicy(req.Fusion)
		if err != nil {
			return engineError(err)
		}
		opts = append(opts, engine.WithPolicy(policy))
	}

	result, err := s.engine.RetrieveFused(c.Request().Context(), queries, req.CollectionName, req.K, opts...)
	if err != nil {
		return engineError(err)
	}
	if result == nil {
		result = fusion.Result{}
	}
	return c.JSON(http.StatusOK, RetrieveResponse{Candidates: result, CollectionName: req.CollectionName})
}

func (s *Server) handleListCollections(c echo.Context) error {
	collections, err := summarizeCollections(c.Request().Context(), s.engine)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, CollectionsResponse{Collections: collections})
}

func (s *Server) handleCollectionInfo(c echo.Context) error {
	info, err := s.engine.CollectionInfo(c.Request().Context(), c.Param("name"))
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	if err := s.engine.DeleteCollection(c.Request().Context(), c.Param("name")); err != nil {
		return engineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResetSession(c echo.Context) error {
	if err := s.engine.ResetSession(c.Request().Context(), c.Param("id")); err != nil {
		return engineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func nonNil(pages []string) []string {
	if pages == nil {
		return []string{}
	}
	return pages
}
