// Package http provides the ragd REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/engine"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/synthesis"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Engine is the part of *engine.Engine the API serves.
type Engine interface {
	Ask(ctx context.Context, sessionID, question, namespace string, k int) (*synthesis.Answer, error)
	Synthesize(ctx context.Context, sessionID, query, namespace string, k int) ([]synthesis.Answer, error)
	ExpandWith(ctx context.Context, query string, mode expansion.Mode, n int) (expansion.Result, error)
	RetrieveFused(ctx context.Context, queries []string, namespace string, k int, opts ...engine.RetrieveOption) (fusion.Result, error)
	ResetSession(ctx context.Context, sessionID string) error
	Collections(ctx context.Context) ([]string, error)
	CollectionInfo(ctx context.Context, name string) (*vectorstore.CollectionInfo, error)
	DeleteCollection(ctx context.Context, name string) error
}

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(eng Engine, logger *logging.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(e)

	s := &Server{
		echo:    e,
		engine:  eng,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger.Underlying()),
	}

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestContext)

	s.registerRoutes()

	return s, nil
}

// requestContext carries the request ID into the request context and logs
// each request once it completes.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := req.Context()
		if rid := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidateID(rid) == nil {
			ctx = logging.WithRequestID(ctx, rid)
			c.SetRequest(req.WithContext(ctx))
		}

		err := next(c)
		if err != nil {
			// Resolve the status before logging it.
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/rag", s.handleRAG)
	v1.POST("/rag/decompose", s.handleDecompose)
	v1.POST("/expand", s.handleExpand)
	v1.POST("/retrieve", s.handleRetrieve)
	v1.GET("/collections", s.handleListCollections)
	v1.GET("/collections/:name", s.handleCollectionInfo)
	v1.DELETE("/collections/:name", s.handleDeleteCollection)
	v1.DELETE("/sessions/:id", s.handleResetSession)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after a clean Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
