package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/engine"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/synthesis"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Engine is the part of *engine.Engine the tools call.
type Engine interface {
	Ask(ctx context.Context, sessionID, question, namespace string, k int) (*synthesis.Answer, error)
	Synthesize(ctx context.Context, sessionID, query, namespace string, k int) ([]synthesis.Answer, error)
	ExpandWith(ctx context.Context, query string, mode expansion.Mode, n int) (expansion.Result, error)
	RetrieveFused(ctx context.Context, queries []string, namespace string, k int, opts ...engine.RetrieveOption) (fusion.Result, error)
	ResetSession(ctx context.Context, sessionID string) error
	Collections(ctx context.Context) ([]string, error)
	CollectionInfo(ctx context.Context, name string) (*vectorstore.CollectionInfo, error)
}

// Server serves the ragd tools over MCP.
type Server struct {
	mcp     *mcp.Server
	engine  Engine
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over eng.
func NewServer(cfg *Config, eng Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		engine:  eng,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger,
	}
	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.RunTransport(ctx, &mcp.StdioTransport{})
}

// RunTransport serves one session over t until the client disconnects or
// ctx is cancelled.
func (s *Server) RunTransport(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("starting MCP server")
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
