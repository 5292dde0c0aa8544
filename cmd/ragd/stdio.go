package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/ragd/internal/config"
	ragdmcp "github.com/fyrsmithlabs/ragd/internal/mcp"
)

// runStdio serves the engine to an MCP client over stdin/stdout. Stdout
// carries the protocol, so logs go to stderr.
func runStdio(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}
	return serveMCP(ctx, cfg, &mcp.StdioTransport{}, os.Stderr)
}

// serveMCP serves the engine for cfg over t until the client disconnects or
// ctx is cancelled.
func serveMCP(ctx context.Context, cfg *config.Config, t mcp.Transport, logOut io.Writer) error {
	deps, err := initDependencies(ctx, cfg, logOut)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(context.Background())

	srv, err := ragdmcp.NewServer(&ragdmcp.Config{
		Name:    "ragd",
		Version: version,
		Logger:  deps.logger.Underlying(),
	}, deps.engine)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	deps.logger.Info(ctx, "serving MCP")
	if err := srv.RunTransport(ctx, t); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}
