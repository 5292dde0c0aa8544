// Ragd answers questions over document collections stored in a vector index.
//
// The daemon serves the REST API on server.host:server.port. The mcp
// subcommand serves the same engine to MCP clients over stdio instead.
//
// Configuration is read from ~/.config/ragd/config.yaml (or -config) and
// environment variables. See internal/config for the keys.
//
// Usage:
//
//	# Start the REST API
//	ragd
//
//	# Serve MCP over stdio
//	ragd mcp
//
//	# Configure via environment
//	SERVER_PORT=9191 VECTORSTORE_PROVIDER=chromem ragd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/ragd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	mode := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		case "mcp":
			mode = "mcp"
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd           Start the REST API\n")
			fmt.Fprintf(os.Stderr, "  ragd mcp       Serve MCP over stdio\n")
			fmt.Fprintf(os.Stderr, "  ragd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case "mcp":
		err = runStdio(ctx, *configPath)
	default:
		err = run(ctx, *configPath)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("ragd: %v", err)
	}
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("ragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}
