// Package main implements ragctl, the command-line client for the ragd REST API.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool
}

func (o *options) client() *client {
	return newClient(o.serverURL, o.timeout)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ragctl",
		Short: "CLI for the ragd REST API",
		Long: `ragctl is a command-line interface for the ragd server.
It asks questions, inspects query expansion and retrieval, and manages
collections and conversation sessions.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:9090", "ragd server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		newHealthCmd(opts),
		newAskCmd(opts),
		newDecomposeCmd(opts),
		newExpandCmd(opts),
		newRetrieveCmd(opts),
		newCollectionsCmd(opts),
		newSessionCmd(opts),
		newChatCmd(opts),
	)
	return root
}

// printJSON writes v indented to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}
