package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	api "github.com/fyrsmithlabs/ragd/internal/http"
)

// maxContentWidth bounds passage text in retrieve output.
const maxContentWidth = 60

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ragd server health",
		Long: `Check the health status of the ragd server.

Examples:
  # Check health
  ragctl health

  # Check health on a different server
  ragctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client().health(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", resp.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", opts.serverURL)
			return nil
		},
	}
}

// ragFlags are shared by ask and decompose.
type ragFlags struct {
	collection string
	session    string
	k          int
}

func (f *ragFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.collection, "collection", "c", "parallel_query", "collection to search")
	cmd.Flags().StringVarP(&f.session, "session", "s", "", "session ID to continue (default: new session)")
	cmd.Flags().IntVar(&f.k, "k", 0, "passages per query (default: server setting)")
}

func (f *ragFlags) request(args []string) api.RAGRequest {
	return api.RAGRequest{
		Question:       strings.Join(args, " "),
		CollectionName: f.collection,
		SessionID:      f.session,
		K:              f.k,
	}
}

func newAskCmd(opts *options) *cobra.Command {
	flags := &ragFlags{}
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer a question from one fused context",
		Long: `Expand the question, retrieve passages for every variant, fuse them
and answer from the fused context.

Examples:
  ragctl ask -c handbook "How many vacation days do I get?"

  # Continue a conversation
  ragctl ask -c handbook -s 3f0c... "And sick days?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().ask(cmd.Context(), flags.request(args))
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
			if len(resp.Pages) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\nPages: %s\n", strings.Join(resp.Pages, ", "))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[ragctl] session %s\n", resp.SessionID)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newDecomposeCmd(opts *options) *cobra.Command {
	flags := &ragFlags{}
	cmd := &cobra.Command{
		Use:   "decompose QUESTION...",
		Short: "Answer each sub-question of a question separately",
		Long: `Decompose the question into sub-questions and answer them one by one,
each answer seeing the ones before it.

Examples:
  ragctl decompose -c handbook "Compare vacation and sick leave"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().decompose(cmd.Context(), flags.request(args))
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			for i, a := range resp.Answers {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("Q%d:", i+1)), a.Query)
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("A%d:", i+1)), a.Answer)
				if len(a.Pages) > 0 {
					fmt.Fprintf(out, "%s\n", dimStyle.Render("Pages: "+strings.Join(a.Pages, ", ")))
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[ragctl] session %s\n", resp.SessionID)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newExpandCmd(opts *options) *cobra.Command {
	var (
		mode string
		n    int
	)
	cmd := &cobra.Command{
		Use:   "expand QUERY...",
		Short: "Show the retrieval queries a question expands into",
		Long: `Expand a query the way ragd does before retrieval.

Examples:
  ragctl expand "Compare vacation and sick leave"
  ragctl expand --mode paraphrase --n 3 "vacation policy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().expand(cmd.Context(), api.ExpandRequest{
				Query: strings.Join(args, " "),
				Mode:  mode,
				N:     n,
			})
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			for _, q := range resp.Queries {
				fmt.Fprintln(cmd.OutOrStdout(), q)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "[ragctl] outcome %s\n", resp.Outcome)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "decompose, paraphrase or none (default: server setting)")
	cmd.Flags().IntVar(&n, "n", 0, "number of paraphrases")
	return cmd
}

func newRetrieveCmd(opts *options) *cobra.Command {
	var (
		collection string
		k          int
		fusion     string
	)
	cmd := &cobra.Command{
		Use:   "retrieve QUERY [QUERY...]",
		Short: "Retrieve and fuse passages for one or more queries",
		Long: `Retrieve passages for every query and fuse them into one ranked list.
Each argument is a separate query.

Examples:
  ragctl retrieve -c handbook "vacation days" "sick leave"
  ragctl retrieve -c handbook --fusion union "vacation days"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().retrieve(cmd.Context(), api.RetrieveRequest{
				Queries:        args,
				CollectionName: collection,
				K:              k,
				Fusion:         fusion,
			})
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			if len(resp.Candidates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No passages found")
				return nil
			}

			t := newTable("#", "SCORE", "PAGE", "SOURCE", "CONTENT")
			for i, c := range resp.Candidates {
				t.Row(
					strconv.Itoa(i+1),
					strconv.FormatFloat(c.FusedScore, 'f', 4, 64),
					c.Page,
					c.SourceID,
					truncate(c.Content, maxContentWidth),
				)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "parallel_query", "collection to search")
	cmd.Flags().IntVar(&k, "k", 0, "passages per query (default: server setting)")
	cmd.Flags().StringVar(&fusion, "fusion", "", "rrf or union (default: server setting)")
	return cmd
}

func newCollectionsCmd(opts *options) *cobra.Command {
	list := func(cmd *cobra.Command, _ []string) error {
		resp, err := opts.client().collections(cmd.Context())
		if err != nil {
			return err
		}
		if opts.jsonOut {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		if len(resp.Collections) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No collections")
			return nil
		}
		t := newTable("NAME", "PASSAGES")
		for _, c := range resp.Collections {
			t.Row(c.Name, pointCount(c.PointCount))
		}
		fmt.Fprintln(cmd.OutOrStdout(), t.String())
		return nil
	}

	cmd := &cobra.Command{
		Use:   "collections",
		Short: "List and manage collections",
		Args:  cobra.NoArgs,
		RunE:  list,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE:  list,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "info NAME",
		Short: "Show one collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.client().collectionInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Name:        %s\n", info.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "Passages:    %d\n", info.PointCount)
			fmt.Fprintf(cmd.OutOrStdout(), "Vector size: %d\n", info.VectorSize)
			return nil
		},
	})

	var yes bool
	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a collection and all its passages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", args[0])
			}
			if err := opts.client().deleteCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted collection %s\n", args[0])
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	cmd.AddCommand(del)

	return cmd
}

func newSessionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset ID",
		Short: "Clear a session's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().resetSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset session %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func pointCount(n int) string {
	if n < 0 {
		return "unknown"
	}
	return strconv.Itoa(n)
}

// truncate shortens s to at most n runes on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
