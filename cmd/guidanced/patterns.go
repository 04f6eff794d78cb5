package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/guidanced/internal/guidance"
)

var (
	// pattern command flags
	patDomain     string
	patMetadata   []string
	patLimit      int
	patSuccess    bool
	patFailure    bool
	patOutputJSON bool
)

func init() {
	rootCmd.AddCommand(storeCmd, searchCmd, outcomeCmd, getCmd)

	for _, c := range []*cobra.Command{storeCmd, searchCmd, outcomeCmd, getCmd} {
		c.Flags().BoolVar(&patOutputJSON, "json", false, "Output results as JSON")
	}

	storeCmd.Flags().StringVar(&patDomain, "domain", "", "Pattern domain (e.g. security, testing)")
	storeCmd.Flags().StringSliceVar(&patMetadata, "meta", nil, "Metadata as key=value (repeatable)")

	searchCmd.Flags().IntVar(&patLimit, "limit", 0, "Maximum number of patterns to return (0 uses guidance.search_k)")

	outcomeCmd.Flags().BoolVar(&patSuccess, "success", false, "Record a successful application")
	outcomeCmd.Flags().BoolVar(&patFailure, "failure", false, "Record a failed application")
	outcomeCmd.MarkFlagsMutuallyExclusive("success", "failure")
	outcomeCmd.MarkFlagsOneRequired("success", "failure")
}

var storeCmd = &cobra.Command{
	Use:   "store <strategy>",
	Short: "Store a strategy pattern",
	Long: `Store a strategy pattern in short-term memory.

A strategy whose embedding is within the dedup threshold of an existing
pattern updates that pattern instead of creating a new one.

Examples:
  guidanced store "Validate JWT expiry before trusting claims" --domain security
  guidanced store "Run the race detector in CI" --meta agent=test-architect`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metadata, err := parseMetadata(patMetadata)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.store.StorePattern(ctx, strings.Join(args, " "), patDomain, metadata)
			if err != nil {
				return err
			}
			if patOutputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", res.Action, res.ID, res.Tier)
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search patterns by similarity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			matches, err := a.store.SearchPatterns(ctx, strings.Join(args, " "), patLimit)
			if err != nil {
				return err
			}
			if patOutputJSON {
				return writeJSON(cmd.OutOrStdout(), matches)
			}
			printMatches(cmd.OutOrStdout(), matches)
			return nil
		})
	},
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome <pattern-id>",
	Short: "Record the outcome of applying a pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, tier, err := a.store.ApplyOutcome(ctx, args[0], patSuccess)
			if err != nil {
				return err
			}
			if patOutputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"pattern": p, "tier": tier})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s quality=%.3f usage=%d success=%d tier=%s\n",
				p.ID, p.Quality, p.UsageCount, p.SuccessCount, tier)
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <pattern-id>",
	Short: "Show a single pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p, tier, err := a.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if patOutputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"pattern": p, "tier": tier})
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", p.ID)
			fmt.Fprintf(w, "Tier:\t%s\n", tier)
			fmt.Fprintf(w, "Domain:\t%s\n", p.Domain)
			fmt.Fprintf(w, "Strategy:\t%s\n", p.Strategy)
			fmt.Fprintf(w, "Quality:\t%.3f\n", p.Quality)
			fmt.Fprintf(w, "Usage:\t%d (%d successful)\n", p.UsageCount, p.SuccessCount)
			fmt.Fprintf(w, "Created:\t%s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "Updated:\t%s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
			return w.Flush()
		})
	},
}

// withApp wires a one-shot app, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return fn(ctx, a)
}

// parseMetadata parses key=value pairs.
func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	md := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", pair)
		}
		md[k] = v
	}
	return md, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMatches(out io.Writer, matches []guidance.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(out, "No patterns found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIER\tSIMILARITY\tQUALITY\tSTRATEGY")
	for _, m := range matches {
		fmt.Fprintf(w, "%s\t%s\t%.3f\t%.3f\t%s\n",
			m.Pattern.ID, m.Tier, m.Similarity, m.Pattern.Quality, truncate(m.Pattern.Strategy, 60))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
