package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/guidanced/internal/guidance"
)

var (
	guideFile    string
	guideCommand string
	guideRoute   string
	opOutputJSON bool
)

func init() {
	rootCmd.AddCommand(guideCmd, routeCmd, consolidateCmd, statsCmd, exportCmd)

	for _, c := range []*cobra.Command{guideCmd, routeCmd, consolidateCmd, statsCmd} {
		c.Flags().BoolVar(&opOutputJSON, "json", false, "Output results as JSON")
	}

	guideCmd.Flags().StringVar(&guideFile, "file", "", "File being worked on")
	guideCmd.Flags().StringVar(&guideCommand, "command", "", "Command being run")
	guideCmd.Flags().StringVar(&guideRoute, "route", "", "Routing task folded into the query")
}

var guideCmd = &cobra.Command{
	Use:   "guide [task description]",
	Short: "Synthesize guidance for a task",
	Long: `Detect the domains a task touches, retrieve relevant patterns and print
recommendations.

Examples:
  guidanced guide "add JWT validation to the login handler"
  guidanced guide --file internal/auth/token.go --route "fix token refresh"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		gc := guidance.GuidanceContext{
			FilePath:    guideFile,
			Command:     guideCommand,
			Task:        guidance.Task{Description: strings.Join(args, " ")},
			RoutingTask: guideRoute,
		}
		if gc.Query() == "" {
			return fmt.Errorf("a task description, --file or --command is required")
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.store.GenerateGuidance(ctx, gc)
			if err != nil {
				return err
			}
			if opOutputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			if len(res.Domains) > 0 {
				fmt.Fprintf(out, "Domains: %s\n", strings.Join(res.Domains, ", "))
			}
			if res.ContextSummary != "" {
				fmt.Fprintf(out, "\nRelevant patterns:\n%s\n", res.ContextSummary)
			}
			if len(res.Recommendations) > 0 {
				fmt.Fprintln(out, "\nRecommendations:")
				for _, r := range res.Recommendations {
					fmt.Fprintf(out, "  - %s\n", r)
				}
			}
			sug := res.AgentSuggestion
			fmt.Fprintf(out, "\nSuggested agent: %s (%d%%) %s\n", sug.Agent, sug.Confidence, sug.Reasoning)
			return nil
		})
	},
}

var routeCmd = &cobra.Command{
	Use:   "route <task>",
	Short: "Suggest an agent for a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.store.RouteTask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if opOutputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Agent:      %s\n", res.Suggestion.Agent)
			fmt.Fprintf(out, "Confidence: %d%%\n", res.Suggestion.Confidence)
			fmt.Fprintf(out, "Reasoning:  %s\n", res.Suggestion.Reasoning)
			if p := res.Performance; p != nil {
				fmt.Fprintf(out, "History:    %d patterns, %.0f%% success\n", p.TaskCount, p.SuccessRate*100)
			}
			for _, alt := range res.Alternatives {
				fmt.Fprintf(out, "Alternative: %s (%d%%)\n", alt.Agent, alt.Confidence)
			}
			return nil
		})
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Promote, prune and enforce tier capacity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.store.Consolidate(ctx)
			if err != nil {
				return err
			}
			if opOutputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted=%d pruned=%d evicted=%d duration=%s\n",
				res.PatternsPromoted, res.PatternsPruned, res.PatternsEvicted, res.Duration)
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := a.store.GetStats(ctx)
			if err != nil {
				return err
			}
			if opOutputJSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Short-term:\t%d\n", st.ShortTermCount)
			fmt.Fprintf(w, "Long-term:\t%d\n", st.LongTermCount)
			fmt.Fprintf(w, "Total:\t%d\n", st.TotalPatterns)
			fmt.Fprintf(w, "Avg quality:\t%.3f\n", st.AvgQuality)
			fmt.Fprintf(w, "Degraded:\t%t\n", st.Degraded)
			fmt.Fprintf(w, "Backend:\t%s\n", a.cfg.Persistence.Backend)
			return w.Flush()
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every pattern as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			exp, err := a.store.ExportPatterns(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), exp)
		})
	},
}
