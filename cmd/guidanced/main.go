// Package main implements guidanced, the guidance pattern store daemon and
// its command-line client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides ~/.config/guidanced/config.yaml
	configPath string
	// verbose enables info logging for one-shot commands
	verbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guidanced",
	Short: "Learned guidance pattern store",
	Long: `guidanced records short strategies observed during agent task execution,
deduplicates them by semantic similarity, promotes the ones that keep
succeeding and turns them into guidance and agent routing suggestions.

Run "guidanced serve" for the HTTP API, or use the other commands to work
with the configured store directly.`,
	Version:       fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/guidanced/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at info level to stderr")
}
