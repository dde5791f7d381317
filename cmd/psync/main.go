package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc

	configPath  string
	jsonOutput  bool
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "psync",
	Short: "psync - mirror issues between portal and internal projects",
	Long: `psync keeps client-facing portal projects and their internal counterparts in step.

It receives tracker webhooks, creates a mirror for every new portal issue and
propagates field changes, comments, workflow transitions and deletions between
the two sides. Links between mirrored issues, comments and versions are kept in
a local link store (SQLite by default, Dolt or memory on request).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./psync.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Mirroring:"})
	rootCmd.AddGroup(&cobra.Group{ID: "links", Title: "Links:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			outputJSONError(err, "")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
