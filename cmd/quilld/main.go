// Package main implements the quilld binary: the notes HTTP service
// and the tag/embedding backfill command.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the --config flag shared by all subcommands.
	configPath string
	// version information, set at build time.
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "quilld",
	Short: "Personal notes service with AI enrichment",
	Long: `quilld stores personal notes in SQLite and enriches them with
AI-generated semantic tags and embeddings. It serves a small HTTP API
for note CRUD, related-note retrieval, and semantic search, and ships
a batch backfill command that (re)generates tags and embeddings for an
existing corpus with checkpointed commits.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/quilld/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backfillCmd)
}
