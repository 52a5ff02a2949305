package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillhq/quilld/internal/backfill"
	"github.com/quillhq/quilld/internal/config"
	"github.com/quillhq/quilld/internal/enrich"
	"github.com/quillhq/quilld/internal/logging"
	"github.com/quillhq/quilld/internal/store"
)

var (
	backfillOwner      string
	backfillAll        bool
	backfillEmbeddings bool
	backfillInterval   int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-generate tags or embeddings for an owner's notes",
	Long: `Re-generate AI tags (or, with --embeddings, embedding vectors) for
one owner's notes.

The run walks the owner's candidate notes sequentially, commits every
few successes so progress survives interruption, and records per-note
failures without aborting the batch. By default only notes that are
not yet enriched are candidates; --all reprocesses everything.

Examples:
  # Tag all untagged notes of one owner
  quilld backfill --owner 'auth0|u1'

  # Re-tag everything, committing every 10 successes
  quilld backfill --owner 'auth0|u1' --all --checkpoint-interval 10

  # Fill missing embeddings
  quilld backfill --owner 'auth0|u1' --embeddings`,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillOwner, "owner", "", "owner subject to backfill (required)")
	backfillCmd.Flags().BoolVar(&backfillAll, "all", false, "reprocess all notes, not just unenriched ones")
	backfillCmd.Flags().BoolVar(&backfillEmbeddings, "embeddings", false, "backfill embeddings instead of tags")
	backfillCmd.Flags().IntVar(&backfillInterval, "checkpoint-interval", 0, "successes between commits (default from config)")
	backfillCmd.MarkFlagRequired("owner") //nolint:errcheck // flag exists
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := enrich.New(enrich.Config{
		BaseURL:        cfg.Enrichment.BaseURL,
		Model:          cfg.Enrichment.Model,
		EmbeddingModel: cfg.Enrichment.EmbeddingModel,
		APIKey:         cfg.Enrichment.APIKey,
		Timeout:        cfg.Enrichment.Timeout,
	})
	if err != nil {
		return err
	}

	interval := cfg.Backfill.CheckpointInterval
	if backfillInterval > 0 {
		interval = backfillInterval
	}
	coordinator, err := backfill.NewCoordinator(st, client, logger,
		backfill.WithCheckpointInterval(interval))
	if err != nil {
		return err
	}

	// Ctrl-C stops between notes; progress so far is committed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := backfill.Request{OwnerSubject: backfillOwner, OnlyMissing: !backfillAll}

	var result *backfill.Result
	if backfillEmbeddings {
		result, err = coordinator.RunEmbeddings(ctx, req)
	} else {
		result, err = coordinator.Run(ctx, req)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d of %d notes\n", result.Processed, result.Total)
	for _, msg := range result.Errors {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("%d notes failed", len(result.Errors))
	}
	return nil
}
