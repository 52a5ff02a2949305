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
	httpapi "github.com/quillhq/quilld/internal/http"
	"github.com/quillhq/quilld/internal/logging"
	"github.com/quillhq/quilld/internal/semantic"
	"github.com/quillhq/quilld/internal/store"
	"github.com/quillhq/quilld/internal/vectorindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the quilld HTTP server",
	Long: `Run the quilld HTTP server.

Serves note CRUD, related-note retrieval, semantic search, and the
backfill trigger under /api/v1, plus /health and /metrics.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is uninteresting

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

	index, err := vectorindex.NewIndex(vectorindex.Config{
		Path:     cfg.VectorIndex.Path,
		Compress: cfg.VectorIndex.Compress,
	}, client, logger)
	if err != nil {
		return err
	}

	coordinator, err := backfill.NewCoordinator(st, client, logger,
		backfill.WithCheckpointInterval(cfg.Backfill.CheckpointInterval))
	if err != nil {
		return err
	}

	retriever, err := semantic.NewRetriever(st, logger)
	if err != nil {
		return err
	}

	server, err := httpapi.NewServer(st, coordinator, retriever, index, client, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
