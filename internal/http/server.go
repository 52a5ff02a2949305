// Package http provides the HTTP API for quilld.
//
// Identity is established upstream (reverse proxy / auth gateway); the
// API trusts the X-Owner-Subject header and scopes every operation to
// that owner.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quillhq/quilld/internal/backfill"
	"github.com/quillhq/quilld/internal/note"
	"github.com/quillhq/quilld/internal/semantic"
	"github.com/quillhq/quilld/internal/vectorindex"
)

// ownerHeader carries the authenticated owner subject, set by the
// identity layer in front of quilld.
const ownerHeader = "X-Owner-Subject"

// NoteStore is the CRUD surface the API needs.
type NoteStore interface {
	Create(ctx context.Context, n *note.Note) error
	Get(ctx context.Context, ownerSubject, id string) (*note.Note, error)
	Update(ctx context.Context, n *note.Note) error
	Delete(ctx context.Context, ownerSubject, id string) error
	List(ctx context.Context, ownerSubject string) ([]*note.Note, error)
}

// Backfiller runs enrichment batches.
type Backfiller interface {
	Run(ctx context.Context, req backfill.Request) (*backfill.Result, error)
	RunEmbeddings(ctx context.Context, req backfill.Request) (*backfill.Result, error)
}

// Relater answers related-note queries.
type Relater interface {
	Related(ctx context.Context, ownerSubject, noteID string, k int) ([]semantic.Match, error)
}

// Searcher is the free-text search surface of the vector index.
type Searcher interface {
	Upsert(ctx context.Context, n *note.Note) error
	Remove(ctx context.Context, ownerSubject, id string) error
	Search(ctx context.Context, ownerSubject, query string, k int) ([]vectorindex.Result, error)
}

// Embedder produces embeddings on the note write path.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, title, content string) ([]float32, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides the quilld HTTP endpoints.
type Server struct {
	echo       *echo.Echo
	store      NoteStore
	backfiller Backfiller
	relater    Relater
	searcher   Searcher
	embedder   Embedder
	logger     *zap.Logger
	config     *Config
}

// NewServer creates the HTTP server. The searcher and embedder are
// optional; without them notes are stored un-embedded and /search
// returns 503.
func NewServer(store NoteStore, backfiller Backfiller, relater Relater, searcher Searcher, embedder Embedder, logger *zap.Logger, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("note store is required")
	}
	if backfiller == nil {
		return nil, fmt.Errorf("backfiller is required")
	}
	if relater == nil {
		return nil, fmt.Errorf("relater is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8480}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:       e,
		store:      store,
		backfiller: backfiller,
		relater:    relater,
		searcher:   searcher,
		embedder:   embedder,
		logger:     logger,
		config:     cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", s.requireOwner)
	v1.POST("/notes", s.handleCreateNote)
	v1.GET("/notes", s.handleListNotes)
	v1.GET("/notes/:id", s.handleGetNote)
	v1.PUT("/notes/:id", s.handleUpdateNote)
	v1.DELETE("/notes/:id", s.handleDeleteNote)
	v1.GET("/notes/:id/related", s.handleRelatedNotes)
	v1.GET("/search", s.handleSearch)
	v1.POST("/backfill", s.handleBackfill)
}

// requireOwner extracts the owner subject header and rejects requests
// without one.
func (s *Server) requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner := c.Request().Header.Get(ownerHeader)
		if owner == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing owner subject")
		}
		c.Set("owner", owner)
		return next(c)
	}
}

func owner(c echo.Context) string {
	v, _ := c.Get("owner").(string)
	return v
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Handler exposes the echo handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
