package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/quillhq/quilld/internal/backfill"
	"github.com/quillhq/quilld/internal/note"
	"github.com/quillhq/quilld/internal/semantic"
	"github.com/quillhq/quilld/internal/store"
)

// NoteRequest is the request body for note create and update.
type NoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Tags    string `json:"tags"`
}

// BackfillRequest is the request body for POST /api/v1/backfill.
// OnlyMissing defaults to true when omitted.
type BackfillRequest struct {
	OnlyMissing *bool `json:"only_missing"`
	// Embeddings selects the embedding backfill instead of the tag
	// backfill.
	Embeddings bool `json:"embeddings"`
}

func (s *Server) handleCreateNote(c echo.Context) error {
	var req NoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	n, err := note.New(owner(c), req.Title, req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.Tags = req.Tags

	s.embedNote(c, n)

	if err := s.store.Create(c.Request().Context(), n); err != nil {
		return s.storeError(err)
	}
	s.indexNote(c, n)

	return c.JSON(http.StatusCreated, n)
}

func (s *Server) handleListNotes(c echo.Context) error {
	notes, err := s.store.List(c.Request().Context(), owner(c))
	if err != nil {
		return s.storeError(err)
	}
	if notes == nil {
		notes = []*note.Note{}
	}
	return c.JSON(http.StatusOK, notes)
}

func (s *Server) handleGetNote(c echo.Context) error {
	n, err := s.store.Get(c.Request().Context(), owner(c), c.Param("id"))
	if err != nil {
		return s.storeError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) handleUpdateNote(c echo.Context) error {
	var req NoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	n, err := s.store.Get(ctx, owner(c), c.Param("id"))
	if err != nil {
		return s.storeError(err)
	}

	contentChanged := n.Title != req.Title || n.Content != req.Content
	n.Title = req.Title
	n.Content = req.Content
	n.Tags = req.Tags
	n.UpdatedAt = time.Now().UTC()
	if err := n.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if contentChanged {
		s.embedNote(c, n)
	}

	if err := s.store.Update(ctx, n); err != nil {
		return s.storeError(err)
	}
	s.indexNote(c, n)

	return c.JSON(http.StatusOK, n)
}

func (s *Server) handleDeleteNote(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.store.Delete(ctx, owner(c), c.Param("id")); err != nil {
		return s.storeError(err)
	}
	if s.searcher != nil {
		if err := s.searcher.Remove(ctx, owner(c), c.Param("id")); err != nil {
			s.logger.Warn("failed to remove note from index",
				zap.String("note_id", c.Param("id")), zap.Error(err))
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRelatedNotes(c echo.Context) error {
	k := intQuery(c, "k", semantic.DefaultK)
	matches, err := s.relater.Related(c.Request().Context(), owner(c), c.Param("id"), k)
	if err != nil {
		switch {
		case errors.Is(err, note.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "note not found")
		case errors.Is(err, semantic.ErrNoEmbedding):
			return echo.NewHTTPError(http.StatusConflict, "note has no embedding yet; run an embedding backfill")
		default:
			return s.storeError(err)
		}
	}
	return c.JSON(http.StatusOK, matches)
}

func (s *Server) handleSearch(c echo.Context) error {
	if s.searcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "search index not configured")
	}
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	k := intQuery(c, "k", 5)

	results, err := s.searcher.Search(c.Request().Context(), owner(c), q, k)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "search failed")
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleBackfill(c echo.Context) error {
	var req BackfillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	onlyMissing := true
	if req.OnlyMissing != nil {
		onlyMissing = *req.OnlyMissing
	}
	run := backfill.Request{OwnerSubject: owner(c), OnlyMissing: onlyMissing}

	var (
		result *backfill.Result
		err    error
	)
	if req.Embeddings {
		result, err = s.backfiller.RunEmbeddings(c.Request().Context(), run)
	} else {
		result, err = s.backfiller.Run(c.Request().Context(), run)
	}
	if err != nil {
		switch {
		case errors.Is(err, backfill.ErrInvalidRequest):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrPersistence):
			s.logger.Error("backfill aborted on persistence failure", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "backfill aborted: storage failure")
		default:
			s.logger.Error("backfill failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "backfill failed")
		}
	}
	return c.JSON(http.StatusOK, result)
}

// embedNote fills the note's embedding best-effort; a failed embedding
// never fails the note write, the backfill picks it up later.
func (s *Server) embedNote(c echo.Context, n *note.Note) {
	if s.embedder == nil {
		return
	}
	vec, err := s.embedder.GenerateEmbedding(c.Request().Context(), n.Title, n.Content)
	if err != nil {
		s.logger.Warn("embedding generation failed on write path",
			zap.String("note_id", n.ID), zap.Error(err))
		return
	}
	n.Embedding = vec
}

// indexNote mirrors the note into the search index best-effort.
func (s *Server) indexNote(c echo.Context, n *note.Note) {
	if s.searcher == nil {
		return
	}
	if err := s.searcher.Upsert(c.Request().Context(), n); err != nil {
		s.logger.Warn("failed to index note",
			zap.String("note_id", n.ID), zap.Error(err))
	}
}

func (s *Server) storeError(err error) error {
	switch {
	case errors.Is(err, note.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	case errors.Is(err, note.ErrInvalidNote):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("storage failure", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failure")
	}
}

func intQuery(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	return v
}
