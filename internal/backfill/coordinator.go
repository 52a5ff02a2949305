// Package backfill drives batch re-enrichment of an owner's notes:
// scan, enrich, checkpoint. One run processes a single owner's
// candidate set sequentially, isolating per-note failures so a single
// bad note never aborts the batch, and committing every few successes
// so partial progress survives interruption.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quillhq/quilld/internal/note"
)

// ErrInvalidRequest indicates a malformed backfill request. It is
// rejected before any store access; no partial state is created.
var ErrInvalidRequest = errors.New("invalid backfill request")

// DefaultCheckpointInterval is the number of successfully processed
// notes between durable commits. The interval bounds how much
// enrichment work is redone after a crash: at most interval-1 enriched
// notes are uncommitted at any point.
const DefaultCheckpointInterval = 5

// NoteStore is the storage surface the coordinator needs: filtered
// read plus staged write/commit.
type NoteStore interface {
	Query(ctx context.Context, ownerSubject string, onlyMissingTags bool) ([]*note.Note, error)
	Save(n *note.Note)
	Commit(ctx context.Context) error
}

// Enricher generates tags and embeddings for note text. Calls may be
// slow (network round trip) and must be cancellable via ctx.
type Enricher interface {
	GenerateTags(ctx context.Context, title, content string) (string, error)
	GenerateEmbedding(ctx context.Context, title, content string) ([]float32, error)
}

// Request parameterizes one backfill run.
type Request struct {
	// OwnerSubject scopes the batch to one owner's notes, never
	// cross-owner.
	OwnerSubject string `json:"owner_subject"`
	// OnlyMissing restricts the candidate set to notes not yet
	// enriched (empty tags for Run, missing embedding for
	// RunEmbeddings). When false, all of the owner's notes are
	// reprocessed and overwritten.
	OnlyMissing bool `json:"only_missing"`
}

func (r Request) validate() error {
	if r.OwnerSubject == "" {
		return fmt.Errorf("%w: owner subject is required", ErrInvalidRequest)
	}
	return nil
}

// Result summarizes one run. Errors holds one message per failed note,
// in candidate order, each naming the note's title and the cause.
type Result struct {
	Processed int      `json:"processed_count"`
	Total     int      `json:"total_notes"`
	Errors    []string `json:"errors"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCheckpointInterval overrides the commit interval. Values below 1
// are ignored.
func WithCheckpointInterval(n int) Option {
	return func(c *Coordinator) {
		if n >= 1 {
			c.checkpointInterval = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator orchestrates backfill runs. The enrichment client is an
// explicit dependency; there is no ambient or global lookup.
type Coordinator struct {
	store              NoteStore
	enricher           Enricher
	logger             *zap.Logger
	checkpointInterval int
	now                func() time.Time
}

// NewCoordinator creates a coordinator over the given store and
// enrichment client.
func NewCoordinator(store NoteStore, enricher Enricher, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("note store is required")
	}
	if enricher == nil {
		return nil, fmt.Errorf("enricher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		store:              store,
		enricher:           enricher,
		logger:             logger,
		checkpointInterval: DefaultCheckpointInterval,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes one tag backfill for the request's owner.
//
// Per-note enrichment failures are recorded in the result and never
// fail the run. A failed commit is fatal: it propagates as a
// store persistence error and the uncommitted portion of the batch must
// be considered not processed. Cancellation takes effect between
// notes; work processed so far is committed and reported.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	candidates, err := c.store.Query(ctx, req.OwnerSubject, req.OnlyMissing)
	if err != nil {
		return nil, err
	}

	return c.process(ctx, req, candidates, "tags", func(ctx context.Context, n *note.Note) error {
		tags, err := c.enricher.GenerateTags(ctx, n.Title, n.Content)
		if err != nil {
			return err
		}
		n.Tags = tags
		n.UpdatedAt = c.now().UTC()
		return nil
	})
}

// RunEmbeddings executes one embedding backfill, the producer path for
// semantic retrieval. Same loop shape, checkpointing, and failure
// isolation as Run; with OnlyMissing it restricts candidates to notes
// lacking an embedding.
func (c *Coordinator) RunEmbeddings(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	all, err := c.store.Query(ctx, req.OwnerSubject, false)
	if err != nil {
		return nil, err
	}
	candidates := all
	if req.OnlyMissing {
		candidates = candidates[:0:0]
		for _, n := range all {
			if !n.HasEmbedding() {
				candidates = append(candidates, n)
			}
		}
	}

	return c.process(ctx, req, candidates, "embedding", func(ctx context.Context, n *note.Note) error {
		vec, err := c.enricher.GenerateEmbedding(ctx, n.Title, n.Content)
		if err != nil {
			return err
		}
		n.Embedding = vec
		n.UpdatedAt = c.now().UTC()
		return nil
	})
}

// process walks the candidate sequence in order, applying enrich to
// each note and committing every checkpointInterval successes plus a
// final flush.
func (c *Coordinator) process(ctx context.Context, req Request, candidates []*note.Note, kind string, enrich func(context.Context, *note.Note) error) (*Result, error) {
	result := &Result{Total: len(candidates), Errors: []string{}}
	start := c.now()

	c.logger.Info("backfill run started",
		zap.String("owner", req.OwnerSubject),
		zap.String("kind", kind),
		zap.Bool("only_missing", req.OnlyMissing),
		zap.Int("candidates", result.Total),
	)

	for _, n := range candidates {
		// Cancellation takes effect between notes, never mid-mutation,
		// so the store never holds a half-written note.
		if ctx.Err() != nil {
			return c.finishCancelled(ctx, req, result)
		}

		if err := enrich(ctx, n); err != nil {
			if ctx.Err() != nil {
				// The run context died during the call; this is
				// cancellation, not a note failure.
				return c.finishCancelled(ctx, req, result)
			}
			msg := fmt.Sprintf("Failed to generate %s for note '%s': %v", kind, n.Title, err)
			result.Errors = append(result.Errors, msg)
			notesFailed.WithLabelValues(kind).Inc()
			c.logger.Warn("note enrichment failed",
				zap.String("owner", req.OwnerSubject),
				zap.String("note_id", n.ID),
				zap.Error(err),
			)
			continue
		}

		c.store.Save(n)
		result.Processed++
		notesProcessed.WithLabelValues(kind).Inc()

		if result.Processed%c.checkpointInterval == 0 {
			if err := c.store.Commit(ctx); err != nil {
				return nil, err
			}
			commits.Inc()
		}
	}

	if err := c.store.Commit(ctx); err != nil {
		return nil, err
	}
	commits.Inc()

	runDuration.WithLabelValues(kind).Observe(c.now().Sub(start).Seconds())
	c.logger.Info("backfill run finished",
		zap.String("owner", req.OwnerSubject),
		zap.String("kind", kind),
		zap.Int("processed", result.Processed),
		zap.Int("total", result.Total),
		zap.Int("failures", len(result.Errors)),
	)
	return result, nil
}

// finishCancelled flushes work processed so far and returns the
// partial result. The flush uses a detached context so an already-dead
// run context cannot abort the write.
func (c *Coordinator) finishCancelled(ctx context.Context, req Request, result *Result) (*Result, error) {
	if err := c.store.Commit(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	commits.Inc()
	c.logger.Info("backfill run cancelled, partial progress committed",
		zap.String("owner", req.OwnerSubject),
		zap.Int("processed", result.Processed),
		zap.Int("total", result.Total),
	)
	return result, nil
}
