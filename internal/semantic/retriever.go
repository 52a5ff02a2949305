// Package semantic finds related notes by vector similarity over the
// embeddings the backfill pipeline produces.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/viterin/vek/vek32"
	"go.uber.org/zap"

	"github.com/quillhq/quilld/internal/note"
)

// ErrNoEmbedding is returned when the query note has not been embedded
// yet, so no neighbors can be retrieved for it.
var ErrNoEmbedding = errors.New("note has no embedding")

// DefaultK is the neighbor count when the caller does not specify one.
const DefaultK = 5

// NoteSource is the read surface the retriever needs.
type NoteSource interface {
	Query(ctx context.Context, ownerSubject string, onlyMissingTags bool) ([]*note.Note, error)
}

// Match pairs a neighbor note with its similarity to the query note.
type Match struct {
	Note       *note.Note `json:"note"`
	Similarity float32    `json:"similarity"`
}

// Retriever answers related-note queries for a single owner's corpus.
type Retriever struct {
	source NoteSource
	logger *zap.Logger
}

// NewRetriever creates a retriever over the given note source.
func NewRetriever(source NoteSource, logger *zap.Logger) (*Retriever, error) {
	if source == nil {
		return nil, fmt.Errorf("note source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{source: source, logger: logger}, nil
}

// Related returns the k notes most similar to the owner's note with
// the given id, by cosine similarity over stored embeddings.
//
// The query note itself is excluded, as are notes without an embedding
// on either side. Ties are broken by most-recent UpdatedAt, then by
// note id, so results are deterministic.
func (r *Retriever) Related(ctx context.Context, ownerSubject, noteID string, k int) ([]Match, error) {
	if k <= 0 {
		k = DefaultK
	}

	notes, err := r.source.Query(ctx, ownerSubject, false)
	if err != nil {
		return nil, err
	}

	var query *note.Note
	for _, n := range notes {
		if n.ID == noteID {
			query = n
			break
		}
	}
	if query == nil {
		return nil, note.ErrNotFound
	}
	if !query.HasEmbedding() {
		return nil, ErrNoEmbedding
	}

	matches := make([]Match, 0, len(notes))
	for _, n := range notes {
		if n.ID == query.ID || !n.HasEmbedding() {
			continue
		}
		if len(n.Embedding) != len(query.Embedding) {
			// Dimension drift from a model change; skip rather than
			// score garbage.
			r.logger.Debug("skipping note with mismatched embedding dimension",
				zap.String("note_id", n.ID),
				zap.Int("want", len(query.Embedding)),
				zap.Int("got", len(n.Embedding)),
			)
			continue
		}
		matches = append(matches, Match{Note: n, Similarity: cosine(query.Embedding, n.Embedding)})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if !matches[i].Note.UpdatedAt.Equal(matches[j].Note.UpdatedAt) {
			return matches[i].Note.UpdatedAt.After(matches[j].Note.UpdatedAt)
		}
		return matches[i].Note.ID < matches[j].Note.ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// cosine wraps vek32.CosineSimilarity; zero vectors score 0 instead of
// NaN.
func cosine(a, b []float32) float32 {
	sim := vek32.CosineSimilarity(a, b)
	if math.IsNaN(float64(sim)) {
		return 0
	}
	return sim
}
