package semantic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quilld/internal/note"
)

type fakeSource struct {
	notes []*note.Note
}

func (f *fakeSource) Query(ctx context.Context, owner string, onlyMissingTags bool) ([]*note.Note, error) {
	var out []*note.Note
	for _, n := range f.notes {
		if n.OwnerSubject == owner {
			out = append(out, n)
		}
	}
	return out, nil
}

func embedded(id string, updatedAt time.Time, vec []float32) *note.Note {
	return &note.Note{
		ID:           id,
		OwnerSubject: "u1",
		Title:        "note " + id,
		Content:      "content",
		Embedding:    vec,
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
}

func TestNewRetriever_RequiresSource(t *testing.T) {
	_, err := NewRetriever(nil, nil)
	require.Error(t, err)
}

func TestRelated_RanksBySimilarity(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{notes: []*note.Note{
		embedded("query", now, []float32{1, 0, 0}),
		embedded("close", now, []float32{0.9, 0.1, 0}),
		embedded("far", now, []float32{0, 1, 0}),
		embedded("mid", now, []float32{0.5, 0.5, 0}),
	}}
	r, err := NewRetriever(src, nil)
	require.NoError(t, err)

	matches, err := r.Related(context.Background(), "u1", "query", 10)
	require.NoError(t, err)

	require.Len(t, matches, 3)
	assert.Equal(t, "close", matches[0].Note.ID)
	assert.Equal(t, "mid", matches[1].Note.ID)
	assert.Equal(t, "far", matches[2].Note.ID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestRelated_ExcludesSelfAndUnembedded(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{notes: []*note.Note{
		embedded("query", now, []float32{1, 0}),
		embedded("neighbor", now, []float32{1, 0}),
		embedded("bare", now, nil),
	}}
	r, err := NewRetriever(src, nil)
	require.NoError(t, err)

	matches, err := r.Related(context.Background(), "u1", "query", 10)
	require.NoError(t, err)

	require.Len(t, matches, 1)
	assert.Equal(t, "neighbor", matches[0].Note.ID)
}

func TestRelated_TieBreaks(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	// identical vectors: ties broken by most-recent UpdatedAt, then id
	src := &fakeSource{notes: []*note.Note{
		embedded("query", newer, []float32{1, 0}),
		embedded("b-old", older, []float32{1, 0}),
		embedded("a-new", newer, []float32{1, 0}),
		embedded("b-new", newer, []float32{1, 0}),
	}}
	r, err := NewRetriever(src, nil)
	require.NoError(t, err)

	matches, err := r.Related(context.Background(), "u1", "query", 10)
	require.NoError(t, err)

	require.Len(t, matches, 3)
	assert.Equal(t, "a-new", matches[0].Note.ID)
	assert.Equal(t, "b-new", matches[1].Note.ID)
	assert.Equal(t, "b-old", matches[2].Note.ID)
}

func TestRelated_LimitsToK(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{notes: []*note.Note{
		embedded("query", now, []float32{1, 0}),
		embedded("n1", now, []float32{1, 0}),
		embedded("n2", now, []float32{0.9, 0.1}),
		embedded("n3", now, []float32{0.8, 0.2}),
	}}
	r, err := NewRetriever(src, nil)
	require.NoError(t, err)

	matches, err := r.Related(context.Background(), "u1", "query", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestRelated_QueryNoteMissing(t *testing.T) {
	r, err := NewRetriever(&fakeSource{}, nil)
	require.NoError(t, err)

	_, err = r.Related(context.Background(), "u1", "absent", 5)
	require.ErrorIs(t, err, note.ErrNotFound)
}

func TestRelated_QueryNoteWithoutEmbedding(t *testing.T) {
	src := &fakeSource{notes: []*note.Note{embedded("query", time.Now().UTC(), nil)}}
	r, err := NewRetriever(src, nil)
	require.NoError(t, err)

	_, err = r.Related(context.Background(), "u1", "query", 5)
	require.ErrorIs(t, err, ErrNoEmbedding)
}

func TestRelated_SkipsMismatchedDimensions(t *testing.T) {
	now := time.Now().UTC()
	src := &fakeSource{notes: []*note.Note{
		embedded("query", now, []float32{1, 0}),
		embedded("ok", now, []float32{0, 1}),
		embedded("drift", now, []float32{1, 0, 0}),
	}}
	r, err := NewRetriever(src, nil)
	require.NoError(t, err)

	matches, err := r.Related(context.Background(), "u1", "query", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "ok", matches[0].Note.ID)
}

func TestCosine_ZeroVectorScoresZero(t *testing.T) {
	assert.Equal(t, float32(0), cosine([]float32{0, 0}, []float32{1, 0}))
}
