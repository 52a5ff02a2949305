package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillhq/quilld/internal/backfill"
	"github.com/quillhq/quilld/internal/logging"
	"github.com/quillhq/quilld/internal/note"
	"github.com/quillhq/quilld/internal/semantic"
	"github.com/quillhq/quilld/internal/store"
	"github.com/quillhq/quilld/internal/vectorindex"
)

type fakeBackfiller struct {
	lastReq        backfill.Request
	lastEmbeddings bool
	result         *backfill.Result
	err            error
}

func (f *fakeBackfiller) Run(ctx context.Context, req backfill.Request) (*backfill.Result, error) {
	f.lastReq = req
	f.lastEmbeddings = false
	return f.result, f.err
}

func (f *fakeBackfiller) RunEmbeddings(ctx context.Context, req backfill.Request) (*backfill.Result, error) {
	f.lastReq = req
	f.lastEmbeddings = true
	return f.result, f.err
}

type fakeRelater struct {
	matches []semantic.Match
	err     error
}

func (f *fakeRelater) Related(ctx context.Context, owner, id string, k int) ([]semantic.Match, error) {
	return f.matches, f.err
}

type fakeSearcher struct {
	results  []vectorindex.Result
	upserted []string
	removed  []string
}

func (f *fakeSearcher) Upsert(ctx context.Context, n *note.Note) error {
	f.upserted = append(f.upserted, n.ID)
	return nil
}

func (f *fakeSearcher) Remove(ctx context.Context, owner, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeSearcher) Search(ctx context.Context, owner, query string, k int) ([]vectorindex.Result, error) {
	return f.results, nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, title, content string) ([]float32, error) {
	return f.vec, f.err
}

type testEnv struct {
	server     *Server
	store      *store.Store
	backfiller *fakeBackfiller
	relater    *fakeRelater
	searcher   *fakeSearcher
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "notes.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env := &testEnv{
		store:      st,
		backfiller: &fakeBackfiller{result: &backfill.Result{Errors: []string{}}},
		relater:    &fakeRelater{},
		searcher:   &fakeSearcher{},
	}
	srv, err := NewServer(st, env.backfiller, env.relater, env.searcher,
		&fakeEmbedder{vec: []float32{0.5, 0.5}}, logging.NewNop(), nil)
	require.NoError(t, err)
	env.server = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoHeaderContentType, "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(nil, &fakeBackfiller{}, &fakeRelater{}, nil, nil, logging.NewNop(), nil)
	require.Error(t, err)

	_, err = NewServer(&store.Store{}, &fakeBackfiller{}, &fakeRelater{}, nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposed(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresOwnerSubject(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/notes", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateNote(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/notes", "u1",
		`{"title":"Groceries","content":"milk and eggs","tags":"shopping"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created note.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.OwnerSubject)
	assert.Equal(t, []float32{0.5, 0.5}, created.Embedding, "write path embeds best-effort")
	assert.Equal(t, []string{created.ID}, env.searcher.upserted)

	got, err := env.store.Get(context.Background(), "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Title)
}

func TestCreateNote_Invalid(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/notes", "u1", `{"title":"","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListNotes_ScopedToOwner(t *testing.T) {
	env := newTestServer(t)
	env.do(t, http.MethodPost, "/api/v1/notes", "u1", `{"title":"Mine","content":"c"}`)
	env.do(t, http.MethodPost, "/api/v1/notes", "u2", `{"title":"Theirs","content":"c"}`)

	rec := env.do(t, http.MethodGet, "/api/v1/notes", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var notes []*note.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, "Mine", notes[0].Title)
}

func TestGetNote_NotFound(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/notes/nope", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateNote(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/notes", "u1", `{"title":"Draft","content":"v1"}`)
	var created note.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodPut, "/api/v1/notes/"+created.ID, "u1",
		`{"title":"Draft","content":"v2","tags":"revised"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.store.Get(context.Background(), "u1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.Equal(t, "revised", got.Tags)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt) || got.UpdatedAt.Equal(got.CreatedAt))
}

func TestDeleteNote(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/notes", "u1", `{"title":"Gone","content":"c"}`)
	var created note.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodDelete, "/api/v1/notes/"+created.ID, "u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{created.ID}, env.searcher.removed)

	rec = env.do(t, http.MethodGet, "/api/v1/notes/"+created.ID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRelatedNotes(t *testing.T) {
	env := newTestServer(t)
	neighbor := &note.Note{ID: "n2", Title: "Neighbor"}
	env.relater.matches = []semantic.Match{{Note: neighbor, Similarity: 0.93}}

	rec := env.do(t, http.MethodGet, "/api/v1/notes/n1/related?k=3", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var matches []semantic.Match
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "n2", matches[0].Note.ID)
}

func TestRelatedNotes_NoEmbedding(t *testing.T) {
	env := newTestServer(t)
	env.relater.err = semantic.ErrNoEmbedding

	rec := env.do(t, http.MethodGet, "/api/v1/notes/n1/related", "u1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRelatedNotes_NotFound(t *testing.T) {
	env := newTestServer(t)
	env.relater.err = note.ErrNotFound

	rec := env.do(t, http.MethodGet, "/api/v1/notes/n1/related", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	env := newTestServer(t)
	env.searcher.results = []vectorindex.Result{{ID: "n1", Title: "Hit", Similarity: 0.8}}

	rec := env.do(t, http.MethodGet, "/api/v1/search?q=milk", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var results []vectorindex.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].ID)
}

func TestSearch_RequiresQuery(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/search", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackfill_DefaultsToOnlyMissing(t *testing.T) {
	env := newTestServer(t)
	env.backfiller.result = &backfill.Result{Processed: 7, Total: 7, Errors: []string{}}

	rec := env.do(t, http.MethodPost, "/api/v1/backfill", "u1", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, backfill.Request{OwnerSubject: "u1", OnlyMissing: true}, env.backfiller.lastReq)
	assert.False(t, env.backfiller.lastEmbeddings)

	var result backfill.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 7, result.Processed)
}

func TestBackfill_AllAndEmbeddings(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/api/v1/backfill", "u1", `{"only_missing":false,"embeddings":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, backfill.Request{OwnerSubject: "u1", OnlyMissing: false}, env.backfiller.lastReq)
	assert.True(t, env.backfiller.lastEmbeddings)
}

func TestBackfill_PersistenceFailure(t *testing.T) {
	env := newTestServer(t)
	env.backfiller.err = fmt.Errorf("%w: disk full", store.ErrPersistence)

	rec := env.do(t, http.MethodPost, "/api/v1/backfill", "u1", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
