// Package vectorindex maintains an embedded chromem-go index over note
// content for free-text semantic search.
//
// The index is a derived view: SQLite remains the source of truth for
// notes and their embeddings, and index writes are best-effort from the
// caller's perspective.
package vectorindex

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/quillhq/quilld/internal/note"
)

// Embedder turns query text into a vector. Satisfied by the enrichment
// client.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Config holds settings for the persistent index.
type Config struct {
	// Path is the directory for persistent storage. Empty means
	// in-memory only (tests).
	Path string
	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// Result is one search hit.
type Result struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float32 `json:"similarity"`
}

// Index wraps a chromem-go database with one collection per owner.
type Index struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	logger *zap.Logger
}

// NewIndex opens (creating if necessary) the index at cfg.Path.
func NewIndex(cfg Config, embedder Embedder, logger *zap.Logger) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening vector index: %w", err)
		}
	}

	return &Index{
		db: db,
		embed: func(ctx context.Context, text string) ([]float32, error) {
			return embedder.EmbedText(ctx, text)
		},
		logger: logger,
	}, nil
}

// Upsert adds or replaces the note's document in its owner's
// collection. A stored embedding is reused; otherwise chromem embeds
// the content through the enrichment client.
func (i *Index) Upsert(ctx context.Context, n *note.Note) error {
	col, err := i.collection(n.OwnerSubject)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:      n.ID,
		Content: n.Title + "\n\n" + n.Content,
		Metadata: map[string]string{
			"title": n.Title,
			"tags":  n.Tags,
		},
	}
	if n.HasEmbedding() {
		doc.Embedding = n.Embedding
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing note %s: %w", n.ID, err)
	}
	return nil
}

// Remove deletes the note's document from its owner's collection.
func (i *Index) Remove(ctx context.Context, ownerSubject, id string) error {
	col, err := i.collection(ownerSubject)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("removing note %s from index: %w", id, err)
	}
	return nil
}

// Search embeds the query text and returns up to k hits from the
// owner's collection, most similar first.
func (i *Index) Search(ctx context.Context, ownerSubject, query string, k int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query text is required")
	}
	if k <= 0 {
		k = 5
	}

	col, err := i.collection(ownerSubject)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults greater than the collection size
	if count := col.Count(); count < k {
		k = count
	}
	if k == 0 {
		return []Result{}, nil
	}

	hits, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:         h.ID,
			Title:      h.Metadata["title"],
			Similarity: h.Similarity,
		})
	}
	return results, nil
}

func (i *Index) collection(ownerSubject string) (*chromem.Collection, error) {
	name := collectionName(ownerSubject)
	col, err := i.db.GetOrCreateCollection(name, nil, i.embed)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", name, err)
	}
	return col, nil
}

// collectionName sanitizes an owner subject (e.g. "auth0|abc123") into
// a filesystem-safe collection name.
func collectionName(ownerSubject string) string {
	var b strings.Builder
	b.WriteString("notes_")
	for _, r := range ownerSubject {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
