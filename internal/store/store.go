// Package store persists notes in SQLite and provides the staged
// write/commit surface used by the backfill coordinator.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/quillhq/quilld/internal/note"
)

// ErrPersistence indicates a storage-layer failure (constraint
// violation, connectivity loss, failed transaction). A failed Commit
// loses the uncommitted portion of the batch; callers must not assume
// partial success.
var ErrPersistence = errors.New("persistence failure")

const schema = `
CREATE TABLE IF NOT EXISTS notes (
    id            TEXT PRIMARY KEY,
    owner_subject TEXT NOT NULL,
    title         TEXT NOT NULL,
    content       TEXT NOT NULL,
    tags          TEXT,
    embedding     BLOB,
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(owner_subject);
`

// Store is a handle onto the notes table.
//
// Reads and the CRUD methods hit the database directly. Save stages an
// enrichment mutation in memory on this handle; Commit flushes all
// staged mutations in a single transaction. Staged mutations are
// invisible to independently opened handles until Commit succeeds.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu     sync.Mutex
	staged map[string]*note.Note
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path+"?_loc=UTC&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrPersistence, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ErrPersistence, err)
	}

	return &Store{
		db:     db,
		logger: logger,
		staged: make(map[string]*note.Note),
	}, nil
}

// Close closes the underlying database. Staged mutations are discarded.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query returns the owner's notes. With onlyMissingTags it restricts
// the result to notes whose tags field is empty or absent. The order
// is stable (created_at, then id) so repeated iteration over the same
// snapshot yields the same sequence.
func (s *Store) Query(ctx context.Context, ownerSubject string, onlyMissingTags bool) ([]*note.Note, error) {
	q := `SELECT id, owner_subject, title, content, tags, embedding, created_at, updated_at
	      FROM notes WHERE owner_subject = ?`
	if onlyMissingTags {
		q += ` AND (tags IS NULL OR tags = '')`
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, q, ownerSubject)
	if err != nil {
		return nil, fmt.Errorf("%w: querying notes: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var notes []*note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating notes: %v", ErrPersistence, err)
	}
	return notes, nil
}

// Save stages an enrichment mutation (tags, embedding, updated_at) for
// the next Commit on this handle. Later stages of the same note
// replace earlier ones.
func (s *Store) Save(n *note.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[n.ID] = n
}

// Pending reports the number of notes staged for the next Commit.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged)
}

// Commit durably persists all staged mutations in one transaction.
// On success the staged set is cleared; on failure it is retained in
// memory but the transaction is rolled back, so none of the batch
// reached durable storage.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.staged) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrPersistence, err)
	}

	for _, n := range s.staged {
		_, err := tx.ExecContext(ctx,
			`UPDATE notes SET tags = ?, embedding = ?, updated_at = ? WHERE id = ?`,
			n.Tags, encodeVector(n.Embedding), n.UpdatedAt.UTC(), n.ID)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: updating note %s: %v", ErrPersistence, n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", ErrPersistence, err)
	}

	s.logger.Debug("committed staged notes", zap.Int("count", len(s.staged)))
	s.staged = make(map[string]*note.Note)
	return nil
}

// Create inserts a new note. Unlike Save, the write is immediate.
func (s *Store) Create(ctx context.Context, n *note.Note) error {
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, owner_subject, title, content, tags, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OwnerSubject, n.Title, n.Content, n.Tags, encodeVector(n.Embedding),
		n.CreatedAt.UTC(), n.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: inserting note: %v", ErrPersistence, err)
	}
	return nil
}

// Get returns the owner's note with the given id.
func (s *Store) Get(ctx context.Context, ownerSubject, id string) (*note.Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_subject, title, content, tags, embedding, created_at, updated_at
		 FROM notes WHERE owner_subject = ? AND id = ?`, ownerSubject, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, note.ErrNotFound
	}
	return n, err
}

// Update overwrites an existing note. The write is immediate.
func (s *Store) Update(ctx context.Context, n *note.Note) error {
	if err := n.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, tags = ?, embedding = ?, updated_at = ?
		 WHERE owner_subject = ? AND id = ?`,
		n.Title, n.Content, n.Tags, encodeVector(n.Embedding), n.UpdatedAt.UTC(),
		n.OwnerSubject, n.ID)
	if err != nil {
		return fmt.Errorf("%w: updating note: %v", ErrPersistence, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking update result: %v", ErrPersistence, err)
	}
	if affected == 0 {
		return note.ErrNotFound
	}
	return nil
}

// Delete removes the owner's note with the given id.
func (s *Store) Delete(ctx context.Context, ownerSubject, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notes WHERE owner_subject = ? AND id = ?`, ownerSubject, id)
	if err != nil {
		return fmt.Errorf("%w: deleting note: %v", ErrPersistence, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: checking delete result: %v", ErrPersistence, err)
	}
	if affected == 0 {
		return note.ErrNotFound
	}
	return nil
}

// List returns all of the owner's notes in stable order.
func (s *Store) List(ctx context.Context, ownerSubject string) ([]*note.Note, error) {
	return s.Query(ctx, ownerSubject, false)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*note.Note, error) {
	var (
		n    note.Note
		tags sql.NullString
		blob []byte
	)
	err := row.Scan(&n.ID, &n.OwnerSubject, &n.Title, &n.Content, &tags, &blob,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scanning note: %v", ErrPersistence, err)
	}
	n.Tags = tags.String
	n.Embedding = decodeVector(blob)
	return &n, nil
}
