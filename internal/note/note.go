// Package note defines the core note domain type shared by the store,
// the backfill pipeline, and the HTTP API.
package note

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field length bounds enforced on create and update.
const (
	MaxTitleLen   = 200
	MaxContentLen = 50_000
	MaxTagsLen    = 1000
)

var (
	// ErrNotFound is returned when a note does not exist for the owner.
	ErrNotFound = errors.New("note not found")

	// ErrInvalidNote indicates a note that fails validation.
	ErrInvalidNote = errors.New("invalid note")
)

// Note is a single note record.
//
// Tags is a denormalized comma-delimited list; order is preserved for
// display but insignificant for matching. Embedding is present only
// after successful enrichment and may be stale relative to Content —
// staleness is an allowed transient state that the backfill resolves.
type Note struct {
	ID           string    `json:"id"`
	OwnerSubject string    `json:"owner_subject"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Tags         string    `json:"tags,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// New creates a note with a fresh id and UTC timestamps.
func New(ownerSubject, title, content string) (*Note, error) {
	now := time.Now().UTC()
	n := &Note{
		ID:           uuid.NewString(),
		OwnerSubject: ownerSubject,
		Title:        title,
		Content:      content,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks required fields and length bounds.
func (n *Note) Validate() error {
	if strings.TrimSpace(n.OwnerSubject) == "" {
		return fmt.Errorf("%w: owner subject is required", ErrInvalidNote)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNote)
	}
	if len(n.Title) > MaxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidNote, MaxTitleLen)
	}
	if strings.TrimSpace(n.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidNote)
	}
	if len(n.Content) > MaxContentLen {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidNote, MaxContentLen)
	}
	if len(n.Tags) > MaxTagsLen {
		return fmt.Errorf("%w: tags exceed %d characters", ErrInvalidNote, MaxTagsLen)
	}
	return nil
}

// HasTags reports whether the note carries a non-empty tag list.
func (n *Note) HasTags() bool {
	return strings.TrimSpace(n.Tags) != ""
}

// HasEmbedding reports whether the note carries an embedding vector.
func (n *Note) HasEmbedding() bool {
	return len(n.Embedding) > 0
}

// TagList splits the denormalized tag string into trimmed tags,
// preserving order and dropping empty entries.
func (n *Note) TagList() []string {
	if !n.HasTags() {
		return nil
	}
	parts := strings.Split(n.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
