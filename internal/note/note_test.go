package note

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	n, err := New("u1", "Title", "Content")
	require.NoError(t, err)

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "u1", n.OwnerSubject)
	assert.False(t, n.CreatedAt.IsZero())
	assert.Equal(t, n.CreatedAt, n.UpdatedAt)
	assert.False(t, n.HasTags())
	assert.False(t, n.HasEmbedding())
}

func TestNew_UniqueIDs(t *testing.T) {
	a, err := New("u1", "A", "c")
	require.NoError(t, err)
	b, err := New("u1", "B", "c")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Note)
	}{
		{"empty owner", func(n *Note) { n.OwnerSubject = " " }},
		{"empty title", func(n *Note) { n.Title = "" }},
		{"long title", func(n *Note) { n.Title = strings.Repeat("x", MaxTitleLen+1) }},
		{"empty content", func(n *Note) { n.Content = "  " }},
		{"long content", func(n *Note) { n.Content = strings.Repeat("x", MaxContentLen+1) }},
		{"long tags", func(n *Note) { n.Tags = strings.Repeat("x", MaxTagsLen+1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := New("u1", "Title", "Content")
			require.NoError(t, err)
			tc.mutate(n)
			assert.ErrorIs(t, n.Validate(), ErrInvalidNote)
		})
	}
}

func TestTagList(t *testing.T) {
	n := &Note{Tags: "alpha, beta ,, gamma "}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, n.TagList())

	assert.Nil(t, (&Note{}).TagList())
	assert.Nil(t, (&Note{Tags: "   "}).TagList())
}

func TestHasTags(t *testing.T) {
	assert.False(t, (&Note{Tags: " "}).HasTags())
	assert.True(t, (&Note{Tags: "a"}).HasTags())
}
