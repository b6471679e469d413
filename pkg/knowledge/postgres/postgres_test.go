package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithDB_RejectsBadTableName(t *testing.T) {
	_, err := NewWithDB[knowledge.ChunkMetadata](context.Background(), nil, "content; DROP TABLE x", 3)
	require.Error(t, err)
}

func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("VITRINE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("VITRINE_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	store, err := New[knowledge.ChunkMetadata](ctx, dsn, "vitrine_test_chunks", 2)
	require.NoError(t, err)
	t.Cleanup(func() { store.db.Exec("DROP TABLE IF EXISTS vitrine_test_chunks") })

	require.NoError(t, store.Upsert(ctx, []knowledge.Document[knowledge.ChunkMetadata]{
		{ID: "a", Content: "alpha", Embedding: []float32{1, 0}, Metadata: knowledge.ChunkMetadata{URL: "https://a"}},
		{ID: "b", Content: "beta", Embedding: []float32{0, 1}, Metadata: knowledge.ChunkMetadata{URL: "https://b"}},
	}))
	require.NoError(t, store.Upsert(ctx, []knowledge.Document[knowledge.ChunkMetadata]{
		{ID: "a", Content: "alpha v2", Embedding: []float32{1, 0}, Metadata: knowledge.ChunkMetadata{URL: "https://a"}},
	}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	matches, err := store.Query(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "alpha v2", matches[0].Content)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "https://a", matches[0].Metadata.URL)
}
