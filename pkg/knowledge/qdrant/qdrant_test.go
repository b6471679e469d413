package qdrant

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID(t *testing.T) {
	a := PointID("rak-about-company")
	b := PointID("rak-about-company")
	c := PointID("rak-contact-info")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestStore_Integration(t *testing.T) {
	host := os.Getenv("VITRINE_TEST_QDRANT_HOST")
	if host == "" {
		t.Skip("VITRINE_TEST_QDRANT_HOST not set")
	}
	port := 6334
	if p := os.Getenv("VITRINE_TEST_QDRANT_PORT"); p != "" {
		port, _ = strconv.Atoi(p)
	}

	ctx := context.Background()
	store, err := New[knowledge.ChunkMetadata](ctx, Config{
		Host:       host,
		Port:       port,
		Collection: "vitrine_test_" + uuid.NewString()[:8],
		VectorSize: 2,
	})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Upsert(ctx, []knowledge.Document[knowledge.ChunkMetadata]{
		{ID: "a", Content: "alpha", Embedding: []float32{1, 0}, Metadata: knowledge.ChunkMetadata{URL: "https://a"}},
		{ID: "b", Content: "beta", Embedding: []float32{0, 1}, Metadata: knowledge.ChunkMetadata{URL: "https://b"}},
	}))

	matches, err := store.Query(ctx, []float32{1, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "https://a", matches[0].Metadata.URL)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
