package knowledge_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/knowledge/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{1, 2}, []float32{0, 0}, 0},
		{"both zero", []float32{0, 0}, []float32{0, 0}, 0},
		{"mismatched length", []float32{1, 2, 3}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := knowledge.Similarity(tt.a, tt.b)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	pairs := [][2][]float32{
		{{0.3, -1.2, 4}, {2, 0.5, -0.7}},
		{{1, 1}, {1, 0}},
		{{0, 0, 1}, {0, 0, 0}},
	}
	for _, p := range pairs {
		assert.Equal(t, knowledge.Similarity(p[0], p[1]), knowledge.Similarity(p[1], p[0]))
	}
}

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.calls = append(e.calls, texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func TestKnowledgeBase_IngestBatches(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{}
	store := memory.New[knowledge.ChunkMetadata]("")
	kb := knowledge.NewKnowledgeBase[knowledge.ChunkMetadata](embedder, store)
	kb.BatchSize = 2

	docs := []knowledge.Document[knowledge.ChunkMetadata]{
		{ID: "a", Content: "one"},
		{ID: "b", Content: "two", Embedding: []float32{9, 9}},
		{ID: "c", Content: "three"},
		{ID: "d", Content: "four"},
	}
	require.NoError(t, kb.Ingest(ctx, docs))

	assert.Equal(t, [][]string{{"one", "three"}, {"four"}}, embedder.calls)
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	b, ok := store.Get("b")
	require.True(t, ok)
	assert.Equal(t, []float32{9, 9}, b.Embedding)
}

func TestKnowledgeBase_IngestPropagatesEmbedError(t *testing.T) {
	embedder := &countingEmbedder{err: errors.New("quota")}
	store := memory.New[knowledge.ChunkMetadata]("")
	kb := knowledge.NewKnowledgeBase[knowledge.ChunkMetadata](embedder, store)

	err := kb.Ingest(context.Background(), []knowledge.Document[knowledge.ChunkMetadata]{{ID: "a", Content: "x"}})
	require.Error(t, err)

	n, _ := store.Count(context.Background())
	assert.Equal(t, 0, n)
}

func TestKnowledgeBase_Retrieve(t *testing.T) {
	ctx := context.Background()
	embedder := &countingEmbedder{}
	store := memory.New[knowledge.ChunkMetadata]("")
	kb := knowledge.NewKnowledgeBase[knowledge.ChunkMetadata](embedder, store)

	require.NoError(t, kb.Ingest(ctx, []knowledge.Document[knowledge.ChunkMetadata]{
		{ID: "short", Content: "ab", Metadata: knowledge.ChunkMetadata{URL: "u1"}},
		{ID: "long", Content: "abcdefghijklmnop", Metadata: knowledge.ChunkMetadata{URL: "u2"}},
	}))

	matches, err := kb.Retrieve(ctx, "abcdefghijklmnop", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "long", matches[0].ID)
}
