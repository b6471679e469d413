package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type meta struct {
	URL   string `json:"url"`
	Index int    `json:"index"`
}

func doc(id string, vec ...float32) knowledge.Document[meta] {
	return knowledge.Document[meta]{
		ID:        id,
		Content:   "content of " + id,
		Embedding: vec,
		Metadata:  meta{URL: "https://example.com/" + id},
	}
}

func TestStore_QueryOrdersByScore(t *testing.T) {
	ctx := context.Background()
	s := New[meta]("")

	require.NoError(t, s.Upsert(ctx, []knowledge.Document[meta]{
		doc("far", 0, 1),
		doc("near", 1, 0.1),
		doc("exact", 1, 0),
		doc("opposite", -1, 0),
	}))

	matches, err := s.Query(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "exact", matches[0].ID)
	assert.Equal(t, "near", matches[1].ID)
	assert.Equal(t, "far", matches[2].ID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, "https://example.com/exact", matches[0].Metadata.URL)
}

type tagged struct {
	Tags  []string          `json:"tags"`
	Attrs map[string]string `json:"attrs"`
}

func TestStore_ResultsDoNotAliasStoredMetadata(t *testing.T) {
	ctx := context.Background()
	s := New[tagged]("")

	in := knowledge.Document[tagged]{
		ID:        "p1",
		Embedding: []float32{1, 0},
		Metadata:  tagged{Tags: []string{"minimalist"}, Attrs: map[string]string{"finish": "matte"}},
	}
	require.NoError(t, s.Upsert(ctx, []knowledge.Document[tagged]{in}))
	in.Metadata.Tags[0] = "changed by caller"

	matches, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, []string{"minimalist"}, matches[0].Metadata.Tags)

	matches[0].Metadata.Tags[0] = "mutated"
	matches[0].Metadata.Attrs["finish"] = "glossy"

	again, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"minimalist"}, again[0].Metadata.Tags)
	assert.Equal(t, "matte", again[0].Metadata.Attrs["finish"])

	got, ok := s.Get("p1")
	require.True(t, ok)
	got.Metadata.Tags[0] = "mutated"
	got.Embedding[0] = 42
	stored, _ := s.Get("p1")
	assert.Equal(t, []string{"minimalist"}, stored.Metadata.Tags)
	assert.Equal(t, float32(1), stored.Embedding[0])
}

func TestStore_QueryReturnsMinOfKAndSize(t *testing.T) {
	ctx := context.Background()
	s := New[meta]("")
	require.NoError(t, s.Upsert(ctx, []knowledge.Document[meta]{doc("a", 1, 0), doc("b", 0, 1)}))

	matches, err := s.Query(ctx, []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	matches, err = s.Query(ctx, []float32{1, 1}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_QueryEmpty(t *testing.T) {
	s := New[meta]("")
	matches, err := s.Query(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New[meta]("")

	first := doc("a", 1, 0)
	second := doc("a", 0, 1)
	second.Content = "replaced"

	require.NoError(t, s.Upsert(ctx, []knowledge.Document[meta]{first}))
	require.NoError(t, s.Upsert(ctx, []knowledge.Document[meta]{second}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestStore_UpsertRejectsMissingID(t *testing.T) {
	s := New[meta]("")
	err := s.Upsert(context.Background(), []knowledge.Document[meta]{doc("", 1)})
	require.Error(t, err)

	n, _ := s.Count(context.Background())
	assert.Equal(t, 0, n)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "store.json")

	s := New[meta](path)
	docs := []knowledge.Document[meta]{
		doc("a", 0.1, 0.2, 0.3),
		doc("b", -0.5, 0.25, 1e-7),
	}
	docs[1].Metadata.Index = 3
	require.NoError(t, s.Upsert(ctx, docs))

	reloaded := New[meta](path)
	n, err := reloaded.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, d := range docs {
		got, ok := reloaded.Get(d.ID)
		require.True(t, ok)
		assert.Equal(t, d, got)
	}

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, reloaded.Upsert(ctx, nil))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestStore_MissingSnapshotStartsEmpty(t *testing.T) {
	s := New[meta](filepath.Join(t.TempDir(), "absent.json"))
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStore_CorruptSnapshotIsOverwritten(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New[meta](path)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.Upsert(ctx, []knowledge.Document[meta]{doc("a", 1, 0)}))

	reloaded := New[meta](path)
	n, err = reloaded.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_PersistenceFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// the parent of the snapshot path is a regular file, so MkdirAll fails
	s := New[meta](filepath.Join(blocker, "store.json"))
	err := s.Upsert(ctx, []knowledge.Document[meta]{doc("a", 1, 0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, knowledge.ErrPersistence))

	matches, err := s.Query(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	s := New[meta](path)
	require.NoError(t, s.Upsert(ctx, []knowledge.Document[meta]{doc("a", 1, 0)}))
	require.NoError(t, s.Clear(ctx))

	n, _ := New[meta](path).Count(ctx)
	assert.Equal(t, 0, n)
}

func TestStore_ConcurrentUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := New[meta](filepath.Join(t.TempDir(), "store.json"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = s.Upsert(ctx, []knowledge.Document[meta]{doc(fmt.Sprintf("doc-%d", i), float32(i), 1)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Query(ctx, []float32{1, 1}, 3)
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}
