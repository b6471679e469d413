package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/barekit/vitrine/pkg/knowledge"
	"github.com/barekit/vitrine/pkg/knowledge/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector-store.json")
	store, err := NewStore[knowledge.ChunkMetadata](context.Background(), Config{Type: TypeFile, Path: path})
	require.NoError(t, err)

	mem, ok := store.(*memory.Store[knowledge.ChunkMetadata])
	require.True(t, ok)
	assert.Equal(t, path, mem.Path())
}

func TestNewStore_DefaultsToFile(t *testing.T) {
	store, err := NewStore[knowledge.ChunkMetadata](context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store[knowledge.ChunkMetadata]{}, store)
}

func TestNewStore_Unsupported(t *testing.T) {
	_, err := NewStore[knowledge.ChunkMetadata](context.Background(), Config{Type: "faiss"})
	require.Error(t, err)
}
