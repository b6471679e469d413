package inmemory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/barekit/vitrine/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turn(i int) llm.Message {
	return llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("turn %d", i)}
}

func TestStore_KeepsNewestTurns(t *testing.T) {
	s := New(0, 3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Save(ctx, "a", turn(i)))
	}

	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{turn(3), turn(4), turn(5)}, got)
}

func TestStore_ExpiresIdleSessions(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := New(time.Hour, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "idle", turn(1)))
	require.NoError(t, s.Save(ctx, "busy", turn(1)))

	now = now.Add(50 * time.Minute)
	require.NoError(t, s.Save(ctx, "busy", turn(2)))

	now = now.Add(20 * time.Minute)
	got, err := s.Load(ctx, "idle")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Load(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// a save after expiry starts a fresh session
	now = now.Add(2 * time.Hour)
	require.NoError(t, s.Save(ctx, "busy", turn(3)))
	got, err = s.Load(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{turn(3)}, got)
	assert.Equal(t, 1, s.Len())
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	s := New(0, 0)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "a", turn(1)))

	got, _ := s.Load(ctx, "a")
	got[0].Content = "changed"

	again, _ := s.Load(ctx, "a")
	assert.Equal(t, "turn 1", again[0].Content)
}
