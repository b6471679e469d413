package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/barekit/vitrine/pkg/llm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMemory(t *testing.T, m Memory) {
	t.Helper()
	ctx := context.Background()
	s1, s2 := uuid.NewString(), uuid.NewString()

	turns := []llm.Message{
		{Role: llm.RoleUser, Content: "Do you have matte plates?"},
		{Role: llm.RoleAssistant, Content: "Yes, the Ease collection."},
		{Role: llm.RoleUser, Content: "Like this one?", Attachments: []llm.Attachment{{Type: llm.AttachmentImageURL, URL: "https://cdn/p.jpg"}}},
	}
	for _, msg := range turns {
		require.NoError(t, m.Save(ctx, s1, msg))
	}
	require.NoError(t, m.Save(ctx, s2, llm.Message{Role: llm.RoleUser, Content: "other"}))

	got, err := m.Load(ctx, s1)
	require.NoError(t, err)
	assert.Equal(t, turns, got)

	require.NoError(t, m.Clear(ctx, s1))
	got, err = m.Load(ctx, s1)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.Load(ctx, s2)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	unknown, err := m.Load(ctx, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestInMemory(t *testing.T) {
	m, err := NewFactory(context.Background(), Config{Type: TypeInMemory})
	require.NoError(t, err)
	exerciseMemory(t, m)
}

func TestGormSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	m, err := NewFactory(context.Background(), Config{Type: TypeSQLite, ConnectionString: dsn})
	require.NoError(t, err)
	exerciseMemory(t, m)
}

func TestRedis(t *testing.T) {
	url := os.Getenv("VITRINE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("VITRINE_TEST_REDIS_URL not set")
	}
	m, err := NewFactory(context.Background(), Config{Type: TypeRedis, ConnectionString: url})
	require.NoError(t, err)
	exerciseMemory(t, m)
}

func TestNewFactory_Unsupported(t *testing.T) {
	_, err := NewFactory(context.Background(), Config{Type: "cassandra"})
	assert.Error(t, err)
}

func TestConfigLimits(t *testing.T) {
	ttl, turns := Config{}.limits()
	assert.Equal(t, DefaultTTL, ttl)
	assert.Equal(t, DefaultMaxTurns, turns)

	ttl, turns = Config{TTL: -1, MaxTurns: -1}.limits()
	assert.Zero(t, ttl)
	assert.Zero(t, turns)
}

func TestRecent(t *testing.T) {
	h := []llm.Message{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	assert.Equal(t, h[1:], Recent(h, 2))
	assert.Equal(t, h, Recent(h, 0))
	assert.Equal(t, h, Recent(h, 5))
}
