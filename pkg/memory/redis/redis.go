// Package redis stores chat sessions as Redis lists, so every replica of
// the chat server sees the same history.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/memory/consts"
	"github.com/redis/go-redis/v9"
)

// Store keeps one JSON-encoded list per session. The key's TTL is reset on
// every save, so Redis itself drops idle sessions.
type Store struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

// New creates a Store. A zero ttl never expires sessions and a zero
// maxTurns keeps every turn.
func New(client *redis.Client, ttl time.Duration, maxTurns int) *Store {
	return &Store{client: client, ttl: ttl, maxTurns: maxTurns}
}

func key(sessionID string) string {
	return consts.RedisKeyPrefix + sessionID
}

// Save appends msg, trims the list and refreshes its expiry in one
// round trip.
func (s *Store) Save(ctx context.Context, sessionID string, msg llm.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}

	k := key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, k, b)
		if s.maxTurns > 0 {
			p.LTrim(ctx, k, int64(-s.maxTurns), -1)
		}
		if s.ttl > 0 {
			p.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save turn for session %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	items, err := s.client.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	turns := make([]llm.Message, 0, len(items))
	for i, item := range items {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode turn %d of session %s: %w", i, sessionID, err)
		}
		turns = append(turns, msg)
	}
	return turns, nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, key(sessionID)).Err()
}
