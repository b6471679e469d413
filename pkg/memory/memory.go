// Package memory keeps per-session conversation history for the chat
// surfaces. The assistant itself is stateless; callers load a session's
// turns, pass them as history and save the new user and assistant turns.
//
// Sessions are bounded: a session idle for longer than its TTL reads back
// empty, and only the most recent MaxTurns turns are kept.
package memory

import (
	"context"
	"time"

	"github.com/barekit/vitrine/pkg/llm"
)

const (
	// DefaultTTL is how long an idle chat session is remembered.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxTurns caps the stored turns of one session.
	DefaultMaxTurns = 100
)

// Memory stores chat sessions.
type Memory interface {
	// Save appends a turn to a session and refreshes its expiry.
	Save(ctx context.Context, sessionID string, msg llm.Message) error
	// Load returns the turns of a live session, oldest first. Unknown and
	// expired sessions yield no turns.
	Load(ctx context.Context, sessionID string) ([]llm.Message, error)
	// Clear forgets a session.
	Clear(ctx context.Context, sessionID string) error
}

// Recent returns at most the last n messages of history. n <= 0 keeps all.
func Recent(history []llm.Message, n int) []llm.Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
