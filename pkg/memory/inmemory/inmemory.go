// Package inmemory keeps chat sessions in process memory. Sessions are lost
// on restart and not shared between replicas.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/barekit/vitrine/pkg/llm"
)

type session struct {
	turns   []llm.Message
	touched time.Time
}

// Store is a process-local session store.
type Store struct {
	ttl      time.Duration
	maxTurns int
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an empty Store. A zero ttl never expires sessions and a zero
// maxTurns keeps every turn.
func New(ttl time.Duration, maxTurns int) *Store {
	return &Store{
		ttl:      ttl,
		maxTurns: maxTurns,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

func (s *Store) expired(sess *session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.touched) > s.ttl
}

// Save appends msg and trims the session to the newest turns.
func (s *Store) Save(_ context.Context, sessionID string, msg llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess, ok := s.sessions[sessionID]
	if !ok || s.expired(sess, now) {
		sess = &session{}
		s.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, msg)
	if s.maxTurns > 0 && len(sess.turns) > s.maxTurns {
		sess.turns = append([]llm.Message(nil), sess.turns[len(sess.turns)-s.maxTurns:]...)
	}
	sess.touched = now
	s.sweep(now)
	return nil
}

// Load returns a copy of the session's turns.
func (s *Store) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if s.expired(sess, s.now()) {
		delete(s.sessions, sessionID)
		return nil, nil
	}
	return append([]llm.Message(nil), sess.turns...), nil
}

func (s *Store) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len reports the number of sessions held, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sweep drops expired sessions. Callers hold mu.
func (s *Store) sweep(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
		}
	}
}
