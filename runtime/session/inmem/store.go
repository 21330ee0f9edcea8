// Package inmem provides an in-memory conversation store for tests and local
// development.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/session"
)

// DefaultWindow is the number of recent exchanges kept per session when no
// explicit window is configured.
const DefaultWindow = 10

// Store keeps the most recent exchanges of every session in memory.
type Store struct {
	mu     sync.RWMutex
	window int
	turns  map[string][]session.Exchange
}

// New returns a store keeping the most recent window exchanges per session.
// A window of zero or less falls back to DefaultWindow.
func New(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{window: window, turns: make(map[string][]session.Exchange)}
}

// Context renders the stored exchanges of the session, oldest first.
func (s *Store) Context(_ context.Context, sessionID, actorID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return session.Render(s.turns[key(sessionID, actorID)]), nil
}

// Save appends one exchange, evicting the oldest beyond the window.
func (s *Store) Save(_ context.Context, sessionID, userMsg, agentResp, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(sessionID, actorID)
	turns := append(s.turns[k], session.Exchange{
		UserMessage:   userMsg,
		AgentResponse: agentResp,
		CreatedAt:     time.Now().UTC(),
	})
	if len(turns) > s.window {
		turns = turns[len(turns)-s.window:]
	}
	s.turns[k] = turns
	return nil
}

// Available always reports true.
func (s *Store) Available() bool { return true }

func key(sessionID, actorID string) string { return sessionID + "/" + actorID }
