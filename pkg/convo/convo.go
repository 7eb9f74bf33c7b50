// Package convo keeps the bounded per-session conversation windows used to
// condition generated replies.
//
// Every session owns an independent window keyed by its session id; windows
// are never shared or merged across sessions. Eviction is strict FIFO by
// turn count.
package convo

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role Role
	Text string
	Time time.Time
}

// DefaultMaxTurns keeps two full exchanges (user + assistant each).
const DefaultMaxTurns = 4

// Store holds one bounded conversation window per session.
type Store struct {
	mu       sync.RWMutex
	windows  map[string][]Turn
	maxTurns int
}

// New creates a store whose windows hold at most maxTurns turns.
// A non-positive maxTurns falls back to DefaultMaxTurns.
func New(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{
		windows:  make(map[string][]Turn),
		maxTurns: maxTurns,
	}
}

// Window returns a copy of the session's conversation window in
// chronological order. A session with no history yields an empty window.
func (s *Store) Window(sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := s.windows[sessionID]
	out := make([]Turn, len(window))
	copy(out, window)
	return out
}

// Append records one completed exchange for the session, evicting the
// oldest turns when the window bound would be exceeded.
func (s *Store) Append(sessionID, userText, assistantText string) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.windows[sessionID],
		Turn{Role: RoleUser, Text: userText, Time: now},
		Turn{Role: RoleAssistant, Text: assistantText, Time: now},
	)
	if over := len(window) - s.maxTurns; over > 0 {
		window = window[over:]
	}
	s.windows[sessionID] = window
}

// Forget drops the session's window entirely.
func (s *Store) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, sessionID)
}

// MaxTurns returns the configured window bound.
func (s *Store) MaxTurns() int {
	return s.maxTurns
}

// Sessions returns the number of sessions with history.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}
