// Package session tracks connected clients and serializes their pipeline
// work.
//
// Each WebSocket connection gets one Session. A session admits at most one
// utterance at a time through its admission gate; different sessions run
// in parallel. Delivery to a session that already disconnected is a safe
// no-op for the caller.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/holoboxlabs/voicebridge/pkg/protocol"
)

// ErrGone is returned when sending to a session that is no longer
// registered.
var ErrGone = errors.New("session: gone")

// Conn is the write half of a WebSocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// Session represents one connected client.
type Session struct {
	ID        string
	Conn      Conn
	Connected time.Time

	// Client-supplied identity, set from the first utterance.
	Name string
	Lang string

	mu       sync.Mutex // serializes writes and identity updates
	lastSeen time.Time
	busy     atomic.Bool
}

// Send marshals the message and writes it to the connection. Writes are
// serialized so concurrent pipeline and control-plane sends never
// interleave frames.
func (s *Session) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// TryBegin attempts to admit one utterance. It returns false when the
// session is already processing one.
func (s *Session) TryBegin() bool {
	return s.busy.CompareAndSwap(false, true)
}

// End releases the admission gate.
func (s *Session) End() {
	s.busy.Store(false)
}

// Busy reports whether an utterance is being processed.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Touch records client activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// LastSeen returns the time of the last client activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// SetIdentity updates the client-supplied name and language hint.
// Empty values leave the existing identity untouched.
func (s *Session) SetIdentity(name, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		s.Name = name
	}
	if lang != "" {
		s.Lang = lang
	}
}

// PreferredLang returns the stored language preference.
func (s *Session) PreferredLang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Lang
}

// Registry tracks live sessions by ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// onUnregister runs after a session is removed, outside the lock.
	onUnregister func(sessionID string)
}

// NewRegistry creates an empty registry. The optional onUnregister hook
// runs whenever a session is removed, letting callers drop per-session
// state such as conversation history.
func NewRegistry(onUnregister func(sessionID string)) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		onUnregister: onUnregister,
	}
}

// Register creates a session for the connection and returns it.
func (r *Registry) Register(conn Conn) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Conn:      conn,
		Connected: now,
		lastSeen:  now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	return s
}

// Lookup returns the session, or nil when it is gone.
func (r *Registry) Lookup(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Unregister removes the session and runs the unregister hook.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if ok && r.onUnregister != nil {
		r.onUnregister(sessionID)
	}
}

// Send delivers a message to the session, or reports ErrGone when the
// session has disconnected.
func (r *Registry) Send(sessionID string, msg *protocol.Message) error {
	s := r.Lookup(sessionID)
	if s == nil {
		return ErrGone
	}
	return s.Send(msg)
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Info describes a live session for status reporting.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Busy      bool      `json:"busy"`
}

// Infos returns a snapshot of all live sessions.
func (r *Registry) Infos() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		s.mu.Lock()
		infos = append(infos, Info{
			ID:        s.ID,
			Name:      s.Name,
			Connected: s.Connected,
			LastSeen:  s.lastSeen,
			Busy:      s.busy.Load(),
		})
		s.mu.Unlock()
	}
	return infos
}
