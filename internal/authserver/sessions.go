package authserver

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session tracks one trading process registered with the server.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	LastPing  time.Time `json:"last_ping_at"`
	PingCount int       `json:"ping_count"`
}

// SessionStore keeps active sessions in memory. Sessions are cheap and
// carry no trading state, so a process restart simply re-registers.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create issues a fresh session and returns its id.
func (s *SessionStore) Create() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		LastPing:  now,
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Touch records a heartbeat. Returns false for unknown sessions.
func (s *SessionStore) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	sess.LastPing = s.now().UTC()
	sess.PingCount++
	return true
}

// Fresh reports whether the session exists and pinged within the window.
func (s *SessionStore) Fresh(id string, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	return s.now().UTC().Sub(sess.LastPing) <= window
}

// Purge removes sessions idle longer than the window and returns how many
// were dropped.
func (s *SessionStore) Purge(window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-window)
	dropped := 0
	for id, sess := range s.sessions {
		if sess.LastPing.Before(cutoff) {
			delete(s.sessions, id)
			dropped++
		}
	}
	return dropped
}

// List returns a snapshot of all sessions.
func (s *SessionStore) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

// Len returns the number of active sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
