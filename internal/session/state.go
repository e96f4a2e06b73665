package session

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// maxPendingLogins bounds how many SSO redirects may be in flight at once.
const maxPendingLogins = 64

// Session is the single authenticated identity the shim serves.
type Session struct {
	DID       string
	Handle    string
	Token     string // opaque; doubles as the SSO login token
	CreatedAt time.Time
}

// State owns the active session and the pending SSO redirects.
// Every method is safe for concurrent use.
type State struct {
	mu      sync.RWMutex
	current *Session
	pending *lru.Cache
}

// NewState creates an unauthenticated state.
func NewState() *State {
	pending, _ := lru.New(maxPendingLogins)
	return &State{pending: pending}
}

// Set replaces the active session.
func (s *State) Set(sess Session) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &sess
}

// Current returns a copy of the active session.
func (s *State) Current() (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

// Clear drops the active session.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// PutRedirect remembers where to send the client once the OAuth flow
// identified by state completes.
func (s *State) PutRedirect(state, target string) {
	s.pending.Add(state, target)
}

// TakeRedirect returns and forgets the redirect stored for state. Only one
// caller can take a given state.
func (s *State) TakeRedirect(state string) (string, bool) {
	v, ok := s.pending.Peek(state)
	if !ok || !s.pending.Remove(state) {
		return "", false
	}
	target, ok := v.(string)
	return target, ok
}
