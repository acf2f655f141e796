package service

import (
	"sync"

	"github.com/gigharbour/phonefactor/internal/verify/domain"
)

// SessionRef is the process-wide handle to the single authenticated session.
// It replaces a hidden module-level global with an explicitly owned resource
// that managers receive and tests can instantiate in isolation.
type SessionRef struct {
	mu      sync.Mutex
	current *domain.Session
}

func NewSessionRef() *SessionRef {
	return &SessionRef{}
}

// Set installs the active session, replacing any previous one.
func (r *SessionRef) Set(s domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &s
}

// Current returns a copy of the active session, or nil when signed out.
func (r *SessionRef) Current() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	s := *r.current
	return &s
}

// Clear signs the process out.
func (r *SessionRef) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}
