package go_relay_i_guess

import (
    "sync"
)

// Registry owns the set of live sessions.
//
// Sessions are kept in insertion order, and every iteration happens over
// a copy taken by `All`, so callers never observe a concurrent `Add` or
// `Remove` halfway through.
type Registry struct {
    lock sync.RWMutex
    sessions []*Session
}

// NewRegistry create an empty registry.
func NewRegistry() *Registry {
    return &Registry{}
}

// Add append `s` to the registry.
func (r *Registry) Add(s *Session) {
    r.lock.Lock()
    r.sessions = append(r.sessions, s)
    r.lock.Unlock()
}

// Remove `s` from the registry, reporting whether it was there. Removing
// a session twice is harmless.
func (r *Registry) Remove(s *Session) bool {
    r.lock.Lock()
    defer r.lock.Unlock()

    for i := range r.sessions {
        if r.sessions[i] == s {
            copy(r.sessions[i:], r.sessions[i+1:])
            r.sessions[len(r.sessions)-1] = nil
            r.sessions = r.sessions[:len(r.sessions)-1]
            return true
        }
    }

    return false
}

// All retrieve a snapshot of every live session, in insertion order.
func (r *Registry) All() []*Session {
    r.lock.RLock()
    list := make([]*Session, len(r.sessions))
    copy(list, r.sessions)
    r.lock.RUnlock()

    return list
}

// Contains check whether `s` is still live.
func (r *Registry) Contains(s *Session) bool {
    r.lock.RLock()
    defer r.lock.RUnlock()

    for _, other := range r.sessions {
        if other == s {
            return true
        }
    }
    return false
}

// Len retrieve the number of live sessions.
func (r *Registry) Len() int {
    r.lock.RLock()
    defer r.lock.RUnlock()

    return len(r.sessions)
}
