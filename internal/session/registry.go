package session

import (
	"sort"
	"sync"
)

// Registry maps session ids to live sessions. Every operation holds the lock
// only for the map access itself.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
}

// NewRegistry creates a registry. maxSessions <= 0 means no cap.
func NewRegistry(maxSessions int) *Registry {
	return &Registry{sessions: make(map[string]*Session), max: maxSessions}
}

// Put registers s. It fails with ErrSessionExists on an id collision and with
// ErrMaxSessions when the cap is reached.
func (r *Registry) Put(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	if r.max > 0 && len(r.sessions) >= r.max {
		return ErrMaxSessions
	}
	r.sessions[s.ID] = s
	return nil
}

// Full reports whether another Put would hit the cap.
func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.max > 0 && len(r.sessions) >= r.max
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes id and returns the removed session, or nil.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	return s
}

// RemoveIf deletes id only while it still maps to s.
func (r *Registry) RemoveIf(id string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; !ok || cur != s {
		return false
	}
	delete(r.sessions, id)
	return true
}

// ForEach calls fn on a snapshot of the registered sessions until fn returns
// false. fn may call back into the registry.
func (r *Registry) ForEach(fn func(*Session) bool) {
	for _, s := range r.List() {
		if !fn(s) {
			return
		}
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the registered sessions ordered by creation time.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
