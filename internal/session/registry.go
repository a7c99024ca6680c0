package session

import (
	"sort"
	"sync"
	"time"
)

// DefaultEndedLimit bounds how many ended call ids a registry remembers.
const DefaultEndedLimit = 4096

// Registry owns every live session and remembers recently ended call ids.
// The map lock is held only for map access, never while a session is
// generating or persisting.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time

	ended      map[string]struct{}
	endedOrder []string
	endedLimit int
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		now:        time.Now,
		ended:      make(map[string]struct{}),
		endedLimit: DefaultEndedLimit,
	}
}

// Create returns the existing session for callID when there is one, since
// the transport retries webhooks with the same call id. It returns nil for
// a call id that already ended.
func (r *Registry) Create(callID, scenario string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[callID]; ok {
		return s, false
	}
	if _, ok := r.ended[callID]; ok {
		return nil, false
	}
	s := newSession(callID, scenario, r.now())
	r.sessions[callID] = s
	return s, true
}

func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Ended reports whether callID finished within the remembered window.
func (r *Registry) Ended(callID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ended[callID]
	return ok
}

// retire deletes callID only while it still maps to s, so a late cleanup
// cannot evict a newer session created under the same id, and records the id
// as ended in the same critical section.
func (r *Registry) retire(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.callID]; ok && cur == s {
		delete(r.sessions, s.callID)
	}
	if _, ok := r.ended[s.callID]; ok {
		return
	}
	r.ended[s.callID] = struct{}{}
	r.endedOrder = append(r.endedOrder, s.callID)
	if r.endedLimit > 0 && len(r.endedOrder) > r.endedLimit {
		oldest := r.endedOrder[0]
		r.endedOrder = r.endedOrder[1:]
		delete(r.ended, oldest)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CallIDs returns the live call ids in sorted order.
func (r *Registry) CallIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
