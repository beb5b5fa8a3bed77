package session

import (
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/hupe1980/turnstream/core"
)

// InMemoryStore is a volatile SessionStore implementation storing sessions in
// a process local map. The map lock only guards lookup and insertion; state
// and history mutations take the lock of the individual session, so turns on
// different sessions never contend.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	newID    func() string
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*core.Session),
		newID:    func() string { return ulid.Make().String() },
	}
}

// GetOrCreate returns the stored session for id, creating it lazily. Repeated
// calls with the same id return the same *core.Session. An empty id always
// yields a fresh session under a newly generated id.
func (s *InMemoryStore) GetOrCreate(id string) *core.Session {
	if id != "" {
		s.mu.RLock()
		sess, ok := s.sessions[id]
		s.mu.RUnlock()
		if ok {
			return sess
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = s.freshIDLocked()
	} else if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := core.NewSession(id)
	s.sessions[id] = sess
	return sess
}

// freshIDLocked generates an id not present in the map; caller must hold the
// write lock.
func (s *InMemoryStore) freshIDLocked() string {
	for {
		id := s.newID()
		if _, taken := s.sessions[id]; !taken {
			return id
		}
	}
}

// Get returns an existing session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(id string) (*core.Session, error) {
	if sess := s.lookup(id); sess != nil {
		return sess, nil
	}
	return nil, core.ErrSessionNotFound
}

// AppendToHistory appends non-partial events to an existing session.
// Unknown sessions are ignored.
func (s *InMemoryStore) AppendToHistory(id string, ev core.Event) {
	if sess := s.lookup(id); sess != nil {
		sess.AppendEvent(ev)
	}
}

// MergeState shallow-merges changes into an existing session's state.
// Unknown sessions are ignored.
func (s *InMemoryStore) MergeState(id string, changes map[string]any) {
	if len(changes) == 0 {
		return
	}
	if sess := s.lookup(id); sess != nil {
		sess.MergeState(changes)
	}
}

// Delete removes a session.
func (s *InMemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List returns the sorted ids of all sessions.
func (s *InMemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *InMemoryStore) lookup(id string) *core.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}
