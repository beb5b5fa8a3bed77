package core

import (
	"maps"
	"sync"
	"time"
)

// Session represents a conversational container tracking mutable key/value
// state plus an ordered event history. It is safe for concurrent access.
//
// Contract:
//   - State mutations update the Updated timestamp
//   - AppendEvent ignores partial events, so history only holds terminal records
//   - State and Events return defensive copies
//   - Clone performs copies of maps/slices for safe divergence.
type Session struct {
	ID      string
	state   map[string]any
	events  []Event
	created time.Time
	updated time.Time
	mu      sync.RWMutex
}

// NewSession creates a new empty session with the given ID.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, state: map[string]any{}, events: []Event{}, created: now, updated: now}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// State returns a shallow copy of the state map.
func (s *Session) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state)
}

// MergeState shallow-merges changes into state; later keys win.
func (s *Session) MergeState(changes map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range changes {
		s.state[k] = v
	}
	s.updated = time.Now().UTC()
}

// AppendEvent appends a non-partial event to the history. Partial events are
// dropped and reported with false.
func (s *Session) AppendEvent(ev Event) bool {
	if ev.Partial {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	s.updated = time.Now().UTC()
	return true
}

// Events returns a defensive copy of the history.
func (s *Session) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	return events
}

// Conversation returns the contents of the history in order, suitable as
// model context. Each turn contributes its user input followed by the model
// output; empty contents are skipped. Failed turns are left out entirely so
// their partial output and error notes never reach the model.
func (s *Session) Conversation() []Content {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Content, 0, 2*len(s.events))
	for _, ev := range s.events {
		if ev.ErrorCode != "" {
			continue
		}
		if ev.Input != nil && len(ev.Input.Parts) > 0 {
			res = append(res, *ev.Input.Clone())
		}
		if ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}
		res = append(res, *ev.Content.Clone())
	}
	return res
}

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// Updated returns the time of the last state or history change.
func (s *Session) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// Clone returns a copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:      s.ID,
		state:   maps.Clone(s.state),
		events:  make([]Event, len(s.events)),
		created: s.created,
		updated: s.updated,
	}
	copy(clone.events, s.events)
	return clone
}

// Snapshot is a serializable view of a session.
type Snapshot struct {
	ID      string         `json:"id"`
	State   map[string]any `json:"state"`
	Events  []Event        `json:"events"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
}

// Snapshot captures the current state and history.
func (s *Session) Snapshot() Snapshot {
	c := s.Clone()
	return Snapshot{ID: c.ID, State: c.state, Events: c.events, Created: c.created, Updated: c.updated}
}

// SessionStore holds sessions keyed by id. Implementations must be safe for
// concurrent use and must not serialize unrelated sessions behind one lock.
type SessionStore interface {
	// GetOrCreate returns the session for id, creating it when unknown. An
	// empty id yields a fresh session with a generated, previously unseen id.
	GetOrCreate(id string) *Session
	// Get returns an existing session or ErrSessionNotFound.
	Get(id string) (*Session, error)
	// AppendToHistory appends a non-partial event; no-op for unknown sessions.
	AppendToHistory(id string, ev Event)
	// MergeState shallow-merges changes into the session state.
	MergeState(id string, changes map[string]any)
	// Delete removes a session.
	Delete(id string)
	// List returns the ids of all sessions.
	List() []string
}
