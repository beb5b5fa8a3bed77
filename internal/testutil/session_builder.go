package testutil

import (
	"github.com/hupe1980/turnstream/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").State("k", "v").Events(ev1, ev2).Build()
type SessionBuilder struct {
	id     string
	state  map[string]any
	events []core.Event
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, state: map[string]any{}}
}

// State sets or overwrites a state key/value pair (chainable).
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Event appends a single event to the history (chainable). Partial events
// are dropped by the session like in production.
func (b *SessionBuilder) Event(ev core.Event) *SessionBuilder {
	b.events = append(b.events, ev)
	return b
}

// Events appends multiple events to the history (chainable).
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Build returns a *core.Session with pre-populated state and events.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	s.MergeState(b.state)
	for _, ev := range b.events {
		s.AppendEvent(ev)
	}
	return s
}

// Seed registers the built session contents in store under the builder id.
func (b *SessionBuilder) Seed(store core.SessionStore) *core.Session {
	sess := store.GetOrCreate(b.id)
	store.MergeState(sess.ID, b.state)
	for _, ev := range b.events {
		store.AppendToHistory(sess.ID, ev)
	}
	return sess
}
