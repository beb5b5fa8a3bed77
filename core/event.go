package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the unit emitted by the session engine for every step of a turn.
// After emission it should be treated as immutable. It captures:
//   - Correlation (ID, TurnID, SessionID, Author)
//   - Conversational content (optional role-based Parts); terminal events
//     also carry the user Input that opened the turn
//   - Orchestration directives (Actions)
//   - Error metadata for failed turns
//
// Partial events are in-progress fragments and are never persisted. Exactly
// one event per turn has TurnComplete set; it is the only event carrying the
// FinalResponse action.
type Event struct {
	ID           string    `json:"id"`
	TurnID       string    `json:"turnId"`
	SessionID    string    `json:"sessionId"`
	Author       string    `json:"author"`
	Input        *Content  `json:"input,omitempty"`
	Content      *Content  `json:"content,omitempty"`
	Actions      Actions   `json:"actions"`
	Partial      bool      `json:"partial"`
	TurnComplete bool      `json:"turnComplete"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEvent creates a bare event authored by 'author' bound to a turn.
// Prefer the helper constructors for common categories.
func NewEvent(turnID, author string) Event {
	return Event{
		ID:        NewID(),
		TurnID:    turnID,
		Author:    author,
		Actions:   Actions{},
		Timestamp: time.Now().UTC(),
	}
}

// NewPartialEvent wraps in-progress content as a partial event.
func NewPartialEvent(turnID, author string, content *Content) Event {
	e := NewEvent(turnID, author)
	e.Content = content
	e.Partial = true
	return e
}

// NewUserContentEvent creates a user-authored, non-partial event.
func NewUserContentEvent(turnID string, content *Content) Event {
	e := NewEvent(turnID, string(RoleUser))
	e.Content = content
	return e
}

// NewTerminalEvent builds the single turn-complete event. Its actions are a
// StateDelta (empty when nothing changed), then extra in order, then the
// FinalResponse marker.
func NewTerminalEvent(turnID, author string, content *Content, delta map[string]any, extra ...EventAction) Event {
	e := NewEvent(turnID, author)
	e.Content = content
	e.TurnComplete = true
	if delta == nil {
		delta = map[string]any{}
	}
	e.Actions = make(Actions, 0, len(extra)+2)
	e.Actions = append(e.Actions, StateDelta{Changes: delta})
	e.Actions = append(e.Actions, extra...)
	e.Actions = append(e.Actions, FinalResponse{})
	return e
}

// ValidateTerminal checks the shape of a turn-complete event.
func ValidateTerminal(e Event) error {
	switch {
	case e.Partial:
		return fmt.Errorf("terminal event %s is partial", e.ID)
	case !e.TurnComplete:
		return fmt.Errorf("terminal event %s is not marked turn complete", e.ID)
	}
	n := 0
	for _, a := range e.Actions {
		if a.Kind() == ActionFinalResponse {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("terminal event %s carries %d final response markers", e.ID, n)
	}
	return nil
}

// ValidateTurn checks an ordered event sequence of one turn: every event but
// the last is partial and unmarked, the last one is a valid terminal event.
func ValidateTurn(events []Event) error {
	if len(events) == 0 {
		return errors.New("turn produced no events")
	}
	for _, e := range events[:len(events)-1] {
		if !e.Partial || e.TurnComplete || e.IsFinalResponse() {
			return fmt.Errorf("event %s precedes the terminal event but is not a plain partial", e.ID)
		}
	}
	return ValidateTerminal(events[len(events)-1])
}

// NewID generates a new unique identifier for events and turns.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether this event is a streaming fragment.
func (e Event) IsPartial() bool { return e.Partial }

// IsFinalResponse reports whether the event carries the FinalResponse marker.
func (e Event) IsFinalResponse() bool { return e.Actions.Has(ActionFinalResponse) }

// IsError reports whether the event describes a failed turn.
func (e Event) IsError() bool { return e.ErrorCode != "" }

// FunctionCalls returns any function call parts in the event content.
func (e Event) FunctionCalls() []FunctionCallPart { return e.Content.FunctionCalls() }

// FunctionResponses returns any function response parts in the event content.
func (e Event) FunctionResponses() []FunctionResponsePart { return e.Content.FunctionResponses() }

// StateDelta merges all StateDelta actions of the event in order.
func (e Event) StateDelta() map[string]any {
	var merged map[string]any
	for _, act := range e.Actions {
		sd, ok := act.(StateDelta)
		if !ok {
			continue
		}
		if merged == nil {
			merged = make(map[string]any, len(sd.Changes))
		}
		for k, v := range sd.Changes {
			merged[k] = v
		}
	}
	return merged
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
