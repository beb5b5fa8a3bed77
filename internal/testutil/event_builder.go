package testutil

import (
	"github.com/hupe1980/turnstream/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder().Turn("t-1").ModelText("hello").Terminal(nil).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	author    string
	turnID    string
	sessionID string
	id        string
	role      core.Role
	parts     []core.Part
	input     *core.Content
	partial   bool
	terminal  bool
	delta     map[string]any
	actions   core.Actions
	errorCode string
}

// NewEventBuilder creates a builder with default author "model".
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{author: string(core.RoleModel), role: core.RoleModel}
}

// Author sets the author name for the event (chainable).
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// Turn sets the turn id (chainable).
func (b *EventBuilder) Turn(id string) *EventBuilder { b.turnID = id; return b }

// Session sets the session id (chainable).
func (b *EventBuilder) Session(id string) *EventBuilder { b.sessionID = id; return b }

// ID overrides the generated event ID (chainable).
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Partial marks the event as a streaming fragment (chainable).
func (b *EventBuilder) Partial() *EventBuilder { b.partial = true; return b }

// Terminal marks the event as the turn-complete event carrying delta
// (chainable).
func (b *EventBuilder) Terminal(delta map[string]any) *EventBuilder {
	b.terminal = true
	b.delta = delta
	return b
}

// Input sets the user input recorded on a terminal event (chainable).
func (b *EventBuilder) Input(text string) *EventBuilder {
	b.input = core.NewTextContent(core.RoleUser, text)
	return b
}

// ModelText appends a model text part (chainable).
func (b *EventBuilder) ModelText(t string) *EventBuilder {
	b.role = core.RoleModel
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// UserText appends a user text part and switches the role to user (chainable).
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = core.RoleUser
	b.author = string(core.RoleUser)
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// AddPart appends a custom content part (chainable).
func (b *EventBuilder) AddPart(p core.Part) *EventBuilder {
	b.parts = append(b.parts, p)
	return b
}

// FunctionCall adds a function call part (chainable).
func (b *EventBuilder) FunctionCall(id, name string, args map[string]any) *EventBuilder {
	b.parts = append(b.parts, core.FunctionCallPart{ID: id, Name: name, Args: args})
	return b
}

// FunctionResponse adds a function response part; a non-nil err becomes the
// error payload (chainable).
func (b *EventBuilder) FunctionResponse(id, name string, result map[string]any, err error) *EventBuilder {
	if err != nil {
		result = map[string]any{"error": err.Error()}
	}
	b.role = core.RoleTool
	b.parts = append(b.parts, core.FunctionResponsePart{ID: id, Name: name, Response: result})
	return b
}

// Escalate appends an Escalate action (chainable).
func (b *EventBuilder) Escalate() *EventBuilder { b.actions = append(b.actions, core.Escalate{}); return b }

// Transfer appends a TransferToAgent action (chainable).
func (b *EventBuilder) Transfer(to string) *EventBuilder {
	b.actions = append(b.actions, core.TransferToAgent{TargetAgent: to})
	return b
}

// Error marks the event as failed with code (chainable).
func (b *EventBuilder) Error(code string) *EventBuilder { b.errorCode = code; return b }

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	var content *core.Content
	if len(b.parts) > 0 {
		content = &core.Content{Role: b.role, Parts: append([]core.Part(nil), b.parts...)}
	}

	var ev core.Event
	if b.terminal {
		ev = core.NewTerminalEvent(b.turnID, b.author, content, b.delta, b.actions...)
	} else {
		ev = core.NewEvent(b.turnID, b.author)
		ev.Content = content
		ev.Partial = b.partial
		ev.Actions = append(ev.Actions, b.actions...)
	}
	if b.id != "" {
		ev.ID = b.id
	}
	ev.SessionID = b.sessionID
	ev.Input = b.input
	if b.errorCode != "" {
		ev.ErrorCode = b.errorCode
		ev.ErrorMessage = b.errorCode
	}
	return ev
}
