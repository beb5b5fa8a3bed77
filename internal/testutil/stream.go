package testutil

import (
	"sync"
	"time"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/tool"
)

// EventStream is the pull interface of a turn stream.
type EventStream interface {
	Next() bool
	Current() core.Event
}

// Drain pulls every event of s.
func Drain(s EventStream) []core.Event {
	var events []core.Event
	for s.Next() {
		events = append(events, s.Current())
	}
	return events
}

// Partials returns the partial events of events.
func Partials(events []core.Event) []core.Event {
	var res []core.Event
	for _, ev := range events {
		if ev.Partial {
			res = append(res, ev)
		}
	}
	return res
}

// Texts returns the text of each event.
func Texts(events []core.Event) []string {
	res := make([]string, 0, len(events))
	for _, ev := range events {
		res = append(res, ev.Content.Text())
	}
	return res
}

// ToolNotice is one recorded tool lifecycle notification.
type ToolNotice struct {
	Kind   string // start, complete or error
	Name   string
	CallID string
	Args   map[string]any
	Result any
	Err    *tool.ToolError
}

// ToolRecorder is a tool.Listener that records notifications in order.
type ToolRecorder struct {
	mu      sync.Mutex
	notices []ToolNotice
}

var _ tool.Listener = (*ToolRecorder)(nil)

// OnToolStart implements tool.Listener.
func (r *ToolRecorder) OnToolStart(name, callID string, args map[string]any) {
	r.add(ToolNotice{Kind: "start", Name: name, CallID: callID, Args: args})
}

// OnToolComplete implements tool.Listener.
func (r *ToolRecorder) OnToolComplete(name, callID string, result any, _ time.Duration) {
	r.add(ToolNotice{Kind: "complete", Name: name, CallID: callID, Result: result})
}

// OnToolError implements tool.Listener.
func (r *ToolRecorder) OnToolError(name, callID string, err *tool.ToolError, _ time.Duration) {
	r.add(ToolNotice{Kind: "error", Name: name, CallID: callID, Err: err})
}

func (r *ToolRecorder) add(n ToolNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of the recorded notifications.
func (r *ToolRecorder) Notices() []ToolNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolNotice(nil), r.notices...)
}

// Kinds returns "<kind>:<name>" for each notification.
func (r *ToolRecorder) Kinds() []string {
	notices := r.Notices()
	res := make([]string, 0, len(notices))
	for _, n := range notices {
		res = append(res, n.Kind+":"+n.Name)
	}
	return res
}
