// Package callback drives turns to completion and pushes every event to a
// caller-supplied function. It is a thin layer over service.TurnStream: the
// orchestration lives in the service, this package only adds the synthetic
// tool notifications that are not part of the event model.
package callback

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/logging"
	"github.com/hupe1980/turnstream/service"
	"github.com/hupe1980/turnstream/tool"
)

// Type identifies what a callback Event carries.
type Type string

const (
	// TypeToolsRegistered is sent once, before anything else, with the names
	// of the tools offered to the model.
	TypeToolsRegistered Type = "toolsRegistered"
	// TypeEvent wraps a turn event (partial or terminal).
	TypeEvent Type = "event"
	// TypeToolStart is sent before a tool runs.
	TypeToolStart Type = "toolStart"
	// TypeToolComplete is sent after a tool returned a result.
	TypeToolComplete Type = "toolComplete"
	// TypeToolError is sent after a tool failed.
	TypeToolError Type = "toolError"
)

// ToolNotice describes one tool lifecycle step.
type ToolNotice struct {
	Name       string         `json:"name"`
	CallID     string         `json:"callId,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Code       string         `json:"code,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

// Event is the unit pushed to OnEvent. Exactly one of Event, Tools and Tool
// is set, depending on Type.
type Event struct {
	Type      Type        `json:"type"`
	SessionID string      `json:"sessionId"`
	TurnID    string      `json:"turnId"`
	Event     *core.Event `json:"event,omitempty"`
	Tools     []string    `json:"tools,omitempty"`
	Tool      *ToolNotice `json:"tool,omitempty"`
}

// OnEvent receives callback events. A returned error is logged and does not
// stop the turn.
type OnEvent func(ev Event) error

// Options configure an Adapter.
type Options struct {
	Logger logging.Logger
}

// Adapter is the push-based entry point to a service.Service.
type Adapter struct {
	svc    *service.Service
	logger logging.Logger
}

// New creates an Adapter for svc.
func New(svc *service.Service, optFns ...func(o *Options)) *Adapter {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Adapter{svc: svc, logger: opts.Logger}
}

// Run submits in and pushes every event of the turn to onEvent until the
// terminal event was delivered. Pre-flight failures of the submission are
// returned before any callback runs; failures of the turn itself arrive as the
// terminal event's error code. Run returns ctx's error when ctx ends first.
func (a *Adapter) Run(ctx context.Context, in service.TurnInput, onEvent OnEvent) error {
	d := &dispatcher{onEvent: onEvent, logger: a.logger}

	listeners := make([]tool.Listener, 0, len(in.Listeners)+1)
	listeners = append(listeners, in.Listeners...)
	in.Listeners = append(listeners, d)

	ts, err := a.svc.SubmitTurn(ctx, in)
	if err != nil {
		return err
	}
	defer ts.Close()

	// The pipeline only advances inside Next, so listener callbacks never
	// overlap with the deliveries made on this goroutine.
	d.sessionID, d.turnID = ts.SessionID(), ts.TurnID()

	d.deliver(Event{Type: TypeToolsRegistered, Tools: tool.NewSet(in.Tools...).Names()})
	for ts.Next() {
		ev := ts.Current()
		d.deliver(Event{Type: TypeEvent, Event: &ev})
	}
	return ts.Err()
}

// dispatcher forwards tool notifications and stream events to onEvent and
// isolates the caller from the pipeline.
type dispatcher struct {
	onEvent   OnEvent
	logger    logging.Logger
	sessionID string
	turnID    string
}

func (d *dispatcher) OnToolStart(name, callID string, args map[string]any) {
	d.deliver(Event{Type: TypeToolStart, Tool: &ToolNotice{Name: name, CallID: callID, Args: args}})
}

func (d *dispatcher) OnToolComplete(name, callID string, result any, dur time.Duration) {
	d.deliver(Event{Type: TypeToolComplete, Tool: &ToolNotice{
		Name:       name,
		CallID:     callID,
		Result:     result,
		DurationMs: dur.Milliseconds(),
	}})
}

func (d *dispatcher) OnToolError(name, callID string, err *tool.ToolError, dur time.Duration) {
	notice := &ToolNotice{Name: name, CallID: callID, DurationMs: dur.Milliseconds()}
	if err != nil {
		notice.Code = err.Code
		notice.Error = err.Error()
		if err.Cause != nil {
			notice.Error = err.Cause.Error()
		}
	}
	d.deliver(Event{Type: TypeToolError, Tool: notice})
}

func (d *dispatcher) deliver(ev Event) {
	ev.SessionID, ev.TurnID = d.sessionID, d.turnID
	if err := d.call(ev); err != nil {
		d.logger.Warn("callback.error", "type", string(ev.Type), "session_id", d.sessionID, "turn_id", d.turnID, "error", err.Error())
	}
}

func (d *dispatcher) call(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("callback.panic", "type", string(ev.Type), "recover", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	if d.onEvent == nil {
		return nil
	}
	return d.onEvent(ev)
}
