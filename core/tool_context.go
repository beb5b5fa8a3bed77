package core

import (
	"context"
	"maps"
	"sync"

	"github.com/hupe1980/turnstream/logging"
)

// ToolContext is handed to a tool for one function call. It exposes the
// session state as it was when the turn started and records the state changes
// and flow-control actions the tool requests. Recorded changes are folded into
// the terminal event of the turn.
type ToolContext struct {
	ctx            context.Context
	sessionID      string
	turnID         string
	functionCallID string
	logger         logging.Logger
	state          map[string]any
	rec            *recorder
}

// recorder is shared between a ToolContext and the copies made by WithContext.
type recorder struct {
	mu      sync.Mutex
	delta   map[string]any
	actions Actions
}

// NewToolContext creates a ToolContext. state is copied.
func NewToolContext(ctx context.Context, sessionID, turnID, functionCallID string, state map[string]any, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolContext{
		ctx:            ctx,
		sessionID:      sessionID,
		turnID:         turnID,
		functionCallID: functionCallID,
		logger:         logger,
		state:          maps.Clone(state),
		rec:            &recorder{delta: map[string]any{}},
	}
}

// WithContext returns a shallow copy bound to ctx that shares recorded changes.
func (tc *ToolContext) WithContext(ctx context.Context) *ToolContext {
	return &ToolContext{
		ctx:            ctx,
		sessionID:      tc.sessionID,
		turnID:         tc.turnID,
		functionCallID: tc.functionCallID,
		logger:         tc.logger,
		state:          tc.state,
		rec:            tc.rec,
	}
}

// Context returns the call context; it is cancelled on timeout or when the
// turn is abandoned.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// SessionID returns the session the call belongs to.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// TurnID returns the turn the call belongs to.
func (tc *ToolContext) TurnID() string { return tc.turnID }

// FunctionCallID returns the id of the model's function call.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the turn scoped logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// GetState reads a key, preferring changes recorded during this call.
func (tc *ToolContext) GetState(k string) (any, bool) {
	tc.rec.mu.Lock()
	defer tc.rec.mu.Unlock()
	if v, ok := tc.rec.delta[k]; ok {
		return v, true
	}
	v, ok := tc.state[k]
	return v, ok
}

// SetState records a state change.
func (tc *ToolContext) SetState(k string, v any) {
	tc.rec.mu.Lock()
	defer tc.rec.mu.Unlock()
	tc.rec.delta[k] = v
}

// StateDelta returns a copy of the recorded state changes.
func (tc *ToolContext) StateDelta() map[string]any {
	tc.rec.mu.Lock()
	defer tc.rec.mu.Unlock()
	return maps.Clone(tc.rec.delta)
}

// TransferToAgent requests that control passes to another agent.
func (tc *ToolContext) TransferToAgent(name string) {
	tc.rec.mu.Lock()
	defer tc.rec.mu.Unlock()
	tc.rec.actions = append(tc.rec.actions, TransferToAgent{TargetAgent: name})
}

// Escalate requests escalation to the caller of the agent.
func (tc *ToolContext) Escalate() {
	tc.rec.mu.Lock()
	defer tc.rec.mu.Unlock()
	tc.rec.actions = append(tc.rec.actions, Escalate{})
}

// Actions returns the flow-control actions recorded so far.
func (tc *ToolContext) Actions() Actions {
	tc.rec.mu.Lock()
	defer tc.rec.mu.Unlock()
	return append(Actions(nil), tc.rec.actions...)
}
