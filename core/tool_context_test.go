package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestToolContext(state map[string]any) *ToolContext {
	return NewToolContext(context.Background(), "test-session", "test-turn", "test-call-id", state, nil)
}

func TestToolContext_BasicFunctionality(t *testing.T) {
	tc := newTestToolContext(nil)

	assert.Equal(t, "test-session", tc.SessionID())
	assert.Equal(t, "test-turn", tc.TurnID())
	assert.Equal(t, "test-call-id", tc.FunctionCallID())
	assert.NotNil(t, tc.Logger())
	assert.NotNil(t, tc.Context())
}

func TestToolContext_StateManagement(t *testing.T) {
	state := map[string]any{"city": "Berlin"}
	tc := newTestToolContext(state)

	v, ok := tc.GetState("city")
	require.True(t, ok)
	assert.Equal(t, "Berlin", v)

	tc.SetState("city", "Paris")
	tc.SetState("unit", "celsius")

	v, _ = tc.GetState("city")
	assert.Equal(t, "Paris", v, "recorded changes shadow the initial state")
	assert.Equal(t, map[string]any{"city": "Paris", "unit": "celsius"}, tc.StateDelta())
	assert.Equal(t, "Berlin", state["city"], "the caller's map is not modified")

	_, ok = tc.GetState("missing")
	assert.False(t, ok)
}

func TestToolContext_FlowControl(t *testing.T) {
	tc := newTestToolContext(nil)
	tc.TransferToAgent("other-agent")
	tc.Escalate()

	actions := tc.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, TransferToAgent{TargetAgent: "other-agent"}, actions[0])
	assert.Equal(t, Escalate{}, actions[1])

	actions[0] = FinalResponse{}
	assert.Equal(t, ActionTransferToAgent, tc.Actions()[0].Kind(), "Actions returns a copy")
}

func TestToolContext_WithContextSharesRecordedChanges(t *testing.T) {
	tc := newTestToolContext(nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bound := tc.WithContext(ctx)

	bound.SetState("k", "v")
	bound.Escalate()

	assert.Equal(t, ctx, bound.Context())
	assert.Equal(t, map[string]any{"k": "v"}, tc.StateDelta())
	assert.Len(t, tc.Actions(), 1)
}
