package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/core"
)

func newToolContext(state map[string]any) *core.ToolContext {
	return core.NewToolContext(context.Background(), "s1", "t1", "fc1", state, nil)
}

// -------------------- FunctionTool Tests --------------------

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(newToolContext(nil), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		"required": []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return 0, nil
	})

	_, err := tTool.Call(newToolContext(nil), map[string]any{})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "test", toolErr.ToolName)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "a", vErr.Field)
}

func TestFunctionTool_RawArgumentsRejected(t *testing.T) {
	called := false
	tTool := NewFunctionTool("raw", "Raw", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	_, err := tTool.Call(newToolContext(nil), map[string]any{"_raw": "{not json"})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.False(t, called)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	boom := errors.New("boom")
	execTool := NewFunctionTool("fail", "Fails", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, boom
	})

	_, err := execTool.Call(newToolContext(nil), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.ErrorIs(t, err, boom)
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	custom := NewToolError("lookup", "RATE_LIMITED", errors.New("slow down"))
	execTool := NewFunctionTool("lookup", "Lookup", map[string]any{"type": "object"}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, custom
	})

	_, err := execTool.Call(newToolContext(nil), map[string]any{})
	assert.Same(t, custom, err)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type lookupArgs struct {
		ID int `json:"id" description:"Record id"`
	}
	lookup := NewFunctionToolFromStruct("lookup", "Lookup", lookupArgs{}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return map[string]any{"found": true}, nil
	})

	def := Definition(lookup)
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, "lookup", def.Function.Name)
	assert.Contains(t, def.Function.Parameters["properties"], "id")

	_, err := lookup.Call(newToolContext(nil), map[string]any{})
	assert.Error(t, err)
}

// -------------------- Built-in Tools --------------------

func TestStateTool_SetAndGetState(t *testing.T) {
	st := NewStateTool()
	tc := newToolContext(map[string]any{"existing": 1})

	res, err := st.Call(tc, map[string]any{"operation": "set_state", "key": "foo", "value": "bar"})
	require.NoError(t, err)
	assert.Equal(t, "bar", res.(map[string]any)["value"])
	assert.Equal(t, map[string]any{"foo": "bar"}, tc.StateDelta())

	res, err = st.Call(tc, map[string]any{"operation": "get_state", "key": "foo"})
	require.NoError(t, err)
	assert.Equal(t, true, res.(map[string]any)["exists"])
	assert.Equal(t, "bar", res.(map[string]any)["value"])

	res, err = st.Call(tc, map[string]any{"operation": "get_state", "key": "existing"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.(map[string]any)["value"])

	res, err = st.Call(tc, map[string]any{"operation": "get_state", "key": "missing"})
	require.NoError(t, err)
	assert.Equal(t, false, res.(map[string]any)["exists"])
}

func TestStateTool_Escalate(t *testing.T) {
	tc := newToolContext(nil)
	_, err := NewStateTool().Call(tc, map[string]any{"operation": "escalate"})
	require.NoError(t, err)
	assert.Equal(t, core.Actions{core.Escalate{}}, tc.Actions())
}

func TestStateTool_InvalidOperation(t *testing.T) {
	st := NewStateTool()
	_, err := st.Call(newToolContext(nil), map[string]any{"operation": "drop_tables"})
	assert.Error(t, err)

	_, err = st.Call(newToolContext(nil), map[string]any{"operation": "get_state"})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestTransferToAgentTool(t *testing.T) {
	tr := NewTransferToAgentTool()
	tc := newToolContext(nil)

	res, err := tr.Call(tc, map[string]any{"agent": "billing"})
	require.NoError(t, err)
	assert.Equal(t, "billing", res.(map[string]any)["agent"])
	assert.Equal(t, core.Actions{core.TransferToAgent{TargetAgent: "billing"}}, tc.Actions())

	_, err = tr.Call(newToolContext(nil), map[string]any{"agent": ""})
	assert.Error(t, err)
}

// -------------------- Set & ToolError --------------------

func TestSet(t *testing.T) {
	s := NewSet(NewTransferToAgentTool(), nil, NewStateTool())
	assert.Equal(t, []string{"session_state", "transfer_to_agent"}, s.Names())

	defs := s.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "session_state", defs[0].Function.Name)
	assert.Equal(t, "transfer_to_agent", defs[1].Function.Name)
}

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "E123", errors.New("something failed"))
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")
	assert.Contains(t, err.Error(), "something failed")

	bare := &ToolError{ToolName: "demo"}
	assert.Equal(t, "tool error in demo: unknown failure", bare.Error())
}
