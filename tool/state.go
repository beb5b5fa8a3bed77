package tool

import (
	"fmt"

	"github.com/hupe1980/turnstream/core"
)

// StateTool lets the model read and write session state and request flow
// control. Writes are recorded on the ToolContext and only reach the session
// through the StateDelta of the turn's terminal event.
type StateTool struct{}

// NewStateTool creates the session state tool.
func NewStateTool() *StateTool { return &StateTool{} }

// Name implements Tool.
func (t *StateTool) Name() string { return "session_state" }

// Description implements Tool.
func (t *StateTool) Description() string {
	return "Reads and writes session state. Operations: get_state, set_state, escalate."
}

// Parameters implements Tool.
func (t *StateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"get_state", "set_state", "escalate"},
				"description": "The operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "State key for get_state/set_state",
			},
			"value": map[string]any{
				"description": "Value for set_state (any type)",
			},
		},
		"required": []string{"operation"},
	}
}

// Call implements Tool.
func (t *StateTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	operation, _ := args["operation"].(string)
	switch operation {
	case "get_state":
		key, err := stateKey(args, operation)
		if err != nil {
			return nil, err
		}
		value, exists := toolCtx.GetState(key)
		return map[string]any{"key": key, "exists": exists, "value": value}, nil
	case "set_state":
		key, err := stateKey(args, operation)
		if err != nil {
			return nil, err
		}
		toolCtx.SetState(key, args["value"])
		return map[string]any{"key": key, "value": args["value"], "success": true}, nil
	case "escalate":
		toolCtx.Escalate()
		return map[string]any{"success": true}, nil
	case "":
		return nil, NewToolError(t.Name(), CodeValidation, fmt.Errorf("operation parameter is required"))
	default:
		return nil, NewToolError(t.Name(), CodeValidation, fmt.Errorf("unknown operation: %s", operation))
	}
}

func stateKey(args map[string]any, operation string) (string, error) {
	key, ok := args["key"].(string)
	if !ok || key == "" {
		return "", NewToolError("session_state", CodeValidation, fmt.Errorf("key parameter is required for %s", operation))
	}
	return key, nil
}
