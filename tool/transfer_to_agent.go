package tool

import (
	"fmt"

	"github.com/hupe1980/turnstream/core"
)

// transferToAgentTool records a TransferToAgent action on the turn. Routing
// itself is left to whoever consumes the terminal event.
type transferToAgentTool struct{}

// NewTransferToAgentTool constructs the transfer tool.
func NewTransferToAgentTool() Tool { return &transferToAgentTool{} }

func (t *transferToAgentTool) Name() string { return "transfer_to_agent" }

func (t *transferToAgentTool) Description() string {
	return "Hand the conversation over to another agent by name when it is better suited."
}

func (t *transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent name"},
		},
		"required": []string{"agent"},
	}
}

func (t *transferToAgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	name, ok := args["agent"].(string)
	if !ok || name == "" {
		return nil, NewToolError(t.Name(), CodeValidation, fmt.Errorf("field 'agent' must be a non-empty string"))
	}
	tc.TransferToAgent(name)
	return map[string]any{"transferred": true, "agent": name}, nil
}
