package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
)

func TestBuildMessages(t *testing.T) {
	system, msgs := buildMessages(model.Request{
		SystemPrompt: "be brief",
		Contents: []core.Content{
			*core.NewTextContent(core.RoleSystem, "use metric units"),
			*core.NewTextContent(core.RoleUser, "weather?"),
			{Role: core.RoleModel, Parts: []core.Part{core.FunctionCallPart{ID: "t1", Name: "weather", Args: map[string]any{"city": "Oslo"}}}},
			{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{ID: "t1", Name: "weather", Response: map[string]any{"error": "offline"}}}},
		},
	})

	assert.Equal(t, "be brief\n\nuse metric units", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	require.NotNil(t, msgs[1].Content[0].OfToolUse)
	assert.Equal(t, "weather", msgs[1].Content[0].OfToolUse.Name)
	assert.Equal(t, "user", string(msgs[2].Role))
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "t1", msgs[2].Content[0].OfToolResult.ToolUseID)
	assert.True(t, msgs[2].Content[0].OfToolResult.IsError.Value)
}

func TestBuildTools(t *testing.T) {
	tools := buildTools([]model.ToolDefinition{{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        "weather",
			Description: "Current weather",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"city": map[string]any{"type": "string"}},
				"required":   []any{"city"},
			},
		},
	}})

	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "weather", tools[0].OfTool.Name)
	assert.Equal(t, []string{"city"}, tools[0].OfTool.InputSchema.Required)
	assert.Equal(t, "Current weather", tools[0].OfTool.Description.Value)
}

func TestToolCallAccumulation(t *testing.T) {
	tc := &toolCall{id: "t1", name: "weather", input: "{}"}
	assert.Equal(t, map[string]any{}, tc.part().Args)

	tc.deltas.WriteString(`{"city":`)
	tc.deltas.WriteString(`"Oslo"}`)
	assert.Equal(t, map[string]any{"city": "Oslo"}, tc.part().Args)
}
