package model

import (
	"context"
	"encoding/json"

	"github.com/hupe1980/turnstream/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input for one model round.
//
// Contents holds the prior conversation followed by the new user Content and
// any function call / response pairs produced earlier in the same turn.
type Request struct {
	Model        string           `json:"model,omitempty"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	Contents     []core.Content   `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) item emitted by a provider.
//
// Partial responses carry incremental fragments; their function call parts
// must be complete calls. The final response (Partial=false) carries the
// aggregated completion and the finish reason. Providers without streaming
// only send the final response.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "gemini", "compat", "mock"
	SupportsTools bool   `json:"supports_tools"`
	Streaming     bool   `json:"streaming"`
}

// Model is the provider boundary. Generate must close both channels when it
// finishes, send at most one error, and stop promptly once ctx is done.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ParseArgs decodes a JSON argument payload. Payloads that are not a JSON
// object are kept under "_raw" so the tool layer can report them.
func ParseArgs(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args
	}
	return map[string]any{"_raw": raw}
}

// EncodeArgs serializes arguments for providers that expect a JSON string.
func EncodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ResponseText renders a function response payload as text for providers
// whose tool result slot only accepts strings.
func ResponseText(resp map[string]any) string {
	if len(resp) == 0 {
		return "{}"
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return "{}"
	}
	return string(b)
}
