// Package tool implements the function / tool calling subsystem: the Tool
// contract, schema validated function tools, and the Invoker that executes
// model requested calls with lifecycle notifications, panic isolation and
// bounded waits.
package tool

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/internal/util"
	"github.com/hupe1980/turnstream/model"
)

// Tool defines the interface for capabilities the model can call.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Honour toolCtx.Context() cancellation
//   - Be thread-safe if shared between sessions
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with the model supplied arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes attached to ToolError.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeTimeout    = "TIMEOUT"
	CodePanic      = "PANIC"
)

// ErrToolNotFound is the cause of a ToolError for calls naming an unknown tool.
var ErrToolNotFound = errors.New("tool not found")

// ToolError represents a failed tool invocation. Cause keeps the underlying
// failure available to errors.Is / errors.As.
type ToolError struct {
	ToolName string `json:"tool"`
	Code     string `json:"code,omitempty"`
	Cause    error  `json:"-"`
}

func (e *ToolError) Error() string {
	msg := "unknown failure"
	if e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.ToolName, msg)
	}
	return fmt.Sprintf("tool error in %s: %s", e.ToolName, msg)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, code string, cause error) *ToolError {
	return &ToolError{ToolName: tool, Code: code, Cause: cause}
}

// Definition returns the model facing declaration of t.
func Definition(t Tool) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Set indexes tools by name. Later tools replace earlier ones with the same name.
type Set map[string]Tool

// NewSet builds a Set from tools, skipping nil entries.
func NewSet(tools ...Tool) Set {
	s := make(Set, len(tools))
	for _, t := range tools {
		if t != nil {
			s[t.Name()] = t
		}
	}
	return s
}

// Names returns the sorted tool names.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the declarations of all tools ordered by name.
func (s Set) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(s))
	for _, n := range s.Names() {
		defs = append(defs, Definition(s[n]))
	}
	return defs
}
