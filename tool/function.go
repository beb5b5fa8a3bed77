package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/internal/util"
)

// HandlerFunc is the signature of a function backing a FunctionTool. args have
// already been validated against the declared schema.
type HandlerFunc func(toolCtx *core.ToolContext, args map[string]any) (any, error)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the declared JSON schema before the
// function runs. Failures surface as *ToolError:
//
//	schema mismatch             -> VALIDATION_ERROR
//	function returned an error  -> EXECUTION_ERROR
//	function returned ToolError -> forwarded unchanged
//
// A FunctionTool holds no mutable state and may be shared across sessions.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          HandlerFunc
}

// NewFunctionTool constructs a FunctionTool from an explicit schema.
//
// Example:
//
//	lookup := tool.NewFunctionTool(
//	  "lookup",
//	  "Look up a record by id",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "id": map[string]any{"type": "integer"},
//	    },
//	    "required": []string{"id"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return map[string]any{"found": true}, nil
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn HandlerFunc) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from the exported
// fields of structType (see util.CreateSchema).
func NewFunctionToolFromStruct(name, description string, structType any, fn HandlerFunc) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name implements Tool.
func (t *FunctionTool) Name() string { return t.name }

// Description implements Tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args and runs the wrapped function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	// Providers hand back unparsable argument strings under "_raw".
	if raw, ok := args["_raw"]; ok && len(args) == 1 {
		return nil, NewToolError(t.name, CodeValidation, fmt.Errorf("arguments are not a JSON object: %v", raw))
	}

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, NewToolError(t.name, CodeValidation, fmt.Errorf("parameter validation failed: %w", err))
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}
		return nil, NewToolError(t.name, CodeExecution, err)
	}

	logger.Debug("tool.call.done", "tool", t.name, "fc_id", toolCtx.FunctionCallID(), "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
