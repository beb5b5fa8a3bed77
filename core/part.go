package core

import "strings"

// Role identifies the producer of a Content value.
type Role string

const (
	// RoleUser marks content submitted by the end user.
	RoleUser Role = "user"
	// RoleModel marks content produced by the language model.
	RoleModel Role = "model"
	// RoleSystem marks instructions that frame the conversation.
	RoleSystem Role = "system"
	// RoleTool marks content carrying tool results back to the model.
	RoleTool Role = "tool"
)

// Part represents one segment of role-based content. Concrete part types
// implement the unexported isPart marker so the set of variants is closed:
// a Part value is always exactly one of the types below.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// FunctionCallPart is a model-issued request to invoke a tool.
type FunctionCallPart struct {
	ID   string         // Provider call id, used to correlate the response
	Name string         // Tool name
	Args map[string]any // Decoded arguments
}

func (FunctionCallPart) isPart() {}

// FunctionResponsePart carries the outcome of a FunctionCallPart back to the model.
// Failed invocations populate Response["error"].
type FunctionResponsePart struct {
	ID       string
	Name     string
	Response map[string]any
}

func (FunctionResponsePart) isPart() {}

// IsError reports whether the response carries an error payload.
func (p FunctionResponsePart) IsError() bool {
	_, ok := p.Response["error"]
	return ok
}

// ExecutableCodePart is code generated by the model for execution.
type ExecutableCodePart struct {
	Code     string
	Language string
}

func (ExecutableCodePart) isPart() {}

// CodeExecutionResultPart is the result of running an ExecutableCodePart.
type CodeExecutionResultPart struct {
	Outcome string // e.g. "OUTCOME_OK", "OUTCOME_FAILED"
	Output  string
}

func (CodeExecutionResultPart) isPart() {}

// InlineDataPart is binary payload carried inline with its MIME type.
type InlineDataPart struct {
	Data     []byte
	MIMEType string
}

func (InlineDataPart) isPart() {}

// FileDataPart references a file either inline (Data) or by URI.
type FileDataPart struct {
	Name     string
	Data     []byte
	URI      string
	MIMEType string
}

func (FileDataPart) isPart() {}

// Content holds role + ordered parts.
type Content struct {
	Role  Role
	Parts []Part
}

// NewTextContent builds a Content with a single text part.
func NewTextContent(role Role, text string) *Content {
	return &Content{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates all text parts in order.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// FunctionCalls returns the function call parts preserving their order.
func (c *Content) FunctionCalls() []FunctionCallPart {
	if c == nil {
		return nil
	}
	var calls []FunctionCallPart
	for _, p := range c.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// FunctionResponses returns the function response parts preserving their order.
func (c *Content) FunctionResponses() []FunctionResponsePart {
	if c == nil {
		return nil
	}
	var responses []FunctionResponsePart
	for _, p := range c.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr)
		}
	}
	return responses
}

// Clone returns a copy whose Parts slice can be appended to independently.
func (c *Content) Clone() *Content {
	if c == nil {
		return nil
	}
	parts := make([]Part, len(c.Parts))
	copy(parts, c.Parts)
	return &Content{Role: c.Role, Parts: parts}
}
