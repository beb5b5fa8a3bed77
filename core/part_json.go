package core

import (
	"encoding/json"
	"fmt"
)

// partEnvelope is the wire shape of a Part: an object with exactly one key
// naming the variant.
type partEnvelope struct {
	Text                *string                  `json:"text,omitempty"`
	FunctionCall        *functionCallWire        `json:"functionCall,omitempty"`
	FunctionResponse    *functionResponseWire    `json:"functionResponse,omitempty"`
	ExecutableCode      *executableCodeWire      `json:"executableCode,omitempty"`
	CodeExecutionResult *codeExecutionResultWire `json:"codeExecutionResult,omitempty"`
	InlineData          *inlineDataWire          `json:"inlineData,omitempty"`
	FileData            *fileDataWire            `json:"fileData,omitempty"`
}

type functionCallWire struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionResponseWire struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type executableCodeWire struct {
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

type codeExecutionResultWire struct {
	Outcome string `json:"outcome,omitempty"`
	Output  string `json:"output"`
}

type inlineDataWire struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

type fileDataWire struct {
	Name     string `json:"name,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// MarshalPart encodes a Part into its single-key wire object.
func MarshalPart(p Part) ([]byte, error) {
	var env partEnvelope
	switch v := p.(type) {
	case TextPart:
		text := v.Text
		env.Text = &text
	case FunctionCallPart:
		env.FunctionCall = &functionCallWire{ID: v.ID, Name: v.Name, Args: v.Args}
	case FunctionResponsePart:
		env.FunctionResponse = &functionResponseWire{ID: v.ID, Name: v.Name, Response: v.Response}
	case ExecutableCodePart:
		env.ExecutableCode = &executableCodeWire{Code: v.Code, Language: v.Language}
	case CodeExecutionResultPart:
		env.CodeExecutionResult = &codeExecutionResultWire{Outcome: v.Outcome, Output: v.Output}
	case InlineDataPart:
		env.InlineData = &inlineDataWire{Data: v.Data, MIMEType: v.MIMEType}
	case FileDataPart:
		env.FileData = &fileDataWire{Name: v.Name, Data: v.Data, URI: v.URI, MIMEType: v.MIMEType}
	default:
		return nil, &SerializationError{Cause: fmt.Errorf("unsupported part type %T", p)}
	}
	return json.Marshal(env)
}

// UnmarshalPart decodes a single-key wire object into a Part. Objects naming
// zero or several variants are rejected.
func UnmarshalPart(data []byte) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &SerializationError{Cause: err}
	}

	var parts []Part
	if env.Text != nil {
		parts = append(parts, TextPart{Text: *env.Text})
	}
	if w := env.FunctionCall; w != nil {
		parts = append(parts, FunctionCallPart{ID: w.ID, Name: w.Name, Args: w.Args})
	}
	if w := env.FunctionResponse; w != nil {
		parts = append(parts, FunctionResponsePart{ID: w.ID, Name: w.Name, Response: w.Response})
	}
	if w := env.ExecutableCode; w != nil {
		parts = append(parts, ExecutableCodePart{Code: w.Code, Language: w.Language})
	}
	if w := env.CodeExecutionResult; w != nil {
		parts = append(parts, CodeExecutionResultPart{Outcome: w.Outcome, Output: w.Output})
	}
	if w := env.InlineData; w != nil {
		parts = append(parts, InlineDataPart{Data: w.Data, MIMEType: w.MIMEType})
	}
	if w := env.FileData; w != nil {
		parts = append(parts, FileDataPart{Name: w.Name, Data: w.Data, URI: w.URI, MIMEType: w.MIMEType})
	}

	if len(parts) != 1 {
		return nil, &SerializationError{Cause: fmt.Errorf("part must have exactly one variant, got %d", len(parts))}
	}
	return parts[0], nil
}

type contentWire struct {
	Role  Role              `json:"role,omitempty"`
	Parts []json.RawMessage `json:"parts"`
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	w := contentWire{Role: c.Role, Parts: make([]json.RawMessage, 0, len(c.Parts))}
	for _, p := range c.Parts {
		raw, err := MarshalPart(p)
		if err != nil {
			return nil, err
		}
		w.Parts = append(w.Parts, raw)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Content) UnmarshalJSON(data []byte) error {
	var w contentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return &SerializationError{Cause: err}
	}
	parts := make([]Part, 0, len(w.Parts))
	for _, raw := range w.Parts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		parts = append(parts, p)
	}
	c.Role = w.Role
	c.Parts = parts
	return nil
}
