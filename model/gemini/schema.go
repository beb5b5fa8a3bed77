package gemini

import "google.golang.org/genai"

// toSchema converts a JSON Schema object into the typed genai.Schema the
// Gemini API expects. Unsupported keywords are dropped.
func toSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeString}
	}

	out := &genai.Schema{
		Type:     schemaType(schema["type"]),
		Required: required(schema["required"]),
	}
	if d, ok := schema["description"].(string); ok {
		out.Description = d
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if pm, ok := prop.(map[string]any); ok {
				out.Properties[name] = toSchema(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		out.Items = toSchema(items)
	}
	return out
}

func schemaType(v any) genai.Type {
	t, _ := v.(string)
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func required(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, x := range r {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
