package util

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// parsed caches system prompt templates by their source text. Prompts are
// configured once and rendered for every turn.
var parsed sync.Map // string -> *template.Template

var promptFuncs = template.FuncMap{
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}
		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	},
}

// RenderTemplate renders text as a text/template with the session state as
// data. Missing keys render as "<no value>" unless guarded with default.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := promptTemplate(text)
	if err != nil {
		return "", err
	}
	if state == nil {
		state = map[string]any{}
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, state); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

func promptTemplate(text string) (*template.Template, error) {
	if t, ok := parsed.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	actual, _ := parsed.LoadOrStore(text, t)
	return actual.(*template.Template), nil
}
