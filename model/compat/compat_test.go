package compat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
)

func newServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestModel_SingleChunkCompletion(t *testing.T) {
	var seen map[string]any
	srv := newServer(t, http.StatusOK, `{
		"id": "cmpl-1",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
			"role": "assistant",
			"content": "Looking it up",
			"tool_calls": [{"id": "c1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}}]
		}}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
	}`, &seen)

	m := NewModel(func(o *Options) {
		o.BaseURL = srv.URL + "/v1/"
		o.APIKey = "test"
		o.Model = "llama3"
	})

	req := model.Request{
		Stream:       true,
		SystemPrompt: "be brief",
		Contents:     []core.Content{*core.NewTextContent(core.RoleUser, "search go")},
	}
	s, err := model.Open(context.Background(), m, req)
	require.NoError(t, err)
	defer s.Close()

	first, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "Looking it up", first.Text)
	require.Len(t, first.FunctionCalls, 1)
	assert.Equal(t, map[string]any{"q": "go"}, first.FunctionCalls[0].Args)

	last, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.True(t, last.Done)
	assert.Equal(t, "tool_calls", last.FinishReason)
	assert.Equal(t, 7, last.Usage.TotalTokens)

	assert.Equal(t, "llama3", seen["model"])
	msgs, _ := seen["messages"].([]any)
	assert.Len(t, msgs, 2)
}

func TestModel_ErrorBeforeFirstChunk(t *testing.T) {
	srv := newServer(t, http.StatusUnauthorized, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`, nil)

	m := NewModel(func(o *Options) {
		o.BaseURL = srv.URL
		o.APIKey = "test"
		o.Model = "llama3"
	})

	_, err := model.Open(context.Background(), m, model.Request{
		Contents: []core.Content{*core.NewTextContent(core.RoleUser, "hi")},
	})
	var mie *core.ModelInvocationError
	require.ErrorAs(t, err, &mie)
	assert.Contains(t, err.Error(), "bad key")
}

func TestBuildMessages_ToolRoundTrip(t *testing.T) {
	msgs := buildMessages(model.Request{Contents: []core.Content{
		*core.NewTextContent(core.RoleUser, "hi"),
		{Role: core.RoleModel, Parts: []core.Part{core.FunctionCallPart{ID: "c1", Name: "lookup"}}},
		{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{ID: "c1", Name: "lookup", Response: map[string]any{"ok": true}}}},
	}})

	require.Len(t, msgs, 3)
	assert.Equal(t, "{}", msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.JSONEq(t, `{"ok":true}`, msgs[2].Content)
}
