package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
)

func sseServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestModel_StreamingTextAndToolCall(t *testing.T) {
	srv := sseServer(t,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"q\":"}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`{"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
	})

	s, err := model.Open(context.Background(), m, model.Request{
		Stream:   true,
		Contents: []core.Content{*core.NewTextContent(core.RoleUser, "hi")},
	})
	require.NoError(t, err)
	defer s.Close()

	var text string
	var calls []core.FunctionCallPart
	var last model.Chunk
	for {
		c, ok := s.Next(context.Background())
		if !ok {
			break
		}
		text += c.Text
		calls = append(calls, c.FunctionCalls...)
		last = c
	}

	assert.Equal(t, "Hello", text)
	require.Len(t, calls, 1)
	assert.Equal(t, core.FunctionCallPart{ID: "call_1", Name: "lookup", Args: map[string]any{"q": "go"}}, calls[0])
	assert.True(t, last.Done)
	assert.Equal(t, "tool_calls", last.FinishReason)
}

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(model.Request{
		SystemPrompt: "be brief",
		Contents: []core.Content{
			*core.NewTextContent(core.RoleUser, "hi"),
			{Role: core.RoleModel, Parts: []core.Part{core.TextPart{Text: "checking"}, core.FunctionCallPart{ID: "c1", Name: "lookup"}}},
			{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{ID: "c1", Name: "lookup", Response: map[string]any{"ok": true}}}},
			{Role: core.RoleUser, Parts: []core.Part{core.InlineDataPart{Data: []byte("x"), MIMEType: "image/png"}}},
		},
	})

	require.Len(t, msgs, 5)
	require.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "{}", msgs[2].OfAssistant.ToolCalls[0].Function.Arguments)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	require.NotNil(t, msgs[4].OfUser)
	assert.Len(t, msgs[4].OfUser.Content.OfArrayOfContentParts, 1)
}
