package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/bus"
	"github.com/hupe1980/turnstream/callback"
	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
	"github.com/hupe1980/turnstream/service"
	"github.com/hupe1980/turnstream/tool"
	"github.com/hupe1980/turnstream/transport/ndjson"
)

type testEnv struct {
	srv   *httptest.Server
	svc   *service.Service
	model *model.ScriptedModel
	bus   *bus.Bus
}

func setupTestServer(t *testing.T, steps ...model.Step) *testEnv {
	t.Helper()
	m := model.NewScriptedModel("scripted", steps...)
	b := bus.New()
	svc := service.New(func(o *service.Options) {
		o.Models = map[string]model.Model{"scripted": m}
		o.Publisher = b
	})
	lookup := tool.NewFunctionTool("lookup", "Look up a record", map[string]any{"type": "object"},
		func(*core.ToolContext, map[string]any) (any, error) {
			return map[string]any{"found": true}, nil
		})

	s := New(DefaultConfig(), svc, func(o *Options) {
		o.Tools = []tool.Tool{lookup}
		o.Bus = b
	})
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		_ = b.Close()
	})
	return &testEnv{srv: ts, svc: svc, model: m, bus: b}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorDetail {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"scripted"}, body["models"])
	assert.Equal(t, []any{"lookup"}, body["tools"])
}

func TestSubmitTurn_StreamsNDJSON(t *testing.T) {
	env := setupTestServer(t, model.Step{Text: []string{"Hi", " there"}})

	resp := env.post(t, "/sessions/s1/turns", TurnRequest{Input: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "s1", resp.Header.Get(headerSessionID))
	assert.NotEmpty(t, resp.Header.Get(headerTurnID))

	events, err := ndjson.ReadEvents(resp.Body)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.NoError(t, core.ValidateTurn(events))
	assert.Equal(t, "Hi there", events[2].Content.Text())
	assert.Equal(t, resp.Header.Get(headerTurnID), events[2].TurnID)

	snap := env.do(t, http.MethodGet, "/sessions/s1")
	require.Equal(t, http.StatusOK, snap.StatusCode)
	var snapshot core.Snapshot
	require.NoError(t, json.NewDecoder(snap.Body).Decode(&snapshot))
	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, "hello", snapshot.Events[0].Input.Text())
}

func TestSubmitTurn_ToolsResolvedFromCatalog(t *testing.T) {
	env := setupTestServer(t,
		model.Step{Calls: []core.FunctionCallPart{{ID: "c1", Name: "lookup"}}},
		model.Step{Text: []string{"found"}},
	)

	resp := env.post(t, "/sessions/turns", TurnRequest{Input: "find", Tools: []string{"lookup"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events, err := ndjson.ReadEvents(resp.Body)
	require.NoError(t, err)
	require.NoError(t, core.ValidateTurn(events))
	assert.Equal(t, map[string]any{"found": true}, events[1].FunctionResponses()[0].Response)
	assert.Equal(t, "lookup", env.model.Requests()[0].Tools[0].Function.Name)
}

func TestSubmitTurn_Notifications(t *testing.T) {
	env := setupTestServer(t,
		model.Step{Calls: []core.FunctionCallPart{{ID: "c1", Name: "lookup"}}},
		model.Step{Text: []string{"found"}},
	)

	resp := env.post(t, "/sessions/turns?notifications=true", TurnRequest{Input: "find", Tools: []string{"lookup"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dec := ndjson.NewDecoder(resp.Body)
	var types []callback.Type
	for {
		var ev callback.Event
		if err := dec.Decode(&ev); err != nil {
			break
		}
		types = append(types, ev.Type)
	}
	assert.Equal(t, []callback.Type{
		callback.TypeToolsRegistered,
		callback.TypeEvent,
		callback.TypeToolStart,
		callback.TypeToolComplete,
		callback.TypeEvent,
		callback.TypeEvent,
		callback.TypeEvent,
	}, types)
}

func TestSubmitTurn_BadRequests(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{name: "empty input", body: TurnRequest{}},
		{name: "unknown tool", body: TurnRequest{Input: "x", Tools: []string{"nope"}}},
		{name: "unknown model", body: TurnRequest{Input: "x", ModelID: "nope"}},
		{name: "bad data uri", body: TurnRequest{Input: "x", FileDataURI: "file:///etc/passwd"}},
		{name: "not json", body: "just a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/sessions/turns", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, ErrCodeInvalidRequest, decodeError(t, resp).Code)
		})
	}
	assert.Empty(t, env.model.Requests())
}

func TestSubmitTurn_BusyThenCancel(t *testing.T) {
	env := setupTestServer(t, model.Step{Text: []string{"working"}, Hang: true})

	first := env.post(t, "/sessions/s1/turns", TurnRequest{Input: "one"})
	require.Equal(t, http.StatusOK, first.StatusCode)
	dec := ndjson.NewDecoder(first.Body)
	var partial core.Event
	require.NoError(t, dec.Decode(&partial))
	assert.True(t, partial.Partial)

	second := env.post(t, "/sessions/s1/turns", TurnRequest{Input: "two"})
	assert.Equal(t, http.StatusConflict, second.StatusCode)
	assert.Equal(t, ErrCodeSessionBusy, decodeError(t, second).Code)

	del := env.do(t, http.MethodDelete, "/sessions/s1")
	assert.Equal(t, http.StatusConflict, del.StatusCode)

	cancel := env.do(t, http.MethodPost, "/turns/"+first.Header.Get(headerTurnID)+"/cancel")
	require.Equal(t, http.StatusAccepted, cancel.StatusCode)

	var terminal core.Event
	require.NoError(t, dec.Decode(&terminal))
	assert.True(t, terminal.TurnComplete)
	assert.Equal(t, core.ErrorCodeCancelled, terminal.ErrorCode)
	assert.Equal(t, "working", terminal.Content.Text())

	unknown := env.do(t, http.MethodPost, "/turns/nope/cancel")
	assert.Equal(t, http.StatusNotFound, unknown.StatusCode)
}

func TestSessions_GetListDelete(t *testing.T) {
	env := setupTestServer(t, model.Step{Text: []string{"hi"}})

	missing := env.do(t, http.MethodGet, "/sessions/nope")
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	turn := env.post(t, "/sessions/s1/turns", TurnRequest{Input: "hello"})
	_, err := ndjson.ReadEvents(turn.Body)
	require.NoError(t, err)

	list := env.do(t, http.MethodGet, "/sessions")
	var body struct {
		Sessions []string `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&body))
	assert.Equal(t, []string{"s1"}, body.Sessions)

	del := env.do(t, http.MethodDelete, "/sessions/s1")
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	gone := env.do(t, http.MethodGet, "/sessions/s1")
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestSessionEvents_StreamsCommittedEvents(t *testing.T) {
	env := setupTestServer(t, model.Step{Text: []string{"a", "b"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/sessions/s1/events", nil)
	require.NoError(t, err)
	sub, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer sub.Body.Close()
	require.Equal(t, http.StatusOK, sub.StatusCode)

	turn := env.post(t, "/sessions/s1/turns", TurnRequest{Input: "hello"})
	_, err = ndjson.ReadEvents(turn.Body)
	require.NoError(t, err)

	got := make(chan core.Event, 1)
	go func() {
		var ev core.Event
		if err := ndjson.NewDecoder(sub.Body).Decode(&ev); err == nil {
			got <- ev
		}
	}()

	select {
	case ev := <-got:
		assert.False(t, ev.Partial, "only committed events are published")
		assert.Equal(t, "ab", ev.Content.Text())
	case <-time.After(2 * time.Second):
		t.Fatal("no committed event received")
	}
}

func TestSessionEvents_WithoutBus(t *testing.T) {
	svc := service.New()
	rec := httptest.NewRecorder()
	New(nil, svc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/s1/events", nil))

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), ErrCodeNotImplemented))
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{core.ErrSessionBusy, http.StatusConflict},
		{core.ErrInvalidInput, http.StatusBadRequest},
		{core.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrTurnNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeServiceError(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
	}
}
