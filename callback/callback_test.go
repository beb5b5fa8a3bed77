package callback

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/model"
	"github.com/hupe1980/turnstream/service"
	"github.com/hupe1980/turnstream/tool"
)

type countingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *countingLogger) Debug(string, ...any) {}
func (l *countingLogger) Info(string, ...any)  {}
func (l *countingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}
func (l *countingLogger) Error(msg string, args ...any) { l.Warn(msg, args...) }

func newAdapter(steps ...model.Step) (*Adapter, *service.Service, *countingLogger) {
	m := model.NewScriptedModel("scripted", steps...)
	svc := service.New(func(o *service.Options) {
		o.Models = map[string]model.Model{"scripted": m}
	})
	logger := &countingLogger{}
	return New(svc, func(o *Options) { o.Logger = logger }), svc, logger
}

func lookup(fn tool.HandlerFunc) tool.Tool {
	return tool.NewFunctionTool("lookup", "Look up a record", map[string]any{"type": "object"}, fn)
}

func describe(events []Event) []string {
	var out []string
	for _, ev := range events {
		switch ev.Type {
		case TypeEvent:
			kind := "partial"
			if !ev.Event.Partial {
				kind = "terminal"
			}
			out = append(out, "event:"+kind)
		case TypeToolsRegistered:
			out = append(out, string(ev.Type))
		default:
			out = append(out, string(ev.Type)+":"+ev.Tool.Name)
		}
	}
	return out
}

func TestAdapter_Run_PushesEventsInPipelineOrder(t *testing.T) {
	a, _, _ := newAdapter(
		model.Step{Calls: []core.FunctionCallPart{{ID: "c1", Name: "lookup", Args: map[string]any{"id": 42}}}},
		model.Step{Text: []string{"Found it"}},
	)
	okTool := lookup(func(*core.ToolContext, map[string]any) (any, error) {
		return map[string]any{"found": true}, nil
	})

	var got []Event
	err := a.Run(context.Background(), service.TurnInput{SessionID: "s1", Input: "find 42", Tools: []tool.Tool{okTool}}, func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"toolsRegistered",
		"event:partial",
		"toolStart:lookup",
		"toolComplete:lookup",
		"event:partial",
		"event:partial",
		"event:terminal",
	}, describe(got))

	assert.Equal(t, []string{"lookup"}, got[0].Tools)
	assert.Equal(t, map[string]any{"found": true}, got[3].Tool.Result)
	for _, ev := range got {
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, got[0].TurnID, ev.TurnID)
	}
	assert.Equal(t, "Found it", got[len(got)-1].Event.Content.Text())
}

func TestAdapter_Run_ToolError(t *testing.T) {
	a, _, _ := newAdapter(
		model.Step{Calls: []core.FunctionCallPart{{ID: "c1", Name: "lookup"}}},
		model.Step{Text: []string{"sorry"}},
	)
	failing := lookup(func(*core.ToolContext, map[string]any) (any, error) {
		return nil, errors.New("db unreachable")
	})

	var got []Event
	require.NoError(t, a.Run(context.Background(), service.TurnInput{Input: "x", Tools: []tool.Tool{failing}}, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))

	var notice *ToolNotice
	for _, ev := range got {
		if ev.Type == TypeToolError {
			notice = ev.Tool
		}
	}
	require.NotNil(t, notice)
	assert.Equal(t, "db unreachable", notice.Error)
	assert.Equal(t, tool.CodeExecution, notice.Code)
	assert.Equal(t, "c1", notice.CallID)
}

func TestAdapter_Run_IsolatesCallbackFailures(t *testing.T) {
	a, svc, logger := newAdapter(model.Step{Text: []string{"a", "b"}})

	calls := 0
	err := a.Run(context.Background(), service.TurnInput{SessionID: "s1", Input: "x"}, func(ev Event) error {
		calls++
		if calls%2 == 0 {
			panic("boom")
		}
		return errors.New("callback failed")
	})
	require.NoError(t, err)

	// toolsRegistered, two partials, terminal
	assert.Equal(t, 4, calls)
	assert.NotEmpty(t, logger.msgs)

	sess, err := svc.Store().Get("s1")
	require.NoError(t, err)
	require.Len(t, sess.Events(), 1)
	assert.Equal(t, "ab", sess.Events()[0].Content.Text())
}

func TestAdapter_Run_ModelFailureArrivesAsTerminalEvent(t *testing.T) {
	a, _, _ := newAdapter(model.Step{Err: errors.New("connection refused")})

	var got []Event
	require.NoError(t, a.Run(context.Background(), service.TurnInput{Input: "x"}, func(ev Event) error {
		got = append(got, ev)
		return nil
	}))

	require.Len(t, got, 2)
	assert.Equal(t, TypeToolsRegistered, got[0].Type)
	assert.Empty(t, got[0].Tools)
	assert.Equal(t, core.ErrorCodeModelInvocation, got[1].Event.ErrorCode)
}

func TestAdapter_Run_PreflightError(t *testing.T) {
	a, _, _ := newAdapter()

	called := false
	err := a.Run(context.Background(), service.TurnInput{}, func(Event) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.False(t, called)
}

func TestAdapter_Run_KeepsCallerListeners(t *testing.T) {
	a, _, _ := newAdapter(
		model.Step{Calls: []core.FunctionCallPart{{ID: "c1", Name: "lookup"}}},
		model.Step{Text: []string{"ok"}},
	)
	var started []string
	listener := tool.ListenerFuncs{Start: func(name, _ string, _ map[string]any) { started = append(started, name) }}
	okTool := lookup(func(*core.ToolContext, map[string]any) (any, error) { return "fine", nil })

	require.NoError(t, a.Run(context.Background(), service.TurnInput{
		Input:     "x",
		Tools:     []tool.Tool{okTool},
		Listeners: []tool.Listener{listener},
	}, nil))

	assert.Equal(t, []string{"lookup"}, started)
}
