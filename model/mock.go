package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/turnstream/core"
)

// MockModel is a lightweight in‑memory Model useful for demos and the CLI
// when no provider credentials are configured.
type MockModel struct {
	info      Info
	mu        sync.RWMutex
	responses map[string]string
}

// NewMockModel constructs a MockModel with streaming enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{
			Name:      name,
			Provider:  "mock",
			Streaming: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Generate implements Model; emits word chunks then the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		last := req.Contents[len(req.Contents)-1]
		inputText := last.Text()

		m.mu.RLock()
		full := m.responses[inputText]
		m.mu.RUnlock()
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}

		if req.Stream {
			for _, word := range strings.SplitAfter(full, " ") {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{Role: core.RoleModel, Parts: []core.Part{core.TextPart{Text: word}}},
				}:
				}
			}
		}
		respCh <- Response{
			Content:      core.Content{Role: core.RoleModel, Parts: []core.Part{core.TextPart{Text: full}}},
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// Step scripts one model round of a ScriptedModel.
type Step struct {
	// Text fragments are emitted as partial responses when the request
	// streams; otherwise only their concatenation is sent in the final
	// response.
	Text []string
	// Calls are emitted in the final response.
	Calls []core.FunctionCallPart
	// PartialCalls are streamed one per partial response after Text, the way
	// providers report a tool_use block as soon as it is complete. Without
	// streaming they join the final response.
	PartialCalls []core.FunctionCallPart
	// After fragments are streamed once PartialCalls have been sent.
	After []string
	// Err is sent after the text fragments. With no fragments the call fails
	// before producing any output.
	Err error
	// Hang blocks after the text fragments until the call is cancelled.
	Hang bool
	// Delay is applied before every emitted response.
	Delay time.Duration
}

// ErrScriptExhausted is returned when a ScriptedModel runs out of steps.
var ErrScriptExhausted = errors.New("model script exhausted")

// ScriptedModel replays a fixed sequence of Steps, one per Generate call, and
// records every Request it receives.
type ScriptedModel struct {
	info Info

	mu       sync.Mutex
	steps    []Step
	requests []Request

	active atomic.Int32
}

// NewScriptedModel constructs a ScriptedModel.
func NewScriptedModel(name string, steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: name, Provider: "mock", SupportsTools: true, Streaming: true},
		steps: steps,
	}
}

// Requests returns copies of the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Active reports how many Generate calls are still running.
func (m *ScriptedModel) Active() int { return int(m.active.Load()) }

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step Step
	exhausted := len(m.steps) == 0
	if !exhausted {
		step = m.steps[0]
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	m.active.Add(1)
	go func() {
		defer m.active.Add(-1)
		defer close(respCh)
		defer close(errCh)

		if exhausted {
			errCh <- ErrScriptExhausted
			return
		}

		send := func(r Response) bool {
			if step.Delay > 0 {
				select {
				case <-ctx.Done():
					return false
				case <-time.After(step.Delay):
				}
			}
			select {
			case <-ctx.Done():
				return false
			case respCh <- r:
				return true
			}
		}

		if req.Stream {
			partials := make([]core.Part, 0, len(step.Text)+len(step.PartialCalls)+len(step.After))
			for _, frag := range step.Text {
				partials = append(partials, core.TextPart{Text: frag})
			}
			for _, c := range step.PartialCalls {
				partials = append(partials, c)
			}
			for _, frag := range step.After {
				partials = append(partials, core.TextPart{Text: frag})
			}
			for _, p := range partials {
				if !send(Response{
					Partial: true,
					Content: core.Content{Role: core.RoleModel, Parts: []core.Part{p}},
				}) {
					errCh <- ctx.Err()
					return
				}
			}
		}
		if step.Hang {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if step.Err != nil {
			errCh <- step.Err
			return
		}

		parts := make([]core.Part, 0, len(step.Calls)+len(step.PartialCalls)+1)
		if full := strings.Join(step.Text, "") + strings.Join(step.After, ""); full != "" {
			parts = append(parts, core.TextPart{Text: full})
		}
		finish := "stop"
		for _, c := range append(append([]core.FunctionCallPart(nil), step.PartialCalls...), step.Calls...) {
			parts = append(parts, c)
			finish = "tool_calls"
		}
		if !send(Response{
			Content:      core.Content{Role: core.RoleModel, Parts: parts},
			FinishReason: finish,
		}) {
			errCh <- ctx.Err()
		}
	}()
	return respCh, errCh
}
