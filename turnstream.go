// Package turnstream provides a high-level façade over the session service:
// it runs conversational turns against pluggable models, executes the tools
// the model asks for and commits exactly one terminal event per turn to the
// session history. Most applications interact with this package by:
//  1. Creating an Engine via New() (optionally overriding the in‑memory store)
//  2. Registering one or more models
//  3. Submitting turns as a pull stream (Submit), with a push callback (Run)
//     or synchronously (SubmitSync)
//
// The façade delegates orchestration to service.Service. All defaults are
// safe for local development and testing.
package turnstream

import (
	"context"

	"github.com/hupe1980/turnstream/callback"
	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/logging"
	"github.com/hupe1980/turnstream/model"
	"github.com/hupe1980/turnstream/service"
)

// Options configures the Engine. It is the service configuration; see
// service.Options for the individual fields.
type Options = service.Options

// TurnInput describes one turn submission.
type TurnInput = service.TurnInput

// Engine is the high-level façade aggregating the service and the callback
// adapter.
type Engine struct {
	svc     *service.Service
	adapter *callback.Adapter
}

// New creates a new Engine with optional overrides. Without models, a mock
// model is registered under "mock" so the engine works out of the box.
func New(optFns ...func(o *Options)) *Engine {
	var logger logging.Logger = logging.NoOpLogger{}
	fns := make([]func(o *Options), 0, len(optFns)+1)
	fns = append(fns, optFns...)
	fns = append(fns, func(o *Options) {
		if len(o.Models) == 0 {
			o.Models = map[string]model.Model{"mock": model.NewMockModel("mock")}
			if o.DefaultModel == "" {
				o.DefaultModel = "mock"
			}
		}
		if o.Logger != nil {
			logger = o.Logger
		}
	})

	svc := service.New(fns...)
	return &Engine{
		svc:     svc,
		adapter: callback.New(svc, func(o *callback.Options) { o.Logger = logger }),
	}
}

// Service exposes the underlying service for advanced use (cancellation,
// session store access).
func (e *Engine) Service() *service.Service { return e.svc }

// RegisterModel adds or replaces a model under id.
func (e *Engine) RegisterModel(id string, m model.Model) { e.svc.RegisterModel(id, m) }

// Submit starts a turn and returns its pull stream. The caller must Close it.
func (e *Engine) Submit(ctx context.Context, in TurnInput) (*service.TurnStream, error) {
	return e.svc.SubmitTurn(ctx, in)
}

// Run submits in and pushes every event, including tool notifications, to
// onEvent.
func (e *Engine) Run(ctx context.Context, in TurnInput, onEvent callback.OnEvent) error {
	return e.adapter.Run(ctx, in, onEvent)
}

// SubmitSync is a synchronous helper that drains the stream and returns all
// events of the turn with its terminal event last.
func (e *Engine) SubmitSync(ctx context.Context, in TurnInput) ([]core.Event, error) {
	ts, err := e.svc.SubmitTurn(ctx, in)
	if err != nil {
		return nil, err
	}
	defer ts.Close()

	var events []core.Event
	for ts.Next() {
		events = append(events, ts.Current())
	}
	return events, ts.Err()
}
