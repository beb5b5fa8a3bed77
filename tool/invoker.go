package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/logging"
)

// DefaultTimeout bounds a single tool execution.
const DefaultTimeout = 30 * time.Second

// Listener observes the lifecycle of tool invocations. Every invocation
// produces exactly one OnToolStart followed by exactly one of OnToolComplete
// or OnToolError. Callbacks run on the invoking goroutine.
type Listener interface {
	OnToolStart(name, callID string, args map[string]any)
	OnToolComplete(name, callID string, result any, dur time.Duration)
	OnToolError(name, callID string, err *ToolError, dur time.Duration)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Start    func(name, callID string, args map[string]any)
	Complete func(name, callID string, result any, dur time.Duration)
	Error    func(name, callID string, err *ToolError, dur time.Duration)
}

// OnToolStart implements Listener.
func (l ListenerFuncs) OnToolStart(name, callID string, args map[string]any) {
	if l.Start != nil {
		l.Start(name, callID, args)
	}
}

// OnToolComplete implements Listener.
func (l ListenerFuncs) OnToolComplete(name, callID string, result any, dur time.Duration) {
	if l.Complete != nil {
		l.Complete(name, callID, result, dur)
	}
}

// OnToolError implements Listener.
func (l ListenerFuncs) OnToolError(name, callID string, err *ToolError, dur time.Duration) {
	if l.Error != nil {
		l.Error(name, callID, err, dur)
	}
}

// InvokerOptions configure an Invoker.
type InvokerOptions struct {
	// Timeout bounds each execution. Zero disables the bound.
	Timeout   time.Duration
	Logger    logging.Logger
	Listeners []Listener
}

// Invoker executes model requested function calls.
type Invoker struct {
	timeout   time.Duration
	logger    logging.Logger
	listeners []Listener
}

// NewInvoker creates an Invoker.
func NewInvoker(optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		Timeout: DefaultTimeout,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Invoker{
		timeout:   opts.Timeout,
		logger:    opts.Logger,
		listeners: opts.Listeners,
	}
}

type outcome struct {
	result any
	err    error
}

// Invoke runs t for call. A nil t is reported as an unknown tool. The
// returned error, if any, is always a *ToolError. Per-call listeners are
// notified after the invoker's own listeners.
func (inv *Invoker) Invoke(tc *core.ToolContext, t Tool, call core.FunctionCallPart, extra ...Listener) (any, error) {
	listeners := append(append([]Listener(nil), inv.listeners...), extra...)
	log := logging.NewTurnLogger(inv.logger).WithSession(tc.SessionID(), tc.TurnID()).With("function_call_id", call.ID)

	inv.notify(listeners, func(l Listener) { l.OnToolStart(call.Name, call.ID, call.Args) })
	log.Debug("tool.call.start", "tool", call.Name)

	start := time.Now()
	result, err := inv.run(tc, t, call)
	dur := time.Since(start)
	log.LogToolCall(call.Name, dur, err)

	if err != nil {
		var te *ToolError
		if !errors.As(err, &te) {
			te = NewToolError(call.Name, CodeExecution, err)
		}
		inv.notify(listeners, func(l Listener) { l.OnToolError(call.Name, call.ID, te, dur) })
		return nil, te
	}
	inv.notify(listeners, func(l Listener) { l.OnToolComplete(call.Name, call.ID, result, dur) })
	return result, nil
}

func (inv *Invoker) run(tc *core.ToolContext, t Tool, call core.FunctionCallPart) (any, error) {
	if t == nil {
		return nil, NewToolError(call.Name, CodeNotFound, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name))
	}

	parent := tc.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := parent, context.CancelFunc(func() {})
	if inv.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, inv.timeout)
	}
	defer cancel()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				inv.logger.Error("tool.call.panic", "tool", call.Name, "recover", r, "stack", string(debug.Stack()))
				done <- outcome{err: NewToolError(call.Name, CodePanic, fmt.Errorf("panic: %v", r))}
			}
		}()
		res, err := t.Call(tc.WithContext(ctx), args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return nil, inv.timeoutError(call.Name)
		}
		return o.result, o.err
	case <-ctx.Done():
		if parent.Err() != nil {
			return nil, NewToolError(call.Name, CodeExecution, parent.Err())
		}
		return nil, inv.timeoutError(call.Name)
	}
}

func (inv *Invoker) timeoutError(name string) *ToolError {
	return NewToolError(name, CodeTimeout, fmt.Errorf("no result after %s: %w", inv.timeout, core.ErrTimeout))
}

// notify calls fn for every listener; a panicking listener is logged and
// does not affect the invocation or the remaining listeners.
func (inv *Invoker) notify(listeners []Listener, fn func(Listener)) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					inv.logger.Warn("tool.listener.panic", "recover", r)
				}
			}()
			fn(l)
		}()
	}
}
