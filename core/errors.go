package core

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is.
var (
	// ErrSessionBusy - another turn is in flight for the same session.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionNotFound - no session with the requested id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTurnNotFound - no in-flight turn with the requested id.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrTimeout - a bounded wait (model chunk or tool completion) expired.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidInput - malformed turn submission.
	ErrInvalidInput = errors.New("invalid input")

	// ErrToolLoopLimit - the model kept requesting tools beyond the round limit.
	ErrToolLoopLimit = errors.New("tool loop limit reached")
)

// Error codes carried by terminal error events.
const (
	ErrorCodeModelInvocation   = "MODEL_INVOCATION"
	ErrorCodeStreamInterrupted = "STREAM_INTERRUPTED"
	ErrorCodeToolLoopLimit     = "TOOL_LOOP_LIMIT"
	ErrorCodeCancelled         = "CANCELLED"
)

// ModelInvocationError reports a provider call that failed before producing
// any output.
type ModelInvocationError struct {
	Model string
	Cause error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed (%s): %v", e.Model, e.Cause)
}

func (e *ModelInvocationError) Unwrap() error { return e.Cause }

// StreamInterruptedError reports a provider stream that failed after at least
// one chunk was produced.
type StreamInterruptedError struct {
	Model string
	Cause error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("model stream interrupted (%s): %v", e.Model, e.Cause)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Cause }

// SerializationError reports a failure to encode or decode engine values at
// a transport boundary.
type SerializationError struct {
	Cause error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: %v", e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }
