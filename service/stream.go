package service

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/turnstream/core"
)

// errAbandoned is the cancellation cause of a turn whose stream was closed
// before the terminal event was delivered.
var errAbandoned = errors.New("turn stream abandoned")

// TurnStream is the pull-based view of one turn. The pipeline behind it only
// advances while the consumer is inside Next: every event is handed over
// unbuffered and the pipeline pauses until the next call.
//
// Usage:
//
//	ts, err := svc.SubmitTurn(ctx, input)
//	if err != nil { ... }
//	defer ts.Close()
//	for ts.Next() {
//	    ev := ts.Current()
//	    ...
//	}
//	if err := ts.Err(); err != nil { ... }
//
// A TurnStream is not safe for concurrent use. Close must be called when the
// consumer stops before Next reported false.
type TurnStream struct {
	sessionID string
	turnID    string

	parent context.Context
	cancel context.CancelCauseFunc

	step    chan struct{}
	events  chan core.Event
	done    chan struct{}
	abandon chan struct{}

	closeOnce sync.Once
	finished  bool
	current   core.Event

	// written by the pipeline before done is closed
	failure   error
	delivered bool
}

func newTurnStream(parent context.Context, cancel context.CancelCauseFunc, sessionID, turnID string) *TurnStream {
	return &TurnStream{
		sessionID: sessionID,
		turnID:    turnID,
		parent:    parent,
		cancel:    cancel,
		step:      make(chan struct{}),
		events:    make(chan core.Event),
		done:      make(chan struct{}),
		abandon:   make(chan struct{}),
	}
}

// SessionID returns the session the turn runs in.
func (s *TurnStream) SessionID() string { return s.sessionID }

// TurnID returns the id shared by all events of the turn.
func (s *TurnStream) TurnID() string { return s.turnID }

// Next advances to the next event. It returns false once the terminal event
// has been consumed or the stream was closed.
func (s *TurnStream) Next() bool {
	if s.finished {
		return false
	}
	select {
	case s.step <- struct{}{}:
	case <-s.done:
		s.finished = true
		return false
	}
	select {
	case ev := <-s.events:
		s.current = ev
		return true
	case <-s.done:
		s.finished = true
		return false
	}
}

// Current returns the event produced by the last successful Next.
func (s *TurnStream) Current() core.Event { return s.current }

// Err reports why the stream ended without delivering its terminal event.
// It is nil when the terminal event was consumed.
func (s *TurnStream) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	if s.delivered {
		return nil
	}
	if err := s.parent.Err(); err != nil {
		return err
	}
	return errAbandoned
}

// Failure returns the error that ended the turn early (model invocation
// failure, interruption, cancellation, tool loop limit). It is nil for a turn
// that completed normally and only meaningful after Next reported false.
func (s *TurnStream) Failure() error {
	select {
	case <-s.done:
		return s.failure
	default:
		return nil
	}
}

// Close abandons the turn: in-flight model and tool work is cancelled, the
// provider stream is released and the terminal event is still committed to
// the session history. Close waits for the pipeline to finish and is
// idempotent.
func (s *TurnStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.abandon)
		s.cancel(errAbandoned)
		<-s.done
		s.finished = true
	})
	return nil
}

// awaitPull blocks the pipeline until the consumer asks for an event.
func (s *TurnStream) awaitPull() error {
	select {
	case <-s.step:
		return nil
	case <-s.abandon:
		return errAbandoned
	case <-s.parent.Done():
		return s.parent.Err()
	}
}

// hand delivers ev to the consumer waiting in Next.
func (s *TurnStream) hand(ev core.Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.abandon:
		return errAbandoned
	case <-s.parent.Done():
		return s.parent.Err()
	}
}
