package reducer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/logging"
)

// Delegate handles an action kind whose side effects live outside the engine.
type Delegate interface {
	Handle(ctx context.Context, sessionID string, action core.EventAction) error
}

// DelegateFunc wraps a function as a Delegate.
type DelegateFunc func(ctx context.Context, sessionID string, action core.EventAction) error

// Handle implements Delegate.
func (f DelegateFunc) Handle(ctx context.Context, sessionID string, action core.EventAction) error {
	return f(ctx, sessionID, action)
}

// StateValidator inspects a state delta before it is merged. Returning an
// error rejects the whole delta.
type StateValidator func(changes map[string]any) error

// Options configure a Reducer.
type Options struct {
	Logger     logging.Logger
	Validators []StateValidator
}

// Reducer reduces event actions into session state. Registration and Apply
// are safe for concurrent use.
type Reducer struct {
	mu         sync.RWMutex
	delegates  map[core.ActionKind][]Delegate
	validators []StateValidator
	logger     logging.Logger
}

// New creates a Reducer without delegates.
func New(optFns ...func(o *Options)) *Reducer {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reducer{
		delegates:  make(map[core.ActionKind][]Delegate),
		validators: opts.Validators,
		logger:     opts.Logger,
	}
}

// Register adds a delegate for kind. Several delegates per kind run in
// registration order. StateDelta and FinalResponse are handled internally
// and cannot be delegated.
func (r *Reducer) Register(kind core.ActionKind, d Delegate) error {
	switch kind {
	case core.ActionStateDelta, core.ActionFinalResponse:
		return fmt.Errorf("%w: action %q is reduced internally", core.ErrInvalidInput, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegates[kind] = append(r.delegates[kind], d)
	return nil
}

// Apply reduces actions in order. Failures of one action never prevent the
// following ones from being reduced; all failures are returned joined.
func (r *Reducer) Apply(ctx context.Context, store core.SessionStore, sessionID string, actions []core.EventAction) error {
	var errs []error
	for _, action := range actions {
		switch a := action.(type) {
		case core.StateDelta:
			if err := r.mergeState(store, sessionID, a); err != nil {
				errs = append(errs, err)
			}
		case core.FinalResponse:
			// structural marker only
		case core.ArtifactDelta, core.RequestedAuthConfigs, core.TransferToAgent, core.Escalate:
			errs = append(errs, r.delegate(ctx, sessionID, a)...)
		case nil:
			r.logger.Warn("reducer.action.nil", "session_id", sessionID)
		default:
			r.logger.Warn("reducer.action.unknown", "session_id", sessionID, "kind", string(a.Kind()))
		}
	}
	return errors.Join(errs...)
}

func (r *Reducer) mergeState(store core.SessionStore, sessionID string, sd core.StateDelta) error {
	if len(sd.Changes) == 0 {
		return nil
	}
	for _, validate := range r.validators {
		if err := validate(sd.Changes); err != nil {
			r.logger.Warn("reducer.state.rejected", "session_id", sessionID, "error", err.Error())
			return fmt.Errorf("state delta rejected: %w", err)
		}
	}
	store.MergeState(sessionID, sd.Changes)
	r.logger.Debug("reducer.state.merged", "session_id", sessionID, "keys", len(sd.Changes))
	return nil
}

func (r *Reducer) delegate(ctx context.Context, sessionID string, action core.EventAction) []error {
	r.mu.RLock()
	delegates := append([]Delegate(nil), r.delegates[action.Kind()]...)
	r.mu.RUnlock()

	if len(delegates) == 0 {
		r.logger.Info("reducer.action.surfaced", "session_id", sessionID, "kind", string(action.Kind()))
		return nil
	}

	var errs []error
	for _, d := range delegates {
		if err := safeHandle(ctx, d, sessionID, action); err != nil {
			r.logger.Error("reducer.delegate.error", "session_id", sessionID, "kind", string(action.Kind()), "error", err.Error())
			errs = append(errs, fmt.Errorf("%s delegate: %w", action.Kind(), err))
		}
	}
	return errs
}

func safeHandle(ctx context.Context, d Delegate, sessionID string, action core.EventAction) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("delegate panic: %v", rec)
		}
	}()
	return d.Handle(ctx, sessionID, action)
}
