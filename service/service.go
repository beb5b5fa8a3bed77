package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/logging"
	"github.com/hupe1980/turnstream/model"
	"github.com/hupe1980/turnstream/reducer"
	"github.com/hupe1980/turnstream/session"
	"github.com/hupe1980/turnstream/tool"
)

// BusyPolicy decides what happens when a turn is submitted for a session
// that already runs one.
type BusyPolicy string

const (
	// BusyReject fails the submission with core.ErrSessionBusy.
	BusyReject BusyPolicy = "reject"
	// BusyWait queues the submission until the running turn finished.
	BusyWait BusyPolicy = "wait"
)

// DefaultMaxToolRounds bounds how often the model is re-issued with tool
// results within one turn.
const DefaultMaxToolRounds = 10

// Publisher receives every committed (terminal) event.
type Publisher interface {
	Publish(ctx context.Context, ev core.Event) error
}

// Options configure a Service.
type Options struct {
	// Store holds sessions. Defaults to an in-memory store.
	Store core.SessionStore
	// Reducer applies terminal actions. Defaults to a reducer without delegates.
	Reducer *reducer.Reducer
	// Models maps model ids to providers.
	Models map[string]model.Model
	// DefaultModel is used when a turn names no model.
	DefaultModel string
	// SystemPrompt is used when a turn carries none.
	SystemPrompt string
	// ChunkTimeout bounds the wait for each model chunk.
	ChunkTimeout time.Duration
	// ToolTimeout bounds each tool execution.
	ToolTimeout time.Duration
	// MaxToolRounds bounds model re-issues per turn.
	MaxToolRounds int
	// BusyPolicy applies to concurrent turns on one session.
	BusyPolicy BusyPolicy
	// Publisher, if set, receives committed events.
	Publisher Publisher
	// ToolListeners observe every tool invocation of every turn.
	ToolListeners []tool.Listener
	// Logger for structured engine logs.
	Logger logging.Logger
}

// Service runs conversational turns against a session store. Public methods
// are safe for concurrent use.
type Service struct {
	store         core.SessionStore
	locks         *session.LockManager
	reducer       *reducer.Reducer
	invoker       *tool.Invoker
	defaultModel  string
	systemPrompt  string
	chunkTimeout  time.Duration
	maxToolRounds int
	busyPolicy    BusyPolicy
	publisher     Publisher
	logger        logging.Logger

	modelsMu sync.RWMutex
	models   map[string]model.Model

	turnsMu     sync.Mutex
	activeTurns map[string]*activeTurn
}

type activeTurn struct {
	sessionID string
	cancel    context.CancelCauseFunc
}

// errCancelled is the cause recorded when a turn is cancelled by id.
var errCancelled = errors.New("turn cancelled")

// New constructs a Service with optional overrides.
func New(optFns ...func(o *Options)) *Service {
	opts := Options{
		ChunkTimeout:  model.DefaultChunkTimeout,
		ToolTimeout:   tool.DefaultTimeout,
		MaxToolRounds: DefaultMaxToolRounds,
		BusyPolicy:    BusyReject,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Reducer == nil {
		opts.Reducer = reducer.New(func(o *reducer.Options) { o.Logger = opts.Logger })
	}

	models := make(map[string]model.Model, len(opts.Models))
	for id, m := range opts.Models {
		models[id] = m
	}

	return &Service{
		store:   opts.Store,
		locks:   session.NewLockManager(),
		reducer: opts.Reducer,
		invoker: tool.NewInvoker(func(o *tool.InvokerOptions) {
			o.Timeout = opts.ToolTimeout
			o.Logger = opts.Logger
			o.Listeners = opts.ToolListeners
		}),
		defaultModel:  opts.DefaultModel,
		systemPrompt:  opts.SystemPrompt,
		chunkTimeout:  opts.ChunkTimeout,
		maxToolRounds: opts.MaxToolRounds,
		busyPolicy:    opts.BusyPolicy,
		publisher:     opts.Publisher,
		logger:        opts.Logger,
		models:        models,
		activeTurns:   make(map[string]*activeTurn),
	}
}

// Store returns the session store the service commits to.
func (s *Service) Store() core.SessionStore { return s.store }

// RegisterModel adds or replaces a model under id.
func (s *Service) RegisterModel(id string, m model.Model) {
	s.modelsMu.Lock()
	defer s.modelsMu.Unlock()
	s.models[id] = m
}

// Models returns the registered model ids in sorted order.
func (s *Service) Models() []string {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()
	ids := make([]string, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Service) resolveModel(id string) (model.Model, error) {
	s.modelsMu.RLock()
	defer s.modelsMu.RUnlock()
	if id == "" {
		id = s.defaultModel
	}
	if id == "" && len(s.models) == 1 {
		for _, m := range s.models {
			return m, nil
		}
	}
	m, ok := s.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model %q", core.ErrInvalidInput, id)
	}
	return m, nil
}

// SubmitTurn validates the input, acquires the session and returns the
// stream of the turn. Pre-flight failures (invalid input, unknown model,
// busy session) are returned directly and produce no events. Once a stream
// is returned the turn commits exactly one terminal event to the session
// history, whether or not the consumer reads it.
func (s *Service) SubmitTurn(ctx context.Context, in TurnInput) (*TurnStream, error) {
	content, err := in.userContent()
	if err != nil {
		return nil, err
	}
	m, err := s.resolveModel(in.ModelID)
	if err != nil {
		return nil, err
	}

	sess := s.store.GetOrCreate(in.SessionID)
	unlock, err := s.acquire(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	turnID := core.NewID()
	runCtx, cancel := context.WithCancelCause(ctx)
	ts := newTurnStream(ctx, cancel, sess.ID, turnID)

	s.turnsMu.Lock()
	s.activeTurns[turnID] = &activeTurn{sessionID: sess.ID, cancel: cancel}
	s.turnsMu.Unlock()

	t := newTurn(s, ts, sess, content, m, in)
	go func() {
		defer cancel(nil)
		t.run(runCtx, func() {
			unlock()
			s.turnsMu.Lock()
			delete(s.activeTurns, turnID)
			s.turnsMu.Unlock()
		})
	}()
	return ts, nil
}

func (s *Service) acquire(ctx context.Context, sessionID string) (func(), error) {
	if s.busyPolicy == BusyWait {
		unlock, err := s.locks.Lock(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("wait for session %s: %w", sessionID, err)
		}
		return unlock, nil
	}
	unlock, ok := s.locks.TryLock(sessionID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrSessionBusy)
	}
	return unlock, nil
}

// Cancel aborts an in-flight turn. The turn still finalizes and delivers its
// terminal event, marked with the CANCELLED error code.
func (s *Service) Cancel(turnID string) error {
	s.turnsMu.Lock()
	at, ok := s.activeTurns[turnID]
	s.turnsMu.Unlock()
	if !ok {
		return fmt.Errorf("turn %s: %w", turnID, core.ErrTurnNotFound)
	}
	at.cancel(errCancelled)
	return nil
}

// ActiveTurns returns the ids of turns that have not finalized yet.
func (s *Service) ActiveTurns() []string {
	s.turnsMu.Lock()
	defer s.turnsMu.Unlock()
	ids := make([]string, 0, len(s.activeTurns))
	for id := range s.activeTurns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Busy reports whether a turn currently holds the session.
func (s *Service) Busy(sessionID string) bool { return s.locks.Held(sessionID) }
