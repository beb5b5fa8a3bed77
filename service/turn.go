package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/internal/util"
	"github.com/hupe1980/turnstream/logging"
	"github.com/hupe1980/turnstream/model"
	"github.com/hupe1980/turnstream/tool"
)

// TurnState names the phases of a turn:
//
//	Idle -> Streaming -> {ToolPending -> Streaming}* -> Finalizing -> Idle
//
// Any phase may jump to Finalizing when the turn fails or is cancelled.
type TurnState int

// Turn phases.
const (
	StateIdle TurnState = iota
	StateStreaming
	StateToolPending
	StateFinalizing
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateToolPending:
		return "tool_pending"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal successors of each state.
var transitions = map[TurnState][]TurnState{
	StateIdle:        {StateStreaming, StateFinalizing},
	StateStreaming:   {StateToolPending, StateFinalizing},
	StateToolPending: {StateStreaming, StateFinalizing},
	StateFinalizing:  {StateIdle},
}

const (
	authorModel = string(core.RoleModel)
	authorTool  = string(core.RoleTool)
)

// turn is the pipeline of one submitted turn. It runs on a single goroutine;
// model streaming and tool execution interleave on it.
type turn struct {
	svc       *Service
	ts        *TurnStream
	sess      *core.Session
	input     *core.Content
	model     model.Model
	modelName string
	prompt    string
	temp      *float64
	tools     tool.Set
	listeners []tool.Listener
	log       *logging.TurnLogger

	state    TurnState
	detached bool

	contents []core.Content
	text     strings.Builder
	parts    []core.Part
	delta    map[string]any
	actions  core.Actions
	rounds   int
}

func newTurn(svc *Service, ts *TurnStream, sess *core.Session, input *core.Content, m model.Model, in TurnInput) *turn {
	prompt := in.SystemPrompt
	if prompt == "" {
		prompt = svc.systemPrompt
	}
	name := m.Info().Name
	contents := append(sess.Conversation(), *input)
	return &turn{
		svc:       svc,
		ts:        ts,
		sess:      sess,
		input:     input,
		model:     m,
		modelName: name,
		prompt:    prompt,
		temp:      in.Temperature,
		tools:     tool.NewSet(in.Tools...),
		listeners: in.Listeners,
		log:       logging.NewTurnLogger(svc.logger).WithSession(sess.ID, ts.turnID).With("model", name),
		state:     StateIdle,
		contents:  contents,
		delta:     map[string]any{},
	}
}

// run drives the turn to its terminal event. release is called once the
// terminal event is committed and before it is handed to the consumer, so a
// consumer may submit its next turn as soon as it sees the terminal event.
func (t *turn) run(ctx context.Context, release func()) {
	defer close(t.ts.done)

	t.log.Info("turn.start", "tools", len(t.tools))
	start := time.Now()

	var err error
	if perr := t.ts.awaitPull(); perr != nil {
		t.detached = true
		err = perr
	} else {
		err = t.loop(ctx)
	}
	t.finalize(ctx, err, release)

	t.log.Info("turn.complete", "rounds", t.rounds, "duration_ms", time.Since(start).Milliseconds(), "delivered", t.ts.delivered)
}

func (t *turn) setState(to TurnState) {
	from := t.state
	legal := false
	for _, next := range transitions[from] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		t.log.Error("turn.state.illegal", "from", from.String(), "to", to.String())
	}
	t.state = to
	t.log.Debug("turn.state", "from", from.String(), "to", to.String())
}

func (t *turn) loop(ctx context.Context) error {
	t.setState(StateStreaming)
	system := t.systemPrompt()
	for {
		calls, err := t.streamRound(ctx, system)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return nil
		}
		if t.rounds >= t.svc.maxToolRounds {
			return fmt.Errorf("%w: %d tool rounds", core.ErrToolLoopLimit, t.rounds)
		}
		t.rounds++

		t.setState(StateToolPending)
		if err := t.invokeTools(ctx, calls); err != nil {
			return err
		}
		t.setState(StateStreaming)
	}
}

func (t *turn) systemPrompt() string {
	if t.prompt == "" {
		return ""
	}
	rendered, err := util.RenderTemplate(t.prompt, t.sess.State())
	if err != nil {
		t.log.Warn("turn.system_prompt.render_failed", "error", err.Error())
		return t.prompt
	}
	return rendered
}

// streamRound runs one model call and relays its output as partial events.
// The round ends at the first chunk that carries function calls: the provider
// stream is closed and the calls are returned so the tools run before any
// further model output is requested.
func (t *turn) streamRound(ctx context.Context, system string) ([]core.FunctionCallPart, error) {
	req := model.Request{
		SystemPrompt: system,
		Contents:     append([]core.Content(nil), t.contents...),
		Tools:        t.tools.Definitions(),
		Temperature:  t.temp,
		Stream:       true,
	}

	start := time.Now()
	cs, err := model.Open(ctx, t.model, req, func(o *model.StreamOptions) { o.ChunkTimeout = t.svc.chunkTimeout })
	if err != nil {
		t.log.LogModelCall(t.modelName, 0, time.Since(start), err)
		return nil, err
	}
	defer cs.Close()

	var (
		text   strings.Builder
		output []core.Part
		calls  []core.FunctionCallPart
		chunks int
	)
	for {
		chunk, ok := cs.Next(ctx)
		if !ok {
			break
		}
		if chunk.Done {
			err = chunk.Err
			break
		}
		chunks++
		if err = t.relay(chunk, &text, &output, &calls); err != nil {
			break
		}
		if len(calls) > 0 {
			_ = cs.Close()
			break
		}
	}
	t.log.LogModelCall(cs.Model(), chunks, time.Since(start), err)

	modelContent := core.Content{Role: core.RoleModel}
	if text.Len() > 0 {
		modelContent.Parts = append(modelContent.Parts, core.TextPart{Text: text.String()})
	}
	modelContent.Parts = append(modelContent.Parts, output...)
	for _, c := range calls {
		modelContent.Parts = append(modelContent.Parts, c)
	}
	if len(modelContent.Parts) > 0 {
		t.contents = append(t.contents, modelContent)
	}

	if err != nil {
		return nil, err
	}
	return calls, nil
}

// relay emits the content of one chunk as partial events, text first.
func (t *turn) relay(chunk model.Chunk, text *strings.Builder, output *[]core.Part, calls *[]core.FunctionCallPart) error {
	if chunk.Text != "" {
		text.WriteString(chunk.Text)
		t.text.WriteString(chunk.Text)
		if err := t.emit(authorModel, core.RoleModel, core.TextPart{Text: chunk.Text}); err != nil {
			return err
		}
	}
	for _, p := range chunk.Parts {
		*output = append(*output, p)
		t.parts = append(t.parts, p)
		if err := t.emit(authorModel, core.RoleModel, p); err != nil {
			return err
		}
	}
	for _, c := range chunk.FunctionCalls {
		if c.ID == "" {
			c.ID = "call_" + core.NewID()
		}
		if c.Args == nil {
			c.Args = map[string]any{}
		}
		*calls = append(*calls, c)
		if err := t.emit(authorModel, core.RoleModel, c); err != nil {
			return err
		}
	}
	return nil
}

// invokeTools runs the calls of one round sequentially in the order the
// model emitted them and appends all responses to the model context.
func (t *turn) invokeTools(ctx context.Context, calls []core.FunctionCallPart) error {
	responses := make([]core.Part, 0, len(calls))
	for _, call := range calls {
		tc := core.NewToolContext(ctx, t.sess.ID, t.ts.turnID, call.ID, t.stateView(), t.log)
		result, err := t.svc.invoker.Invoke(tc, t.tools[call.Name], call, t.listeners...)

		maps.Copy(t.delta, tc.StateDelta())
		t.actions = append(t.actions, tc.Actions()...)

		resp := functionResponse(call, result, err)
		t.delta["tool:"+call.Name] = resp.Response
		responses = append(responses, resp)

		if err := t.emit(authorTool, core.RoleTool, resp); err != nil {
			return err
		}
	}
	t.contents = append(t.contents, core.Content{Role: core.RoleTool, Parts: responses})
	return nil
}

// stateView is the session state as tools of this turn observe it.
func (t *turn) stateView() map[string]any {
	state := t.sess.State()
	maps.Copy(state, t.delta)
	return state
}

func functionResponse(call core.FunctionCallPart, result any, err error) core.FunctionResponsePart {
	resp := core.FunctionResponsePart{ID: call.ID, Name: call.Name}
	if err != nil {
		msg := err.Error()
		payload := map[string]any{}
		var te *tool.ToolError
		if errors.As(err, &te) {
			if te.Cause != nil {
				msg = te.Cause.Error()
			}
			if te.Code != "" {
				payload["code"] = te.Code
			}
		}
		payload["error"] = msg
		resp.Response = payload
		return resp
	}
	switch v := result.(type) {
	case map[string]any:
		resp.Response = v
	case nil:
		resp.Response = map[string]any{}
	default:
		resp.Response = map[string]any{"result": v}
	}
	return resp
}

// emit hands one partial event to the consumer and waits for the next pull.
func (t *turn) emit(author string, role core.Role, part core.Part) error {
	if t.detached {
		return errAbandoned
	}
	ev := core.NewPartialEvent(t.ts.turnID, author, &core.Content{Role: role, Parts: []core.Part{part}})
	ev.SessionID = t.sess.ID
	if err := t.ts.hand(ev); err != nil {
		t.detached = true
		return err
	}
	if err := t.ts.awaitPull(); err != nil {
		t.detached = true
		return err
	}
	return nil
}

// finalize builds, reduces, commits and delivers the terminal event.
func (t *turn) finalize(ctx context.Context, loopErr error, release func()) {
	t.setState(StateFinalizing)

	code, failure := classify(ctx, loopErr)
	ev := core.NewTerminalEvent(t.ts.turnID, authorModel, t.finalContent(code, failure), t.delta, t.actions...)
	ev.SessionID = t.sess.ID
	ev.Input = t.input
	if failure != nil {
		ev.ErrorCode = code
		ev.ErrorMessage = failure.Error()
		t.log.Warn("turn.failed", "code", code, "error", failure.Error())
	}

	commitCtx := context.WithoutCancel(ctx)
	if err := t.svc.reducer.Apply(commitCtx, t.svc.store, t.sess.ID, ev.Actions); err != nil {
		t.log.Error("turn.reduce.error", "error", err.Error())
	}
	t.svc.store.AppendToHistory(t.sess.ID, ev)
	if t.svc.publisher != nil {
		if err := t.svc.publisher.Publish(commitCtx, ev); err != nil {
			t.log.Warn("turn.publish.error", "error", err.Error())
		}
	}

	t.ts.failure = failure
	release()
	t.setState(StateIdle)

	if !t.detached {
		if err := t.ts.hand(ev); err == nil {
			t.ts.delivered = true
		}
	}
}

// classify maps the reason a turn ended to an error code. A nil failure
// means the turn completed normally.
func classify(ctx context.Context, err error) (string, error) {
	if err == nil {
		return "", nil
	}
	if ctx.Err() != nil {
		return core.ErrorCodeCancelled, context.Cause(ctx)
	}
	if errors.Is(err, errAbandoned) || errors.Is(err, errCancelled) {
		return core.ErrorCodeCancelled, err
	}
	var (
		invocation  *core.ModelInvocationError
		interrupted *core.StreamInterruptedError
	)
	switch {
	case errors.As(err, &interrupted):
		return core.ErrorCodeStreamInterrupted, err
	case errors.As(err, &invocation):
		return core.ErrorCodeModelInvocation, err
	case errors.Is(err, core.ErrToolLoopLimit):
		return core.ErrorCodeToolLoopLimit, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return core.ErrorCodeCancelled, err
	}
	return core.ErrorCodeModelInvocation, err
}

func (t *turn) finalContent(code string, failure error) *core.Content {
	text := t.text.String()
	if code == core.ErrorCodeStreamInterrupted {
		if text != "" {
			text += "\n\n"
		}
		text += fmt.Sprintf("[response interrupted: %v]", failure)
	}
	content := &core.Content{Role: core.RoleModel}
	if text != "" {
		content.Parts = append(content.Parts, core.TextPart{Text: text})
	}
	content.Parts = append(content.Parts, t.parts...)
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}
