package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/turnstream/core"
)

// DefaultChunkTimeout bounds the wait for each provider item.
const DefaultChunkTimeout = 60 * time.Second

// Chunk is one raw output step of a model round.
//
// A stream always ends with exactly one chunk with Done set. When the
// provider failed after producing output, that terminal chunk carries a
// *core.StreamInterruptedError in Err.
type Chunk struct {
	Role          core.Role
	Text          string
	FunctionCalls []core.FunctionCallPart
	Parts         []core.Part // non-text, non-call parts (code, data)
	Done          bool
	FinishReason  string
	Usage         *TokenUsage
	Err           error
}

// StreamOptions configure a ChunkStream.
type StreamOptions struct {
	// ChunkTimeout bounds the wait for each provider item. Zero disables it.
	ChunkTimeout time.Duration
}

// ChunkStream exposes one provider call as a lazy, finite and
// non-restartable sequence of chunks. It is not safe for concurrent use.
type ChunkStream struct {
	model   string
	respCh  <-chan Response
	errCh   <-chan error
	cancel  context.CancelFunc
	timeout time.Duration

	pending *Response
	emitted int
	done    bool

	streamedText  bool
	streamedCalls bool
	streamedParts bool
	finishReason  string
	usage         *TokenUsage

	closeOnce sync.Once
}

// Open starts a provider call and waits for its first item. A failure (or
// timeout) before any item is returned as *core.ModelInvocationError and no
// stream is created.
func Open(ctx context.Context, m Model, req Request, optFns ...func(o *StreamOptions)) (*ChunkStream, error) {
	opts := StreamOptions{ChunkTimeout: DefaultChunkTimeout}
	for _, fn := range optFns {
		fn(&opts)
	}

	name := req.Model
	if name == "" {
		name = m.Info().Name
	}

	pctx, cancel := context.WithCancel(ctx)
	respCh, errCh := m.Generate(pctx, req)
	s := &ChunkStream{
		model:   name,
		respCh:  respCh,
		errCh:   errCh,
		cancel:  cancel,
		timeout: opts.ChunkTimeout,
	}

	first, ok, err := s.receive(ctx)
	if err != nil {
		s.Close()
		return nil, &core.ModelInvocationError{Model: name, Cause: err}
	}
	if ok {
		s.pending = &first
	}
	return s, nil
}

// Model returns the model name the stream was opened for.
func (s *ChunkStream) Model() string { return s.model }

// Next returns the next chunk. After the terminal chunk it reports false.
func (s *ChunkStream) Next(ctx context.Context) (Chunk, bool) {
	if s.done {
		return Chunk{}, false
	}
	for {
		var resp Response
		if s.pending != nil {
			resp = *s.pending
			s.pending = nil
		} else {
			r, ok, err := s.receive(ctx)
			if err != nil {
				return s.finish(err), true
			}
			if !ok {
				return s.finish(nil), true
			}
			resp = r
		}
		if chunk, emit := s.convert(resp); emit {
			s.emitted++
			return chunk, true
		}
	}
}

// Close cancels the provider call and drains its channels so the provider
// goroutine and any network stream are released. It is idempotent.
func (s *ChunkStream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		s.cancel()
		respCh, errCh := s.respCh, s.errCh
		go func() {
			if respCh != nil {
				for range respCh { //nolint:revive // drain
				}
			}
			if errCh != nil {
				for range errCh { //nolint:revive // drain
				}
			}
		}()
	})
	return nil
}

func (s *ChunkStream) finish(err error) Chunk {
	chunk := Chunk{Role: core.RoleModel, Done: true, FinishReason: s.finishReason, Usage: s.usage}
	if err != nil {
		if s.emitted == 0 {
			chunk.Err = &core.ModelInvocationError{Model: s.model, Cause: err}
		} else {
			chunk.Err = &core.StreamInterruptedError{Model: s.model, Cause: err}
		}
		if chunk.FinishReason == "" {
			chunk.FinishReason = "error"
		}
	}
	s.Close()
	return chunk
}

// receive waits for the next provider item. Responses are drained before the
// error channel is consulted so a mid-stream error never overtakes output
// that was already produced. ok=false with a nil error means a clean end.
func (s *ChunkStream) receive(ctx context.Context) (Response, bool, error) {
	var timeout <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	if s.respCh != nil {
		select {
		case r, ok := <-s.respCh:
			if ok {
				return r, true, nil
			}
			s.respCh = nil
		case <-timeout:
			return Response{}, false, fmt.Errorf("waiting for model output after %s: %w", s.timeout, core.ErrTimeout)
		case <-ctx.Done():
			return Response{}, false, ctx.Err()
		}
	}

	if s.errCh == nil {
		return Response{}, false, nil
	}
	select {
	case err, ok := <-s.errCh:
		if !ok {
			s.errCh = nil
			return Response{}, false, nil
		}
		if err == nil {
			return Response{}, false, nil
		}
		return Response{}, false, err
	case <-timeout:
		return Response{}, false, fmt.Errorf("waiting for model completion after %s: %w", s.timeout, core.ErrTimeout)
	case <-ctx.Done():
		return Response{}, false, ctx.Err()
	}
}

// convert maps a provider response to a chunk. The final aggregated response
// only contributes what was not already streamed, which also turns the single
// response of a non-streaming provider into one content chunk.
func (s *ChunkStream) convert(resp Response) (Chunk, bool) {
	chunk := Chunk{Role: core.RoleModel}
	if resp.Content.Role != "" {
		chunk.Role = resp.Content.Role
	}

	var text string
	var calls []core.FunctionCallPart
	var parts []core.Part
	for _, p := range resp.Content.Parts {
		switch v := p.(type) {
		case core.TextPart:
			text += v.Text
		case core.FunctionCallPart:
			calls = append(calls, v)
		default:
			parts = append(parts, v)
		}
	}

	if resp.Partial {
		s.streamedText = s.streamedText || text != ""
		s.streamedCalls = s.streamedCalls || len(calls) > 0
		s.streamedParts = s.streamedParts || len(parts) > 0
		chunk.Text, chunk.FunctionCalls, chunk.Parts = text, calls, parts
	} else {
		if resp.FinishReason != "" {
			s.finishReason = resp.FinishReason
		}
		if resp.Usage != nil {
			s.usage = resp.Usage
		}
		if !s.streamedText {
			chunk.Text = text
		}
		if !s.streamedCalls {
			chunk.FunctionCalls = calls
		}
		if !s.streamedParts {
			chunk.Parts = parts
		}
	}

	emit := chunk.Text != "" || len(chunk.FunctionCalls) > 0 || len(chunk.Parts) > 0
	return chunk, emit
}

// IsTimeout reports whether err stems from a bounded wait expiring.
func IsTimeout(err error) bool { return errors.Is(err, core.ErrTimeout) }
