package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/core"
)

func streamRequest() Request {
	return Request{
		Stream:   true,
		Contents: []core.Content{*core.NewTextContent(core.RoleUser, "Hi")},
	}
}

func drain(t *testing.T, s *ChunkStream) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		c, ok := s.Next(context.Background())
		if !ok {
			return chunks
		}
		chunks = append(chunks, c)
		require.Less(t, len(chunks), 100, "stream did not terminate")
	}
}

func TestChunkStream_StreamsTextThenTerminal(t *testing.T) {
	m := NewScriptedModel("scripted", Step{Text: []string{"Hel", "lo"}})

	s, err := Open(context.Background(), m, streamRequest())
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Text)
	assert.Equal(t, "lo", chunks[1].Text)
	assert.True(t, chunks[2].Done)
	assert.NoError(t, chunks[2].Err)
	assert.Equal(t, "stop", chunks[2].FinishReason)

	_, ok := s.Next(context.Background())
	assert.False(t, ok, "stream must not restart")
}

func TestChunkStream_FunctionCallsFromFinalResponse(t *testing.T) {
	call := core.FunctionCallPart{ID: "c1", Name: "lookup", Args: map[string]any{"q": "x"}}
	m := NewScriptedModel("scripted", Step{Text: []string{"Checking"}, Calls: []core.FunctionCallPart{call}})

	s, err := Open(context.Background(), m, streamRequest())
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 3)
	assert.Equal(t, "Checking", chunks[0].Text)
	assert.Empty(t, chunks[1].Text, "streamed text must not be repeated")
	assert.Equal(t, []core.FunctionCallPart{call}, chunks[1].FunctionCalls)
	assert.Equal(t, "tool_calls", chunks[2].FinishReason)
}

func TestChunkStream_StreamedFunctionCalls(t *testing.T) {
	call := core.FunctionCallPart{ID: "c1", Name: "lookup", Args: map[string]any{"q": "x"}}
	m := NewScriptedModel("scripted", Step{Text: []string{"Checking"}, PartialCalls: []core.FunctionCallPart{call}, After: []string{"more"}})

	s, err := Open(context.Background(), m, streamRequest())
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 4)
	assert.Equal(t, "Checking", chunks[0].Text)
	assert.Equal(t, []core.FunctionCallPart{call}, chunks[1].FunctionCalls)
	assert.Empty(t, chunks[1].Text)
	assert.Equal(t, "more", chunks[2].Text)
	assert.Empty(t, chunks[2].FunctionCalls)
	assert.True(t, chunks[3].Done)
	assert.Equal(t, "tool_calls", chunks[3].FinishReason)
}

func TestChunkStream_NonStreamingDegradesToSingleChunk(t *testing.T) {
	m := NewScriptedModel("scripted", Step{Text: []string{"Hel", "lo"}})
	req := streamRequest()
	req.Stream = false

	s, err := Open(context.Background(), m, req)
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Hello", chunks[0].Text)
	assert.True(t, chunks[1].Done)
}

func TestOpen_FailureBeforeFirstChunk(t *testing.T) {
	m := NewScriptedModel("scripted", Step{Err: errors.New("401 unauthorized")})

	s, err := Open(context.Background(), m, streamRequest())
	require.Error(t, err)
	assert.Nil(t, s)

	var mie *core.ModelInvocationError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, "scripted", mie.Model)
	assert.Contains(t, err.Error(), "401 unauthorized")
}

func TestChunkStream_MidStreamFailureYieldsTerminalError(t *testing.T) {
	m := NewScriptedModel("scripted", Step{Text: []string{"Par", "tial"}, Err: errors.New("connection reset")})

	s, err := Open(context.Background(), m, streamRequest())
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 3)
	last := chunks[2]
	assert.True(t, last.Done)

	var sie *core.StreamInterruptedError
	require.ErrorAs(t, last.Err, &sie)
	assert.Contains(t, sie.Error(), "connection reset")
	assert.Equal(t, "error", last.FinishReason)
}

func TestOpen_TimeoutBeforeFirstChunk(t *testing.T) {
	m := NewScriptedModel("scripted", Step{Hang: true})

	_, err := Open(context.Background(), m, streamRequest(), func(o *StreamOptions) {
		o.ChunkTimeout = 20 * time.Millisecond
	})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var mie *core.ModelInvocationError
	assert.ErrorAs(t, err, &mie)
	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestChunkStream_TimeoutAfterFirstChunk(t *testing.T) {
	m := NewScriptedModel("scripted", Step{Text: []string{"slow"}, Hang: true})

	s, err := Open(context.Background(), m, streamRequest(), func(o *StreamOptions) {
		o.ChunkTimeout = 20 * time.Millisecond
	})
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 2)
	var sie *core.StreamInterruptedError
	require.ErrorAs(t, chunks[1].Err, &sie)
	assert.True(t, IsTimeout(chunks[1].Err))
}

func TestChunkStream_CloseReleasesProvider(t *testing.T) {
	m := NewScriptedModel("scripted", Step{Text: []string{"a", "b", "c"}, Hang: true})

	s, err := Open(context.Background(), m, streamRequest())
	require.NoError(t, err)

	c, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", c.Text)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, ok = s.Next(context.Background())
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return m.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestChunkStream_EmptyCompletionOnlyTerminal(t *testing.T) {
	m := NewScriptedModel("scripted", Step{})

	s, err := Open(context.Background(), m, streamRequest())
	require.NoError(t, err)

	chunks := drain(t, s)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Done)
	assert.NoError(t, chunks[0].Err)
}

func TestScriptedModel_ExhaustedAndRecordsRequests(t *testing.T) {
	m := NewScriptedModel("scripted")

	_, err := Open(context.Background(), m, streamRequest())
	require.ErrorIs(t, err, ErrScriptExhausted)
	require.Len(t, m.Requests(), 1)
	assert.Equal(t, "Hi", m.Requests()[0].Contents[0].Text())
}

func TestMockModel_CannedResponse(t *testing.T) {
	m := NewMockModel("mock")
	m.AddResponse("Hi", "Hello there")

	s, err := Open(context.Background(), m, streamRequest())
	require.NoError(t, err)

	var text string
	for _, c := range drain(t, s) {
		text += c.Text
	}
	assert.Equal(t, "Hello there", text)
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, map[string]any{"q": "x"}, ParseArgs(`{"q":"x"}`))
	assert.Equal(t, map[string]any{}, ParseArgs(""))
	assert.Equal(t, map[string]any{"_raw": "not json"}, ParseArgs("not json"))
	assert.Equal(t, "{}", EncodeArgs(nil))
	assert.JSONEq(t, `{"q":"x"}`, EncodeArgs(map[string]any{"q": "x"}))
}
