package ndjson

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/internal/testutil"
)

func fixedEvent(text string, partial bool) core.Event {
	ev := core.NewPartialEvent("t1", "model", core.NewTextContent(core.RoleModel, text))
	if !partial {
		ev = core.NewTerminalEvent("t1", "model", core.NewTextContent(core.RoleModel, text), map[string]any{"k": "v"})
	}
	ev.ID = "e-" + text
	ev.SessionID = "s1"
	ev.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return ev
}

func TestEncoder_OneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(fixedEvent("Hi", true)))
	require.NoError(t, enc.Encode(fixedEvent("Hi there", false)))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"partial":true`)
	assert.Contains(t, lines[1], `"turnComplete":true`)
	assert.Contains(t, lines[1], `{"isFinalResponse":{}}`)
	for _, l := range lines {
		assert.NotContains(t, l, "\n")
	}
}

func TestEncoder_FlushesEveryLine(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)

	require.NoError(t, enc.Encode(map[string]string{"a": "b"}))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "{\"a\":\"b\"}\n", rec.Body.String())
}

func TestEncoder_FlushesBufferedWriter(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(bufio.NewWriter(&buf))

	require.NoError(t, enc.Encode(1))
	assert.Equal(t, "1\n", buf.String())
}

func TestEncoder_SerializationError(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf).Encode(map[string]any{"ch": make(chan int)})

	var serr *core.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Empty(t, buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestEncoder_WriteError(t *testing.T) {
	err := NewEncoder(failingWriter{}).Encode(1)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestReadEvents_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	want := []core.Event{fixedEvent("Hi", true), fixedEvent("Hi there", false)}
	for _, ev := range want {
		require.NoError(t, enc.Encode(ev))
	}

	got, err := ReadEvents(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NoError(t, core.ValidateTurn(got))
	assert.Equal(t, "Hi there", got[1].Content.Text())
	assert.Equal(t, "v", got[1].StateDelta()["k"])
	assert.True(t, want[0].Timestamp.Equal(got[0].Timestamp))
}

func TestDecoder_SkipsBlankLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader("\n{\"a\":1}\n\n  \n{\"a\":2}\n"))

	var v struct{ A int }
	require.NoError(t, dec.Decode(&v))
	assert.Equal(t, 1, v.A)
	require.NoError(t, dec.Decode(&v))
	assert.Equal(t, 2, v.A)
	assert.ErrorIs(t, dec.Decode(&v), io.EOF)
}

func TestDecoder_InvalidLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader("{\"a\":1}\nnot json\n"))

	var v map[string]any
	require.NoError(t, dec.Decode(&v))
	err := dec.Decode(&v)

	var serr *core.SerializationError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadEvents_InvalidActionIsSerializationError(t *testing.T) {
	_, err := ReadEvents(strings.NewReader(`{"id":"e1","actions":[{"unknown":{}}]}` + "\n"))

	var serr *core.SerializationError
	assert.True(t, errors.As(err, &serr))
}

func TestReadEvents_ToolTurn(t *testing.T) {
	turn := []core.Event{
		testutil.NewEventBuilder().Session("s1").Turn("t1").Partial().
			FunctionCall("c1", "lookup", map[string]any{"id": 42.0}).Build(),
		testutil.NewEventBuilder().Session("s1").Turn("t1").Partial().
			FunctionResponse("c1", "lookup", nil, errors.New("db unreachable")).Build(),
		testutil.NewEventBuilder().Session("s1").Turn("t1").Input("find 42").
			ModelText("The database is down.").Transfer("support").Escalate().
			Terminal(map[string]any{"tool:lookup": "failed"}).Build(),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ev := range turn {
		require.NoError(t, enc.Encode(ev))
	}

	got, err := ReadEvents(&buf)
	require.NoError(t, err)
	require.NoError(t, core.ValidateTurn(got))
	require.Len(t, got, 3)

	assert.Equal(t, turn[0].FunctionCalls(), got[0].FunctionCalls())
	assert.Equal(t, map[string]any{"error": "db unreachable"}, got[1].FunctionResponses()[0].Response)
	assert.Equal(t, core.RoleTool, got[1].Content.Role)

	final := got[2]
	assert.Equal(t, "find 42", final.Input.Text())
	assert.Equal(t, turn[2].Actions, final.Actions)
}
