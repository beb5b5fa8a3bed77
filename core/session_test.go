package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_MergeStateAndClone(t *testing.T) {
	s := NewSession("s1")

	s.MergeState(map[string]any{"a": 1, "b": "x"})
	if v, ok := s.GetState("a"); !ok || v.(int) != 1 {
		t.Fatalf("State not applied: %+v", s.State())
	}

	clone := s.Clone()
	if clone == s {
		t.Error("Clone should be a different pointer")
	}

	clone.MergeState(map[string]any{"c": 2})
	if _, exists := s.GetState("c"); exists {
		t.Error("Original should not have clone's new key")
	}
}

func TestSession_MergeStateLastWriterWins(t *testing.T) {
	s := NewSession("s1")
	before := s.Updated()

	s.MergeState(map[string]any{"k": 1})
	s.MergeState(map[string]any{"k": 2, "other": true})

	assert.Equal(t, map[string]any{"k": 2, "other": true}, s.State())
	assert.False(t, s.Updated().Before(before))
}

func TestSession_AppendEventDropsPartials(t *testing.T) {
	s := NewSession("s2")

	assert.False(t, s.AppendEvent(NewPartialEvent("t", "model", NewTextContent(RoleModel, "Hi"))))
	assert.True(t, s.AppendEvent(NewUserContentEvent("t", NewTextContent(RoleUser, "hello"))))
	assert.True(t, s.AppendEvent(NewTerminalEvent("t", "model", NewTextContent(RoleModel, "Hi"), nil)))

	all := s.Events()
	assert.Len(t, all, 2)
	for _, ev := range all {
		assert.False(t, ev.Partial)
	}

	orig := all[0].Author
	all[0].Author = "changed"
	assert.Equal(t, orig, s.Events()[0].Author, "events slice should be copied on read")
}

func TestSession_ConversationSkipsContentlessEvents(t *testing.T) {
	s := NewSession("s3")
	s.AppendEvent(NewUserContentEvent("t", NewTextContent(RoleUser, "hello")))
	errEv := NewTerminalEvent("t", "model", nil, nil)
	errEv.ErrorCode = ErrorCodeModelInvocation
	s.AppendEvent(errEv)

	conv := s.Conversation()
	assert.Len(t, conv, 1)
	assert.Equal(t, RoleUser, conv[0].Role)
}

func TestSession_ConversationReplaysTurnInput(t *testing.T) {
	s := NewSession("s5")
	ev := NewTerminalEvent("t", "model", NewTextContent(RoleModel, "Hi there"), nil)
	ev.Input = NewTextContent(RoleUser, "hello")
	s.AppendEvent(ev)

	conv := s.Conversation()
	assert.Len(t, conv, 2)
	assert.Equal(t, "hello", conv[0].Text())
	assert.Equal(t, RoleModel, conv[1].Role)
	assert.Equal(t, "Hi there", conv[1].Text())
}

func TestSession_ConversationSkipsFailedTurns(t *testing.T) {
	s := NewSession("s6")
	failed := NewTerminalEvent("t1", "model", NewTextContent(RoleModel, "Par\n\n[response interrupted: connection reset]"), nil)
	failed.Input = NewTextContent(RoleUser, "first")
	failed.ErrorCode = ErrorCodeStreamInterrupted
	failed.ErrorMessage = "connection reset"
	s.AppendEvent(failed)

	ok := NewTerminalEvent("t2", "model", NewTextContent(RoleModel, "Hi"), nil)
	ok.Input = NewTextContent(RoleUser, "second")
	s.AppendEvent(ok)

	conv := s.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, "second", conv[0].Text())
	assert.Equal(t, "Hi", conv[1].Text())
	for _, c := range conv {
		assert.NotContains(t, c.Text(), "interrupted")
	}
}

func TestSession_Snapshot(t *testing.T) {
	s := NewSession("s4")
	s.MergeState(map[string]any{"k": "v"})
	s.AppendEvent(NewUserContentEvent("t", NewTextContent(RoleUser, "hello")))

	snap := s.Snapshot()
	assert.Equal(t, "s4", snap.ID)
	assert.Equal(t, map[string]any{"k": "v"}, snap.State)
	assert.Len(t, snap.Events, 1)
}
