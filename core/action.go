package core

import (
	"encoding/json"
	"fmt"
)

// ActionKind names an EventAction variant. The values double as the wire keys.
type ActionKind string

const (
	ActionStateDelta           ActionKind = "stateDelta"
	ActionArtifactDelta        ActionKind = "artifactDelta"
	ActionRequestedAuthConfigs ActionKind = "requestedAuthConfigs"
	ActionTransferToAgent      ActionKind = "transferToAgent"
	ActionEscalate             ActionKind = "escalate"
	ActionFinalResponse        ActionKind = "isFinalResponse"
)

// EventAction encodes a side effect or orchestration signal attached to an
// Event. Like Part, the set of variants is closed.
type EventAction interface {
	Kind() ActionKind
	isEventAction()
}

// StateDelta is a shallow, last-writer-wins change to session state.
type StateDelta struct {
	Changes map[string]any `json:"changes"`
}

// ArtifactDelta records artifact versions produced during the turn.
type ArtifactDelta struct {
	Versions map[string]int `json:"versions"`
}

// RequestedAuthConfigs asks the surrounding application to run an auth flow.
type RequestedAuthConfigs struct {
	Configs map[string]any `json:"configs"`
}

// TransferToAgent hands the conversation to another agent.
type TransferToAgent struct {
	TargetAgent string `json:"targetAgent"`
}

// Escalate signals that the conversation needs a higher-level handler.
type Escalate struct{}

// FinalResponse marks the terminal event of a turn.
type FinalResponse struct{}

func (StateDelta) Kind() ActionKind           { return ActionStateDelta }
func (ArtifactDelta) Kind() ActionKind        { return ActionArtifactDelta }
func (RequestedAuthConfigs) Kind() ActionKind { return ActionRequestedAuthConfigs }
func (TransferToAgent) Kind() ActionKind      { return ActionTransferToAgent }
func (Escalate) Kind() ActionKind             { return ActionEscalate }
func (FinalResponse) Kind() ActionKind        { return ActionFinalResponse }

func (StateDelta) isEventAction()           {}
func (ArtifactDelta) isEventAction()        {}
func (RequestedAuthConfigs) isEventAction() {}
func (TransferToAgent) isEventAction()      {}
func (Escalate) isEventAction()             {}
func (FinalResponse) isEventAction()        {}

// Actions is an ordered list of EventAction values with a keyed JSON encoding:
//
//	[{"stateDelta":{"changes":{"k":1}}},{"isFinalResponse":{}}]
type Actions []EventAction

// Has reports whether an action of the given kind is present.
func (a Actions) Has(kind ActionKind) bool {
	for _, act := range a {
		if act.Kind() == kind {
			return true
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (a Actions) MarshalJSON() ([]byte, error) {
	out := make([]map[ActionKind]EventAction, 0, len(a))
	for _, act := range a {
		if act == nil {
			return nil, &SerializationError{Cause: fmt.Errorf("nil action")}
		}
		out = append(out, map[ActionKind]EventAction{act.Kind(): act})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Actions) UnmarshalJSON(data []byte) error {
	var raw []map[ActionKind]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &SerializationError{Cause: err}
	}
	actions := make(Actions, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 1 {
			return &SerializationError{Cause: fmt.Errorf("action must have exactly one kind, got %d", len(entry))}
		}
		for kind, body := range entry {
			act, err := decodeAction(kind, body)
			if err != nil {
				return err
			}
			actions = append(actions, act)
		}
	}
	*a = actions
	return nil
}

func decodeAction(kind ActionKind, body json.RawMessage) (EventAction, error) {
	var (
		act EventAction
		err error
	)
	switch kind {
	case ActionStateDelta:
		var v StateDelta
		err = json.Unmarshal(body, &v)
		act = v
	case ActionArtifactDelta:
		var v ArtifactDelta
		err = json.Unmarshal(body, &v)
		act = v
	case ActionRequestedAuthConfigs:
		var v RequestedAuthConfigs
		err = json.Unmarshal(body, &v)
		act = v
	case ActionTransferToAgent:
		var v TransferToAgent
		err = json.Unmarshal(body, &v)
		act = v
	case ActionEscalate:
		act = Escalate{}
	case ActionFinalResponse:
		act = FinalResponse{}
	default:
		return nil, &SerializationError{Cause: fmt.Errorf("unknown action kind %q", kind)}
	}
	if err != nil {
		return nil, &SerializationError{Cause: err}
	}
	return act, nil
}
