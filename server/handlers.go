package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/turnstream/callback"
	"github.com/hupe1980/turnstream/service"
	"github.com/hupe1980/turnstream/tool"
	"github.com/hupe1980/turnstream/transport/ndjson"
)

const (
	headerSessionID = "X-Session-ID"
	headerTurnID    = "X-Turn-ID"
)

// TurnRequest is the JSON body of a turn submission. Tools are referenced by
// name and resolved from the server's catalog.
type TurnRequest struct {
	SessionID    string   `json:"sessionId,omitempty"`
	Input        string   `json:"input"`
	ModelID      string   `json:"modelId,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	FileDataURI  string   `json:"fileDataUri,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

func (s *Server) turnInput(req TurnRequest) (service.TurnInput, error) {
	in := service.TurnInput{
		SessionID:    req.SessionID,
		Input:        req.Input,
		ModelID:      req.ModelID,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		FileDataURI:  req.FileDataURI,
	}
	for _, name := range req.Tools {
		t, ok := s.tools[name]
		if !ok {
			return in, fmt.Errorf("%w: %s", tool.ErrToolNotFound, name)
		}
		in.Tools = append(in.Tools, t)
	}
	return in, nil
}

func setStreamHeaders(w http.ResponseWriter, sessionID, turnID string) {
	w.Header().Set("Content-Type", ndjson.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(headerSessionID, sessionID)
	if turnID != "" {
		w.Header().Set(headerTurnID, turnID)
	}
}

// submitTurn handles POST /sessions/turns and POST /sessions/{sessionID}/turns.
// With ?notifications=true the stream carries callback events, including tool
// lifecycle notifications, instead of bare turn events.
func (s *Server) submitTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if id := chi.URLParam(r, "sessionID"); id != "" {
		req.SessionID = id
	}

	in, err := s.turnInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Streaming not supported")
		return
	}

	if r.URL.Query().Get("notifications") == "true" {
		s.streamNotifications(w, r, in)
		return
	}

	ts, err := s.svc.SubmitTurn(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer ts.Close()

	setStreamHeaders(w, ts.SessionID(), ts.TurnID())
	w.WriteHeader(http.StatusOK)

	enc := ndjson.NewEncoder(w)
	for ts.Next() {
		if err := enc.Encode(ts.Current()); err != nil {
			// the deferred Close abandons the turn; it still commits
			s.logger.Warn("server.stream.write_failed", "session_id", ts.SessionID(), "turn_id", ts.TurnID(), "error", err.Error())
			return
		}
	}
}

func (s *Server) streamNotifications(w http.ResponseWriter, r *http.Request, in service.TurnInput) {
	enc := ndjson.NewEncoder(w)
	started := false
	err := s.adapter.Run(r.Context(), in, func(ev callback.Event) error {
		if !started {
			setStreamHeaders(w, ev.SessionID, ev.TurnID)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return enc.Encode(ev)
	})
	if err != nil && !started {
		writeServiceError(w, err)
	}
}

// listSessions handles GET /sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.svc.Store().List()})
}

// getSession handles GET /sessions/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Store().Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// deleteSession handles DELETE /sessions/{sessionID}. Sessions with a running
// turn cannot be deleted.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, err := s.svc.Store().Get(id); err != nil {
		writeServiceError(w, err)
		return
	}
	if s.svc.Busy(id) {
		writeError(w, http.StatusConflict, ErrCodeSessionBusy, "session has a running turn")
		return
	}
	s.svc.Store().Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

// sessionEvents handles GET /sessions/{sessionID}/events: committed events of
// the session as NDJSON until the client disconnects.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, "event bus is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Streaming not supported")
		return
	}

	id := chi.URLParam(r, "sessionID")
	events, err := s.bus.Subscribe(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	setStreamHeaders(w, id, "")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := ndjson.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			s.logger.Warn("server.events.write_failed", "session_id", id, "error", err.Error())
			return
		}
	}
}

// cancelTurn handles POST /turns/{turnID}/cancel.
func (s *Server) cancelTurn(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")
	if err := s.svc.Cancel(turnID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"turnId": turnID, "cancelled": true})
}

// health handles GET /healthz.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"models":      s.svc.Models(),
		"tools":       s.tools.Names(),
		"activeTurns": len(s.svc.ActiveTurns()),
	})
}
