package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/taskdeck/taskdeck/internal/session"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type sessionsResponse struct {
	Sessions []session.Info `json:"sessions"`
}

type setStateRequest struct {
	State string `json:"state"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: s.registry.List()})
}

// handleSessionByID serves GET /api/sessions/{id} and
// POST /api/sessions/{id}/state.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	taskID, action, _ := strings.Cut(rest, "/")
	if taskID == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}

	switch action {
	case "":
		if !s.guard(w, r, http.MethodGet) {
			return
		}
		sess, ok := s.registry.Get(taskID)
		if !ok {
			writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sess.Info())

	case "state":
		if !s.guard(w, r, http.MethodPost) {
			return
		}
		s.handleSetState(w, r, taskID)

	default:
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request, taskID string) {
	if s.cfg.ReadOnly {
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "state overrides are disabled in read-only mode")
		return
	}
	sess, ok := s.registry.Get(taskID)
	if !ok {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "session not found")
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json payload")
		return
	}
	st, ok := session.ParseState(req.State)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "INVALID_STATE", "state must be idle, running, waiting or completed")
		return
	}
	if err := sess.SetState(st); err != nil {
		writeAPIError(w, http.StatusConflict, "SESSION_CLOSED", err.Error())
		return
	}

	webLog.Info("state_override", slog.String("task", taskID), slog.String("state", string(st)))
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
