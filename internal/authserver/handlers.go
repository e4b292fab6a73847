package authserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfell/pairbot/internal/config"
)

const maxBodyBytes = 64 * 1024

type configPayload struct {
	Config    config.TradingParams `json:"config"`
	SessionID string               `json:"session_id"`
}

type pingPayload struct {
	SessionID string `json:"session_id"`
}

type pingReply struct {
	Alive         bool `json:"alive"`
	ConfigVersion int  `json:"config_version"`
}

type verifyPayload struct {
	SessionID string `json:"session_id"`
}

type verifyReply struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
	Action   string `json:"action,omitempty"`
}

// handleConfig returns the current parameter snapshot. A request carrying
// a known X-Session-ID keeps its session (the refetch path after a
// version bump); anything else gets a fresh one.
// GET /config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if id := r.Header.Get("X-Session-ID"); id != "" && s.sessions.Touch(id) {
		sessionID = id
	} else {
		sess := s.sessions.Create()
		sessionID = sess.ID
		s.logger.Info("session created", slog.String("session_id", sessionID))
		if s.hub != nil {
			s.hub.Publish(Event{Type: "session_created", SessionID: sessionID})
		}
	}

	writeJSON(w, http.StatusOK, configPayload{
		Config:    s.state.Current(),
		SessionID: sessionID,
	})
}

// handlePing answers a heartbeat with liveness and the current config
// version so clients know when to refetch.
// POST /ping
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var req pingPayload
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.sessions.Touch(req.SessionID) {
		writeJSON(w, http.StatusUnauthorized, pingReply{Alive: false})
		return
	}

	writeJSON(w, http.StatusOK, pingReply{
		Alive:         true,
		ConfigVersion: s.state.Version(),
	})
}

// handleVerify approves one trade attempt. A session that is unknown or
// has not pinged within the verify window gets action=restart; such a
// client is either dead or running detached from its heartbeat and must
// re-register.
// POST /verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyPayload
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.sessions.Fresh(req.SessionID, s.verifyWindow) {
		writeJSON(w, http.StatusUnauthorized, verifyReply{
			Verified: false,
			Error:    "session unknown or stale",
			Action:   "restart",
		})
		return
	}

	writeJSON(w, http.StatusOK, verifyReply{Verified: true})
}

// handleAdminConfig merges a partial parameter update and bumps the
// version. Clients pick the new snapshot up on their next heartbeat.
// PUT /admin/config
func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	merged, err := s.state.Merge(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("config updated", slog.Int("config_version", merged.ConfigVersion))
	if s.hub != nil {
		s.hub.Publish(Event{Type: "config_updated", Version: merged.ConfigVersion})
	}

	writeJSON(w, http.StatusOK, merged)
}

// handleAdminSessions lists active sessions.
// GET /admin/sessions
func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleHealth reports liveness without auth.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"config_version": s.state.Version(),
		"sessions":       s.sessions.Len(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

// decodeBody parses a small JSON request body.
func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// writeJSON marshals v as JSON with the given status. Falls back to a
// plain 500 when marshaling fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
