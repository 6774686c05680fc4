// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the group chat REST endpoints.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/travelchat/internal/auth"
	"github.com/Tyrowin/travelchat/internal/chat"
)

// WebSocketHandler upgrades a GET request to a WebSocket connection and hands
// the new client to the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s, r)
	if !s.hub.Register(client) {
		client.cancel()
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "travelchat gateway is running")
}

type onlineResponse struct {
	Count int           `json:"count"`
	Users []chat.UserID `json:"users"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) principal(w http.ResponseWriter, r *http.Request) (*chat.Principal, bool) {
	p, err := s.auth.Resolve(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return &p, true
}

func groupID(r *http.Request) (chat.ChannelID, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["groupId"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return chat.ChannelID(id), true
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	channel, ok := groupID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	history, err := s.dispatcher.History(r.Context(), p, channel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []chat.Envelope{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	channel, ok := groupID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["messageId"], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := s.dispatcher.DeleteMessage(r.Context(), p, channel, chat.MessageID(id)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	channel, ok := groupID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := s.dispatcher.DeleteAll(r.Context(), p, channel); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	channel, ok := groupID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := s.bridge.LeaveGroup(r.Context(), channel, p.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	channel, ok := groupID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := s.dispatcher.Authorize(r.Context(), p, channel); err != nil {
		s.writeError(w, r, err)
		return
	}
	users := s.presence.Users(channel)
	writeJSON(w, http.StatusOK, onlineResponse{Count: len(users), Users: users})
}

// httpStatus maps the domain error taxonomy onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingAuthorization),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrAuthDisabled),
		errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, chat.ErrWrongChannel):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUnsupportedKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: errorMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
