package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handler returns the gateway's routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.WebSocketHandler)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/groups/{groupId:[0-9]+}").Subrouter()
	api.HandleFunc("/messages", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleDeleteAll).Methods(http.MethodDelete)
	api.HandleFunc("/messages/{messageId:[0-9]+}", s.handleDeleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/members/me", s.handleLeave).Methods(http.MethodDelete)
	api.HandleFunc("/online", s.handleOnline).Methods(http.MethodGet)
	return r
}
