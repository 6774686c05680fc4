// Package server implements the travel chat gateway: a STOMP-over-WebSocket
// endpoint backed by a Hub of clients, plus the group chat REST endpoints.
//
// The implementation is split across files for configuration, hub
// management, clients and frame handling, routing, and HTTP handlers.
package server
