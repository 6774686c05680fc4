package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/travelchat/internal/auth"
	"github.com/Tyrowin/travelchat/internal/chat"
	"github.com/Tyrowin/travelchat/internal/membership"
	"github.com/Tyrowin/travelchat/internal/observability"
	"github.com/Tyrowin/travelchat/internal/presence"
)

// Deps are the collaborators the gateway drives.
type Deps struct {
	Authenticator *auth.Authenticator
	Dispatcher    *chat.Dispatcher
	Presence      *presence.Stage
	Bridge        *membership.Bridge
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Server is the STOMP-over-WebSocket gateway plus its REST surface.
type Server struct {
	cfg        Config
	hub        *Hub
	auth       *auth.Authenticator
	dispatcher *chat.Dispatcher
	presence   *presence.Stage
	bridge     *membership.Bridge
	metrics    *observability.Metrics
	logger     *slog.Logger
	origins    *originPolicy
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New builds a Server around hub. hub must be the Publisher the dispatcher,
// presence stage and bridge were built with.
func New(cfg *Config, hub *Hub, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	s := &Server{
		cfg:        sanitizeConfig(*cfg),
		hub:        hub,
		auth:       deps.Authenticator,
		dispatcher: deps.Dispatcher,
		presence:   deps.Presence,
		bridge:     deps.Bridge,
		metrics:    metrics,
		logger:     logger.With("component", "gateway"),
	}
	s.origins = newOriginPolicy(s.cfg.Server.AllowedOrigins, s.logger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	hub.onClose = s.connectionClosed
	s.httpServer = CreateServer(s.cfg.Server.Port, s.Handler())
	return s
}

// Hub returns the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) connectionClosed(c *Client) {
	c.cancel()
	c.release()
}

// Start runs the hub and serves HTTP until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("hub started")

	if err := StartServer(s.httpServer, s.logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every client connection.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	httpErr := ShutdownServer(s.httpServer, timeout, s.logger)

	timeout = 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeout = remaining
		}
	}
	return errors.Join(httpErr, s.hub.Shutdown(timeout))
}
