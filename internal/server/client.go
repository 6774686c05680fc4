// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/travelchat/internal/chat"
	"github.com/Tyrowin/travelchat/internal/stomp"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBufferSz = 256
)

// Client represents one STOMP-over-WebSocket connection. Its principal is
// attached by CONNECT and never changes afterwards.
type Client struct {
	id             chat.ConnectionHandle
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	srv            *Server
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	upgradeAuth    string
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	principal atomic.Pointer[chat.Principal]
	released  atomic.Bool
	msgSeq    atomic.Uint64

	subMu sync.RWMutex
	subs  map[string]string // subscription id -> destination
}

// NewClient creates a Client for conn. r is the upgrade request; its
// Authorization header is used when CONNECT carries none.
func NewClient(conn *websocket.Conn, srv *Server, r *http.Request) *Client {
	cfg := srv.cfg.Server
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := chat.ConnectionHandle(uuid.NewString())
	ctx, cancel := context.WithCancel(srv.hub.ctx)
	c := &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBufferSz),
		hub:            srv.hub,
		srv:            srv,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		ctx:            ctx,
		cancel:         cancel,
		subs:           make(map[string]string),
	}
	if r != nil {
		c.addr = r.RemoteAddr
		c.upgradeAuth = r.Header.Get("Authorization")
	}
	c.logger = srv.logger.With("conn_id", id, "remote_addr", c.addr)
	return c
}

// ID returns the connection handle.
func (c *Client) ID() chat.ConnectionHandle {
	return c.id
}

// Principal returns the authenticated identity, if CONNECT has succeeded.
func (c *Client) Principal() (chat.Principal, bool) {
	p := c.principal.Load()
	if p == nil {
		return chat.Principal{}, false
	}
	return *p, true
}

func (c *Client) addSubscription(id, destination string) {
	c.subMu.Lock()
	c.subs[id] = destination
	c.subMu.Unlock()
}

func (c *Client) removeSubscription(id string) (string, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	dest, ok := c.subs[id]
	delete(c.subs, id)
	return dest, ok
}

// subscriptionsFor returns the ids of every subscription on destination.
func (c *Client) subscriptionsFor(destination string) []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	var ids []string
	for id, dest := range c.subs {
		if dest == destination {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Client) messageFrame(destination, subscription, contentType string, body []byte) []byte {
	seq := c.msgSeq.Add(1)
	f := stomp.New(stomp.CmdMessage,
		stomp.HdrDestination, destination,
		stomp.HdrSubscription, subscription,
		stomp.HdrMessageID, string(c.id)+"-"+strconv.FormatUint(seq, 10),
		stomp.HdrContentType, contentType,
	)
	f.Body = body
	return stomp.Encode(f)
}

// release drops presence and session state for an authenticated client. Only
// the first call has any effect.
func (c *Client) release() {
	p := c.principal.Load()
	if p == nil || !c.released.CompareAndSwap(false, true) {
		return
	}
	c.srv.presence.Disconnected(c.id, *p)
	c.srv.metrics.ConnectionClosed()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("failed to set initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("client disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", "error", err)
	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

// readPump decodes inbound frames until the socket fails or a frame asks for
// the connection to end. The write pump owns closing the socket so that a
// final ERROR or RECEIPT is flushed first.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if stomp.IsHeartbeat(raw) {
			continue
		}

		frames, err := stomp.ParseAll(raw)
		if err != nil {
			c.logger.Warn("malformed frame", "error", err)
			c.sendError("malformed frame", err.Error(), "")
			return
		}

		for _, f := range frames {
			if !c.handleFrame(f) {
				return
			}
		}
	}
}

// enqueue hands an encoded frame to the write pump.
func (c *Client) enqueue(f *stomp.Frame) bool {
	return c.hub.safeSend(c, stomp.Encode(f))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", "error", err)
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("failed to set write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("error writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes a frame and any frames queued behind it in one
// text message.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logger.Warn("error creating writer", "error", err)
		return false
	}

	if !c.writeMessageContent(w, message) {
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	return c.closeWriter(w)
}

func (c *Client) writeMessageContent(w io.WriteCloser, message []byte) bool {
	if _, err := w.Write(message); err != nil {
		c.logger.Warn("error writing frame", "error", err)
		return false
	}
	return true
}

func (c *Client) writeQueuedMessages(w io.WriteCloser) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeQueuedMessage(w) {
			return false
		}
	}
	return true
}

// writeQueuedMessage writes a single queued frame. Frames are NUL terminated,
// so the newline separator reads as an inter-frame heart-beat.
func (c *Client) writeQueuedMessage(w io.WriteCloser) bool {
	message, ok := <-c.send
	if !ok {
		return true
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		c.logger.Warn("error writing separator", "error", err)
		return false
	}
	if _, err := w.Write(message); err != nil {
		c.logger.Warn("error writing queued frame", "error", err)
		return false
	}
	return true
}

func (c *Client) closeWriter(w io.WriteCloser) bool {
	if err := w.Close(); err != nil {
		c.logger.Warn("error closing writer", "error", err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("failed to set write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("error writing ping", "error", err)
		return false
	}
	return true
}
