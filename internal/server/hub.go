// Package server coordinates client registration, destination fan-out, and
// connection cleanup for the travel chat gateway via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/travelchat/internal/chat"
	"github.com/Tyrowin/travelchat/internal/stomp"
)

// Hub manages all WebSocket client connections and delivers published
// payloads to the clients subscribed to each destination. It implements
// chat.Publisher and membership.Notifier.
type Hub struct {
	clients    map[*Client]bool
	byHandle   map[chat.ConnectionHandle]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger

	// onClose runs once for every client that leaves the hub, after its send
	// channel is closed.
	onClose func(*Client)
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client maps. The returned Hub is ready to manage WebSocket connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		byHandle:   make(map[chat.ConnectionHandle]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// Register hands client to the Run loop, which starts its pumps. It returns
// false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes client. It is safe to call more than once and after
// shutdown.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.remove(client)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) isActive(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clients[client] && !client.closed
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation so the channel cannot be
	// closed underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			h.byHandle[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("client registered", "conn_id", client.id, "remote_addr", client.addr, "clients", clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// remove deletes client, closes its send channel and runs onClose. Only the
// first call for a client has any effect.
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	if h.byHandle[client.id] == client {
		delete(h.byHandle, client.id)
	}
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.logger.Info("client unregistered", "conn_id", client.id, "remote_addr", client.addr, "clients", clientCount)

	if h.onClose != nil {
		h.onClose(client)
	}
}

// Publish delivers payload to every subscription on destination and returns
// the number of clients that accepted it. Clients whose buffers are full are
// dropped.
func (h *Hub) Publish(destination string, payload any) int {
	body, contentType, err := encodePayload(payload)
	if err != nil {
		h.logger.Error("failed to encode payload", "destination", destination, "error", err)
		return 0
	}

	clients := h.getClientSnapshot()
	delivered := 0
	var clientsToRemove []*Client

	for _, client := range clients {
		subs := client.subscriptionsFor(destination)
		for _, subID := range subs {
			frame := client.messageFrame(destination, subID, contentType, body)
			if !h.safeSend(client, frame) {
				clientsToRemove = append(clientsToRemove, client)
				break
			}
		}
		if len(subs) > 0 {
			delivered++
		}
	}

	h.removeFailedClients(clientsToRemove)
	return delivered - len(clientsToRemove)
}

// SendToConnection delivers payload to a single connection's subscription on
// a private queue. destination may be given with or without the /user prefix.
// It reports false when the connection is gone, holds no such subscription,
// or its buffer is full.
func (h *Hub) SendToConnection(handle chat.ConnectionHandle, destination string, payload any) bool {
	h.mutex.RLock()
	client, ok := h.byHandle[handle]
	h.mutex.RUnlock()
	if !ok {
		return false
	}

	subs := client.subscriptionsFor(destination)
	subs = append(subs, client.subscriptionsFor(userDestinationPrefix+destination)...)
	if len(subs) == 0 {
		return false
	}

	body, contentType, err := encodePayload(payload)
	if err != nil {
		h.logger.Error("failed to encode payload", "destination", destination, "error", err)
		return false
	}
	return h.safeSend(client, client.messageFrame(destination, subs[0], contentType, body))
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	for _, client := range clientsToRemove {
		h.logger.Warn("client removed due to full send buffer", "conn_id", client.id, "remote_addr", client.addr)
		h.remove(client)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	clients := h.getClientSnapshot()
	h.logger.Info("shutting down all client connections", "clients", len(clients))

	// Closing the send channel makes each writePump send a close message and
	// drop the connection, which in turn ends its readPump.
	for _, client := range clients {
		h.safeSend(client, stomp.Encode(errorFrame("server shutting down", "")))
		h.remove(client)
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

var _ chat.Publisher = (*Hub)(nil)
