// Package hub broadcasts pipeline activity to monitor dashboards over
// WebSocket.
//
// Monitors are read-only observers. A slow monitor never backpressures
// the pipeline: its buffer fills and it gets dropped.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/holoboxlabs/voicebridge/pkg/pipeline"
)

// Hub maintains the set of active monitors and broadcasts messages to them.
type Hub struct {
	name   string
	logger *slog.Logger

	// Registered monitors
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed by Stop to end the Run loop
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.RWMutex
	running bool
}

// New creates a new Hub.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "hub", name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop. Call it in a goroutine; Stop ends it.
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.running = false
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("monitor connected", "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("monitor disconnected", "total", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full: the monitor is too slow, drop it
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow monitor")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends the Run loop and disconnects all monitors. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast sends a message to all connected monitors.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// BroadcastJSON encodes and broadcasts a JSON message.
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// Notify broadcasts a pipeline stage event. It never blocks, which makes
// the hub safe to hang off the pipeline's notifier hook.
func (h *Hub) Notify(event pipeline.Event) {
	if err := h.BroadcastJSON(event); err != nil {
		h.logger.Warn("failed to encode event", "error", err)
	}
}

// ClientCount returns the number of connected monitors.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub loop has started.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Verify the hub satisfies the pipeline's notifier hook.
var _ pipeline.Notifier = (*Hub)(nil)
