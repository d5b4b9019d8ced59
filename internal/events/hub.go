package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 64
)

// Hub maintains the set of connected subscribers and fans events out to them.
// Only the Run goroutine mutates the client set.
type Hub struct {
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu        sync.RWMutex
	count     int
	published uint64
	dropped   uint64
}

// HubStats contains hub counters
type HubStats struct {
	Clients   int    `json:"clients"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run delivers events until ctx is cancelled, then disconnects all clients
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Info("Event subscriber connected",
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("subscribers", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Info("Event subscriber disconnected",
					slog.String("remote_addr", client.remoteAddr),
					slog.Int("subscribers", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.remove(client)
					h.logger.Warn("Dropped slow event subscriber",
						slog.String("remote_addr", client.remoteAddr))
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Publish encodes the event and queues it for every subscriber.
// Events are dropped when the hub is saturated.
func (h *Hub) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- data:
		h.mu.Lock()
		h.published++
		h.mu.Unlock()
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
		h.logger.Warn("Event queue full, dropping event", slog.String("type", event.Type))
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// GetStats returns hub counters
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Clients:   h.count,
		Published: h.published,
		Dropped:   h.dropped,
	}
}

// join hands a client to the Run loop. It reports false once the hub stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
