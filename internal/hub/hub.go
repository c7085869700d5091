// Package hub fans snapshot notifications out to SSE subscribers.
package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"labtopo/internal/domain"
)

// Notification is one pushed state update: the snapshot plus the reason
// it was pushed.
type Notification struct {
	Reason   string           `json:"reason"`
	Revision int              `json:"revision"`
	Snapshot *domain.Snapshot `json:"snapshot"`
}

type client struct {
	id     string
	events chan []byte
}

// Hub manages SSE subscribers. New subscribers immediately receive the
// most recent notification so they never start blind.
type Hub struct {
	logger *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    []byte
}

// New creates a hub.
func New(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Publish pushes a notification to every subscriber. Slow subscribers
// miss intermediate notifications rather than blocking the publisher;
// the snapshot protocol recovers them on the next one.
func (h *Hub) Publish(reason string, snap *domain.Snapshot) {
	n := Notification{Reason: reason, Snapshot: snap}
	if snap != nil {
		n.Revision = snap.Revision
	}
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Printf("Marshal notification: %v", err)
		return
	}
	msg := []byte(fmt.Sprintf("event: snapshot\ndata: %s\n\n", data))

	h.mu.Lock()
	h.last = msg
	for c := range h.clients {
		select {
		case c.events <- msg:
		default:
			h.logger.Printf("SSE client %s is slow, dropping notification", c.id)
		}
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	last := h.last
	total := len(h.clients)
	h.mu.Unlock()
	if last != nil {
		c.events <- last
	}
	h.logger.Printf("SSE client connected: %s (total: %d)", c.id, total)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Printf("SSE client disconnected: %s (total: %d)", c.id, total)
}

// ServeHTTP subscribes the caller via server-sent events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	c := &client{
		id:     fmt.Sprintf("%d", time.Now().UnixNano()),
		events: make(chan []byte, 64),
	}
	h.add(c)
	defer h.remove(c)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.events:
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
