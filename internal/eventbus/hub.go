// Package eventbus implements the live execution event stream (SPEC_FULL.md
// §3.6): a Server-Sent-Events fanout of an execution's event log as events
// are appended, adapted from the teacher's cmd/fanout websocket chat fanout
// (hub.go/redis_subscriber.go/client.go) — broadcast groups keyed by
// execution_id instead of username, and pushed over SSE instead of a
// websocket frame since the stream is server-push only.
package eventbus

import (
	"sync"
)

// Client is one subscriber to a single execution's event stream.
type Client struct {
	executionID string
	send        chan []byte
}

// Hub fans out published events to every Client watching the same
// execution_id, mirroring the teacher's per-username connection map.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
}

// Message is one event, already JSON-encoded, destined for all clients
// watching ExecutionID.
type Message struct {
	ExecutionID string
	Data        []byte
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
	}
}

// Run drives the hub's main loop; callers start it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.connections[c.executionID] = append(h.connections[c.executionID], c)
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			clients := h.connections[c.executionID]
			for i, existing := range clients {
				if existing == c {
					h.connections[c.executionID] = append(clients[:i], clients[i+1:]...)
					close(c.send)
					if len(h.connections[c.executionID]) == 0 {
						delete(h.connections, c.executionID)
					}
					break
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := h.connections[msg.ExecutionID]
			for _, c := range clients {
				select {
				case c.send <- msg.Data:
				default:
					// slow consumer; drop rather than block the whole hub
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Subscribe registers a new client for executionID and returns it; callers
// must Unsubscribe when the stream ends (e.g. request context cancellation).
func (h *Hub) Subscribe(executionID string) *Client {
	c := &Client{executionID: executionID, send: make(chan []byte, 64)}
	h.register <- c
	return c
}

func (h *Hub) Unsubscribe(c *Client) {
	h.unregister <- c
}

// Publish broadcasts a pre-encoded event to every client watching
// executionID. Used directly by in-process callers (e.g. a single-node
// deployment with no Redis); PublishingStore drives it via Redis pub/sub
// for multi-node deployments.
func (h *Hub) Publish(executionID string, data []byte) {
	h.broadcast <- &Message{ExecutionID: executionID, Data: data}
}

// ConnectionCount reports the number of active subscribers, for health/metrics.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.connections {
		n += len(clients)
	}
	return n
}
