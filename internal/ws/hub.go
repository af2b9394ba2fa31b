package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Key builds the subscription key for a (project, workspace) pair.
func Key(project, workspace string) string {
	return project + "::" + workspace
}

// Client represents one live WebSocket connection.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a new WebSocket client.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Send queues a message to be sent to the client. Delivery is
// best-effort: a full buffer closes the client rather than blocking
// the sender.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub holds the client set subscribed to one workspace key.
type Hub struct {
	key     string
	clients map[*Client]bool
	mu      sync.RWMutex
}

// NewHub creates a new Hub for the given workspace key.
func NewHub(key string) *Hub {
	return &Hub{
		key:     key,
		clients: make(map[*Client]bool),
	}
}

// Key returns the workspace key for this hub.
func (h *Hub) Key() string {
	return h.key
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub and reports how many remain.
func (h *Hub) Unregister(client *Client) int {
	h.mu.Lock()
	delete(h.clients, client)
	remaining := len(h.clients)
	h.mu.Unlock()
	return remaining
}

// Broadcast sends a message to all connected clients. A client that
// cannot accept the message is skipped; the others still receive it.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes all client connections and the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// Registry tracks which clients are subscribed to which workspace key.
// A hub exists only while it has subscribers.
type Registry struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{
		hubs: make(map[string]*Hub),
	}
}

// Subscribe registers a client under a workspace key, creating the
// hub if needed.
func (r *Registry) Subscribe(key string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hub, ok := r.hubs[key]
	if !ok {
		hub = NewHub(key)
		r.hubs[key] = hub
	}
	hub.Register(client)
}

// Unsubscribe removes a client from a workspace key. Removing a client
// that is not present is a no-op. The hub is discarded when its last
// client leaves.
func (r *Registry) Unsubscribe(key string, client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hub, ok := r.hubs[key]
	if !ok {
		return
	}

	if hub.Unregister(client) == 0 {
		delete(r.hubs, key)
	}
}

// Broadcast delivers a message to every client currently subscribed to
// the key. No subscribers is a no-op.
func (r *Registry) Broadcast(key string, data []byte) {
	r.mu.RLock()
	hub := r.hubs[key]
	r.mu.RUnlock()

	if hub == nil {
		return
	}
	hub.Broadcast(data)
}

// Subscribers returns the number of clients subscribed to a key.
func (r *Registry) Subscribers(key string) int {
	r.mu.RLock()
	hub := r.hubs[key]
	r.mu.RUnlock()

	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

// HubCount returns the number of live hubs.
func (r *Registry) HubCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hubs)
}

// Close closes all hubs and their clients.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, hub := range r.hubs {
		hub.Close()
	}
	r.hubs = make(map[string]*Hub)
}
