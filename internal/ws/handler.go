package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/workspace-hub/backend/internal/model"
	"github.com/workspace-hub/backend/internal/store"
	"github.com/workspace-hub/backend/internal/task"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// Handler drives the per-connection protocol: join, chat, and task
// requests, validated against the store, with one subscription per
// connection at a time.
type Handler struct {
	store      *store.Store
	dispatcher *Dispatcher
	runner     *task.Runner
}

// NewHandler creates a new WebSocket handler.
func NewHandler(st *store.Store, dispatcher *Dispatcher, runner *task.Runner) *Handler {
	return &Handler{
		store:      st,
		dispatcher: dispatcher,
		runner:     runner,
	}
}

// connection tracks the gateway state machine for one client. The key
// is empty until a join succeeds; it changes when the client joins a
// different workspace and is released on disconnect.
type connection struct {
	client    *Client
	key       string
	project   string
	workspace string
}

// HandleConnection upgrades the HTTP request and runs the connection's
// read and write pumps.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn)
	c := &connection{client: client}

	go h.writePump(client)
	go h.readPump(c)

	return nil
}

// readPump pumps frames from the WebSocket connection through the
// gateway state machine. On disconnect it drops the subscription.
func (h *Handler) readPump(c *connection) {
	defer func() {
		if c.key != "" {
			h.dispatcher.Leave(c.key, c.client)
		}
		c.client.Close()
		c.client.Conn().Close()
	}()

	c.client.Conn().SetReadLimit(maxMessageSize)
	c.client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	c.client.Conn().SetPongHandler(func(string) error {
		c.client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.handleFrame(c, raw)
	}
}

// handleFrame processes one incoming frame. Malformed payloads are
// dropped; they never terminate the connection.
func (h *Handler) handleFrame(c *connection, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Printf("Dropping malformed frame: %v", err)
		return
	}

	switch req.Type {
	case FrameTypeJoin:
		h.handleJoin(c, &req)
	case FrameTypeChat:
		h.handleChat(c, &req)
	case FrameTypeTask:
		h.handleTask(c, &req)
	}
}

// handleJoin validates the requested workspace, moves the client's
// subscription to it, and replays the full message log.
func (h *Handler) handleJoin(c *connection, req *Request) {
	if !h.validate(c, req) {
		return
	}

	if c.key != "" {
		h.dispatcher.Leave(c.key, c.client)
	}

	if err := h.dispatcher.Join(req.Project, req.Workspace, c.client); err != nil {
		log.Printf("Failed to join %s: %v", Key(req.Project, req.Workspace), err)
		c.key = ""
		return
	}

	c.key = Key(req.Project, req.Workspace)
	c.project = req.Project
	c.workspace = req.Workspace
}

// handleChat appends and broadcasts a user chat message.
func (h *Handler) handleChat(c *connection, req *Request) {
	if !h.requireSubscribed(c, req) {
		return
	}
	if req.Message == "" {
		return
	}

	msg := model.NewMessage(model.SenderUser, model.KindChat, req.Message)
	h.dispatcher.Deliver(string(FrameTypeChat), req.Project, req.Workspace, msg)
}

// handleTask records the requested command and hands it to the
// execution engine. The task echo is broadcast before the engine emits
// anything for the execution.
func (h *Handler) handleTask(c *connection, req *Request) {
	if !h.requireSubscribed(c, req) {
		return
	}
	if req.Command == "" {
		return
	}

	msg := model.NewMessage(model.SenderUser, model.KindTask, req.Command)
	h.dispatcher.Deliver(string(FrameTypeTask), req.Project, req.Workspace, msg)

	h.runner.Run(req.Project, req.Workspace, req.Command, req.UseOpenCode)
}

// validate checks that the named project and workspace exist, sending
// an error frame otherwise.
func (h *Handler) validate(c *connection, req *Request) bool {
	if req.Project == "" || req.Workspace == "" {
		h.sendError(c.client, "Project and workspace are required.")
		return false
	}
	if !h.store.HasProject(req.Project) {
		h.sendError(c.client, "Project not found.")
		return false
	}
	if !h.store.HasWorkspace(req.Project, req.Workspace) {
		h.sendError(c.client, "Workspace not found.")
		return false
	}
	return true
}

// requireSubscribed rejects requests that arrive before a join or that
// name a workspace other than the subscribed one.
func (h *Handler) requireSubscribed(c *connection, req *Request) bool {
	if c.key == "" {
		h.sendError(c.client, "Join a workspace before sending requests.")
		return false
	}
	if !h.validate(c, req) {
		return false
	}
	if Key(req.Project, req.Workspace) != c.key {
		h.sendError(c.client, "Not subscribed to this workspace.")
		return false
	}
	return true
}

// sendError queues a validation error frame to a single client.
func (h *Handler) sendError(client *Client, message string) {
	data, err := json.Marshal(ErrorFrame{Type: FrameTypeError, Message: message})
	if err != nil {
		return
	}
	client.Send(data)
}

// writePump pumps queued frames from the client's send channel to the
// WebSocket connection and keeps the connection alive with pings.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The client was closed
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Send each frame separately so the peer can parse
			// every payload on its own
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetCheckOrigin sets a custom origin checker for the WebSocket upgrader.
func SetCheckOrigin(fn func(r *http.Request) bool) {
	upgrader.CheckOrigin = fn
}
