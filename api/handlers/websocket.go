// Package handlers provides HTTP API request handlers.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/workspace-hub/backend/internal/ws"
)

// WebSocketHandler exposes the real-time gateway over HTTP.
type WebSocketHandler struct {
	gateway *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(gateway *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{gateway: gateway}
}

// Connect handles GET /ws - upgrades the connection and hands it to
// the gateway. Workspace selection happens over the socket via join.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	if err := h.gateway.HandleConnection(c.Writer, c.Request); err != nil {
		// Upgrade failure already wrote the HTTP error response
		return
	}
}

// RegisterRoutes registers the WebSocket route on the engine.
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.Connect)
}
