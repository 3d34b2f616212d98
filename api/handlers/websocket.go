package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/lwneal/sharescript/internal/ws"
)

// WebSocketHandler handles WebSocket connections from viewers.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Attach handles WS /ws - attaches a viewer to the shared terminal.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	// Upgrade failures are already reported on the connection
	h.wsHandler.HandleConnection(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Attach)
}
