package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lwneal/sharescript/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The shared terminal is meant to be reachable from anywhere
		return true
	},
}

// Controller is the subset of the session controller the transport needs.
type Controller interface {
	// RequestRun asks for a script run; returns model.ErrAlreadyRunning
	// when one is already in flight.
	RequestRun() error

	// RequestClear empties the replay buffer.
	RequestClear()

	// Disabled reports whether the run affordance is currently disabled.
	Disabled() bool
}

// Handler handles WebSocket connections from viewers.
type Handler struct {
	hub  *Hub
	ctrl Controller
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, ctrl Controller) *Handler {
	return &Handler{
		hub:  hub,
		ctrl: ctrl,
	}
}

// HandleConnection upgrades the HTTP request and attaches the viewer. The
// viewer receives the replay snapshot first, then every live chunk published
// after attachment, plus one button-state frame reflecting the current run
// state.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn)
	h.hub.Subscribe(client)
	client.SendMessage(&Message{Type: MessageTypeButtonState, Disabled: h.ctrl.Disabled()})

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// readPump pumps inbound requests from the connection to the controller.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unsubscribe(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("Failed to unmarshal message: %v", err)
			continue
		}

		h.handleMessage(client, &msg)
	}
}

// handleMessage dispatches one inbound request.
func (h *Handler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeRun:
		if err := h.ctrl.RequestRun(); err != nil {
			if errors.Is(err, model.ErrAlreadyRunning) {
				// Surfaced to the requesting viewer only, never broadcast
				client.SendMessage(&Message{Type: MessageTypeInfo, Data: "Script is already running!"})
				return
			}
			client.SendMessage(&Message{Type: MessageTypeInfo, Data: err.Error()})
		}
	case MessageTypeClear:
		h.ctrl.RequestClear()
	case MessageTypePing:
		client.SendMessage(&Message{Type: MessageTypePong})
	}
}

// writePump pumps queued frames to the connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case frame, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One frame per WebSocket message so the page can JSON.parse
			// each one independently
			if err := client.Conn().WriteMessage(websocket.TextMessage, frame); err != nil {
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
