package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lwneal/sharescript/internal/buffer"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeRun   MessageType = "run"
	MessageTypeClear MessageType = "clear"
	MessageTypePing  MessageType = "ping"

	// Server -> Client message types
	MessageTypeStdout      MessageType = "stdout"
	MessageTypeHistory     MessageType = "history"
	MessageTypeStarted     MessageType = "started"
	MessageTypeFinished    MessageType = "finished"
	MessageTypeCleared     MessageType = "cleared"
	MessageTypeButtonState MessageType = "button_state"
	MessageTypeInfo        MessageType = "info"
	MessageTypePong        MessageType = "pong"
)

// Message represents a WebSocket message. Data carries raw terminal bytes for
// stdout and history frames; the core does no decoding or line splitting.
type Message struct {
	Type     MessageType `json:"type"`
	Data     string      `json:"data,omitempty"`
	Code     *int        `json:"code,omitempty"`
	Error    string      `json:"error,omitempty"`
	Disabled bool        `json:"disabled,omitempty"`
}

// Encode marshals the message to its wire frame.
func (m *Message) Encode() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// Client represents one connected viewer.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for the given connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Send queues a frame for delivery. It never blocks: a client whose queue is
// full is dropped so a slow viewer cannot stall the reader or other viewers.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Queue full, drop the viewer
		c.closeLocked()
	}
}

// SendMessage encodes and queues a message for delivery.
func (c *Client) SendMessage(msg *Message) {
	if frame := msg.Encode(); frame != nil {
		c.Send(frame)
	}
}

// Close closes the client's delivery queue.
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

// IsClosed returns true if the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the client's delivery queue.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub fans terminal output out to all connected viewers and owns the replay
// buffer handoff to late joiners. Subscribe and the publish methods share one
// lock so that a new viewer's snapshot and its live feed form a contiguous
// byte stream: snapshot at attach time, then every chunk published after
// attachment, with no gap and no duplication.
type Hub struct {
	replay  *buffer.ReplayBuffer
	clients map[*Client]bool
	mu      sync.Mutex
}

// NewHub creates a Hub backed by the given replay buffer.
func NewHub(replay *buffer.ReplayBuffer) *Hub {
	return &Hub{
		replay:  replay,
		clients: make(map[*Client]bool),
	}
}

// Subscribe attaches a viewer. The replay snapshot is queued to the client
// inside the same critical section that registers it, so no chunk published
// after attachment can precede the snapshot in the client's queue.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true

	if snap := h.replay.Snapshot(); len(snap) > 0 {
		c.SendMessage(&Message{Type: MessageTypeHistory, Data: string(snap)})
	}
}

// Unsubscribe detaches a viewer. Safe to call for a client that never
// received anything.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.Close()
}

// PublishOutput appends a chunk to the replay buffer and delivers it to every
// attached viewer. Called only by the stream reader.
func (h *Hub) PublishOutput(data []byte) {
	if len(data) == 0 {
		return
	}

	msg := &Message{Type: MessageTypeStdout, Data: string(data)}
	frame := msg.Encode()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.replay.Append(data)
	for c := range h.clients {
		c.Send(frame)
	}
}

// ClearReplay empties the replay buffer and notifies all viewers. Holding the
// hub lock keeps the clear and its notification ordered against publishes.
func (h *Hub) ClearReplay() {
	frame := (&Message{Type: MessageTypeCleared}).Encode()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.replay.Clear()
	for c := range h.clients {
		c.Send(frame)
	}
}

// Broadcast delivers a message to every attached viewer.
func (h *Hub) Broadcast(msg *Message) {
	frame := msg.Encode()
	if frame == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.Send(frame)
	}
}

// BroadcastStarted announces that a run has begun.
func (h *Hub) BroadcastStarted() {
	h.Broadcast(&Message{Type: MessageTypeStarted})
}

// BroadcastFinished announces that a run has ended, with its exit code or an
// error description.
func (h *Hub) BroadcastFinished(exitCode *int, errMsg string) {
	h.Broadcast(&Message{Type: MessageTypeFinished, Code: exitCode, Error: errMsg})
}

// BroadcastButtonState announces whether the run affordance is disabled.
func (h *Hub) BroadcastButtonState(disabled bool) {
	h.Broadcast(&Message{Type: MessageTypeButtonState, Disabled: disabled})
}

// ClientCount returns the number of attached viewers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close detaches and closes all viewers.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
