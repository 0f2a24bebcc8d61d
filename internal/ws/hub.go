package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 32

	// maxClientMessage bounds a single client frame (subscribe requests).
	maxClientMessage = 4096

	// maxChannelName bounds a channel name in a subscribe request.
	maxChannelName = 64
)

// Message types exchanged with clients.
const (
	TypeWelcome      = "welcome"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeError        = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are done by the HTTP CORS middleware in front of the hub.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope of every frame the hub sends.
type Message struct {
	Type      string    `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	Channels  []string  `json:"channels,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// request is a frame received from a client.
type request struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Hub manages WebSocket clients and their channel subscriptions.
type Hub struct {
	channels []string
	now      func() time.Time

	// mu guards clients. Sends on a client's channel happen under the read
	// lock; closing it happens under the write lock.
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte

	subMu sync.Mutex
	subs  map[string]bool
}

// New creates a Hub. channels are the names advertised in the welcome
// message; clients may still subscribe to other names.
func New(channels ...string) *Hub {
	return &Hub{
		channels: channels,
		now:      time.Now,
		clients:  make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
		subs: make(map[string]bool),
	}
	h.register(c)
	defer h.unregister(c)

	h.sendTo(c, Message{Type: TypeWelcome, Channels: h.channels})

	go c.writePump()
	h.readPump(c) // blocks until connection closes
}

// Publish sends a message of type msgType to every subscriber of channel and
// returns how many clients it was queued for.
func (h *Hub) Publish(channel, msgType string, data any) int {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Channel:   channel,
		Data:      data,
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		slog.Error("ws: encode message", "type", msgType, "err", err)
		return 0
	}

	var delivered int
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- payload:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws: client buffer full, disconnecting", "channel", channel)
		h.unregister(c)
	}
	return delivered
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.subscribed(channel) {
			n++
		}
	}
	return n
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// sendTo queues msg for a single client, disconnecting it if its buffer is
// full.
func (h *Hub) sendTo(c *client, msg Message) {
	msg.Timestamp = h.now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	full := false
	h.mu.RLock()
	if _, ok := h.clients[c]; ok {
		select {
		case c.send <- payload:
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	if full {
		h.unregister(c)
	}
}

// handle applies one client request and acknowledges it.
func (h *Hub) handle(c *client, raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.sendTo(c, Message{Type: TypeError, Data: map[string]string{"message": "invalid JSON"}})
		return
	}

	switch req.Type {
	case TypeSubscribe, TypeUnsubscribe:
		c.subMu.Lock()
		for _, ch := range req.Channels {
			if ch == "" || len(ch) > maxChannelName {
				continue
			}
			if req.Type == TypeSubscribe {
				c.subs[ch] = true
			} else {
				delete(c.subs, ch)
			}
		}
		subs := make([]string, 0, len(c.subs))
		for ch := range c.subs {
			subs = append(subs, ch)
		}
		c.subMu.Unlock()
		sort.Strings(subs)

		ack := TypeSubscribed
		if req.Type == TypeUnsubscribe {
			ack = TypeUnsubscribed
		}
		h.sendTo(c, Message{Type: ack, Channels: subs})

	case TypePing:
		h.sendTo(c, Message{Type: TypePong})

	default:
		h.sendTo(c, Message{Type: TypeError, Data: map[string]string{"message": "unknown message type " + req.Type}})
	}
}

func (c *client) subscribed(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subs[channel]
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client requests and control frames until the connection
// closes.
func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxClientMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		typ, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if typ == websocket.TextMessage {
			h.handle(c, msg)
		}
	}
}
