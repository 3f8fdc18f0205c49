// Package status exposes the assistant's run lifecycle over a small
// local HTTP surface: a JSON snapshot endpoint and a WebSocket stream of
// run events, so companion tooling can show what the assistant is doing.
package status

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// Event is one run-lifecycle notification pushed to stream clients.
type Event struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
	Time   int64  `json:"time"`
}

// Hub manages WebSocket connections and broadcasts run events.
type Hub struct {
	clients    map[clientInterface]bool
	broadcast  chan Event
	register   chan clientInterface
	unregister chan clientInterface
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	origins    []string
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// client represents a WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send chan []byte
}

func (c *client) getSendChannel() chan []byte {
	return c.send
}

func (c *client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

// NewHub creates a run-event hub. origins lists the host:port values
// allowed to open stream connections.
func NewHub(origins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[clientInterface]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan clientInterface),
		unregister: make(chan clientInterface),
		ctx:        ctx,
		cancel:     cancel,
		origins:    origins,
	}
}

// Run starts the hub's message processing loop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("status: stream client connected (total: %d)", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("status: stream client disconnected (total: %d)", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("ERROR: status: failed to marshal event: %v", err)
				continue
			}

			// Full Lock because the slow-client branch deletes from the map.
			h.mu.Lock()
			for c := range h.clients {
				sendChan := c.getSendChannel()
				select {
				case sendChan <- data:
				default:
					// Client's send channel is full, disconnect them
					close(sendChan)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for c := range h.clients {
		close(c.getSendChannel())
		c.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast pushes a run event to all connected clients. Never blocks;
// an overfull queue drops the event.
func (h *Hub) Broadcast(event, detail string) {
	select {
	case h.broadcast <- Event{Event: event, Detail: detail, Time: time.Now().Unix()}:
	default:
		log.Println("WARNING: status: broadcast queue full, dropping event")
	}
}

// Register adds a client to the hub. A client arriving after Stop is
// closed immediately instead of blocking on the drained loop.
func (h *Hub) Register(c clientInterface) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		c.close()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c clientInterface) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// ServeHTTP handles WebSocket upgrade requests for the event stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.originAllowed(origin) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		OriginPatterns: h.origins,
	})
	if err != nil {
		log.Printf("ERROR: status: stream upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.Register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) originAllowed(origin string) bool {
	for _, allowed := range h.origins {
		if origin == "http://"+allowed {
			return true
		}
	}
	return false
}

// writePump sends events to the WebSocket connection.
func (c *client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()

		if err != nil {
			log.Printf("ERROR: status: stream write failed: %v", err)
			return
		}
	}
}

// readPump drains client messages to detect disconnections.
func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {
	// No-op for mock client
}
