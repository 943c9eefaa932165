package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"qmtbridge/internal/event"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are done by the CORS layer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one WebSocket connection managed by a Hub.
type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	kinds map[event.Kind]bool // nil means every kind
}

func (c *wsClient) wants(k event.Kind) bool {
	return c.kinds == nil || c.kinds[k]
}

// Hub pushes bus events as JSON text frames to every connected WebSocket
// client. A client that cannot keep up is disconnected.
type Hub struct {
	bus *event.Bus
	log *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates a Hub fed from bus.
func NewHub(bus *event.Bus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		log:     logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run forwards bus events to clients until ctx is cancelled, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) error {
	id, ch := h.bus.Subscribe(4096)
	defer h.bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case evt, ok := <-ch:
			if !ok {
				h.closeAll()
				return nil
			}
			msg, err := json.Marshal(evt)
			if err != nil {
				h.log.Error("encoding event", "kind", evt.Kind, "error", err)
				continue
			}
			h.broadcast(evt.Kind, msg)
		}
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(kind event.Kind, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(kind) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			h.log.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request to a WebSocket. The optional "kinds" query
// parameter restricts the stream to a comma-separated list of event kinds.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		kinds: parseKinds(r.URL.Query().Get("kinds")),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Info("websocket client connected", "remote", conn.RemoteAddr().String())

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound frames and unregisters the client once the
// connection closes.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		h.log.Info("websocket client disconnected", "remote", c.conn.RemoteAddr().String())
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseKinds(s string) map[event.Kind]bool {
	if s == "" {
		return nil
	}
	kinds := make(map[event.Kind]bool)
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[event.Kind(k)] = true
		}
	}
	return kinds
}
