package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/modemtemp/internal/errors"
	"codeberg.org/mutker/modemtemp/internal/logger"
	"codeberg.org/mutker/modemtemp/internal/sink"
	"github.com/gorilla/websocket"
)

const (
	wsSendBufferSize = 16
	wsWriteWait      = 5 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Hub fans published payloads out to websocket clients. It is also a sink,
// so the publisher feeds it like any other target. Broadcast never blocks:
// a client whose buffer is full misses that update.
type Hub struct {
	log     logger.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	last    []byte
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		log:     logger.New("websocket"),
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *Hub) Name() string {
	return "websocket"
}

// Write broadcasts p to every connected client
func (h *Hub) Write(_ context.Context, p sink.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.New().Wrap(ErrBroadcast, err)
	}

	// Sends happen under the lock so unregister cannot close a channel
	// mid-send
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = data
	for c := range h.clients {
		c.trySend(data)
	}

	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams payloads until the client
// goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	h.log.Debug().Str("remote", r.RemoteAddr).Int("clients", h.ClientCount()).Msg("Websocket client connected")

	go c.writePump()
	c.readPump()
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
		close(c.send)
	}
	remaining := len(h.clients)
	h.mu.Unlock()

	if existed {
		h.log.Debug().Int("clients", remaining).Msg("Websocket client disconnected")
	}
}

// Close disconnects all clients
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
	return nil
}

// trySend drops data when the client is behind. The caller holds h.mu.
func (c *wsClient) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// readPump discards client messages and notices disconnects
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
