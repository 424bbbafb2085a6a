package sink

import (
	"context"
	"encoding/json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"net/http"
	"sync"
	"t7stream/pkg/stream"
	"time"
)

const (
	MessageTypeScans = "scans"
	writeWait        = time.Second
)

// WSMessage is the envelope sent to WebSocket clients.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient serializes writes, gorilla connections allow one writer at a time.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub broadcasts batches to every connected WebSocket client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

func (h *Hub) add(conn *websocket.Conn) *wsClient {
	c := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
// Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.V(2).InfoS("Failed to upgrade websocket", "remote", r.RemoteAddr, "err", err)
		return
	}
	client := h.add(conn)
	klog.V(4).InfoS("Websocket client connected", "remote", r.RemoteAddr)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			klog.V(4).InfoS("Websocket client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

// Broadcast marshals msg once and writes it to every client. Failed clients
// are dropped.
func (h *Hub) Broadcast(msg WSMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal websocket message")
	}
	h.mu.RLock()
	var failed []*wsClient
	for c := range h.clients {
		if err := c.write(b); err != nil {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range failed {
		h.remove(c)
	}
	return nil
}

func (h *Hub) Publish(_ context.Context, batch *stream.Batch) error {
	if h.Clients() == 0 {
		return nil
	}
	return h.Broadcast(WSMessage{Type: MessageTypeScans, Data: batch})
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream stopped"), time.Now().Add(writeWait))
		_ = c.conn.Close()
		delete(h.clients, c)
	}
	return nil
}
