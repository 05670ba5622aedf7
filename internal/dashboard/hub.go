package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fixturefeed/logger"
	"fixturefeed/models"
)

const (
	hubSendBuffer = 8
	hubWriteWait  = 5 * time.Second
)

// refreshEvent is pushed to websocket clients whenever the cache is filled.
type refreshEvent struct {
	Type        string    `json:"type"`
	RunID       string    `json:"run_id"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Rows        int       `json:"rows"`
	Skipped     int       `json:"skipped"`
	Issues      int       `json:"issues"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans refresh notifications out to connected websocket clients. Slow
// clients whose buffer is full are disconnected.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
	log      *logger.Log
}

func NewHub(log *logger.Log) *Hub {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// PublishRefresh matches the cache fill hook signature.
func (h *Hub) PublishRefresh(entry *models.CacheEntry) {
	if h == nil || entry == nil {
		return
	}
	event := refreshEvent{
		Type:        "refresh",
		RunID:       entry.RunID,
		RefreshedAt: entry.CreatedAt,
		Rows:        entry.Table.Len(),
	}
	if entry.Table != nil {
		event.Skipped = entry.Table.Skipped
		event.Issues = len(entry.Table.Issues)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.WithComponent("ws_hub").WithError(err).Warn("failed to encode refresh event")
		return
	}
	h.broadcast(payload)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.WithComponent("ws_hub").Warn("websocket client too slow; dropping connection")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients reports the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the connection until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithComponent("ws_hub").WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *hubClient) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	defer c.conn.Close()
	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
