// Package status exposes sync progress to local UIs over WebSocket.
package status

import (
	"encoding/json"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/construtech/rdosync/internal/logging"
	"github.com/construtech/rdosync/internal/sync"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Local UIs only.
		return true
	},
}

// Event types pushed to clients.
const (
	EventSyncStatus   = "sync.status"
	EventSyncProgress = "sync.progress"
	EventConnectivity = "connectivity.status"
)

// Envelope wraps every message sent to a client.
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// client is one WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans sync events out to connected WebSocket clients. Clients that fall
// behind are dropped rather than allowed to stall the broadcast.
type Hub struct {
	clients    map[string]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	stopOnce gosync.Once
	stopCh   chan struct{}
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		stopCh:     make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			logging.Debug("status client connected", logging.Fields{
				"client": c.id, "total": len(h.clients),
			})

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}

		case message := <-h.broadcast:
			for id, c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, id)
				}
			}

		case <-h.stopCh:
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			return
		}
	}
}

// Stop shuts down the dispatch loop and disconnects all clients.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Broadcast sends an envelope to every connected client.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	env := Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		logging.Error("failed to marshal status event", err, nil)
		return
	}
	select {
	case h.broadcast <- raw:
	default:
	}
}

// Bridge subscribes to the sync service and starts a goroutine that
// rebroadcasts its events until the subscription is closed. The returned
// function unsubscribes and ends the forwarding.
func (h *Hub) Bridge(svc *sync.Service) (unsubscribe func()) {
	id, ch := svc.Subscribe()
	go func() {
		for ev := range ch {
			h.Broadcast(EventSyncStatus, map[string]interface{}{
				"status":   string(ev.Status),
				"message":  ev.Message,
				"progress": ev.Progress,
			})
		}
	}()
	return func() { svc.Unsubscribe(id) }
}

// Handler upgrades HTTP requests to WebSocket connections on the hub.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error("websocket upgrade failed", err, nil)
			return
		}

		c := &client{
			id:   time.Now().Format("20060102150405.000") + "-" + r.RemoteAddr,
			conn: conn,
			send: make(chan []byte, 256),
			hub:  h,
		}
		h.register <- c

		go c.writePump()
		go c.readPump()
	}
}

// readPump discards client messages and detects disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("status client read error", logging.Fields{"error": err.Error()})
			}
			return
		}
	}
}

// writePump forwards broadcasts to the connection and keeps it alive with
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
