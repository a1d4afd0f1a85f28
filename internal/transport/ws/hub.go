// Package ws implements C6's WebSocket front end: a hub that fans out
// the bridge orchestrator's events.Bus traffic to connected controllers
// as a live tail, grounded on the teacher's internal/server/hub.go
// (same register/unregister/broadcast channel trio and read/write pump
// goroutines per client), narrowed to forward events.Event instead of
// arbitrary dashboard state.
package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aibridge/bridge/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64
)

// Client is one connected controller's websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the set of connected clients and the channel that feeds
// them, exactly the shape of the teacher's own Hub.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	register  chan *Client
	unregister chan *Client
	broadcast chan []byte
}

// NewHub builds an unstarted Hub; call Run in a goroutine before
// accepting connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run drains the register/unregister/broadcast channels and never
// returns; there is no stop channel because the process exits with the
// listener, matching the teacher's Hub.Run.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than block every
					// other client on one stuck connection.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ClientCount reports how many controllers are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastEvent marshals ev and fans it out to every connected client.
func (h *Hub) BroadcastEvent(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[WS] marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("[WS] broadcast channel full, dropping event %s", ev.ID)
	}
}

// SubscribeBus attaches the hub to bus as an "all"-target subscriber,
// forwarding every event the bridge orchestrator publishes (spec.md
// §4.7: "a live tail, not a queryable history"). Returns a function
// that tears the subscription down.
func (h *Hub) SubscribeBus(bus *events.Bus) func() {
	ch := bus.Subscribe("all", nil)
	go func() {
		for ev := range ch {
			h.BroadcastEvent(ev)
		}
	}()
	return func() { bus.Unsubscribe("all", ch) }
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// This transport is outbound-only (a live tail); any inbound
		// frame is read and discarded purely to keep the connection
		// alive and notice client-initiated closes, same as the
		// teacher's own readPump.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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

// handleUpgrade is the http.HandlerFunc that upgrades a request and
// registers it with the hub.
func handleUpgrade(hub *Hub, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := &Client{hub: hub, conn: conn, send: make(chan []byte, sendBufferSize)}
		hub.register <- c
		go c.writePump()
		go c.readPump()
	}
}
