// Package wsout broadcasts feature records to WebSocket subscribers.
// Clients subscribe per symbol; on connect they receive the latest record
// for each subscribed symbol before the live stream.
package wsout

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"stock-evalv1/internal/model"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same-origin policy is handled by the deployment proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is the frame sent to clients.
type envelope struct {
	Channel string          `json:"channel"` // "feat:{symbol}"
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Initial bool            `json:"initial,omitempty"`
}

// Hub manages WebSocket clients and fans feature records out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // symbol → last broadcast record

	// OnClientCount is called with the connected client count on every
	// add/remove (for the metrics gauge).
	OnClientCount func(n int)
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
	}
}

// Run consumes feature records and broadcasts them until ctx is done or the
// channel closes.
func (h *Hub) Run(ctx context.Context, recCh <-chan model.FeatureRecord) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case rec, ok := <-recCh:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(&rec)
		}
	}
}

// ServeWS upgrades the HTTP request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wsout] upgrade failed: %v", err)
		return
	}

	c := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	h.addClient(c)

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(rec *model.FeatureRecord) {
	data := rec.JSON()
	env, err := json.Marshal(envelope{
		Channel: rec.StreamKey(),
		Data:    data,
		TS:      rec.TS.Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	h.latest[rec.Symbol] = latestEntry{Data: data, TS: rec.TS}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(rec.Symbol) {
			continue
		}
		select {
		case c.send <- env:
		default:
			// Slow consumer: drop the frame rather than stall the hub.
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
	log.Printf("[wsout] client connected (%d total)", n)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// sendInitialState pushes the latest record for each subscribed symbol.
func (h *Hub) sendInitialState(c *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for symbol, entry := range h.latest {
		if !c.wants(symbol) {
			continue
		}
		env, _ := json.Marshal(envelope{
			Channel: "feat:" + symbol,
			Data:    entry.Data,
			TS:      entry.TS.Format(time.RFC3339Nano),
			Initial: true,
		})
		select {
		case c.send <- env:
		default:
		}
	}
}
