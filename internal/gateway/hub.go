package gateway

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub manages WebSocket clients and fans pane updates out to them. Each
// client may narrow delivery to a set of pane ids; with no subscriptions it
// receives every pane.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string][]byte // pane id -> last published envelope

	// Metrics hooks (optional).
	OnClientCount func(n int)
	OnMessage     func()
}

// NewHub creates a hub with no connected clients.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string][]byte),
	}
}

// PublishPane broadcasts a pane snapshot to every interested client and
// records it as the pane's latest state for newly connecting clients.
func (h *Hub) PublishPane(snap PaneSnapshot) {
	envelope, err := json.Marshal(Envelope{Type: "pane", Pane: &snap})
	if err != nil {
		log.Printf("[gateway] envelope marshal error: %v", err)
		return
	}

	h.mu.Lock()
	h.latest[snap.ID] = envelope
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wantsPane(snap.ID) {
			continue
		}
		select {
		case client.send <- envelope:
			if h.OnMessage != nil {
				h.OnMessage()
			}
		default:
			// Slow client: drop rather than block the publisher.
		}
	}
}

// DropPane forgets a closed pane's cached state.
func (h *Hub) DropPane(id string) {
	h.mu.Lock()
	delete(h.latest, id)
	h.mu.Unlock()
}

// HandleWSRequest registers an upgraded connection and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) {
	client := &Client{
		conn:  conn,
		send:  make(chan []byte, 256),
		hub:   h,
		panes: make(map[string]bool),
	}

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
