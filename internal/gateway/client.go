package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Pane subscriptions; empty means receive every pane.
	subMu sync.RWMutex
	panes map[string]bool
}

// clientMsg is the inbound message shape.
type clientMsg struct {
	Type string `json:"type"` // "subscribe", "unsubscribe"
	Pane string `json:"pane"`
	Ping int64  `json:"ping"`
}

// wantsPane reports whether the client should receive updates for a pane.
func (c *Client) wantsPane(id string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.panes) == 0 {
		return true
	}
	return c.panes[id]
}

// sendInitialState pushes the latest snapshot of every subscribed pane so a
// reconnecting client renders immediately without a REST round trip.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for id, envelope := range c.hub.latest {
		if !c.wantsPane(id) {
			continue
		}
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: use NextWriter to batch queued messages
			// into a single WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			// Drain any queued messages into the same write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var m clientMsg
		if json.Unmarshal(msg, &m) != nil {
			continue
		}

		switch m.Type {
		case "subscribe":
			if m.Pane == "" {
				continue
			}
			c.subMu.Lock()
			c.panes[m.Pane] = true
			c.subMu.Unlock()

		case "unsubscribe":
			c.subMu.Lock()
			delete(c.panes, m.Pane)
			c.subMu.Unlock()

		default:
			if m.Ping > 0 {
				pong, _ := json.Marshal(Envelope{Type: "pong", Ping: m.Ping})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}
