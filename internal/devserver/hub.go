package devserver

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"taskflow-client/internal/models"
)

// client is one websocket connection with its write serialized.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(env models.Envelope) error {
	payload, _ := json.Marshal(env)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// hub maintains the active websocket connections per user. A user may be
// connected from several devices at once.
type hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[string]map[*client]bool)}
}

func (h *hub) add(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[*client]bool)
	}
	h.clients[userID][c] = true
}

func (h *hub) remove(userID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
}

// sendToUser delivers one frame to every connection of a user. Connections
// that fail to write are dropped.
func (h *hub) sendToUser(userID string, env models.Envelope) {
	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(env); err != nil {
			log.Printf("devserver: websocket write error: %v", err)
			c.conn.Close()
			h.remove(userID, c)
		}
	}
}

// sendToUsers fans one frame out to several users.
func (h *hub) sendToUsers(userIDs []string, env models.Envelope) {
	for _, id := range userIDs {
		h.sendToUser(id, env)
	}
}
