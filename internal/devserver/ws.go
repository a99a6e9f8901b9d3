package devserver

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taskflow-client/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection, sends the hello frame and serves the
// client until it disconnects.
func (s *Server) handleWS(c *gin.Context) {
	userID, ok := s.parseAccessToken(c.Query("token"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &client{conn: conn}
	s.hub.add(userID, cl)

	hello, _ := json.Marshal(models.ConnectedEvent{UserID: userID, Message: "Connected to notification service"})
	if err := cl.send(models.Envelope{Type: models.EventTypeConnected, Data: hello}); err != nil {
		s.hub.remove(userID, cl)
		conn.Close()
		return
	}

	go s.readLoop(userID, cl)
}

func (s *Server) readLoop(userID string, cl *client) {
	defer func() {
		s.hub.remove(userID, cl)
		cl.conn.Close()
	}()
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame struct {
			Type           string `json:"type"`
			ConversationID string `json:"conversation_id"`
			IsTyping       bool   `json:"is_typing"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case "ping":
			_ = cl.send(models.Envelope{Type: models.EventTypePong})
		case "typing":
			s.broadcastTyping(userID, frame.ConversationID, frame.IsTyping)
		}
	}
}

// broadcastTyping relays a typing signal to the other participants of the
// conversation. The sender never sees its own indicator.
func (s *Server) broadcastTyping(userID, convID string, isTyping bool) {
	s.mu.Lock()
	conv, ok := s.conversations[convID]
	if !ok || !s.isParticipantLocked(convID, userID) {
		s.mu.Unlock()
		return
	}
	others := otherParticipants(conv, userID)
	userName := s.users[userID].Name
	s.mu.Unlock()

	data, _ := json.Marshal(models.TypingEvent{
		ConversationID: convID,
		UserID:         userID,
		UserName:       userName,
		IsTyping:       isTyping,
	})
	s.hub.sendToUsers(others, models.Envelope{Type: models.EventTypeTyping, Data: data})
}
