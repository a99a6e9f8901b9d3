package devserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskflow-client/internal/models"
)

// PushNotification stores a notification for a user and pushes it over any
// open websocket connections. Missing ID and timestamp are filled in.
func (s *Server) PushNotification(userID string, n models.Notification) models.Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.UserID = userID

	s.mu.Lock()
	s.notifications[userID] = append(s.notifications[userID], n)
	s.mu.Unlock()

	data, _ := json.Marshal(n)
	s.hub.sendToUser(userID, models.Envelope{Type: models.EventTypeNotification, Data: data})
	return n
}

func (s *Server) listNotifications(c *gin.Context) {
	userID := currentUserID(c)
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	s.mu.Lock()
	list := append([]models.Notification(nil), s.notifications[userID]...)
	s.mu.Unlock()

	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if len(list) > limit {
		list = list[:limit]
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) unreadCount(c *gin.Context) {
	userID := currentUserID(c)

	s.mu.Lock()
	n := 0
	for _, it := range s.notifications[userID] {
		if !it.IsRead {
			n++
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, models.UnreadCount{UnreadCount: n})
}

func (s *Server) markNotificationRead(c *gin.Context) {
	userID := currentUserID(c)
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications[userID] {
		if s.notifications[userID][i].ID == id {
			s.notifications[userID][i].IsRead = true
			c.JSON(http.StatusOK, gin.H{"message": "marked read"})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "notification not found"})
}

func (s *Server) markAllNotificationsRead(c *gin.Context) {
	userID := currentUserID(c)

	s.mu.Lock()
	for i := range s.notifications[userID] {
		s.notifications[userID][i].IsRead = true
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"message": "all marked read"})
}
