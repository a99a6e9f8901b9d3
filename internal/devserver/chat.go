package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskflow-client/internal/models"
)

const maxAttachmentSize = 10 * 1024 * 1024

var allowedAttachmentExts = map[string]bool{
	".pdf": true, ".jpg": true, ".jpeg": true, ".png": true, ".doc": true, ".docx": true,
}

func (s *Server) isParticipantLocked(convID, userID string) bool {
	conv, ok := s.conversations[convID]
	if !ok {
		return false
	}
	for _, p := range conv.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// viewLocked renders a conversation as one viewer sees it: pin state and
// unread count are per viewer.
func (s *Server) viewLocked(conv *models.Conversation, userID string) models.Conversation {
	out := *conv
	out.IsPinned = s.pins[conv.ID][userID]
	out.UnreadCount = 0
	for _, m := range s.messages[conv.ID] {
		if m.SenderID == userID {
			continue
		}
		read := false
		for _, r := range m.ReadBy {
			if r == userID {
				read = true
				break
			}
		}
		if !read {
			out.UnreadCount++
		}
	}
	return out
}

func (s *Server) listConversations(c *gin.Context) {
	userID := currentUserID(c)

	s.mu.Lock()
	var out []models.Conversation
	for _, conv := range s.conversations {
		if s.isParticipantLocked(conv.ID, userID) {
			out = append(out, s.viewLocked(conv, userID))
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if out == nil {
		out = []models.Conversation{}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createConversation(c *gin.Context) {
	userID := currentUserID(c)
	var req models.ConversationCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	participants := append([]string{userID}, req.ParticipantIDs...)
	seen := map[string]bool{}
	unique := participants[:0]
	for _, p := range participants {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		Name:         req.Name,
		IsGroup:      req.IsGroup,
		Participants: unique,
		CreatedBy:    userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	for _, p := range unique {
		if u, ok := s.users[p]; ok {
			conv.ParticipantNames = append(conv.ParticipantNames, u.Name)
		}
	}
	s.conversations[conv.ID] = conv
	view := s.viewLocked(conv, userID)
	s.mu.Unlock()

	c.JSON(http.StatusOK, view)
}

func (s *Server) listMessages(c *gin.Context) {
	userID := currentUserID(c)
	convID := c.Param("id")

	s.mu.Lock()
	if !s.isParticipantLocked(convID, userID) {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}
	out := make([]models.Message, len(s.messages[convID]))
	copy(out, s.messages[convID])
	s.mu.Unlock()

	for i := range out {
		out[i].IsOwn = out[i].SenderID == userID
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) sendMessage(c *gin.Context) {
	userID := currentUserID(c)
	convID := c.Param("id")
	var req models.MessageCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if req.MessageType == "" {
		req.MessageType = models.MessageTypeText
	}

	s.mu.Lock()
	if !s.isParticipantLocked(convID, userID) {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}

	now := time.Now()
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       userID,
		SenderName:     s.users[userID].Name,
		Content:        req.Content,
		MessageType:    req.MessageType,
		AttachmentID:   req.AttachmentID,
		CreatedAt:      now,
	}
	if req.AttachmentID != "" {
		if att, ok := s.attachments[req.AttachmentID]; ok {
			msg.AttachmentName = att.meta.FileName
		}
	}

	conv := s.conversations[convID]
	s.messages[convID] = append(s.messages[convID], msg)
	conv.LastMessage = msg.Content
	at := now
	conv.LastMessageAt = &at
	conv.UpdatedAt = now
	participants := append([]string(nil), conv.Participants...)
	s.mu.Unlock()

	// Every participant gets the push, the sender included; clients
	// deduplicate the echo against the REST response by message id.
	data, _ := json.Marshal(msg)
	s.hub.sendToUsers(participants, models.Envelope{Type: models.EventTypeChatMessage, Data: data})

	msg.IsOwn = true
	c.JSON(http.StatusOK, msg)
}

func (s *Server) markMessagesRead(c *gin.Context) {
	userID := currentUserID(c)
	convID := c.Param("id")
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	wanted := map[string]bool{}
	for _, id := range req.MessageIDs {
		wanted[id] = true
	}

	s.mu.Lock()
	if !s.isParticipantLocked(convID, userID) {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}
	msgs := s.messages[convID]
	for i := range msgs {
		if !wanted[msgs[i].ID] {
			continue
		}
		already := false
		for _, r := range msgs[i].ReadBy {
			if r == userID {
				already = true
				break
			}
		}
		if !already {
			msgs[i].ReadBy = append(msgs[i].ReadBy, userID)
		}
	}
	others := otherParticipants(s.conversations[convID], userID)
	s.mu.Unlock()

	data, _ := json.Marshal(models.ReadReceiptEvent{
		ConversationID: convID,
		UserID:         userID,
		MessageIDs:     req.MessageIDs,
	})
	s.hub.sendToUsers(others, models.Envelope{Type: models.EventTypeReadReceipt, Data: data})

	c.JSON(http.StatusOK, gin.H{"message": "marked read"})
}

func (s *Server) pinConversation(c *gin.Context) {
	userID := currentUserID(c)
	convID := c.Param("id")
	var req struct {
		Pin bool `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isParticipantLocked(convID, userID) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}
	if s.pins[convID] == nil {
		s.pins[convID] = make(map[string]bool)
	}
	s.pins[convID][userID] = req.Pin
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (s *Server) pinMessage(c *gin.Context) {
	userID := currentUserID(c)
	convID := c.Param("id")
	messageID := c.Param("message_id")
	var req struct {
		Pin bool `json:"pin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isParticipantLocked(convID, userID) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}
	msgs := s.messages[convID]
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		msgs[i].IsPinned = req.Pin
		if req.Pin {
			msgs[i].PinnedBy = userID
			at := time.Now()
			msgs[i].PinnedAt = &at
		} else {
			msgs[i].PinnedBy = ""
			msgs[i].PinnedAt = nil
		}
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"detail": "message not found"})
}

func (s *Server) pinnedMessages(c *gin.Context) {
	userID := currentUserID(c)
	convID := c.Param("id")

	s.mu.Lock()
	if !s.isParticipantLocked(convID, userID) {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}
	out := []models.Message{}
	for _, m := range s.messages[convID] {
		if m.IsPinned {
			m.IsOwn = m.SenderID == userID
			out = append(out, m)
		}
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, out)
}

func (s *Server) searchMessages(c *gin.Context) {
	userID := currentUserID(c)
	q := strings.ToLower(c.Query("q"))
	convFilter := c.Query("conversation_id")

	s.mu.Lock()
	out := []models.SearchResult{}
	for convID, msgs := range s.messages {
		if convFilter != "" && convID != convFilter {
			continue
		}
		if !s.isParticipantLocked(convID, userID) {
			continue
		}
		convName := s.conversations[convID].Name
		for _, m := range msgs {
			if q == "" || !strings.Contains(strings.ToLower(m.Content), q) {
				continue
			}
			out = append(out, models.SearchResult{
				ID:               m.ID,
				ConversationID:   convID,
				ConversationName: convName,
				SenderID:         m.SenderID,
				SenderName:       m.SenderName,
				Content:          m.Content,
				CreatedAt:        m.CreatedAt,
				IsPinned:         m.IsPinned,
			})
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	c.JSON(http.StatusOK, out)
}

func (s *Server) uploadAttachment(c *gin.Context) {
	userID := currentUserID(c)
	convID := c.Param("id")

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "missing file"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedAttachmentExts[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("file type %s not allowed", ext)})
		return
	}

	content, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unreadable file"})
		return
	}
	if len(content) > maxAttachmentSize {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "file too large"})
		return
	}

	s.mu.Lock()
	if !s.isParticipantLocked(convID, userID) {
		s.mu.Unlock()
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}
	meta := models.ChatAttachment{
		ID:             uuid.NewString(),
		ConversationID: convID,
		UploadedBy:     userID,
		UploadedByName: s.users[userID].Name,
		FileName:       header.Filename,
		FileType:       ext,
		FileSize:       int64(len(content)),
		UploadedAt:     time.Now(),
	}
	s.attachments[meta.ID] = storedAttachment{meta: meta, content: content}
	s.mu.Unlock()

	c.JSON(http.StatusOK, meta)
}

func (s *Server) downloadAttachment(c *gin.Context) {
	userID := currentUserID(c)
	attID := c.Param("id")

	s.mu.Lock()
	att, ok := s.attachments[attID]
	allowed := ok && s.isParticipantLocked(att.meta.ConversationID, userID)
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "attachment not found"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"detail": "not a participant"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.meta.FileName))
	c.Data(http.StatusOK, "application/octet-stream", att.content)
}

func otherParticipants(conv *models.Conversation, userID string) []string {
	out := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}
