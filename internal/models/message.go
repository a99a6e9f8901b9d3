package models

import "time"

// Message types accepted by the server.
const (
	MessageTypeText       = "text"
	MessageTypeAttachment = "attachment"
)

// Message is a chat message. Messages are append-only: after creation only
// the pinned flag and the ReadBy set change, and ReadBy only grows.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	SenderName     string     `json:"sender_name"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	AttachmentID   string     `json:"attachment_id,omitempty"`
	AttachmentName string     `json:"attachment_name,omitempty"`
	ReadBy         []string   `json:"read_by"`
	CreatedAt      time.Time  `json:"created_at"`
	IsOwn          bool       `json:"is_own"`
	IsPinned       bool       `json:"is_pinned"`
	PinnedBy       string     `json:"pinned_by,omitempty"`
	PinnedAt       *time.Time `json:"pinned_at,omitempty"`
}

// MessageCreate is the request body for posting a message.
type MessageCreate struct {
	Content      string `json:"content"`
	MessageType  string `json:"message_type"`
	AttachmentID string `json:"attachment_id,omitempty"`
}
