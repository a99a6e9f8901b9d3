package models

import "time"

// Conversation is a direct or group chat as reported by the server. IsPinned
// is per-viewer; UnreadCount counts messages the viewer has not read.
type Conversation struct {
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	IsGroup          bool       `json:"is_group"`
	Participants     []string   `json:"participants"`
	ParticipantNames []string   `json:"participant_names"`
	CreatedBy        string     `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastMessage      string     `json:"last_message,omitempty"`
	LastMessageAt    *time.Time `json:"last_message_at,omitempty"`
	UnreadCount      int        `json:"unread_count"`
	IsPinned         bool       `json:"is_pinned"`
}

// ConversationCreate is the request body for creating a conversation.
type ConversationCreate struct {
	Name           string   `json:"name,omitempty"`
	IsGroup        bool     `json:"is_group"`
	ParticipantIDs []string `json:"participant_ids"`
}

// ChatAttachment describes an uploaded file attached to a message.
type ChatAttachment struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	UploadedBy     string    `json:"uploaded_by"`
	UploadedByName string    `json:"uploaded_by_name"`
	FileName       string    `json:"file_name"`
	FileType       string    `json:"file_type"`
	FileSize       int64     `json:"file_size"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// SearchResult is one hit from the message search endpoint.
type SearchResult struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	ConversationName string    `json:"conversation_name,omitempty"`
	SenderID         string    `json:"sender_id"`
	SenderName       string    `json:"sender_name"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	IsPinned         bool      `json:"is_pinned"`
}
