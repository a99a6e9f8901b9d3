package models

import "time"

// Notification is a server-issued notification mirrored into the client
// cache. The read flag is the only field that changes after creation.
type Notification struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	RelatedTaskID string    `json:"related_task_id,omitempty"`
	Message       string    `json:"message"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}

// UnreadCount is the response of the unread-count endpoint.
type UnreadCount struct {
	UnreadCount int `json:"unread_count"`
}
