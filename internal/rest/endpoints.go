package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"taskflow-client/internal/models"
)

// Notifications fetches the most recent notifications, newest first.
func (c *Client) Notifications(ctx context.Context, limit int) ([]models.Notification, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []models.Notification
	if err := c.do(ctx, http.MethodGet, "/api/notifications", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnreadCount fetches the server-side unread notification count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out models.UnreadCount
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

// MarkNotificationRead confirms an optimistic local mark-read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/mark-read/"+id, nil, nil, nil)
}

// MarkAllNotificationsRead marks every notification read server-side.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/mark-all-read", nil, nil, nil)
}

// Conversations lists the viewer's conversations.
func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation creates a direct or group conversation.
func (c *Client) CreateConversation(ctx context.Context, req models.ConversationCreate) (models.Conversation, error) {
	var out models.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/chat/conversations", nil, req, &out); err != nil {
		return models.Conversation{}, err
	}
	return out, nil
}

// Messages fetches the message history of a conversation, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	route := "/api/chat/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, http.MethodGet, route, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage creates a durable message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, conversationID string, req models.MessageCreate) (models.Message, error) {
	var out models.Message
	route := "/api/chat/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, http.MethodPost, route, nil, req, &out); err != nil {
		return models.Message{}, err
	}
	return out, nil
}

// MarkMessagesRead reports that the viewer has read the given messages.
func (c *Client) MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error {
	route := "/api/chat/conversations/" + conversationID + "/read"
	return c.do(ctx, http.MethodPost, route, nil, map[string][]string{"message_ids": messageIDs}, nil)
}

// PinConversation pins or unpins a conversation for the viewer.
func (c *Client) PinConversation(ctx context.Context, conversationID string, pin bool) error {
	route := "/api/chat/conversations/" + conversationID + "/pin"
	return c.do(ctx, http.MethodPost, route, nil, map[string]bool{"pin": pin}, nil)
}

// PinMessage pins or unpins a message.
func (c *Client) PinMessage(ctx context.Context, conversationID, messageID string, pin bool) error {
	route := "/api/chat/conversations/" + conversationID + "/messages/" + messageID + "/pin"
	return c.do(ctx, http.MethodPost, route, nil, map[string]bool{"pin": pin}, nil)
}

// PinnedMessages lists the pinned messages of a conversation.
func (c *Client) PinnedMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out []models.Message
	route := "/api/chat/conversations/" + conversationID + "/pinned-messages"
	if err := c.do(ctx, http.MethodGet, route, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchMessages searches message content, optionally within one conversation.
func (c *Client) SearchMessages(ctx context.Context, q, conversationID string) ([]models.SearchResult, error) {
	query := url.Values{"q": {q}}
	if conversationID != "" {
		query.Set("conversation_id", conversationID)
	}
	var out []models.SearchResult
	if err := c.do(ctx, http.MethodGet, "/api/chat/search", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadAttachment uploads a file to a conversation as multipart form data.
// Callers are expected to have validated name and size already; the server
// remains the authority and may still reject the file. The body is fully
// buffered, so a 401 gets the same one-shot refresh-and-replay as JSON calls.
func (c *Client) UploadAttachment(ctx context.Context, conversationID, fileName string, content io.Reader) (models.ChatAttachment, error) {
	route := "/api/chat/conversations/" + conversationID + "/attachments"
	op := "POST " + route

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return models.ChatAttachment{}, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return models.ChatAttachment{}, fmt.Errorf("%s: read file: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return models.ChatAttachment{}, err
	}

	resp, err := c.doRaw(ctx, http.MethodPost, route, mw.FormDataContentType(), func() io.Reader {
		return bytes.NewReader(buf.Bytes())
	})
	if err != nil {
		return models.ChatAttachment{}, err
	}
	defer resp.Body.Close()

	var out models.ChatAttachment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.ChatAttachment{}, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return out, nil
}

// DownloadAttachment streams an attachment's content. The caller closes the
// returned reader.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentID string) (io.ReadCloser, error) {
	route := "/api/chat/attachments/" + attachmentID + "/download"
	resp, err := c.doRaw(ctx, http.MethodGet, route, "", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
