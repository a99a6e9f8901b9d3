package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire tags of the realtime envelope.
const (
	EventTypeConnected    = "connected"
	EventTypeNotification = "notification"
	EventTypeChatMessage  = "chat_message"
	EventTypeTyping       = "typing"
	EventTypeReadReceipt  = "read_receipt"
	EventTypePong         = "pong"
)

// ErrUnknownEvent marks a frame whose type tag is valid JSON but not one the
// client models. Unknown tags are skipped without tearing down the channel.
var ErrUnknownEvent = errors.New("unknown realtime event type")

// Event is one decoded realtime frame. The concrete type is one of
// ConnectedEvent, NotificationEvent, ChatMessageEvent, TypingEvent,
// ReadReceiptEvent or PongEvent.
type Event interface {
	EventType() string
}

// ConnectedEvent is the hello frame the server sends right after the
// websocket handshake.
type ConnectedEvent struct {
	UserID  string `json:"user_id"`
	Message string `json:"message,omitempty"`
}

// NotificationEvent carries a freshly created notification.
type NotificationEvent struct {
	Notification Notification
}

// ChatMessageEvent carries a freshly created chat message.
type ChatMessageEvent struct {
	Message Message
}

// TypingEvent signals that a participant started or stopped typing.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	IsTyping       bool   `json:"is_typing"`
}

// ReadReceiptEvent records that a user has read a set of messages.
type ReadReceiptEvent struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id"`
	MessageIDs     []string `json:"message_ids"`
}

// PongEvent is the server's reply to a client keepalive ping.
type PongEvent struct{}

func (ConnectedEvent) EventType() string    { return EventTypeConnected }
func (NotificationEvent) EventType() string { return EventTypeNotification }
func (ChatMessageEvent) EventType() string  { return EventTypeChatMessage }
func (TypingEvent) EventType() string       { return EventTypeTyping }
func (ReadReceiptEvent) EventType() string  { return EventTypeReadReceipt }
func (PongEvent) EventType() string         { return EventTypePong }

// Envelope is the raw {type,data} frame exchanged over the websocket.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TypingSignal is the only client-to-server frame besides ping.
type TypingSignal struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// DecodeEvent parses one inbound frame into its typed variant. A frame that
// is not valid JSON or whose payload does not match its tag returns a decode
// error; a well-formed frame with an unmodeled tag returns ErrUnknownEvent.
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case EventTypeConnected:
		var ev ConnectedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode connected payload: %w", err)
		}
		return ev, nil
	case EventTypeNotification:
		var n Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return nil, fmt.Errorf("decode notification payload: %w", err)
		}
		return NotificationEvent{Notification: n}, nil
	case EventTypeChatMessage:
		var m Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, fmt.Errorf("decode chat_message payload: %w", err)
		}
		return ChatMessageEvent{Message: m}, nil
	case EventTypeTyping:
		var ev TypingEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode typing payload: %w", err)
		}
		return ev, nil
	case EventTypeReadReceipt:
		var ev ReadReceiptEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode read_receipt payload: %w", err)
		}
		return ev, nil
	case EventTypePong:
		return PongEvent{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}
