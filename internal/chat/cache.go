// Package chat maintains the client-side conversation and message caches:
// idempotent merge of REST history with push delivery, per-conversation
// typing state, read receipts and pin ordering.
package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskflow-client/internal/models"
	"taskflow-client/internal/observability"
)

const defaultTypingTimeout = 3 * time.Second

// API is the REST subset the cache needs.
type API interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	CreateConversation(ctx context.Context, req models.ConversationCreate) (models.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID string, req models.MessageCreate) (models.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID string, messageIDs []string) error
	PinConversation(ctx context.Context, conversationID string, pin bool) error
	PinMessage(ctx context.Context, conversationID, messageID string, pin bool) error
	PinnedMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SearchMessages(ctx context.Context, q, conversationID string) ([]models.SearchResult, error)
}

// Alerter plays the audible cue for an inbound message from someone else.
type Alerter interface {
	Notify()
}

// Typer is the transient "who is typing" slot of one conversation. At most
// one typer is tracked per conversation; last writer wins.
type Typer struct {
	UserID   string
	UserName string
}

// Cache is the in-memory conversation/message store for one session.
type Cache struct {
	api    API
	alert  Alerter
	selfID string

	typingTimeout time.Duration

	mu       sync.Mutex
	convs    map[string]*models.Conversation
	messages map[string][]models.Message
	msgSeen  map[string]map[string]struct{}
	typing   map[string]*typingSlot
	onChange func()
}

type typingSlot struct {
	typer Typer
	timer *time.Timer
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTypingTimeout overrides the silence interval after which a typing
// indicator clears on its own.
func WithTypingTimeout(d time.Duration) Option {
	return func(c *Cache) { c.typingTimeout = d }
}

// WithChangeListener registers a callback fired after every cache mutation.
func WithChangeListener(fn func()) Option {
	return func(c *Cache) { c.onChange = fn }
}

// NewCache creates an empty cache for the given viewer.
func NewCache(api API, alert Alerter, selfID string, opts ...Option) *Cache {
	c := &Cache{
		api:           api,
		alert:         alert,
		selfID:        selfID,
		typingTimeout: defaultTypingTimeout,
		convs:         map[string]*models.Conversation{},
		messages:      map[string][]models.Message{},
		msgSeen:       map[string]map[string]struct{}{},
		typing:        map[string]*typingSlot{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// LoadConversations replaces the conversation list from REST. The server's
// set is authoritative: a conversation the viewer left or that was deleted
// drops out of the cache here.
func (c *Cache) LoadConversations(ctx context.Context) error {
	fetched, err := c.api.Conversations(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	convs := make(map[string]*models.Conversation, len(fetched))
	for i := range fetched {
		conv := fetched[i]
		convs[conv.ID] = &conv
	}
	c.convs = convs
	c.mu.Unlock()
	c.changed()
	return nil
}

// Conversations returns the conversation list in display order: pinned first
// (stable among themselves), then by last-message time descending.
func (c *Cache) Conversations() []models.Conversation {
	c.mu.Lock()
	out := make([]models.Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		out = append(out, *conv)
	}
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})
	return out
}

func lastActivity(conv models.Conversation) time.Time {
	if conv.LastMessageAt != nil {
		return *conv.LastMessageAt
	}
	return conv.CreatedAt
}

// Conversation returns one conversation by identifier.
func (c *Cache) Conversation(id string) (models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.convs[id]
	if !ok {
		return models.Conversation{}, false
	}
	return *conv, true
}

// CreateConversation creates a conversation via REST and caches it.
func (c *Cache) CreateConversation(ctx context.Context, req models.ConversationCreate) (models.Conversation, error) {
	conv, err := c.api.CreateConversation(ctx, req)
	if err != nil {
		return models.Conversation{}, err
	}
	c.mu.Lock()
	c.convs[conv.ID] = &conv
	c.mu.Unlock()
	c.changed()
	return conv, nil
}

// LoadMessages merges the REST history of a conversation into the cache.
// History fetch and push delivery may race and double-deliver the same
// identifier; the merge is idempotent on identifier.
func (c *Cache) LoadMessages(ctx context.Context, conversationID string) error {
	fetched, err := c.api.Messages(ctx, conversationID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, m := range fetched {
		c.appendLocked(m)
	}
	c.sortMessagesLocked(conversationID)
	c.mu.Unlock()
	c.changed()
	return nil
}

// Messages returns the cached messages of a conversation, oldest first.
func (c *Cache) Messages(conversationID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out
}

// OnChatMessage applies one inbound push event: idempotent append, preview
// and unread bookkeeping on the conversation, alert when the sender is
// someone else.
func (c *Cache) OnChatMessage(m models.Message) {
	c.mu.Lock()
	if !c.appendLocked(m) {
		c.mu.Unlock()
		observability.IncDedupDrop("chat_message")
		return
	}
	c.touchConversationLocked(m)
	// A message from the sender clears their typing indicator.
	if slot, ok := c.typing[m.ConversationID]; ok && slot.typer.UserID == m.SenderID {
		c.clearTypingLocked(m.ConversationID)
	}
	fromOther := m.SenderID != c.selfID
	c.mu.Unlock()

	if fromOther && c.alert != nil {
		c.alert.Notify()
	}
	c.changed()
}

// Send creates the durable message via REST and appends the returned copy;
// the realtime echo of the same identifier deduplicates against it.
func (c *Cache) Send(ctx context.Context, conversationID string, req models.MessageCreate) (models.Message, error) {
	msg, err := c.api.SendMessage(ctx, conversationID, req)
	if err != nil {
		return models.Message{}, err
	}
	c.mu.Lock()
	if c.appendLocked(msg) {
		c.touchConversationLocked(msg)
	}
	c.mu.Unlock()
	c.changed()
	return msg, nil
}

// OnTyping sets or clears the current-typer slot of a conversation. Last
// writer wins; the slot self-clears after the silence interval.
func (c *Cache) OnTyping(ev models.TypingEvent) {
	c.mu.Lock()
	if !ev.IsTyping {
		if slot, ok := c.typing[ev.ConversationID]; ok && slot.typer.UserID == ev.UserID {
			c.clearTypingLocked(ev.ConversationID)
		}
		c.mu.Unlock()
		c.changed()
		return
	}

	if slot, ok := c.typing[ev.ConversationID]; ok {
		slot.typer = Typer{UserID: ev.UserID, UserName: ev.UserName}
		slot.timer.Reset(c.typingTimeout)
		c.mu.Unlock()
		c.changed()
		return
	}

	convID := ev.ConversationID
	slot := &typingSlot{typer: Typer{UserID: ev.UserID, UserName: ev.UserName}}
	slot.timer = time.AfterFunc(c.typingTimeout, func() {
		c.mu.Lock()
		if c.typing[convID] == slot {
			delete(c.typing, convID)
		}
		c.mu.Unlock()
		c.changed()
	})
	c.typing[convID] = slot
	c.mu.Unlock()
	c.changed()
}

// TypingUser reports who is currently typing in a conversation, if anyone.
func (c *Cache) TypingUser(conversationID string) (Typer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.typing[conversationID]
	if !ok {
		return Typer{}, false
	}
	return slot.typer, true
}

// OnReadReceipt records that a user has read a set of messages. ReadBy sets
// only grow; a receipt never removes a reader.
func (c *Cache) OnReadReceipt(ev models.ReadReceiptEvent) {
	wanted := make(map[string]struct{}, len(ev.MessageIDs))
	for _, id := range ev.MessageIDs {
		wanted[id] = struct{}{}
	}

	c.mu.Lock()
	msgs := c.messages[ev.ConversationID]
	for i := range msgs {
		if _, ok := wanted[msgs[i].ID]; !ok {
			continue
		}
		if !contains(msgs[i].ReadBy, ev.UserID) {
			msgs[i].ReadBy = append(msgs[i].ReadBy, ev.UserID)
		}
	}
	c.mu.Unlock()
	c.changed()
}

// MarkRead optimistically records the viewer as a reader of the given
// messages and zeroes the conversation's unread count, then confirms via
// REST.
func (c *Cache) MarkRead(ctx context.Context, conversationID string, messageIDs []string) error {
	c.OnReadReceipt(models.ReadReceiptEvent{ConversationID: conversationID, UserID: c.selfID, MessageIDs: messageIDs})

	c.mu.Lock()
	if conv, ok := c.convs[conversationID]; ok {
		conv.UnreadCount = 0
	}
	c.mu.Unlock()
	c.changed()

	return c.api.MarkMessagesRead(ctx, conversationID, messageIDs)
}

// PinConversation optimistically toggles the per-viewer pin and confirms via
// REST; on failure the flip is reverted.
func (c *Cache) PinConversation(ctx context.Context, conversationID string, pin bool) error {
	c.mu.Lock()
	conv, ok := c.convs[conversationID]
	if ok {
		conv.IsPinned = pin
	}
	c.mu.Unlock()
	c.changed()

	err := c.api.PinConversation(ctx, conversationID, pin)
	if err != nil && ok {
		c.mu.Lock()
		if conv, ok := c.convs[conversationID]; ok {
			conv.IsPinned = !pin
		}
		c.mu.Unlock()
		c.changed()
	}
	return err
}

// PinMessage toggles a message pin via REST and mirrors it locally.
func (c *Cache) PinMessage(ctx context.Context, conversationID, messageID string, pin bool) error {
	if err := c.api.PinMessage(ctx, conversationID, messageID, pin); err != nil {
		return err
	}
	c.mu.Lock()
	msgs := c.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].IsPinned = pin
			break
		}
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// PinnedMessages lists the pinned messages of a conversation from REST.
func (c *Cache) PinnedMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return c.api.PinnedMessages(ctx, conversationID)
}

// Search searches message content via REST.
func (c *Cache) Search(ctx context.Context, q, conversationID string) ([]models.SearchResult, error) {
	return c.api.SearchMessages(ctx, q, conversationID)
}

// appendLocked adds a message unless its identifier was already applied.
// Caller holds the lock. Reports whether the message was new.
func (c *Cache) appendLocked(m models.Message) bool {
	seen, ok := c.msgSeen[m.ConversationID]
	if !ok {
		seen = map[string]struct{}{}
		c.msgSeen[m.ConversationID] = seen
	}
	if _, dup := seen[m.ID]; dup {
		return false
	}
	seen[m.ID] = struct{}{}
	c.messages[m.ConversationID] = append(c.messages[m.ConversationID], m)
	return true
}

// touchConversationLocked updates preview, ordering key and unread count of
// the conversation a new message belongs to. Caller holds the lock.
func (c *Cache) touchConversationLocked(m models.Message) {
	conv, ok := c.convs[m.ConversationID]
	if !ok {
		return
	}
	conv.LastMessage = m.Content
	at := m.CreatedAt
	conv.LastMessageAt = &at
	conv.UpdatedAt = m.CreatedAt
	if m.SenderID != c.selfID {
		conv.UnreadCount++
	}
}

func (c *Cache) sortMessagesLocked(conversationID string) {
	msgs := c.messages[conversationID]
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func (c *Cache) clearTypingLocked(conversationID string) {
	if slot, ok := c.typing[conversationID]; ok {
		slot.timer.Stop()
		delete(c.typing, conversationID)
	}
}

func contains(list []string, v string) bool {
	for _, it := range list {
		if it == v {
			return true
		}
	}
	return false
}
