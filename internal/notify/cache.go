// Package notify maintains the client-side notification cache: inbound push
// events deduplicated by identifier, unread accounting, and a polling
// fallback that repairs any gap the best-effort channel leaves behind.
package notify

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"taskflow-client/internal/models"
	"taskflow-client/internal/observability"
)

// Reference values; override with options.
const (
	defaultPollInterval = 30 * time.Second
	defaultFetchLimit   = 50
	defaultDedupBound   = 4096
)

// API is the REST subset the cache needs.
type API interface {
	Notifications(ctx context.Context, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Alerter plays the audible cue for a genuinely new notification.
type Alerter interface {
	Notify()
}

// Cache is the in-memory notification store for one session. All methods are
// safe for concurrent use; the cache owns its state, views only read.
type Cache struct {
	api   API
	alert Alerter

	pollInterval time.Duration
	fetchLimit   int
	dedupBound   int

	mu        sync.Mutex
	list      []models.Notification // newest first
	seen      map[string]struct{}
	seenOrder []string
	unread    int
	onChange  func()

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// Option customizes a Cache.
type Option func(*Cache)

// WithPollInterval overrides the polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cache) { c.pollInterval = d }
}

// WithFetchLimit overrides the page size of the polling fetch.
func WithFetchLimit(n int) Option {
	return func(c *Cache) { c.fetchLimit = n }
}

// WithDedupBound overrides how many identifiers the dedup set retains.
func WithDedupBound(n int) Option {
	return func(c *Cache) { c.dedupBound = n }
}

// WithChangeListener registers a callback fired after every cache mutation.
func WithChangeListener(fn func()) Option {
	return func(c *Cache) { c.onChange = fn }
}

// NewCache creates an empty notification cache.
func NewCache(api API, alert Alerter, opts ...Option) *Cache {
	c := &Cache{
		api:          api,
		alert:        alert,
		pollInterval: defaultPollInterval,
		fetchLimit:   defaultFetchLimit,
		dedupBound:   defaultDedupBound,
		seen:         map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnNotification applies one inbound push event. Duplicates are dropped by
// identifier; a genuinely new notification lands at the head of the list,
// bumps the unread counter and triggers the alert side-effect.
func (c *Cache) OnNotification(n models.Notification) {
	c.mu.Lock()
	if _, dup := c.seen[n.ID]; dup {
		c.mu.Unlock()
		observability.IncDedupDrop("notification")
		return
	}
	c.remember(n.ID)
	c.list = append([]models.Notification{n}, c.list...)
	if !n.IsRead {
		c.unread++
	}
	onChange := c.onChange
	c.mu.Unlock()

	if c.alert != nil && !n.IsRead {
		c.alert.Notify()
	}
	if onChange != nil {
		onChange()
	}
}

// Notifications returns a copy of the cached list, newest first.
func (c *Cache) Notifications() []models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Notification, len(c.list))
	copy(out, c.list)
	return out
}

// Unread returns the unread counter. It is always >= 0 and always equals the
// number of cached notifications with IsRead == false.
func (c *Cache) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Refresh pulls the latest page from REST and merges it into the cache. The
// merge is idempotent on identifier, so an event delivered by both push and
// poll lands exactly once; read flags are taken from the server's copy.
func (c *Cache) Refresh(ctx context.Context) error {
	fetched, err := c.api.Notifications(ctx, c.fetchLimit)
	if err != nil {
		return err
	}

	c.mu.Lock()
	byID := make(map[string]int, len(c.list))
	for i, n := range c.list {
		byID[n.ID] = i
	}
	for _, n := range fetched {
		if i, ok := byID[n.ID]; ok {
			c.list[i] = n
			continue
		}
		c.remember(n.ID)
		c.list = append(c.list, n)
	}
	sort.SliceStable(c.list, func(i, j int) bool {
		return c.list[i].CreatedAt.After(c.list[j].CreatedAt)
	})
	c.recountLocked()
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return nil
}

// MarkRead optimistically flips the read flag and decrements the unread
// counter (floored at zero), then confirms via REST. A failed confirm is
// returned to the caller for surfacing but the local flip stays; the next
// poll reconciles against the server.
func (c *Cache) MarkRead(ctx context.Context, id string) error {
	c.mu.Lock()
	for i := range c.list {
		if c.list[i].ID == id && !c.list[i].IsRead {
			c.list[i].IsRead = true
			if c.unread > 0 {
				c.unread--
			}
			break
		}
	}
	onChange := c.onChange
	c.mu.Unlock()
	if onChange != nil {
		onChange()
	}

	return c.api.MarkNotificationRead(ctx, id)
}

// MarkAllRead optimistically flips every cached read flag and zeroes the
// counter, then confirms via REST.
func (c *Cache) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	for i := range c.list {
		c.list[i].IsRead = true
	}
	c.unread = 0
	onChange := c.onChange
	c.mu.Unlock()
	if onChange != nil {
		onChange()
	}

	return c.api.MarkAllNotificationsRead(ctx)
}

// StartPolling launches the background poll that backs up the push channel.
func (c *Cache) StartPolling() {
	c.mu.Lock()
	if c.pollCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	done := make(chan struct{})
	c.pollDone = done
	interval := c.pollInterval
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
					log.Printf("notify: poll failed: %v", err)
				}
			}
		}
	}()
}

// StopPolling cancels the background poll.
func (c *Cache) StopPolling() {
	c.mu.Lock()
	cancel, done := c.pollCancel, c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// remember adds an identifier to the dedup set, evicting the oldest entries
// beyond the bound. Caller holds the lock.
func (c *Cache) remember(id string) {
	c.seen[id] = struct{}{}
	c.seenOrder = append(c.seenOrder, id)
	for len(c.seenOrder) > c.dedupBound {
		delete(c.seen, c.seenOrder[0])
		c.seenOrder = c.seenOrder[1:]
	}
}

// recountLocked re-derives the unread counter from the list so the two can
// never drift. Caller holds the lock.
func (c *Cache) recountLocked() {
	unread := 0
	for _, n := range c.list {
		if !n.IsRead {
			unread++
		}
	}
	c.unread = unread
}
