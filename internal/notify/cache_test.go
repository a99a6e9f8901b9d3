package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow-client/internal/models"
)

type fakeAPI struct {
	mu            sync.Mutex
	notifications []models.Notification
	markReadIDs   []string
	markAllCalls  int
	markReadErr   error
}

func (f *fakeAPI) Notifications(ctx context.Context, limit int) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Notification, len(f.notifications))
	copy(out, f.notifications)
	return out, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, it := range f.notifications {
		if !it.IsRead {
			n++
		}
	}
	return n, nil
}

func (f *fakeAPI) MarkNotificationRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadIDs = append(f.markReadIDs, id)
	return f.markReadErr
}

func (f *fakeAPI) MarkAllNotificationsRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAllCalls++
	return nil
}

type countingAlerter struct{ n atomic.Int32 }

func (c *countingAlerter) Notify() { c.n.Add(1) }

func note(id string, read bool, at time.Time) models.Notification {
	return models.Notification{ID: id, Type: "task_assigned", Message: "task", IsRead: read, CreatedAt: at}
}

func TestNewNotificationLandsAtHead(t *testing.T) {
	alert := &countingAlerter{}
	c := NewCache(&fakeAPI{}, alert)

	require.Equal(t, 0, c.Unread())
	c.OnNotification(note("n1", false, time.Now()))

	assert.Equal(t, 1, c.Unread())
	list := c.Notifications()
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].ID)
	assert.Equal(t, int32(1), alert.n.Load())
}

func TestDuplicatePushIsDropped(t *testing.T) {
	alert := &countingAlerter{}
	c := NewCache(&fakeAPI{}, alert)

	n := note("n1", false, time.Now())
	c.OnNotification(n)
	c.OnNotification(n)

	assert.Len(t, c.Notifications(), 1)
	assert.Equal(t, 1, c.Unread())
	assert.Equal(t, int32(1), alert.n.Load(), "no second alert for a duplicate")
}

func TestPushThenPollDeliversOnce(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{notifications: []models.Notification{note("n1", false, now)}}
	c := NewCache(api, nil)

	// Push first, then the poll re-delivers the same identifier.
	c.OnNotification(note("n1", false, now))
	require.NoError(t, c.Refresh(context.Background()))

	assert.Len(t, c.Notifications(), 1)
	assert.Equal(t, 1, c.Unread())
}

func TestPollThenPushDeliversOnce(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{notifications: []models.Notification{note("n1", false, now)}}
	c := NewCache(api, nil)

	require.NoError(t, c.Refresh(context.Background()))
	c.OnNotification(note("n1", false, now))

	assert.Len(t, c.Notifications(), 1)
	assert.Equal(t, 1, c.Unread())
}

func TestRefreshOrdersNewestFirstAndRecounts(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{notifications: []models.Notification{
		note("old", true, now.Add(-time.Hour)),
		note("new", false, now),
	}}
	c := NewCache(api, nil)

	require.NoError(t, c.Refresh(context.Background()))
	list := c.Notifications()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, 1, c.Unread())
}

func TestRefreshReconcilesReadFlags(t *testing.T) {
	now := time.Now()
	api := &fakeAPI{notifications: []models.Notification{note("n1", false, now)}}
	c := NewCache(api, nil)
	require.NoError(t, c.Refresh(context.Background()))
	require.Equal(t, 1, c.Unread())

	// Another client marked it read; the poll picks that up.
	api.mu.Lock()
	api.notifications[0].IsRead = true
	api.mu.Unlock()

	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, 0, c.Unread())
	assert.True(t, c.Notifications()[0].IsRead)
}

func TestMarkReadOptimisticAndConfirmed(t *testing.T) {
	api := &fakeAPI{}
	c := NewCache(api, nil)
	c.OnNotification(note("n1", false, time.Now()))

	require.NoError(t, c.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 0, c.Unread())
	assert.True(t, c.Notifications()[0].IsRead)
	assert.Equal(t, []string{"n1"}, api.markReadIDs)

	// Marking again must not drive the counter negative.
	require.NoError(t, c.MarkRead(context.Background(), "n1"))
	assert.Equal(t, 0, c.Unread())
}

func TestMarkReadKeepsOptimisticStateOnRESTFailure(t *testing.T) {
	api := &fakeAPI{markReadErr: assert.AnError}
	c := NewCache(api, nil)
	c.OnNotification(note("n1", false, time.Now()))

	err := c.MarkRead(context.Background(), "n1")
	assert.Error(t, err, "failure surfaces to the caller")
	assert.True(t, c.Notifications()[0].IsRead, "optimistic flip is kept")
	assert.Equal(t, 0, c.Unread())
}

func TestMarkAllRead(t *testing.T) {
	api := &fakeAPI{}
	c := NewCache(api, nil)
	now := time.Now()
	c.OnNotification(note("n1", false, now))
	c.OnNotification(note("n2", false, now.Add(time.Second)))
	c.OnNotification(note("n3", true, now.Add(2*time.Second)))

	require.NoError(t, c.MarkAllRead(context.Background()))
	assert.Equal(t, 0, c.Unread())
	for _, n := range c.Notifications() {
		assert.True(t, n.IsRead)
	}
	assert.Equal(t, 1, api.markAllCalls)
}

func TestUnreadAlwaysMatchesCache(t *testing.T) {
	c := NewCache(&fakeAPI{}, nil)
	now := time.Now()
	c.OnNotification(note("a", false, now))
	c.OnNotification(note("b", true, now))
	c.OnNotification(note("c", false, now))
	require.NoError(t, c.MarkRead(context.Background(), "a"))

	unreadInList := 0
	for _, n := range c.Notifications() {
		if !n.IsRead {
			unreadInList++
		}
	}
	assert.Equal(t, unreadInList, c.Unread())
	assert.GreaterOrEqual(t, c.Unread(), 0)
}

func TestDedupBoundEvictsOldest(t *testing.T) {
	c := NewCache(&fakeAPI{}, nil, WithDedupBound(2))
	now := time.Now()
	c.OnNotification(note("n1", true, now))
	c.OnNotification(note("n2", true, now))
	c.OnNotification(note("n3", true, now)) // evicts n1 from the dedup set

	c.OnNotification(note("n1", true, now)) // re-applied: identifier was evicted
	assert.Len(t, c.Notifications(), 4)
}

func TestScenarioTaskAssignedNotification(t *testing.T) {
	alert := &countingAlerter{}
	c := NewCache(&fakeAPI{}, alert)
	require.Equal(t, 0, c.Unread())

	c.OnNotification(models.Notification{ID: "n1", Type: "task_assigned", Message: "You were assigned a task", CreatedAt: time.Now()})

	assert.Equal(t, 1, c.Unread())
	list := c.Notifications()
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].ID)
}

func TestPollingLoopRefreshes(t *testing.T) {
	api := &fakeAPI{notifications: []models.Notification{note("n1", false, time.Now())}}
	c := NewCache(api, nil, WithPollInterval(15*time.Millisecond))

	c.StartPolling()
	defer c.StopPolling()

	require.Eventually(t, func() bool { return len(c.Notifications()) == 1 }, 2*time.Second, 5*time.Millisecond)
}
