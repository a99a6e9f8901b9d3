package devserver

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow-client/internal/apierr"
	"taskflow-client/internal/chat"
	"taskflow-client/internal/models"
	"taskflow-client/internal/notify"
	"taskflow-client/internal/realtime"
	"taskflow-client/internal/rest"
	"taskflow-client/internal/session"
)

type memStore struct{ creds *models.Credentials }

func (m *memStore) SaveCredentials(c models.Credentials) error { m.creds = &c; return nil }
func (m *memStore) LoadCredentials() (models.Credentials, error) {
	if m.creds == nil {
		return models.Credentials{}, os.ErrNotExist
	}
	return *m.creds, nil
}
func (m *memStore) ClearCredentials() error { m.creds = nil; return nil }

// caches bundles the two caches into one realtime handler, the same wiring
// the CLI uses.
type caches struct {
	notify *notify.Cache
	chat   *chat.Cache
}

func (c *caches) HandleNotification(n models.Notification) { c.notify.OnNotification(n) }

func (c *caches) HandleChatMessage(m models.Message) { c.chat.OnChatMessage(m) }

func (c *caches) HandleTyping(ev models.TypingEvent) { c.chat.OnTyping(ev) }

func (c *caches) HandleReadReceipt(ev models.ReadReceiptEvent) { c.chat.OnReadReceipt(ev) }

// clientStack is one fully wired client logged in against the server.
type clientStack struct {
	user     models.User
	session  *session.Store
	rest     *rest.Client
	realtime *realtime.Manager
	caches   *caches
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
}

func startClient(t *testing.T, ts *httptest.Server, email, password string) *clientStack {
	t.Helper()

	sess := session.New(ts.URL, &memStore{})
	user, err := sess.Login(context.Background(), email, password)
	require.NoError(t, err)

	api := rest.New(ts.URL, sess)
	cs := &caches{
		notify: notify.NewCache(api, nil),
		chat:   chat.NewCache(api, nil, user.ID),
	}

	rt := realtime.NewManager(wsURL(ts), sess, cs,
		realtime.WithBackoff(realtime.ConstantBackoff(20*time.Millisecond)))
	rt.Start()
	t.Cleanup(rt.Close)

	require.Eventually(t, func() bool { return rt.State() == realtime.Connected },
		2*time.Second, 10*time.Millisecond)

	return &clientStack{user: user, session: sess, rest: api, realtime: rt, caches: cs}
}

func TestLoginAndPushNotification(t *testing.T) {
	srv := New()
	seeded := srv.SeedUser("alice@example.com", "secret", "Alice")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	alice := startClient(t, ts, "alice@example.com", "secret")
	assert.Equal(t, seeded.ID, alice.user.ID)

	srv.PushNotification(seeded.ID, models.Notification{
		Type:    "task_assigned",
		Message: "You were assigned a task",
	})

	require.Eventually(t, func() bool { return alice.caches.notify.Unread() == 1 },
		2*time.Second, 10*time.Millisecond)
	list := alice.caches.notify.Notifications()
	require.Len(t, list, 1)
	assert.Equal(t, "task_assigned", list[0].Type)
}

func TestNotificationReconcileViaPoll(t *testing.T) {
	srv := New()
	u := srv.SeedUser("alice@example.com", "secret", "Alice")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Notification created while no websocket is connected.
	srv.PushNotification(u.ID, models.Notification{Type: "task_assigned", Message: "missed"})

	alice := startClient(t, ts, "alice@example.com", "secret")
	require.NoError(t, alice.caches.notify.Refresh(context.Background()))

	assert.Equal(t, 1, alice.caches.notify.Unread())
	require.Len(t, alice.caches.notify.Notifications(), 1)

	// Mark read through the client; the server agrees on the next poll.
	require.NoError(t, alice.caches.notify.MarkRead(context.Background(), alice.caches.notify.Notifications()[0].ID))
	require.NoError(t, alice.caches.notify.Refresh(context.Background()))
	assert.Equal(t, 0, alice.caches.notify.Unread())
}

func TestMessageRoundTripBetweenClients(t *testing.T) {
	srv := New()
	srv.SeedUser("alice@example.com", "secret", "Alice")
	srv.SeedUser("bob@example.com", "secret", "Bob")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	alice := startClient(t, ts, "alice@example.com", "secret")
	bob := startClient(t, ts, "bob@example.com", "secret")

	conv, err := alice.caches.chat.CreateConversation(context.Background(), models.ConversationCreate{
		ParticipantIDs: []string{bob.user.ID},
	})
	require.NoError(t, err)

	sent, err := alice.caches.chat.Send(context.Background(), conv.ID, models.MessageCreate{
		Content:     "hello bob",
		MessageType: models.MessageTypeText,
	})
	require.NoError(t, err)

	// Bob receives the push; Alice's echo is deduplicated against the
	// REST response.
	require.Eventually(t, func() bool { return len(bob.caches.chat.Messages(conv.ID)) == 1 },
		2*time.Second, 10*time.Millisecond)
	got := bob.caches.chat.Messages(conv.ID)[0]
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "hello bob", got.Content)
	assert.Equal(t, "Alice", got.SenderName)

	assert.Len(t, alice.caches.chat.Messages(conv.ID), 1)
}

func TestTypingRelayedToOthersOnly(t *testing.T) {
	srv := New()
	srv.SeedUser("alice@example.com", "secret", "Alice")
	srv.SeedUser("bob@example.com", "secret", "Bob")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	alice := startClient(t, ts, "alice@example.com", "secret")
	bob := startClient(t, ts, "bob@example.com", "secret")

	conv, err := alice.caches.chat.CreateConversation(context.Background(), models.ConversationCreate{
		ParticipantIDs: []string{bob.user.ID},
	})
	require.NoError(t, err)
	require.NoError(t, bob.caches.chat.LoadConversations(context.Background()))

	alice.realtime.SendTyping(conv.ID, true)

	require.Eventually(t, func() bool {
		_, ok := bob.caches.chat.TypingUser(conv.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	typer, _ := bob.caches.chat.TypingUser(conv.ID)
	assert.Equal(t, "Alice", typer.UserName)

	// The sender never sees its own indicator.
	_, ok := alice.caches.chat.TypingUser(conv.ID)
	assert.False(t, ok)
}

func TestReadReceiptReachesSender(t *testing.T) {
	srv := New()
	srv.SeedUser("alice@example.com", "secret", "Alice")
	srv.SeedUser("bob@example.com", "secret", "Bob")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	alice := startClient(t, ts, "alice@example.com", "secret")
	bob := startClient(t, ts, "bob@example.com", "secret")

	conv, err := alice.caches.chat.CreateConversation(context.Background(), models.ConversationCreate{
		ParticipantIDs: []string{bob.user.ID},
	})
	require.NoError(t, err)

	sent, err := alice.caches.chat.Send(context.Background(), conv.ID, models.MessageCreate{
		Content: "read me", MessageType: models.MessageTypeText,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(bob.caches.chat.Messages(conv.ID)) == 1 },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, bob.caches.chat.MarkRead(context.Background(), conv.ID, []string{sent.ID}))

	require.Eventually(t, func() bool {
		msgs := alice.caches.chat.Messages(conv.ID)
		return len(msgs) == 1 && len(msgs[0].ReadBy) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, alice.caches.chat.Messages(conv.ID)[0].ReadBy, bob.user.ID)
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	srv := New()
	srv.SeedUser("alice@example.com", "secret", "Alice")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	alice := startClient(t, ts, "alice@example.com", "secret")
	conv, err := alice.caches.chat.CreateConversation(context.Background(), models.ConversationCreate{
		ParticipantIDs: nil,
	})
	require.NoError(t, err)

	att, err := chat.UploadAttachment(context.Background(), alice.rest, conv.ID,
		"report.pdf", strings.NewReader("%PDF-1.4"), 8)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", att.FileName)

	body, err := alice.rest.DownloadAttachment(context.Background(), att.ID)
	require.NoError(t, err)
	defer body.Close()
	buf := make([]byte, 16)
	n, _ := body.Read(buf)
	assert.Equal(t, "%PDF-1.4", string(buf[:n]))
}

func TestRevokedRefreshLogsOut(t *testing.T) {
	srv := New()
	srv.SeedUser("alice@example.com", "secret", "Alice")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	sess := session.New(ts.URL, &memStore{})
	_, err := sess.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)

	loggedOut := make(chan struct{})
	sess.OnLoggedOut(func() { close(loggedOut) })

	srv.RevokeRefreshTokens()

	tok, err := sess.AccessToken(context.Background())
	require.NoError(t, err)
	_, err = sess.Refresh(context.Background(), tok)
	require.Error(t, err)

	assert.True(t, apierr.IsAuth(err))
	select {
	case <-loggedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("logged-out observer never fired")
	}
	_, loggedIn := sess.User()
	assert.False(t, loggedIn)
}
