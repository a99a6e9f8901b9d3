// Package realtime owns the persistent websocket channel: it dials with the
// session's access token, parses inbound frames into typed events, fans them
// out to the caches, and reconnects after any drop until the session ends.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"taskflow-client/internal/apierr"
	"taskflow-client/internal/models"
	"taskflow-client/internal/observability"
)

// State of the channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives the fan-out of inbound events. Exactly one handler method
// runs per frame; calls are serialized in frame order.
type Handler interface {
	HandleNotification(models.Notification)
	HandleChatMessage(models.Message)
	HandleTyping(models.TypingEvent)
	HandleReadReceipt(models.ReadReceiptEvent)
}

// TokenSource supplies the access token used to authorize the dial.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Conn is the subset of a websocket connection the manager needs; tests
// substitute fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to the realtime endpoint.
type Dialer interface {
	DialContext(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct{}

func (gorillaDialer) DialContext(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Manager runs the channel state machine:
// Disconnected -> Connecting -> Connected -> Disconnected(retry pending) -> ...
// terminal only on Close.
type Manager struct {
	wsURL   string
	tokens  TokenSource
	handler Handler

	dialer       Dialer
	newBackoff   func() backoff.BackOff
	pingInterval time.Duration
	onState      func(State)

	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	conn    Conn
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDialer substitutes the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithBackoff sets the reconnect policy. The factory is invoked once per
// Start; the policy resets on every successful connect.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackoff = factory }
}

// WithPingInterval sets the keepalive ping cadence.
func WithPingInterval(d time.Duration) Option {
	return func(m *Manager) { m.pingInterval = d }
}

// WithStateListener registers a callback for state transitions.
func WithStateListener(fn func(State)) Option {
	return func(m *Manager) { m.onState = fn }
}

// ConstantBackoff is the reference reconnect policy: a flat delay.
func ConstantBackoff(delay time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff { return backoff.NewConstantBackOff(delay) }
}

// ExponentialBackoff is the opt-in strengthened policy, capped at maxDelay.
func ExponentialBackoff(initial, maxDelay time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = initial
		bo.MaxInterval = maxDelay
		bo.MaxElapsedTime = 0
		return bo
	}
}

// NewManager creates a channel manager for the websocket endpoint at wsURL.
func NewManager(wsURL string, tokens TokenSource, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		wsURL:        wsURL,
		tokens:       tokens,
		handler:      handler,
		dialer:       gorillaDialer{},
		newBackoff:   ConstantBackoff(3 * time.Second),
		pingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current channel state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the connect/read/reconnect loop. It returns immediately.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true
	m.mu.Unlock()

	go m.run(ctx)
}

// Close ends the channel for good: it closes the live connection and cancels
// any pending reconnect. A closed manager never resurrects a connection.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	// Cancel first, then snapshot the connection: a dial completing
	// concurrently assigns m.conn after the cancel, and run tears that
	// connection down itself on seeing the dead context.
	cancel()
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	<-done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.setState(Disconnected)

	bo := m.newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		m.setState(Connecting)

		token, err := m.tokens.AccessToken(ctx)
		if err != nil {
			// No valid session. An auth failure is terminal for this run;
			// the owner restarts the manager after the next login.
			if apierr.IsAuth(err) {
				log.Printf("realtime: session gone, stopping channel: %v", err)
				return
			}
			m.setState(Disconnected)
			if !m.wait(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		conn, err := m.dialer.DialContext(ctx, m.wsURL+"?token="+token)
		if err != nil {
			observability.IncChannelEvent("dial_error")
			log.Printf("realtime: dial failed: %v", err)
			m.setState(Disconnected)
			if !m.wait(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		bo.Reset()
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		// Close may have run between the dial and the assignment above;
		// a closed manager must never keep a live connection.
		if ctx.Err() != nil {
			conn.Close()
			m.mu.Lock()
			m.conn = nil
			m.mu.Unlock()
			return
		}
		m.setState(Connected)
		observability.IncChannelEvent("connect")
		observability.SetChannelConnected(true)

		m.readLoop(ctx, conn)

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
		m.setState(Disconnected)
		observability.IncChannelEvent("disconnect")
		observability.SetChannelConnected(false)

		if !m.wait(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// readLoop consumes frames until the connection breaks. Frame order is
// preserved: each frame is dispatched before the next read.
func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	pingDone := make(chan struct{})
	defer close(pingDone)
	go m.pingLoop(conn, pingDone)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cerr := &apierr.ChannelError{Op: "read", Err: err}
				log.Printf("realtime: %v", cerr)
			}
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	ev, err := models.DecodeEvent(data)
	if err != nil {
		if errors.Is(err, models.ErrUnknownEvent) {
			observability.IncRealtimeFrame("unknown")
			return
		}
		observability.IncChannelEvent("frame_dropped")
		log.Printf("realtime: dropping unparseable frame: %v", err)
		return
	}
	observability.IncRealtimeFrame(ev.EventType())

	switch ev := ev.(type) {
	case models.NotificationEvent:
		m.handler.HandleNotification(ev.Notification)
	case models.ChatMessageEvent:
		m.handler.HandleChatMessage(ev.Message)
	case models.TypingEvent:
		m.handler.HandleTyping(ev)
	case models.ReadReceiptEvent:
		m.handler.HandleReadReceipt(ev)
	case models.ConnectedEvent, models.PongEvent:
		// Informational only.
	}
}

func (m *Manager) pingLoop(conn Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := m.write(conn, models.Envelope{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// SendTyping is a fire-and-forget ephemeral signal. If the channel is not
// connected the signal is dropped; a stale typing indicator is worse than
// none.
func (m *Manager) SendTyping(conversationID string, isTyping bool) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == Connected
	m.mu.Unlock()

	if !connected || conn == nil {
		return
	}
	sig := models.TypingSignal{Type: "typing", ConversationID: conversationID, IsTyping: isTyping}
	if err := m.write(conn, sig); err != nil {
		log.Printf("realtime: typing signal dropped: %v", err)
	}
}

func (m *Manager) write(conn Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	onState := m.onState
	m.mu.Unlock()
	if changed && onState != nil {
		onState(s)
	}
}

// wait sleeps for d unless the context ends first. It reports whether the
// loop should continue.
func (m *Manager) wait(ctx context.Context, d time.Duration) bool {
	if d == backoff.Stop {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
