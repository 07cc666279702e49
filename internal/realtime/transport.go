package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhle/coursedesk/internal/logger"
)

// Lifecycle is a connection event raised by the Transport.
type Lifecycle string

const (
	LifecycleConnect         Lifecycle = "connect"
	LifecycleDisconnect      Lifecycle = "disconnect"
	LifecycleConnectError    Lifecycle = "connect_error"
	LifecycleReconnect       Lifecycle = "reconnect"
	LifecycleReconnectFailed Lifecycle = "reconnect_failed"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// ErrNotConnected is returned by Send while no socket is open.
var ErrNotConnected = errors.New("transport not connected")

// Conn is the subset of *websocket.Conn the transport uses.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens socket connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d WSDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", rawURL, err)
	}
	return conn, nil
}

// Policy bounds reconnection: at most MaxAttempts dials per outage, waiting
// BaseDelay doubled after each failure and capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is 5 attempts between 1s and 5s apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Handlers receive everything the transport observes. Both run on the
// transport's read goroutine.
type Handlers struct {
	OnLifecycle func(ev Lifecycle, err error)
	OnMessage   func(env Envelope)
}

// Transport owns one socket connection and its reconnection policy.
type Transport struct {
	url      string
	token    string
	dialer   Dialer
	policy   Policy
	handlers Handlers
	log      *logger.Logger

	mu     sync.Mutex
	conn   Conn
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTransport prepares a transport for rawURL. Nothing is dialed until
// Open.
func NewTransport(
	rawURL string,
	token string,
	dialer Dialer,
	policy Policy,
	handlers Handlers,
	log *logger.Logger,
) *Transport {
	if dialer == nil {
		dialer = WSDialer{}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Transport{
		url:      rawURL,
		token:    token,
		dialer:   dialer,
		policy:   policy,
		handlers: handlers,
		log:      log,
	}
}

// Open starts the connection goroutine. It returns immediately; progress is
// reported through the lifecycle handler.
func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.done != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx)
	return nil
}

// Send writes one envelope.
func (t *Transport) Send(event string, data interface{}) error {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("sending %s: %w", event, err)
	}
	return nil
}

// Close shuts the socket and waits for the connection goroutine to exit.
// No lifecycle events are raised after Close returns. Close must not be
// called from a handler.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	done := t.done
	t.mu.Unlock()

	if done != nil {
		<-done
	}
	return err
}

func (t *Transport) loop(ctx context.Context) {
	defer close(t.done)

	connected := false
	for {
		conn, ok := t.dial(ctx)
		if !ok {
			if ctx.Err() == nil {
				t.emit(LifecycleReconnectFailed, nil)
			}
			return
		}

		if connected {
			t.emit(LifecycleReconnect, nil)
		} else {
			t.emit(LifecycleConnect, nil)
		}
		connected = true

		err := t.read(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		t.log.Warn("realtime: connection lost: %v", err)
		t.emit(LifecycleDisconnect, err)
	}
}

// dial tries up to MaxAttempts times, backing off between failures.
func (t *Transport) dial(ctx context.Context) (Conn, bool) {
	target, err := t.target()
	if err != nil {
		t.emit(LifecycleConnectError, err)
		return nil, false
	}
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		conn, err := t.dialer.Dial(ctx, target, header)
		if err == nil {
			t.mu.Lock()
			if t.closed {
				t.mu.Unlock()
				conn.Close()
				return nil, false
			}
			t.conn = conn
			t.mu.Unlock()
			return conn, true
		}
		if ctx.Err() != nil {
			return nil, false
		}

		t.log.Warn("realtime: dial attempt %d/%d failed: %v", attempt, t.policy.MaxAttempts, err)
		t.emit(LifecycleConnectError, err)
		if attempt == t.policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(t.policy.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
	}
	return nil, false
}

func (t *Transport) read(ctx context.Context, conn Conn) error {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if env.Event == "" {
			t.log.Warn("realtime: dropping frame without event name")
			continue
		}
		if t.handlers.OnMessage != nil {
			t.handlers.OnMessage(env)
		}
	}
}

// target adds the token as a query parameter for servers that cannot read
// headers on upgrade.
func (t *Transport) target() (string, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return "", fmt.Errorf("parsing socket url %q: %w", t.url, err)
	}
	if t.token != "" {
		q := u.Query()
		q.Set("token", t.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (t *Transport) emit(ev Lifecycle, err error) {
	if t.handlers.OnLifecycle != nil {
		t.handlers.OnLifecycle(ev, err)
	}
}
