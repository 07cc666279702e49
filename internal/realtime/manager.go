// Package realtime keeps one authenticated socket to the backend and
// republishes its push events as typed streams.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/validate"
)

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned by Connect while a disconnect is in
// progress.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// Options configure a Manager.
type Options struct {
	URL    string
	Token  func() string
	Dialer Dialer
	Policy Policy
	Logger *logger.Logger
}

// Manager owns the realtime connection. Streams are safe to subscribe to
// at any time, including before Connect.
type Manager struct {
	NewSales   Stream[model.SaleNotification]
	SaleStatus Stream[model.SaleStatusUpdate]
	Refunds    Stream[model.RefundNotification]
	Reviews    Stream[model.ReviewNotification]
	Connection Stream[bool]

	// StateChanges reports every transition of the state machine.
	StateChanges Stream[State]

	opts Options
	log  *logger.Logger

	mu        sync.Mutex
	state     State
	transport *Transport
	identity  AuthenticatePayload
}

// NewManager returns a disconnected Manager.
func NewManager(opts Options) *Manager {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultPolicy()
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{opts: opts, log: log}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the user the connection authenticates as.
func (m *Manager) Identity() (userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity.UserID, m.identity.Role
}

// Connect opens the socket for userID/role. It is a no-op while connecting
// or connected, so a second call never sends a second authenticate.
func (m *Manager) Connect(ctx context.Context, userID, role string) error {
	identity := AuthenticatePayload{UserID: userID, Role: role}
	if err := validate.Struct(identity); err != nil {
		return fmt.Errorf("connecting realtime: %w", err)
	}

	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateAuthenticated:
		m.mu.Unlock()
		return nil
	case StateDisconnecting:
		m.mu.Unlock()
		return fmt.Errorf("connect while disconnecting: %w", ErrInvalidTransition)
	}

	m.identity = identity
	var t *Transport
	t = NewTransport(
		m.opts.URL,
		m.opts.Token(),
		m.opts.Dialer,
		m.opts.Policy,
		Handlers{
			OnLifecycle: func(ev Lifecycle, err error) { m.onLifecycle(t, ev, err) },
			OnMessage:   func(env Envelope) { m.onMessage(t, env) },
		},
		m.log,
	)
	m.transport = t
	m.state = StateConnecting
	m.mu.Unlock()

	m.StateChanges.Publish(StateConnecting)
	m.log.Info("realtime: connecting as %s (%s)", userID, role)

	if err := t.Open(ctx); err != nil {
		m.reset(t)
		return fmt.Errorf("opening realtime transport: %w", err)
	}
	return nil
}

// Disconnect closes the socket. It is a no-op when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected || m.state == StateDisconnecting {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.state = StateDisconnecting
	m.mu.Unlock()

	m.StateChanges.Publish(StateDisconnecting)
	if t != nil {
		if err := t.Close(); err != nil {
			m.log.Warn("realtime: closing transport: %v", err)
		}
	}

	m.mu.Lock()
	m.transport = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	m.StateChanges.Publish(StateDisconnected)
	m.Connection.Publish(false)
	m.log.Info("realtime: disconnected")
}

// current reports whether t is still the live transport. Events from a
// transport replaced by a newer Connect are ignored.
func (m *Manager) current(t *Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport == t && m.state != StateDisconnecting
}

func (m *Manager) setState(t *Transport, s State) bool {
	m.mu.Lock()
	if m.transport != t || m.state == StateDisconnecting || m.state == s {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.mu.Unlock()

	m.StateChanges.Publish(s)
	return true
}

func (m *Manager) reset(t *Transport) {
	m.mu.Lock()
	if m.transport == t {
		m.transport = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()
	m.StateChanges.Publish(StateDisconnected)
}

func (m *Manager) onLifecycle(t *Transport, ev Lifecycle, err error) {
	if !m.current(t) {
		return
	}

	switch ev {
	case LifecycleConnect, LifecycleReconnect:
		m.mu.Lock()
		identity := m.identity
		m.mu.Unlock()

		if err := t.Send(EventAuthenticate, identity); err != nil {
			m.log.Error("realtime: sending authenticate: %v", err)
			return
		}
		m.log.Info("realtime: %s, authenticating", ev)
		m.Connection.Publish(true)

	case LifecycleDisconnect:
		m.setState(t, StateConnecting)
		m.Connection.Publish(false)

	case LifecycleConnectError:
		m.log.Warn("realtime: connect error: %v", err)

	case LifecycleReconnectFailed:
		m.log.Error("realtime: giving up after %d attempts", m.opts.Policy.MaxAttempts)
		m.reset(t)
		m.Connection.Publish(false)
	}
}

func (m *Manager) onMessage(t *Transport, env Envelope) {
	if !m.current(t) {
		return
	}

	switch env.Event {
	case EventAuthenticated:
		if m.setState(t, StateAuthenticated) {
			m.log.Info("realtime: authenticated")
		}
	case EventNewSale:
		dispatch(m, env, &m.NewSales)
	case EventSaleStatusUpdated:
		dispatch(m, env, &m.SaleStatus)
	case EventNewRefundRequest, EventRefundStatusUpdated:
		dispatch(m, env, &m.Refunds)
	case EventNewReview:
		dispatch(m, env, &m.Reviews)
	default:
		m.log.Info("realtime: ignoring event %q", env.Event)
	}
}

// dispatch decodes and validates the payload, then publishes it. Bad
// payloads are logged and dropped.
func dispatch[T any](m *Manager, env Envelope, s *Stream[T]) {
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		m.log.Warn("realtime: dropping %s: %v", env.Event, err)
		return
	}
	if err := validate.Struct(v); err != nil {
		m.log.Warn("realtime: dropping invalid %s: %v", env.Event, err)
		return
	}
	s.Publish(v)
}
