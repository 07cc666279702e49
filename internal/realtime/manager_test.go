package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/coursedesk/internal/model"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.vals...)
}

func newTestManager(conns ...*fakeConn) (*Manager, *fakeDialer) {
	d := &fakeDialer{conns: conns}
	m := NewManager(Options{
		URL:    "ws://example.test/socket",
		Token:  func() string { return "tok" },
		Dialer: d,
		Policy: Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	return m, d
}

func connectAndAuth(t *testing.T, m *Manager, conn *fakeConn) {
	t.Helper()
	require.NoError(t, m.Connect(context.Background(), "u1", "instructor"))
	require.Eventually(t, func() bool { return len(conn.sent(EventAuthenticate)) == 1 }, waitFor, tick)
	conn.push(EventAuthenticated, map[string]bool{"success": true})
	require.Eventually(t, func() bool { return m.State() == StateAuthenticated }, waitFor, tick)
}

func TestConnectAuthenticates(t *testing.T) {
	conn := newFakeConn()
	m, d := newTestManager(conn)
	t.Cleanup(m.Disconnect)

	var online recorder[bool]
	m.Connection.Subscribe(online.add)

	connectAndAuth(t, m, conn)

	var payload AuthenticatePayload
	require.NoError(t, json.Unmarshal(conn.sent(EventAuthenticate)[0].Data, &payload))
	assert.Equal(t, AuthenticatePayload{UserID: "u1", Role: "instructor"}, payload)
	assert.Equal(t, []bool{true}, online.all())

	assert.Contains(t, d.urls[0], "token=tok")
	assert.Equal(t, "Bearer tok", d.header.Get("Authorization"))

	userID, role := m.Identity()
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "instructor", role)
}

func TestConnectIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	m, d := newTestManager(conn)
	t.Cleanup(m.Disconnect)

	connectAndAuth(t, m, conn)

	require.NoError(t, m.Connect(context.Background(), "u1", "instructor"))
	require.NoError(t, m.Connect(context.Background(), "u1", "instructor"))

	// Give a wrongly spawned second transport time to show up.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
	assert.Len(t, conn.sent(EventAuthenticate), 1)
}

func TestConnectRejectsMissingIdentity(t *testing.T) {
	m, d := newTestManager()
	err := m.Connect(context.Background(), "", "instructor")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Zero(t, d.dialCount())
}

func TestConnectWhileDisconnecting(t *testing.T) {
	m, _ := newTestManager()
	m.state = StateDisconnecting

	err := m.Connect(context.Background(), "u1", "admin")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestStreamsCarryTypedPayloads(t *testing.T) {
	conn := newFakeConn()
	m, _ := newTestManager(conn)
	t.Cleanup(m.Disconnect)

	var sales recorder[model.SaleNotification]
	var statuses recorder[model.SaleStatusUpdate]
	var refunds recorder[model.RefundNotification]
	var reviews recorder[model.ReviewNotification]
	m.NewSales.Subscribe(sales.add)
	m.SaleStatus.Subscribe(statuses.add)
	m.Refunds.Subscribe(refunds.add)
	m.Reviews.Subscribe(reviews.add)

	connectAndAuth(t, m, conn)

	conn.pushRaw(`{"event":"new_sale","data":{"_id":"s1","status":"Pendiente","total":"20.50"}}`)
	conn.pushRaw(`{"event":"sale_status_updated","data":{"_id":"s1","status":"Pagado"}}`)
	conn.pushRaw(`{"event":"new_refund_request","data":{"_id":"r1","status":"pending"}}`)
	conn.pushRaw(`{"event":"refund_status_updated","data":{"_id":"r1","status":"approved"}}`)
	conn.pushRaw(`{"event":"new_review","data":{"id":"v1","rating":4}}`)

	require.Eventually(t, func() bool { return len(reviews.all()) == 1 }, waitFor, tick)

	require.Len(t, sales.all(), 1)
	assert.Equal(t, "s1", sales.all()[0].ID)
	assert.Equal(t, "20.5", sales.all()[0].Total.String())
	require.Len(t, statuses.all(), 1)
	assert.Equal(t, model.SaleStatusPaid, statuses.all()[0].Status)
	require.Len(t, refunds.all(), 2)
	assert.Equal(t, model.RefundStatusApproved, refunds.all()[1].Status)
	assert.Equal(t, "v1", reviews.all()[0].ID)
}

func TestInvalidPayloadsAreDropped(t *testing.T) {
	conn := newFakeConn()
	m, _ := newTestManager(conn)
	t.Cleanup(m.Disconnect)

	var sales recorder[model.SaleNotification]
	m.NewSales.Subscribe(sales.add)
	var reviews recorder[model.ReviewNotification]
	m.Reviews.Subscribe(reviews.add)

	connectAndAuth(t, m, conn)

	conn.pushRaw(`{"event":"new_sale","data":{"status":"Pendiente"}}`)
	conn.pushRaw(`{"event":"new_sale","data":{"_id":"s9","status":"Reembolsado"}}`)
	conn.pushRaw(`{"event":"new_sale","data":"not an object"}`)
	conn.pushRaw(`{"event":"something_else","data":{}}`)
	conn.pushRaw(`{"event":"new_review","data":{"_id":"marker","rating":5}}`)

	require.Eventually(t, func() bool { return len(reviews.all()) == 1 }, waitFor, tick)
	assert.Empty(t, sales.all())
}

func TestDisconnect(t *testing.T) {
	conn := newFakeConn()
	m, _ := newTestManager(conn)

	var online recorder[bool]
	m.Connection.Subscribe(online.add)

	connectAndAuth(t, m, conn)
	m.Disconnect()

	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, []bool{true, false}, online.all())

	m.Disconnect()
	assert.Equal(t, []bool{true, false}, online.all(), "second disconnect is a no-op")

	select {
	case <-conn.closed:
	default:
		t.Fatal("socket was not closed")
	}
}

func TestReconnectReauthenticates(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	m, d := newTestManager(first, second)
	t.Cleanup(m.Disconnect)

	var online recorder[bool]
	m.Connection.Subscribe(online.add)

	connectAndAuth(t, m, first)
	first.drop()

	require.Eventually(t, func() bool { return len(second.sent(EventAuthenticate)) == 1 }, waitFor, tick)
	assert.Equal(t, 2, d.dialCount())
	assert.Equal(t, StateConnecting, m.State())

	second.push(EventAuthenticated, nil)
	require.Eventually(t, func() bool { return m.State() == StateAuthenticated }, waitFor, tick)
	assert.Equal(t, []bool{true, false, true}, online.all())
}

func TestReconnectGivesUp(t *testing.T) {
	conn := newFakeConn()
	m, d := newTestManager(conn)

	connectAndAuth(t, m, conn)
	conn.drop()

	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, waitFor, tick)
	assert.Equal(t, 1+3, d.dialCount())

	// A fresh Connect is allowed after giving up.
	next := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, next)
	d.mu.Unlock()
	connectAndAuth(t, m, next)
	m.Disconnect()
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestStreamUnsubscribe(t *testing.T) {
	var s Stream[int]
	var got []int
	cancel := s.Subscribe(func(v int) { got = append(got, v) })
	s.Publish(1)
	cancel()
	cancel()
	s.Publish(2)
	assert.Equal(t, []int{1}, got)
	assert.Zero(t, s.Len())
}
