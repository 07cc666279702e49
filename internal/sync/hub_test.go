package sync_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/coursedesk/internal/aggregator"
	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/credential"
	"github.com/nhle/coursedesk/internal/dashboard"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/realtime"
	"github.com/nhle/coursedesk/internal/scheduler"
	"github.com/nhle/coursedesk/internal/session"
	"github.com/nhle/coursedesk/internal/store"
	hubsync "github.com/nhle/coursedesk/internal/sync"
	"github.com/nhle/coursedesk/tests/testutil"
)

const waitFor = 5 * time.Second

type harness struct {
	hub     *hubsync.Hub
	backend *testutil.Backend
	store   *store.SQLiteStore
	sched   *scheduler.Scheduler
	id      session.Identity
	token   string
}

func newHarness(t *testing.T, role string) *harness {
	t.Helper()

	be := testutil.NewBackend(t)
	token := be.Token(t, "u-1", role)
	tokenFn := func() string { return token }

	client := api.NewClient(be.APIURL(), tokenFn)
	sched := scheduler.New(0)
	st := testutil.NewTestStore(t)

	hub := hubsync.New(hubsync.Options{
		Store: st,
		Realtime: realtime.NewManager(realtime.Options{
			URL:    be.SocketURL(),
			Token:  tokenFn,
			Dialer: realtime.WSDialer{},
		}),
		Scheduler: sched,
		Sales:     aggregator.NewSales(client, sched, time.Minute, nil),
		Refunds:   aggregator.NewRefunds(client, sched, time.Minute, nil),
		Reviews:   aggregator.NewReviews(client, sched, time.Minute, nil),
		Bank:      aggregator.NewBank(client, sched, time.Minute, nil),
		Dashboard: dashboard.NewService(client, nil),
	})
	t.Cleanup(func() {
		hub.Stop()
		hub.Wait()
	})

	return &harness{
		hub:     hub,
		backend: be,
		store:   st,
		sched:   sched,
		id:      session.Identity{UserID: "u-1", Role: role},
		token:   token,
	}
}

func (h *harness) startAndSettle(t *testing.T) {
	t.Helper()

	require.NotNil(t, h.hub.Start(context.Background(), h.id))
	require.Eventually(t, func() bool {
		return len(h.hub.Sales().Items()) == 2 &&
			len(h.hub.Reviews().Items()) == 1 &&
			h.hub.Realtime().State() == realtime.StateAuthenticated &&
			h.backend.Server.Subscribers() == 1
	}, waitFor, 10*time.Millisecond)
}

// waitForMsg runs the hub's result command until a message of type T
// arrives.
func waitForMsg[T tea.Msg](t *testing.T, hub *hubsync.Hub) T {
	t.Helper()

	deadline := time.After(waitFor)
	for {
		got := make(chan tea.Msg, 1)
		go func() { got <- hub.WaitForNextResult()() }()

		select {
		case msg := <-got:
			if m, ok := msg.(T); ok {
				return m
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func TestHubLoadsQueuesAndAppliesPushes(t *testing.T) {
	h := newHarness(t, "admin")
	h.startAndSettle(t)

	assert.Equal(t, 1, h.hub.Sales().Unread())
	assert.Equal(t, model.Domains, h.hub.Domains())
	require.Eventually(t, func() bool {
		return len(h.hub.Bank().Items()) == 1 && h.hub.Dashboard().Snapshot().Data.Count == 2
	}, waitFor, 10*time.Millisecond)

	h.backend.Emit(t, realtime.EventNewSale, map[string]interface{}{
		"_id":   "sale-9",
		"total": "5.00",
		"user":  map[string]string{"name": "Eva"},
	})
	require.Eventually(t, func() bool {
		return len(h.hub.Sales().Items()) == 3 && h.hub.Sales().Unread() == 2
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "sale-9", h.hub.Sales().Items()[0].ID)

	h.backend.Emit(t, realtime.EventNewRefundRequest, map[string]interface{}{
		"_id":    "refund-9",
		"status": "pending",
		"amount": "5.00",
	})
	require.Eventually(t, func() bool {
		return len(h.hub.Refunds().Pending()) == 2
	}, waitFor, 10*time.Millisecond)

	ctx := context.Background()
	var activity []model.Activity
	require.Eventually(t, func() bool {
		var err error
		activity, err = h.store.GetActivity(ctx, store.ActivityFilter{})
		return err == nil && len(activity) == 2
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, realtime.EventNewRefundRequest, activity[0].Event)
	assert.Equal(t, realtime.EventNewSale, activity[1].Event)
	assert.Contains(t, activity[1].Message, "Eva")

	require.Eventually(t, func() bool {
		checkpoints, err := h.store.GetCheckpoints(ctx)
		return err == nil && len(checkpoints) == 4
	}, waitFor, 10*time.Millisecond)
}

func TestHubInstructorSkipsAdminQueues(t *testing.T) {
	h := newHarness(t, "instructor")
	h.startAndSettle(t)

	assert.Equal(t, []model.Domain{model.DomainSales, model.DomainRefunds, model.DomainReviews}, h.hub.Domains())
	require.Eventually(t, func() bool {
		return len(h.sched.Tasks()) == 3
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, []string{"refunds", "reviews", "sales"}, h.sched.Tasks())
	assert.False(t, h.hub.Bank().Polling())
	assert.Empty(t, h.hub.Bank().Items())
	assert.Zero(t, h.hub.Dashboard().Snapshot().Data.Count)
}

func TestHubStartTwice(t *testing.T) {
	h := newHarness(t, "instructor")
	h.startAndSettle(t)

	assert.Nil(t, h.hub.Start(context.Background(), h.id))
	assert.Equal(t, 1, h.backend.Server.Subscribers())
}

func TestHubMarkAllRead(t *testing.T) {
	h := newHarness(t, "instructor")
	h.startAndSettle(t)
	require.Equal(t, 1, h.hub.Sales().Unread())

	msg := h.hub.MarkAllRead(context.Background(), model.DomainSales)()
	marked, ok := msg.(hubsync.MarkedReadMsg)
	require.True(t, ok)
	require.NoError(t, marked.Err)
	assert.Equal(t, 0, h.hub.Sales().Unread())

	msg = h.hub.MarkAllRead(context.Background(), model.DomainBankVerifications)()
	assert.Error(t, msg.(hubsync.MarkedReadMsg).Err)
}

func TestHubRefreshAll(t *testing.T) {
	h := newHarness(t, "instructor")
	h.startAndSettle(t)

	msg := h.hub.RefreshAll(context.Background())()
	refreshed, ok := msg.(hubsync.RefreshMsg)
	require.True(t, ok)
	assert.NoError(t, refreshed.Err)
}

func TestLogoutStopsHub(t *testing.T) {
	h := newHarness(t, "instructor")

	sess := session.New(credential.NewMemory(), h.store, nil)
	_, err := sess.Login(h.token)
	require.NoError(t, err)
	sess.OnLogout(h.hub.Stop)

	h.startAndSettle(t)
	require.NoError(t, sess.Logout())

	waitForMsg[hubsync.StoppedMsg](t, h.hub)
	assert.False(t, h.hub.Running())
	assert.Equal(t, realtime.StateDisconnected, h.hub.Realtime().State())
	assert.False(t, h.hub.Sales().Polling())
	assert.Empty(t, h.hub.Sales().Items())
	assert.Empty(t, h.sched.Tasks())

	h.hub.Stop()
	require.Eventually(t, func() bool {
		return h.backend.Server.Subscribers() == 0
	}, waitFor, 10*time.Millisecond)
}

func TestStopIsDeliveredWhenResultsBackUp(t *testing.T) {
	h := newHarness(t, "instructor")
	h.startAndSettle(t)

	// Nobody reads results while the pushes pile up.
	for i := 0; i < 100; i++ {
		h.hub.Refunds().Apply(model.RefundNotification{ID: fmt.Sprintf("r-%d", i), Status: model.RefundStatusPending})
	}
	h.hub.Stop()

	waitForMsg[hubsync.StoppedMsg](t, h.hub)
	assert.False(t, h.hub.Running())
}
