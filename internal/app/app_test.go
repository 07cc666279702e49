package app

import (
	"context"
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
	hubsync "github.com/nhle/coursedesk/internal/sync"
	"github.com/nhle/coursedesk/internal/toast"
	"github.com/nhle/coursedesk/internal/ui/command"
	"github.com/nhle/coursedesk/tests/testutil"
)

type fixture struct {
	model   Model
	session *session.Manager
	hub     *hubsync.Hub
	toasts  *toast.Center
}

// newFixture builds the root model against a seeded backend. An empty
// role leaves the session signed out.
func newFixture(t *testing.T, role string) *fixture {
	t.Helper()

	be := testutil.NewBackend(t)
	st := testutil.NewTestStore(t)
	sess := session.New(credential.NewMemory(), st, nil)
	if role != "" {
		_, err := sess.Login(be.Token(t, "u-1", role))
		require.NoError(t, err)
	}

	client := api.NewClient(be.APIURL(), sess.Token)
	sched := scheduler.New(0)
	hub := hubsync.New(hubsync.Options{
		Store: st,
		Realtime: realtime.NewManager(realtime.Options{
			URL:    be.SocketURL(),
			Token:  sess.Token,
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

	toasts := toast.NewCenter(time.Minute)
	m := New(Options{
		Session: sess,
		Hub:     hub,
		Store:   st,
		Toasts:  toasts,
		APIURL:  be.APIURL(),
	})
	f := &fixture{model: m, session: sess, hub: hub, toasts: toasts}
	f.send(tea.WindowSizeMsg{Width: 120, Height: 40})
	return f
}

func (f *fixture) send(msg tea.Msg) tea.Cmd {
	next, cmd := f.model.Update(msg)
	f.model = next.(Model)
	return cmd
}

func (f *fixture) press(s string) tea.Cmd {
	switch s {
	case "tab":
		return f.send(tea.KeyMsg{Type: tea.KeyTab})
	case "esc":
		return f.send(tea.KeyMsg{Type: tea.KeyEsc})
	}
	return f.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

func (f *fixture) toastMessages() []string {
	var out []string
	for _, t := range f.toasts.Active(time.Now()) {
		out = append(out, t.Message)
	}
	return out
}

func TestSignedOutOpensLogin(t *testing.T) {
	f := newFixture(t, "")

	assert.Equal(t, ViewLogin, f.model.CurrentView())
	assert.Contains(t, f.model.View(), "Sign in to coursedesk")
	assert.Contains(t, f.model.View(), "signed out")
}

func TestSignedInOpensFeed(t *testing.T) {
	f := newFixture(t, "instructor")

	assert.Equal(t, ViewFeed, f.model.CurrentView())
	assert.Equal(t, model.DomainSales, f.model.ActiveDomain())

	// Instructors cycle through three queues.
	f.press("tab")
	f.press("tab")
	assert.Equal(t, model.DomainReviews, f.model.ActiveDomain())
	f.press("tab")
	assert.Equal(t, model.DomainSales, f.model.ActiveDomain())

	f.press("4")
	assert.Equal(t, model.DomainSales, f.model.ActiveDomain())
}

func TestAdminSeesBankTab(t *testing.T) {
	f := newFixture(t, "admin")

	f.press("4")
	assert.Equal(t, model.DomainBankVerifications, f.model.ActiveDomain())
	assert.Contains(t, f.model.View(), "Bank verifications")
}

func TestFeedMsgFillsList(t *testing.T) {
	f := newFixture(t, "instructor")
	require.NoError(t, f.hub.Sales().Load(context.Background()))

	cmd := f.send(hubsync.FeedMsg{
		Domain:  model.DomainSales,
		Count:   len(f.hub.Sales().Items()),
		Pending: f.hub.Sales().PendingCount(),
		Unread:  f.hub.Sales().Unread(),
	})

	assert.NotNil(t, cmd, "keeps listening for hub results")
	entries := f.model.Feed(model.DomainSales).Entries()
	require.Len(t, entries, 2)
	assert.Contains(t, f.model.View(), "unread")
}

func TestConnectionMsgUpdatesHeader(t *testing.T) {
	f := newFixture(t, "instructor")
	assert.Contains(t, f.model.View(), "offline")

	f.send(hubsync.ConnectionMsg{Connected: true, State: realtime.StateAuthenticated})
	assert.Contains(t, f.model.View(), "live")
}

func TestActivityMsgRaisesToast(t *testing.T) {
	f := newFixture(t, "instructor")

	f.send(hubsync.ActivityMsg{Activity: model.Activity{
		Domain:  model.DomainSales,
		Message: "New sale: Go Basics",
	}})

	assert.Contains(t, f.toastMessages(), "New sale: Go Basics")
	assert.Contains(t, f.model.View(), "New sale: Go Basics")
}

func TestForcedLogoutShowsExpiredNotice(t *testing.T) {
	f := newFixture(t, "instructor")

	require.NoError(t, f.session.Logout())
	cmd := f.send(hubsync.StoppedMsg{})

	require.NotNil(t, cmd)
	assert.Equal(t, ViewLogin, f.model.CurrentView())
	assert.Contains(t, f.model.View(), "Session expired")
}

func TestExplicitLogout(t *testing.T) {
	f := newFixture(t, "instructor")

	cmd := f.press("L")
	require.NotNil(t, cmd)
	msg := cmd()
	require.IsType(t, loggedOutMsg{}, msg)
	f.send(msg)

	f.send(hubsync.StoppedMsg{})
	assert.Equal(t, ViewLogin, f.model.CurrentView())
	assert.Contains(t, f.model.View(), "Signed out")
}

func TestStoppedWhileSignedInIsIgnored(t *testing.T) {
	f := newFixture(t, "instructor")

	f.send(hubsync.StoppedMsg{})
	assert.Equal(t, ViewFeed, f.model.CurrentView())
}

func TestLoginFailureKeepsForm(t *testing.T) {
	f := newFixture(t, "")

	f.send(loggedInMsg{err: session.ErrExpired})
	assert.Equal(t, ViewLogin, f.model.CurrentView())
	assert.Contains(t, f.model.View(), "That token has expired")
}

func TestPaymentsAreAdminOnly(t *testing.T) {
	f := newFixture(t, "instructor")
	f.press("p")
	assert.Equal(t, ViewFeed, f.model.CurrentView())
	assert.Contains(t, f.toastMessages(), "Payments are available to admins only")

	admin := newFixture(t, "admin")
	admin.press("p")
	assert.Equal(t, ViewPayments, admin.model.CurrentView())
	cmd := admin.press("esc")
	require.NotNil(t, cmd)
	admin.send(cmd())
	assert.Equal(t, ViewFeed, admin.model.CurrentView())
}

func TestMarkReadOnRefundsWarns(t *testing.T) {
	f := newFixture(t, "instructor")
	f.press("2")

	assert.Nil(t, f.press("m"))
	assert.Contains(t, f.toastMessages(), "Refunds cannot be marked read")
}

func TestCommandOpensQueue(t *testing.T) {
	f := newFixture(t, "instructor")
	f.press(":")
	assert.Equal(t, ViewCommand, f.model.CurrentView())

	f.send(command.CommandMsg{Command: command.Command{Name: command.Open, Domain: model.DomainReviews}})
	assert.Equal(t, ViewFeed, f.model.CurrentView())
	assert.Equal(t, model.DomainReviews, f.model.ActiveDomain())

	f.send(command.CommandMsg{Command: command.Command{Name: command.Open, Domain: model.DomainBankVerifications}})
	assert.Equal(t, model.DomainReviews, f.model.ActiveDomain())
	assert.Contains(t, f.toastMessages(), "Bank verifications are available to admins only")
}

func TestDismissToast(t *testing.T) {
	f := newFixture(t, "instructor")
	f.toasts.Push(toast.LevelInfo, "hello")

	f.press("x")
	assert.NotContains(t, f.toastMessages(), "hello")
}
