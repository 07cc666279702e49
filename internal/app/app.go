package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/keys"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/realtime"
	"github.com/nhle/coursedesk/internal/session"
	"github.com/nhle/coursedesk/internal/store"
	hubsync "github.com/nhle/coursedesk/internal/sync"
	"github.com/nhle/coursedesk/internal/theme"
	"github.com/nhle/coursedesk/internal/toast"
	"github.com/nhle/coursedesk/internal/ui"
	"github.com/nhle/coursedesk/internal/ui/activity"
	"github.com/nhle/coursedesk/internal/ui/command"
	"github.com/nhle/coursedesk/internal/ui/detail"
	"github.com/nhle/coursedesk/internal/ui/feed"
	helpview "github.com/nhle/coursedesk/internal/ui/help"
	"github.com/nhle/coursedesk/internal/ui/login"
	"github.com/nhle/coursedesk/internal/ui/payments"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewFeed
	ViewDetail
	ViewActivity
	ViewPayments
	ViewHelp
	ViewCommand
)

// tickInterval drives toast expiry and relative timestamps.
const tickInterval = time.Second

type tickMsg time.Time

type loggedInMsg struct {
	identity session.Identity
	err      error
}

type loggedOutMsg struct {
	err error
}

// Options are the long-lived components the UI drives.
type Options struct {
	Session *session.Manager
	Hub     *hubsync.Hub
	Store   store.Store
	Toasts  *toast.Center

	// APIURL is shown on the sign-in screen.
	APIURL string
	Logger *logger.Logger
}

// Model is the root Bubble Tea model. It routes between views and turns
// sync hub results into screen updates.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	session *session.Manager
	hub     *hubsync.Hub
	store   store.Store
	toasts  *toast.Center
	log     *logger.Logger
	ctx     context.Context

	identity   session.Identity
	connState  realtime.State
	tab        int
	signingOut bool

	feeds        map[model.Domain]*feed.Model
	detail       detail.Model
	activityView activity.Model
	paymentsView payments.Model
	helpView     helpview.Model
	commandView  command.Model
	loginView    login.Model

	ready bool
	now   func() time.Time
}

// New creates the root model. It opens on the sign-in screen unless the
// session already holds an identity.
func New(opts Options) Model {
	k := keys.DefaultKeyMap()
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	toasts := opts.Toasts
	if toasts == nil {
		toasts = toast.NewCenter(0)
	}

	feeds := make(map[model.Domain]*feed.Model, len(model.Domains))
	for _, d := range model.Domains {
		f := feed.New(d, k, 80, 20)
		feeds[d] = &f
	}

	m := Model{
		currentView:  ViewLogin,
		keys:         k,
		session:      opts.Session,
		hub:          opts.Hub,
		store:        opts.Store,
		toasts:       toasts,
		log:          log,
		ctx:          context.Background(),
		feeds:        feeds,
		detail:       detail.New(k, 80, 20),
		activityView: activity.New(opts.Store, k, 80, 20),
		paymentsView: payments.New(k, 80, 20),
		helpView:     helpview.New(k, 80, 20),
		commandView:  command.New(80, 20),
		loginView:    login.New(opts.APIURL, 80, 20),
		now:          time.Now,
	}

	if id, ok := m.session.Identity(); ok {
		m.signedIn(id)
	}
	return m
}

// Init starts sync for a restored session, or the sign-in form.
func (m Model) Init() tea.Cmd {
	if m.currentView == ViewLogin {
		return tea.Batch(m.loginView.Init(), tick())
	}
	return tea.Batch(m.hub.Start(m.ctx, m.identity), tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// CurrentView returns the active view.
func (m Model) CurrentView() ViewState {
	return m.currentView
}

// ActiveDomain returns the queue of the selected tab.
func (m Model) ActiveDomain() model.Domain {
	domains := m.domains()
	if m.tab >= len(domains) {
		return domains[0]
	}
	return domains[m.tab]
}

// Feed returns the list of domain.
func (m Model) Feed(d model.Domain) *feed.Model {
	return m.feeds[d]
}

func (m *Model) signedIn(id session.Identity) {
	m.identity = id
	m.currentView = ViewFeed
	m.tab = 0
	m.helpView.SetAdmin(id.IsAdmin())
}

// domains returns the tabs for the signed-in role.
func (m Model) domains() []model.Domain {
	if m.identity.IsAdmin() && m.hub.Bank() != nil {
		return model.Domains
	}
	return model.Domains[:3]
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		for _, f := range m.feeds {
			f.SetSize(w, h)
		}
		m.detail.SetSize(w, h)
		m.activityView.SetSize(w, h)
		m.paymentsView.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		m.loginView.SetSize(w, h)
		// Forward to the active view so the huh form can lay itself out.
		return m.updateActiveView(msg)

	case tickMsg:
		return m, tick()

	case login.SubmitMsg:
		return m, m.login(msg.Token)

	case login.CancelMsg:
		return m, tea.Quit

	case loggedInMsg:
		if msg.err != nil {
			cmd := m.loginView.Reset(loginError(msg.err))
			return m, cmd
		}
		m.signedIn(msg.identity)
		m.toasts.Push(toast.LevelInfo, fmt.Sprintf("Signed in as %s", msg.identity.UserID))
		return m, m.hub.Start(m.ctx, msg.identity)

	case loggedOutMsg:
		if msg.err != nil {
			m.log.Error("app: logout: %v", msg.err)
		}
		return m, nil

	case hubsync.StoppedMsg:
		// The hub stops on every logout, forced or not.
		if _, ok := m.session.Identity(); ok {
			return m, nil
		}
		reason := "Session expired, please sign in again"
		if m.signingOut {
			reason = "Signed out"
		}
		m.signingOut = false
		m.identity = session.Identity{}
		m.currentView = ViewLogin
		m.connState = realtime.StateDisconnected
		m.detail.Clear()
		for _, f := range m.feeds {
			f.SetEntries(nil)
			f.SetStatus(feed.Status{})
		}
		cmd := m.loginView.Reset(reason)
		return m, cmd

	case hubsync.FeedMsg:
		m.applyFeed(msg)
		return m, m.hub.WaitForNextResult()

	case hubsync.ConnectionMsg:
		m.connState = msg.State
		return m, m.hub.WaitForNextResult()

	case hubsync.ActivityMsg:
		m.activityView.Prepend(msg.Activity)
		m.toasts.Push(toast.LevelInfo, msg.Activity.Message)
		return m, m.hub.WaitForNextResult()

	case hubsync.DashboardMsg:
		m.paymentsView.SetSnapshot(msg.Snapshot)
		return m, m.hub.WaitForNextResult()

	case hubsync.RefreshMsg:
		if msg.Err == nil {
			m.toasts.Push(toast.LevelInfo, "Everything is up to date")
		} else {
			m.reportError(msg.Err)
		}
		return m, nil

	case hubsync.MarkedReadMsg:
		if msg.Err != nil {
			m.reportError(msg.Err)
			return m, nil
		}
		m.toasts.Push(toast.LevelInfo, msg.Domain.Label()+" marked read")
		return m, nil

	case feed.SelectedMsg:
		m.detail.SetEntry(msg.Entry)
		m.previousView = m.currentView
		m.currentView = ViewDetail
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewFeed
		return m, nil

	case activity.CloseMsg:
		m.currentView = ViewFeed
		return m, nil

	case payments.CloseMsg:
		m.currentView = ViewFeed
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m.executeCommand(msg.Command)

	case command.InvalidMsg:
		m.currentView = m.previousView
		m.toasts.Push(toast.LevelWarning, msg.Err.Error())
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, m.quit()
		}
		if m.currentView == ViewLogin || (m.currentView == ViewCommand && msg.String() != "esc") {
			return m.updateActiveView(msg)
		}
		if handled, next, cmd := m.handleGlobalKey(msg); handled {
			return next, cmd
		}
	}

	return m.updateActiveView(msg)
}

// handleGlobalKey processes keys that work across views. handled is false
// when the key belongs to the active view.
func (m Model) handleGlobalKey(msg tea.KeyMsg) (bool, Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return true, m, nil
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return true, m, nil

	case key.Matches(msg, m.keys.Command):
		m.previousView = m.currentView
		m.currentView = ViewCommand
		cmd := m.commandView.Focus()
		return true, m, cmd

	case msg.String() == "esc" && (m.currentView == ViewHelp || m.currentView == ViewCommand):
		m.currentView = m.previousView
		return true, m, nil

	case key.Matches(msg, m.keys.Dismiss):
		if active := m.toasts.Active(m.now()); len(active) > 0 {
			m.toasts.Dismiss(active[0].ID)
		}
		return true, m, nil

	case key.Matches(msg, m.keys.Refresh):
		return true, m, m.hub.RefreshAll(m.ctx)

	case key.Matches(msg, m.keys.Logout):
		cmd := m.logout()
		return true, m, cmd
	}

	if m.currentView != ViewFeed {
		return false, m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return true, m, m.quit()

	case key.Matches(msg, m.keys.NextTab):
		m.tab = (m.tab + 1) % len(m.domains())
		return true, m, nil

	case key.Matches(msg, m.keys.PrevTab):
		n := len(m.domains())
		m.tab = (m.tab + n - 1) % n
		return true, m, nil

	case key.Matches(msg, m.keys.MarkRead):
		return true, m, m.markRead(m.ActiveDomain())

	case key.Matches(msg, m.keys.Activity):
		next, cmd := m.openActivity()
		return true, next, cmd

	case key.Matches(msg, m.keys.Payments):
		next, cmd := m.openPayments()
		return true, next, cmd
	}

	for i, b := range m.keys.TabKeys() {
		if key.Matches(msg, b) && i < len(m.domains()) {
			m.tab = i
			return true, m, nil
		}
	}
	return false, m, nil
}

func (m Model) openActivity() (Model, tea.Cmd) {
	m.previousView = m.currentView
	m.currentView = ViewActivity
	return m, m.activityView.Init()
}

func (m Model) openPayments() (Model, tea.Cmd) {
	if !m.identity.IsAdmin() {
		m.toasts.Push(toast.LevelWarning, "Payments are available to admins only")
		return m, nil
	}
	m.previousView = m.currentView
	m.currentView = ViewPayments
	if dash := m.hub.Dashboard(); dash != nil {
		m.paymentsView.SetSnapshot(dash.Snapshot())
	}
	return m, nil
}

func (m Model) markRead(d model.Domain) tea.Cmd {
	if d != model.DomainSales && d != model.DomainReviews {
		m.toasts.Push(toast.LevelWarning, d.Label()+" cannot be marked read")
		return nil
	}
	return m.hub.MarkAllRead(m.ctx, d)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewFeed:
		f := m.feeds[m.ActiveDomain()]
		var next feed.Model
		next, cmd = f.Update(msg)
		*f = next
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewActivity:
		m.activityView, cmd = m.activityView.Update(msg)
	case ViewPayments:
		m.paymentsView, cmd = m.paymentsView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// applyFeed refreshes the list of the queue named in msg from the hub.
func (m *Model) applyFeed(msg hubsync.FeedMsg) {
	f, ok := m.feeds[msg.Domain]
	if !ok {
		return
	}
	f.SetStatus(feed.Status{
		Count:       msg.Count,
		Pending:     msg.Pending,
		Unread:      msg.Unread,
		Loading:     msg.IsLoading,
		LastChecked: msg.LastChecked,
		Err:         msg.Err,
	})
	f.SetEntries(m.entriesFor(msg.Domain))
}

func (m Model) entriesFor(d model.Domain) []feed.Entry {
	switch d {
	case model.DomainSales:
		return feed.SaleEntries(m.hub.Sales().Items())
	case model.DomainRefunds:
		return feed.RefundEntries(m.hub.Refunds().Items())
	case model.DomainReviews:
		return feed.ReviewEntries(m.hub.Reviews().Items())
	case model.DomainBankVerifications:
		if b := m.hub.Bank(); b != nil {
			return feed.BankEntries(b.Items())
		}
	}
	return nil
}

// reportError shows errors the API error hook does not turn into a toast
// itself: validation errors and local failures.
func (m Model) reportError(err error) {
	switch api.KindOf(err) {
	case "", api.KindValidation:
		m.toasts.Push(toast.LevelError, err.Error())
	}
}

func (m Model) login(token string) tea.Cmd {
	sess, st, log, ctx := m.session, m.store, m.log, m.ctx
	return func() tea.Msg {
		id, err := sess.Login(token)
		if err == nil && st != nil {
			if serr := store.SwitchUser(ctx, st, id.UserID); serr != nil {
				log.Warn("app: recording user: %v", serr)
			}
		}
		return loggedInMsg{identity: id, err: err}
	}
}

// logout marks the next StoppedMsg as user initiated.
func (m *Model) logout() tea.Cmd {
	m.signingOut = true
	sess := m.session
	return func() tea.Msg {
		return loggedOutMsg{err: sess.Logout()}
	}
}

func (m Model) quit() tea.Cmd {
	m.hub.Stop()
	return tea.Quit
}

func loginError(err error) string {
	if errors.Is(err, session.ErrExpired) {
		return "That token has expired"
	}
	return fmt.Sprintf("Could not sign in: %v", err)
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(m.headerTitle(), m.connectionStatus())
	tabs := ""
	if m.currentView != ViewLogin {
		tabs = m.layout.RenderTabs(m.tabs())
	}
	statusBar := m.layout.RenderStatusBar(m.toastNotice(), m.keyHints())

	return m.layout.RenderWithFrame(header, tabs, m.renderContent(), statusBar)
}

func (m Model) headerTitle() string {
	if m.identity.UserID == "" {
		return "coursedesk"
	}
	title := fmt.Sprintf("coursedesk | %s (%s)", m.identity.UserID, m.identity.Role)
	unread := 0
	for _, d := range m.domains() {
		unread += m.feeds[d].Status().Unread
	}
	if unread > 0 {
		title += fmt.Sprintf(" [%d unread]", unread)
	}
	return title
}

func (m Model) connectionStatus() string {
	if m.currentView == ViewLogin {
		return "signed out"
	}
	switch m.connState {
	case realtime.StateAuthenticated:
		return theme.ConnectionStyle(true).Render("● live")
	case realtime.StateConnecting:
		return theme.ConnectionStyle(false).Render("○ connecting")
	default:
		return theme.ConnectionStyle(false).Render("○ offline, polling")
	}
}

func (m Model) tabs() []ui.Tab {
	domains := m.domains()
	out := make([]ui.Tab, len(domains))
	for i, d := range domains {
		st := m.feeds[d].Status()
		label := fmt.Sprintf("%d %s %d", i+1, d.Label(), st.Pending)
		if st.Unread > 0 {
			label += "*"
		}
		out[i] = ui.Tab{Label: label, Active: i == m.tab}
	}
	return out
}

func (m Model) toastNotice() string {
	active := m.toasts.Active(m.now())
	if len(active) == 0 {
		return ""
	}
	t := active[0]
	text := t.Message
	if len(active) > 1 {
		text += fmt.Sprintf(" (+%d)", len(active)-1)
	}
	return theme.ToastStyle(string(t.Level)).Render(text)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.loginView.View()
	case ViewFeed:
		return m.feeds[m.ActiveDomain()].View()
	case ViewDetail:
		return m.detail.View()
	case ViewActivity:
		return m.activityView.View()
	case ViewPayments:
		return m.paymentsView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewLogin:
		return "enter submit | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewDetail:
		return "esc back | j/k scroll"
	case ViewActivity:
		return "esc back | m mark all read | u unread only"
	case ViewPayments:
		return "esc back | r refresh"
	default:
		hints := "q quit | ? help | tab queue | enter open | r refresh | a activity"
		if d := m.ActiveDomain(); d == model.DomainSales || d == model.DomainReviews {
			hints += " | m mark read"
		}
		if m.identity.IsAdmin() {
			hints += " | p payments"
		}
		return hints
	}
}

// executeCommand runs a command from the palette.
func (m Model) executeCommand(cmd command.Command) (tea.Model, tea.Cmd) {
	switch cmd.Name {
	case command.Refresh:
		return m, m.hub.RefreshAll(m.ctx)
	case command.MarkRead:
		d := cmd.Domain
		if d == "" {
			d = m.ActiveDomain()
		}
		return m, m.markRead(d)
	case command.Activity:
		return m.openActivity()
	case command.Payments:
		return m.openPayments()
	case command.Open:
		for i, d := range m.domains() {
			if d == cmd.Domain {
				m.tab = i
				m.currentView = ViewFeed
				return m, nil
			}
		}
		m.toasts.Push(toast.LevelWarning, cmd.Domain.Label()+" are available to admins only")
		return m, nil
	case command.Logout:
		cmd := m.logout()
		return m, cmd
	case command.Quit:
		return m, m.quit()
	}
	return m, nil
}
