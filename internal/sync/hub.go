// Package sync ties the realtime connection, the notification queues and
// the local store together and feeds their changes to the UI.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/coursedesk/internal/aggregator"
	"github.com/nhle/coursedesk/internal/dashboard"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/realtime"
	"github.com/nhle/coursedesk/internal/scheduler"
	"github.com/nhle/coursedesk/internal/session"
	"github.com/nhle/coursedesk/internal/state"
	"github.com/nhle/coursedesk/internal/store"
)

// FeedMsg is a tea.Msg sent whenever a queue changes.
type FeedMsg struct {
	Domain      model.Domain
	Count       int
	Pending     int
	Unread      int
	IsLoading   bool
	LastChecked time.Time
	Err         error
}

// ConnectionMsg is a tea.Msg with the realtime connection state.
type ConnectionMsg struct {
	Connected bool
	State     realtime.State
}

// ActivityMsg is a tea.Msg sent when a push changed a queue.
type ActivityMsg struct {
	Activity model.Activity
}

// DashboardMsg is a tea.Msg with a new payments summary snapshot.
type DashboardMsg struct {
	Snapshot state.Snapshot[dashboard.Summary]
}

// RefreshMsg is a tea.Msg sent when a manual refresh completes.
type RefreshMsg struct {
	Err error
}

// MarkedReadMsg is a tea.Msg sent when a mark-all-read completes.
type MarkedReadMsg struct {
	Domain model.Domain
	Err    error
}

// StoppedMsg is a tea.Msg sent when the hub stops, either on logout or
// on an explicit Stop.
type StoppedMsg struct{}

const (
	// storeTimeout bounds a single local store write.
	storeTimeout = 5 * time.Second

	// activityKeep is how many activity entries survive a prune.
	activityKeep = 500

	// resultBuffer is the capacity of the result channel.
	resultBuffer = 64

	// DefaultDashboardInterval is how often the admin payments summary
	// reloads.
	DefaultDashboardInterval = 5 * time.Minute
)

// Options holds the components the hub drives. Store, Bank and Dashboard
// are optional.
type Options struct {
	Store     store.Store
	Realtime  *realtime.Manager
	Scheduler *scheduler.Scheduler
	Sales     *aggregator.Sales
	Refunds   *aggregator.Refunds
	Reviews   *aggregator.Reviews
	Bank      *aggregator.Bank
	Dashboard *dashboard.Service

	DashboardInterval time.Duration
	Logger            *logger.Logger
}

// Hub starts and stops background sync for one session.
type Hub struct {
	opts     Options
	log      *logger.Logger
	resultCh chan tea.Msg

	mu        gosync.Mutex
	running   bool
	admin     bool
	cancel    context.CancelFunc
	unsubs    []func()
	dashToken *scheduler.Token
	saved     map[model.Domain]time.Time
	wg        gosync.WaitGroup
}

// New creates a stopped Hub.
func New(opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	if opts.DashboardInterval <= 0 {
		opts.DashboardInterval = DefaultDashboardInterval
	}
	return &Hub{
		opts:     opts,
		log:      log,
		resultCh: make(chan tea.Msg, resultBuffer),
		saved:    make(map[model.Domain]time.Time),
	}
}

// Sales returns the sales queue.
func (h *Hub) Sales() *aggregator.Sales { return h.opts.Sales }

// Refunds returns the refunds queue.
func (h *Hub) Refunds() *aggregator.Refunds { return h.opts.Refunds }

// Reviews returns the reviews queue.
func (h *Hub) Reviews() *aggregator.Reviews { return h.opts.Reviews }

// Bank returns the bank verification queue, or nil when not configured.
func (h *Hub) Bank() *aggregator.Bank { return h.opts.Bank }

// Dashboard returns the payments summary service, or nil when not
// configured.
func (h *Hub) Dashboard() *dashboard.Service { return h.opts.Dashboard }

// Realtime returns the realtime connection manager.
func (h *Hub) Realtime() *realtime.Manager { return h.opts.Realtime }

// Domains returns the queues active for the current session in display
// order.
func (h *Hub) Domains() []model.Domain {
	h.mu.Lock()
	admin := h.admin
	h.mu.Unlock()

	out := []model.Domain{model.DomainSales, model.DomainRefunds, model.DomainReviews}
	if admin && h.opts.Bank != nil {
		out = append(out, model.DomainBankVerifications)
	}
	return out
}

// Running reports whether the hub has been started and not stopped.
func (h *Hub) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Start connects the realtime socket as id, starts polling every queue
// and returns a tea.Cmd that waits for the first result. Admin-only
// queues are polled only for admins. Starting a running hub returns nil.
func (h *Hub) Start(ctx context.Context, id session.Identity) tea.Cmd {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	// Let goroutines of a previous run finish before reusing the channel.
	h.wg.Wait()
	h.drain()

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.admin = id.IsAdmin()
	h.cancel = cancel
	h.unsubs = h.subscribe(h.admin)
	h.mu.Unlock()

	h.pruneActivity(ctx)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		h.opts.Scheduler.Run(ctx)
	}()
	go func() {
		defer h.wg.Done()
		h.startPolling(ctx, id.IsAdmin())
	}()

	if err := h.opts.Realtime.Connect(ctx, id.UserID, id.Role); err != nil {
		h.log.Error("sync: connecting realtime: %v", err)
		h.send(ConnectionMsg{Connected: false, State: h.opts.Realtime.State()})
	}

	h.log.Info("sync: started for %s (%s)", id.UserID, id.Role)
	return h.waitForResult()
}

// Stop disconnects realtime, stops every queue's polling, empties the
// queues and releases subscriptions. A StoppedMsg is delivered to the
// pending waiter. It is safe to call from a logout hook and when already
// stopped.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.cancel
	unsubs := h.unsubs
	dash := h.dashToken
	h.cancel = nil
	h.unsubs = nil
	h.dashToken = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, u := range unsubs {
		u()
	}
	if dash != nil {
		dash.Cancel()
	}

	h.opts.Realtime.Disconnect()
	for _, a := range h.queues() {
		a.StopPolling()
		a.Reset()
	}
	if h.opts.Dashboard != nil {
		h.opts.Dashboard.Reset()
	}

	h.mu.Lock()
	h.saved = make(map[model.Domain]time.Time)
	h.mu.Unlock()

	h.log.Info("sync: stopped")
	h.sendLast(StoppedMsg{})
}

// queue is the part of an aggregator the hub drives generically.
type queue interface {
	StopPolling()
	Reset()
}

func (h *Hub) queues() []queue {
	qs := []queue{h.opts.Sales, h.opts.Refunds, h.opts.Reviews}
	if h.opts.Bank != nil {
		qs = append(qs, h.opts.Bank)
	}
	return qs
}

// Wait blocks until the goroutines started by Start have returned. Call it
// after Stop, never from a hook that runs on a polling goroutine.
func (h *Hub) Wait() {
	h.wg.Wait()
}

// startPolling performs the initial load of each queue one after another,
// so they never hit the backend together, and registers them for polling.
func (h *Hub) startPolling(ctx context.Context, admin bool) {
	starts := []struct {
		domain model.Domain
		start  func(context.Context) error
	}{
		{model.DomainSales, h.opts.Sales.StartPolling},
		{model.DomainRefunds, h.opts.Refunds.StartPolling},
		{model.DomainReviews, h.opts.Reviews.StartPolling},
	}
	if admin && h.opts.Bank != nil {
		starts = append(starts, struct {
			domain model.Domain
			start  func(context.Context) error
		}{model.DomainBankVerifications, h.opts.Bank.StartPolling})
	}

	for _, s := range starts {
		if ctx.Err() != nil {
			break
		}
		if err := s.start(ctx); err != nil {
			h.log.Warn("sync: initial %s load: %v", s.domain, err)
		}
	}
	if ctx.Err() != nil {
		// Stop raced with a registration above.
		for _, q := range h.queues() {
			q.StopPolling()
		}
		return
	}

	if admin && h.opts.Dashboard != nil {
		if err := h.opts.Dashboard.Load(ctx); err != nil {
			h.log.Warn("sync: initial dashboard load: %v", err)
		}
		tok := h.opts.Scheduler.Every("dashboard", h.opts.DashboardInterval, func(ctx context.Context) {
			_ = h.opts.Dashboard.Load(ctx)
		})

		h.mu.Lock()
		if !h.running {
			h.mu.Unlock()
			tok.Cancel()
			return
		}
		h.dashToken = tok
		h.mu.Unlock()
	}
}

// RefreshAll returns a tea.Cmd that reloads every active queue now.
func (h *Hub) RefreshAll(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		var errs []error
		loads := []func(context.Context) error{
			h.opts.Sales.Load,
			h.opts.Refunds.Load,
			h.opts.Reviews.Load,
		}
		h.mu.Lock()
		admin := h.admin
		h.mu.Unlock()
		if admin && h.opts.Bank != nil {
			loads = append(loads, h.opts.Bank.Load)
		}
		if admin && h.opts.Dashboard != nil {
			loads = append(loads, h.opts.Dashboard.Load)
		}
		for _, load := range loads {
			if err := load(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return RefreshMsg{Err: errors.Join(errs...)}
	}
}

// MarkAllRead returns a tea.Cmd that marks a queue read on the server and
// in the local activity log. Only sales and reviews support it.
func (h *Hub) MarkAllRead(ctx context.Context, domain model.Domain) tea.Cmd {
	return func() tea.Msg {
		var err error
		switch domain {
		case model.DomainSales:
			err = h.opts.Sales.MarkAllRead(ctx)
		case model.DomainReviews:
			err = h.opts.Reviews.MarkAllRead(ctx)
		default:
			err = fmt.Errorf("%s cannot be marked read", domain)
		}
		if err == nil && h.opts.Store != nil {
			if serr := h.opts.Store.MarkActivityRead(ctx, &domain); serr != nil {
				h.log.Warn("sync: marking %s activity read: %v", domain, serr)
			}
		}
		return MarkedReadMsg{Domain: domain, Err: err}
	}
}

// subscribe wires realtime streams into the queues and queue changes into
// the result channel. It returns the cancel funcs.
func (h *Hub) subscribe(admin bool) []func() {
	rt := h.opts.Realtime
	unsubs := []func(){
		rt.NewSales.Subscribe(h.onNewSale),
		rt.SaleStatus.Subscribe(h.onSaleStatus),
		rt.Refunds.Subscribe(h.onRefund),
		rt.Reviews.Subscribe(h.onReview),
		rt.Connection.Subscribe(func(connected bool) {
			h.send(ConnectionMsg{Connected: connected, State: rt.State()})
		}),
		rt.StateChanges.Subscribe(func(s realtime.State) {
			h.send(ConnectionMsg{Connected: s == realtime.StateAuthenticated, State: s})
		}),
		watch(h, h.opts.Sales.Aggregator),
		watch(h, h.opts.Refunds.Aggregator),
		watch(h, h.opts.Reviews.Aggregator),
	}
	if admin && h.opts.Bank != nil {
		unsubs = append(unsubs, watch(h, h.opts.Bank.Aggregator))
	}
	if admin && h.opts.Dashboard != nil {
		unsubs = append(unsubs, h.opts.Dashboard.Subscribe(func(s state.Snapshot[dashboard.Summary]) {
			h.send(DashboardMsg{Snapshot: s})
		}))
	}
	return unsubs
}

// watch forwards queue changes as FeedMsg and saves a checkpoint after
// every successful load.
func watch[T model.Item](h *Hub, a *aggregator.Aggregator[T]) func() {
	return a.Subscribe(func(v aggregator.View[T]) {
		h.send(FeedMsg{
			Domain:      v.Domain,
			Count:       len(v.Items),
			Pending:     v.PendingCount,
			Unread:      v.Unread,
			IsLoading:   v.IsLoading,
			LastChecked: v.LastChecked,
			Err:         v.Err,
		})
		if v.IsLoading || v.Err != nil || v.LastChecked.IsZero() {
			return
		}
		h.saveCheckpoint(model.Checkpoint{
			Domain:      v.Domain,
			LastChecked: v.LastChecked,
			ItemCount:   len(v.Items),
			Pending:     v.PendingCount,
			Unread:      v.Unread,
		})
	})
}

func (h *Hub) onNewSale(sale model.SaleNotification) {
	if !h.opts.Sales.AddNewSale(sale) {
		return
	}
	h.record(model.DomainSales, sale.ID, realtime.EventNewSale,
		fmt.Sprintf("New sale %s %s from %s", sale.Total.StringFixed(2), currencyOf(sale.Currency), nameOf(sale.Customer)))
}

func (h *Hub) onSaleStatus(u model.SaleStatusUpdate) {
	if !h.opts.Sales.UpdateSaleStatus(u) {
		h.log.Info("sync: status update for unknown sale %s", u.ID)
		return
	}
	h.record(model.DomainSales, u.ID, realtime.EventSaleStatusUpdated,
		fmt.Sprintf("Sale %s is now %s", u.ID, u.Status))
}

func (h *Hub) onRefund(r model.RefundNotification) {
	if h.opts.Refunds.Apply(r) {
		h.record(model.DomainRefunds, r.ID, realtime.EventRefundStatusUpdated,
			fmt.Sprintf("Refund %s is now %s", r.ID, r.Status))
		return
	}
	h.record(model.DomainRefunds, r.ID, realtime.EventNewRefundRequest,
		fmt.Sprintf("Refund requested by %s for %s", nameOf(r.User), r.Product.Title))
}

func (h *Hub) onReview(r model.ReviewNotification) {
	if !h.opts.Reviews.AddNewReview(r) {
		return
	}
	h.record(model.DomainReviews, r.ID, realtime.EventNewReview,
		fmt.Sprintf("%d-star review from %s on %s", r.Rating, nameOf(r.User), r.Product.Title))
}

// record stores a push in the activity log and notifies the UI.
func (h *Hub) record(domain model.Domain, itemID, event, msg string) {
	a := model.Activity{
		Domain:    domain,
		ItemID:    itemID,
		Event:     event,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}
	if h.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := h.opts.Store.RecordActivity(ctx, a); err != nil {
			h.log.Warn("sync: recording activity: %v", err)
		}
	}
	h.send(ActivityMsg{Activity: a})
}

func (h *Hub) saveCheckpoint(cp model.Checkpoint) {
	if h.opts.Store == nil {
		return
	}

	h.mu.Lock()
	if h.saved[cp.Domain].Equal(cp.LastChecked) {
		h.mu.Unlock()
		return
	}
	h.saved[cp.Domain] = cp.LastChecked
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := h.opts.Store.SaveCheckpoint(ctx, cp); err != nil {
		h.log.Warn("sync: saving %s checkpoint: %v", cp.Domain, err)
	}
}

func (h *Hub) pruneActivity(ctx context.Context) {
	if h.opts.Store == nil {
		return
	}
	if err := h.opts.Store.PruneActivity(ctx, activityKeep); err != nil {
		h.log.Warn("sync: pruning activity: %v", err)
	}
}

// drain discards results left over from a previous run.
func (h *Hub) drain() {
	for {
		select {
		case <-h.resultCh:
		default:
			return
		}
	}
}

// send delivers msg without blocking. When the channel is full the
// message is dropped; the UI re-reads queue state on the next one.
func (h *Hub) send(msg tea.Msg) {
	select {
	case h.resultCh <- msg:
	default:
	}
}

// sendLast delivers msg even when the channel is full, discarding the
// oldest results to make room.
func (h *Hub) sendLast(msg tea.Msg) {
	for {
		select {
		case h.resultCh <- msg:
			return
		default:
		}
		select {
		case <-h.resultCh:
		default:
		}
	}
}

func (h *Hub) waitForResult() tea.Cmd {
	return func() tea.Msg {
		return <-h.resultCh
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next hub result.
// Call it after handling each result to keep listening; stop after a
// StoppedMsg.
func (h *Hub) WaitForNextResult() tea.Cmd {
	return h.waitForResult()
}

func nameOf(u model.UserRef) string {
	switch {
	case u.Name != "":
		return u.Name
	case u.Email != "":
		return u.Email
	default:
		return "unknown user"
	}
}

func currencyOf(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}
