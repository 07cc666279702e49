package aggregator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/scheduler"
)

// fakeAPI serves every queue endpoint from in-memory fields.
type fakeAPI struct {
	mu sync.Mutex

	sales       []model.SaleNotification
	salesUnread int
	refunds     []model.RefundNotification
	reviews     []model.ReviewNotification
	bank        []model.BankVerificationNotification
	err         error

	calls     int32
	markCalls int32

	// gate, when set, blocks fetches until it is closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeAPI) enter(ctx context.Context) error {
	atomic.AddInt32(&f.calls, 1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeAPI) RecentSales(ctx context.Context) (*api.SalesResponse, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &api.SalesResponse{Sales: append([]model.SaleNotification(nil), f.sales...), UnreadCount: f.salesUnread}, nil
}

func (f *fakeAPI) MarkSalesRead(ctx context.Context) (*api.MarkReadResponse, error) {
	atomic.AddInt32(&f.markCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &api.MarkReadResponse{Updated: len(f.sales)}, nil
}

func (f *fakeAPI) Refunds(ctx context.Context) (*api.RefundsResponse, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &api.RefundsResponse{Refunds: append([]model.RefundNotification(nil), f.refunds...)}, nil
}

func (f *fakeAPI) PendingReviews(ctx context.Context) (*api.ReviewsResponse, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &api.ReviewsResponse{Reviews: append([]model.ReviewNotification(nil), f.reviews...)}, nil
}

func (f *fakeAPI) MarkReviewsRead(ctx context.Context) (*api.MarkReadResponse, error) {
	atomic.AddInt32(&f.markCalls, 1)
	return &api.MarkReadResponse{}, nil
}

func (f *fakeAPI) PendingBankVerifications(ctx context.Context) (*api.BankVerificationsResponse, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &api.BankVerificationsResponse{Verifications: append([]model.BankVerificationNotification(nil), f.bank...)}, nil
}

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func sale(id string, status model.SaleStatus) model.SaleNotification {
	return model.SaleNotification{ID: id, Status: status, Total: decimal.NewFromInt(10)}
}

func refund(id string, status model.RefundStatus) model.RefundNotification {
	return model.RefundNotification{ID: id, Status: status}
}

func keys[T model.Item](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key()
	}
	return out
}

func TestLoadDeduplicatesAndFilters(t *testing.T) {
	f := &fakeAPI{sales: []model.SaleNotification{
		sale("s1", model.SaleStatusPending),
		sale("s2", model.SaleStatusPaid),
		sale("s1", model.SaleStatusPending),
		sale("s3", model.SaleStatusCancelled),
	}, salesUnread: 1}
	s := NewSales(f, nil, time.Minute, nil)

	require.NoError(t, s.Load(context.Background()))

	v := s.View()
	assert.Equal(t, []string{"s1", "s2"}, keys(v.Items))
	assert.Equal(t, 1, v.PendingCount)
	assert.Equal(t, 1, v.Unread)
	assert.False(t, v.IsLoading)
	assert.False(t, v.LastChecked.IsZero())
}

func TestAddNewSaleRejectsDuplicates(t *testing.T) {
	s := NewSales(&fakeAPI{}, nil, time.Minute, nil)

	assert.True(t, s.AddNewSale(sale("s1", model.SaleStatusPending)))
	assert.False(t, s.AddNewSale(sale("s1", model.SaleStatusPending)))

	assert.Len(t, s.Items(), 1)
	assert.Equal(t, 1, s.Unread(), "duplicate does not bump unread")
}

func TestAddInsertsAtHead(t *testing.T) {
	s := NewSales(&fakeAPI{}, nil, time.Minute, nil)
	s.AddNewSale(sale("old", model.SaleStatusPaid))
	s.AddNewSale(sale("new", model.SaleStatusPaid))

	assert.Equal(t, []string{"new", "old"}, keys(s.Items()))
	assert.Zero(t, s.Unread(), "paid sales do not count as unread")
}

func TestUpdateSaleStatusUnread(t *testing.T) {
	s := NewSales(&fakeAPI{}, nil, time.Minute, nil)
	s.AddNewSale(sale("s1", model.SaleStatusPending))
	s.AddNewSale(sale("s2", model.SaleStatusPending))
	require.Equal(t, 2, s.Unread())

	require.True(t, s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "s1", Status: model.SaleStatusPaid}))
	assert.Equal(t, 1, s.Unread())
	assert.Equal(t, 1, s.PendingCount())

	// Paid again, or cancelled: no change.
	s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "s1", Status: model.SaleStatusPaid})
	s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "s2", Status: model.SaleStatusCancelled})
	assert.Equal(t, 1, s.Unread())

	assert.False(t, s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "nope", Status: model.SaleStatusPaid}))
}

func TestUnreadNeverNegative(t *testing.T) {
	f := &fakeAPI{sales: []model.SaleNotification{sale("s1", model.SaleStatusPending)}, salesUnread: 0}
	s := NewSales(f, nil, time.Minute, nil)
	require.NoError(t, s.Load(context.Background()))
	require.Zero(t, s.Unread())

	s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "s1", Status: model.SaleStatusPaid})
	assert.Zero(t, s.Unread())
}

func TestStartPollingTwiceRegistersOnce(t *testing.T) {
	f := &fakeAPI{refunds: []model.RefundNotification{refund("r1", model.RefundStatusPending)}}
	sched := scheduler.New(0)
	r := NewRefunds(f, sched, time.Minute, nil)

	require.NoError(t, r.StartPolling(context.Background()))
	require.NoError(t, r.StartPolling(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))
	assert.Equal(t, []string{"refunds"}, sched.Tasks())
	assert.Len(t, r.Items(), 1, "initial load is synchronous")

	r.StopPolling()
	assert.Empty(t, sched.Tasks())
	assert.False(t, r.Polling())

	require.NoError(t, r.StartPolling(context.Background()))
	assert.Equal(t, []string{"refunds"}, sched.Tasks())
}

func TestPollingRunsFromScheduler(t *testing.T) {
	f := &fakeAPI{}
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	sched := scheduler.New(0)
	sched.SetClock(func() time.Time { return start })
	b := NewBank(f, sched, 2*time.Minute, nil)

	require.NoError(t, b.StartPolling(context.Background()))
	f.mu.Lock()
	f.bank = []model.BankVerificationNotification{{ID: "b1", Status: model.BankVerificationPending}}
	f.mu.Unlock()

	assert.Zero(t, sched.RunDue(context.Background(), start.Add(time.Minute)))
	assert.Equal(t, 1, sched.RunDue(context.Background(), start.Add(2*time.Minute)))

	assert.Equal(t, int32(2), atomic.LoadInt32(&f.calls))
	assert.Equal(t, 1, b.PendingCount())
}

func TestRefundStatusPush(t *testing.T) {
	r := NewRefunds(&fakeAPI{}, nil, time.Minute, nil)

	r.Apply(refund("r1", model.RefundStatusPending))
	assert.Len(t, r.Items(), 1)
	assert.Equal(t, 1, r.PendingCount())

	r.Apply(refund("r1", model.RefundStatusApproved))
	assert.Len(t, r.Items(), 1)
	assert.Zero(t, r.PendingCount())
	assert.Equal(t, model.RefundStatusApproved, r.Items()[0].Status)
}

func TestRefundsProcessing(t *testing.T) {
	f := &fakeAPI{refunds: []model.RefundNotification{
		refund("r1", model.RefundStatusPending),
		refund("r2", model.RefundStatusProcessing),
		refund("r3", model.RefundStatusCompleted),
	}}
	r := NewRefunds(f, nil, time.Minute, nil)
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, []string{"r1", "r2"}, keys(r.Items()))
	assert.Equal(t, []string{"r2"}, keys(r.Processing()))
}

func TestFailedLoadKeepsList(t *testing.T) {
	f := &fakeAPI{refunds: []model.RefundNotification{refund("r1", model.RefundStatusPending)}}
	r := NewRefunds(f, nil, time.Minute, nil)
	require.NoError(t, r.Load(context.Background()))

	boom := &api.Error{Kind: api.KindServer, Status: 500, Message: "boom"}
	f.setErr(boom)

	err := r.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	v := r.View()
	assert.Equal(t, []string{"r1"}, keys(v.Items))
	assert.False(t, v.IsLoading)
	assert.ErrorIs(t, v.Err, boom)

	f.setErr(nil)
	require.NoError(t, r.Load(context.Background()))
	assert.Nil(t, r.View().Err)
}

func TestLoadDroppedWhileLoading(t *testing.T) {
	f := &fakeAPI{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	rv := NewReviews(f, nil, time.Minute, nil)

	done := make(chan error, 1)
	go func() { done <- rv.Load(context.Background()) }()
	<-f.entered
	assert.True(t, rv.IsLoading())

	assert.NoError(t, rv.Load(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.calls))

	close(f.gate)
	require.NoError(t, <-done)
	assert.False(t, rv.IsLoading())
}

func TestPushDuringFetchIsNotOverwritten(t *testing.T) {
	f := &fakeAPI{
		refunds: []model.RefundNotification{refund("r1", model.RefundStatusPending)},
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	r := NewRefunds(f, nil, time.Minute, nil)
	r.Apply(refund("r1", model.RefundStatusPending))

	done := make(chan error, 1)
	go func() { done <- r.Load(context.Background()) }()
	<-f.entered

	// The server snapshot still says pending; the push that arrives while
	// the fetch is in flight is newer.
	r.Apply(refund("r1", model.RefundStatusProcessing))
	close(f.gate)
	require.NoError(t, <-done)

	require.Len(t, r.Items(), 1)
	assert.Equal(t, model.RefundStatusProcessing, r.Items()[0].Status)
}

func TestReplaceKeepsItemsPushedDuringFetch(t *testing.T) {
	f := &fakeAPI{
		reviews: []model.ReviewNotification{{ID: "v1", Rating: 5}},
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	rv := NewReviews(f, nil, time.Minute, nil)
	rv.AddNewReview(model.ReviewNotification{ID: "stale", Rating: 1})

	done := make(chan error, 1)
	go func() { done <- rv.Load(context.Background()) }()
	<-f.entered
	rv.AddNewReview(model.ReviewNotification{ID: "v2", Rating: 3})
	close(f.gate)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"v2", "v1"}, keys(rv.Items()))
}

func TestMergeKeepsLocalItems(t *testing.T) {
	f := &fakeAPI{sales: []model.SaleNotification{sale("s2", model.SaleStatusPaid)}}
	s := NewSales(f, nil, time.Minute, nil)
	s.AddNewSale(sale("s1", model.SaleStatusPending))

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, []string{"s2", "s1"}, keys(s.Items()))
}

func TestLoadDropsRefundClosedOnServer(t *testing.T) {
	f := &fakeAPI{}
	r := NewRefunds(f, nil, time.Minute, nil)
	r.Apply(refund("r1", model.RefundStatusPending))
	r.Apply(refund("r2", model.RefundStatusPending))
	require.Equal(t, 2, r.PendingCount())

	f.mu.Lock()
	f.refunds = []model.RefundNotification{
		refund("r1", model.RefundStatusApproved),
		refund("r2", model.RefundStatusPending),
	}
	f.mu.Unlock()
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, []string{"r2"}, keys(r.Items()))
	assert.Equal(t, 1, r.PendingCount())
}

func TestLoadDropsSaleCancelledOnServer(t *testing.T) {
	f := &fakeAPI{}
	s := NewSales(f, nil, time.Minute, nil)
	s.AddNewSale(sale("s1", model.SaleStatusPending))
	require.Equal(t, 1, s.Unread())

	f.mu.Lock()
	f.sales = []model.SaleNotification{sale("s1", model.SaleStatusCancelled)}
	f.mu.Unlock()
	require.NoError(t, s.Load(context.Background()))

	assert.Empty(t, s.Items())
	assert.Zero(t, s.PendingCount())
	assert.Zero(t, s.Unread())
}

func TestPollDropsClosedItems(t *testing.T) {
	f := &fakeAPI{
		sales:   []model.SaleNotification{sale("s1", model.SaleStatusPending), sale("s2", model.SaleStatusPaid)},
		refunds: []model.RefundNotification{refund("r1", model.RefundStatusPending)},
	}
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	sched := scheduler.New(0)
	sched.SetClock(func() time.Time { return start })
	s := NewSales(f, sched, time.Minute, nil)
	r := NewRefunds(f, sched, time.Minute, nil)

	require.NoError(t, s.StartPolling(context.Background()))
	require.NoError(t, r.StartPolling(context.Background()))
	require.Equal(t, 1, s.PendingCount())
	require.Equal(t, 1, r.PendingCount())

	f.mu.Lock()
	f.sales = []model.SaleNotification{sale("s1", model.SaleStatusCancelled), sale("s2", model.SaleStatusPaid)}
	f.refunds = []model.RefundNotification{refund("r1", model.RefundStatusApproved)}
	f.mu.Unlock()

	assert.Equal(t, 2, sched.RunDue(context.Background(), start.Add(time.Minute)))
	assert.Equal(t, []string{"s2"}, keys(s.Items()))
	assert.Zero(t, s.PendingCount())
	assert.Empty(t, r.Items())
	assert.Zero(t, r.PendingCount())
}

func TestSaleCancelledByPush(t *testing.T) {
	f := &fakeAPI{}
	s := NewSales(f, nil, time.Minute, nil)
	s.AddNewSale(sale("s1", model.SaleStatusPending))

	require.True(t, s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "s1", Status: model.SaleStatusCancelled}))
	require.Len(t, s.Items(), 1)
	assert.Equal(t, model.SaleStatusCancelled, s.Items()[0].Status)
	assert.Zero(t, s.PendingCount())

	require.NoError(t, s.Load(context.Background()))
	assert.Empty(t, s.Items(), "next load drops the cancelled sale")
}

func TestSaleCancelledDuringFetch(t *testing.T) {
	f := &fakeAPI{
		sales:   []model.SaleNotification{sale("s1", model.SaleStatusPending)},
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	s := NewSales(f, nil, time.Minute, nil)
	s.AddNewSale(sale("s1", model.SaleStatusPending))

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background()) }()
	<-f.entered
	s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "s1", Status: model.SaleStatusCancelled})
	close(f.gate)
	require.NoError(t, <-done)

	assert.Empty(t, s.Items(), "stale pending snapshot does not revive the sale")
	assert.Zero(t, s.PendingCount())
}

func TestPushChangesListAndUnreadTogether(t *testing.T) {
	s := NewSales(&fakeAPI{}, nil, time.Minute, nil)

	var views []View[model.SaleNotification]
	cancel := s.Subscribe(func(v View[model.SaleNotification]) { views = append(views, v) })
	defer cancel()

	s.AddNewSale(sale("s1", model.SaleStatusPending))
	require.Len(t, views, 1, "one state change per push")
	assert.Equal(t, []string{"s1"}, keys(views[0].Items))
	assert.Equal(t, 1, views[0].Unread)

	s.UpdateSaleStatus(model.SaleStatusUpdate{ID: "s1", Status: model.SaleStatusPaid})
	require.Len(t, views, 2)
	assert.Equal(t, model.SaleStatusPaid, views[1].Items[0].Status)
	assert.Zero(t, views[1].Unread)

	rv := NewReviews(&fakeAPI{}, nil, time.Minute, nil)
	var reviewViews int
	cancelReviews := rv.Subscribe(func(View[model.ReviewNotification]) { reviewViews++ })
	defer cancelReviews()
	rv.AddNewReview(model.ReviewNotification{ID: "v1", Rating: 5})
	assert.Equal(t, 1, reviewViews)
	assert.Equal(t, 1, rv.Unread())
}

func TestServerUnreadPlusConcurrentPushes(t *testing.T) {
	f := &fakeAPI{
		salesUnread: 3,
		gate:        make(chan struct{}),
		entered:     make(chan struct{}, 1),
	}
	s := NewSales(f, nil, time.Minute, nil)

	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background()) }()
	<-f.entered
	s.AddNewSale(sale("s9", model.SaleStatusPending))
	close(f.gate)
	require.NoError(t, <-done)

	assert.Equal(t, 4, s.Unread())
}

func TestAuthFailuresStopPolling(t *testing.T) {
	f := &fakeAPI{}
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	sched := scheduler.New(0)
	sched.SetClock(func() time.Time { return start })
	s := NewSales(f, sched, 30*time.Second, nil)

	f.setErr(&api.Error{Kind: api.KindAuth, Status: 401})
	err := s.StartPolling(context.Background())
	require.Error(t, err)
	assert.True(t, api.IsAuth(err))
	assert.True(t, s.Polling())

	sched.RunDue(context.Background(), start.Add(30*time.Second))
	assert.False(t, s.Polling())
	assert.Empty(t, sched.Tasks())
}

func TestNonAuthFailuresKeepPolling(t *testing.T) {
	f := &fakeAPI{}
	f.setErr(errors.New("timeout"))
	sched := scheduler.New(0)
	s := NewSales(f, sched, 30*time.Second, nil)

	require.Error(t, s.StartPolling(context.Background()))
	require.Error(t, s.Load(context.Background()))
	require.Error(t, s.Load(context.Background()))
	assert.True(t, s.Polling())
}

func TestMarkAllRead(t *testing.T) {
	f := &fakeAPI{}
	s := NewSales(f, nil, time.Minute, nil)
	s.AddNewSale(sale("s1", model.SaleStatusPending))
	s.AddNewSale(sale("s2", model.SaleStatusPending))

	require.NoError(t, s.MarkAllRead(context.Background()))
	assert.Zero(t, s.Unread())
	for _, it := range s.Items() {
		assert.True(t, it.Read)
	}

	f.setErr(&api.Error{Kind: api.KindServer})
	s.AddNewSale(sale("s3", model.SaleStatusPending))
	require.Error(t, s.MarkAllRead(context.Background()))
	assert.Equal(t, 1, s.Unread(), "failed call leaves local state alone")
}

func TestReviewsMarkAllRead(t *testing.T) {
	f := &fakeAPI{}
	rv := NewReviews(f, nil, time.Minute, nil)
	rv.AddNewReview(model.ReviewNotification{ID: "v1", Rating: 4})
	require.Equal(t, 1, rv.Unread())

	require.NoError(t, rv.MarkAllRead(context.Background()))
	assert.Zero(t, rv.Unread())
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.markCalls))
}

func TestSubscribeReceivesViews(t *testing.T) {
	r := NewRefunds(&fakeAPI{}, nil, time.Minute, nil)

	var views []View[model.RefundNotification]
	cancel := r.Subscribe(func(v View[model.RefundNotification]) { views = append(views, v) })
	defer cancel()

	r.Apply(refund("r1", model.RefundStatusPending))
	require.NotEmpty(t, views)
	last := views[len(views)-1]
	assert.Equal(t, model.DomainRefunds, last.Domain)
	assert.Equal(t, 1, last.PendingCount)
}

func TestResetDiscardsInflightLoad(t *testing.T) {
	f := &fakeAPI{
		sales:       []model.SaleNotification{sale("s1", model.SaleStatusPending)},
		salesUnread: 1,
	}
	s := NewSales(f, nil, time.Minute, nil)
	require.NoError(t, s.Load(context.Background()))
	require.True(t, s.AddNewSale(sale("s2", model.SaleStatusPending)))
	require.Equal(t, 2, s.Unread())

	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- s.Load(context.Background()) }()
	<-f.entered

	s.Reset()
	assert.Empty(t, s.Items())
	assert.Zero(t, s.Unread())

	close(f.gate)
	require.NoError(t, <-done)
	assert.Empty(t, s.Items(), "response to a load issued before Reset is dropped")
	assert.False(t, s.IsLoading())

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, []string{"s1"}, keys(s.Items()))
	assert.Equal(t, 1, s.Unread())
}
