// Package aggregator keeps the "needs attention" queues of the client. Each
// queue merges realtime pushes with periodic fetches into one ordered,
// de-duplicated list with derived counts.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/coursedesk/internal/api"
	"github.com/nhle/coursedesk/internal/logger"
	"github.com/nhle/coursedesk/internal/model"
	"github.com/nhle/coursedesk/internal/scheduler"
	"github.com/nhle/coursedesk/internal/state"
)

// authFailureLimit is how many consecutive auth-kind fetch failures stop
// the aggregator's own polling.
const authFailureLimit = 2

// Batch is one fetch result. Unread is nil when the endpoint does not
// report an unread count.
type Batch[T model.Item] struct {
	Items  []T
	Unread *int
}

// Fetcher loads the full list for one queue.
type Fetcher[T model.Item] func(ctx context.Context) (Batch[T], error)

// Policy describes how one queue treats fetched data.
type Policy[T model.Item] struct {
	Domain model.Domain

	// Merge folds fetched items into the current list instead of replacing
	// it. Items that are only known locally are retained.
	Merge bool

	// Keep selects the items that stay queued. A fetch drops the rest, local
	// copies included. Nil keeps everything.
	Keep func(T) bool

	// Pending selects the items counted by PendingCount.
	Pending func(T) bool

	// Interval is the polling period.
	Interval time.Duration

	// Limit caps the list length, dropping the oldest entries. Zero means
	// no cap.
	Limit int
}

// Feed is the data held in the aggregator's state container.
type Feed[T model.Item] struct {
	Items       []T
	Unread      int
	LastChecked time.Time
}

// View is a read-only snapshot with derived values.
type View[T model.Item] struct {
	Domain       model.Domain
	Items        []T
	PendingCount int
	Unread       int
	LastChecked  time.Time
	IsLoading    bool
	Err          error
	Version      uint64
}

// Aggregator is safe for concurrent use.
type Aggregator[T model.Item] struct {
	policy Policy[T]
	fetch  Fetcher[T]
	sched  *scheduler.Scheduler
	log    *logger.Logger
	res    *state.Resource[Feed[T]]
	now    func() time.Time

	// mu guards the fields below. When both locks are needed, the state
	// container's lock is taken first (mu is only taken inside update
	// functions).
	mu           sync.Mutex
	rev          uint64
	touched      map[string]uint64
	unreadDelta  int
	authFailures int
	polling      bool
	token        *scheduler.Token
}

// New returns an empty aggregator. sched may be nil, in which case
// StartPolling only performs the initial load.
func New[T model.Item](
	policy Policy[T],
	fetch Fetcher[T],
	sched *scheduler.Scheduler,
	log *logger.Logger,
) *Aggregator[T] {
	if log == nil {
		log = logger.Discard()
	}
	return &Aggregator[T]{
		policy:  policy,
		fetch:   fetch,
		sched:   sched,
		log:     log,
		res:     state.New(Feed[T]{}),
		now:     time.Now,
		touched: make(map[string]uint64),
	}
}

// Domain returns the queue this aggregator serves.
func (a *Aggregator[T]) Domain() model.Domain {
	return a.policy.Domain
}

// View returns the current snapshot. Derived values are computed on every
// call.
func (a *Aggregator[T]) View() View[T] {
	return a.view(a.res.Get())
}

func (a *Aggregator[T]) view(snap state.Snapshot[Feed[T]]) View[T] {
	v := View[T]{
		Domain:      a.policy.Domain,
		Items:       snap.Data.Items,
		Unread:      snap.Data.Unread,
		LastChecked: snap.Data.LastChecked,
		IsLoading:   snap.IsLoading,
		Err:         snap.Err,
		Version:     snap.Version,
	}
	if a.policy.Pending != nil {
		for _, it := range snap.Data.Items {
			if a.policy.Pending(it) {
				v.PendingCount++
			}
		}
	}
	return v
}

// Items returns the current list, newest first.
func (a *Aggregator[T]) Items() []T {
	return a.res.Get().Data.Items
}

// Filter returns the items matching keep.
func (a *Aggregator[T]) Filter(keep func(T) bool) []T {
	var out []T
	for _, it := range a.Items() {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// Pending returns the items selected by the policy's Pending predicate.
func (a *Aggregator[T]) Pending() []T {
	if a.policy.Pending == nil {
		return nil
	}
	return a.Filter(a.policy.Pending)
}

// PendingCount returns len(Pending()).
func (a *Aggregator[T]) PendingCount() int {
	return a.View().PendingCount
}

// Unread returns the unread counter.
func (a *Aggregator[T]) Unread() int {
	return a.res.Get().Data.Unread
}

// IsLoading reports whether a fetch is outstanding.
func (a *Aggregator[T]) IsLoading() bool {
	return a.res.Get().IsLoading
}

// Subscribe registers fn to receive a view after every change.
func (a *Aggregator[T]) Subscribe(fn func(View[T])) func() {
	return a.res.Subscribe(func(s state.Snapshot[Feed[T]]) {
		fn(a.view(s))
	})
}

// Load fetches the full list. It is dropped, returning nil, while another
// load is outstanding. On failure the current list is kept and the error is
// both stored in the view and returned.
func (a *Aggregator[T]) Load(ctx context.Context) error {
	ticket, ok := a.res.TryBegin()
	if !ok {
		return nil
	}

	a.mu.Lock()
	dispatched := a.rev
	delta := a.unreadDelta
	a.mu.Unlock()

	batch, err := a.fetch(ctx)
	if err != nil {
		a.res.Fail(ticket, err)
		a.log.Warn("%s: load failed: %v", a.policy.Domain, err)
		a.noteFailure(err)
		return fmt.Errorf("loading %s: %w", a.policy.Domain, err)
	}

	a.mu.Lock()
	a.authFailures = 0
	a.mu.Unlock()

	a.res.Commit(ticket, func(f Feed[T]) Feed[T] {
		return a.apply(f, batch, dispatched, delta)
	})
	return nil
}

// apply builds the new feed from a fetch dispatched at revision
// dispatched. Items pushed or updated after that revision win over the
// fetched copy.
func (a *Aggregator[T]) apply(cur Feed[T], batch Batch[T], dispatched uint64, delta int) Feed[T] {
	a.mu.Lock()
	defer a.mu.Unlock()

	local := make(map[string]T, len(cur.Items))
	for _, it := range cur.Items {
		local[it.Key()] = it
	}
	newer := func(key string) bool {
		return a.touched[key] > dispatched
	}

	seen := make(map[string]bool, len(batch.Items))
	fetched := make([]T, 0, len(batch.Items))
	for _, it := range batch.Items {
		key := it.Key()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if l, ok := local[key]; ok && newer(key) {
			it = l
		}
		fetched = append(fetched, it)
	}

	var items []T
	if a.policy.Merge {
		// New arrivals first, then the existing list with fetched copies
		// swapped in.
		fresh := make(map[string]T, len(fetched))
		for _, it := range fetched {
			fresh[it.Key()] = it
		}
		items = make([]T, 0, len(fetched)+len(cur.Items))
		for _, it := range fetched {
			if _, ok := local[it.Key()]; !ok {
				items = append(items, it)
			}
		}
		for _, it := range cur.Items {
			if f, ok := fresh[it.Key()]; ok {
				it = f
			}
			items = append(items, it)
		}
	} else {
		// Replace, except for items pushed since the fetch went out.
		items = make([]T, 0, len(fetched))
		for _, it := range cur.Items {
			if !seen[it.Key()] && newer(it.Key()) {
				items = append(items, it)
			}
		}
		items = append(items, fetched...)
	}

	// Items the server has closed leave the queue, including local copies
	// that a push already moved to a closed status.
	if a.policy.Keep != nil {
		open := make([]T, 0, len(items))
		for _, it := range items {
			if a.policy.Keep(it) {
				open = append(open, it)
			}
		}
		items = open
	}
	if a.policy.Limit > 0 && len(items) > a.policy.Limit {
		items = items[:a.policy.Limit]
	}

	next := Feed[T]{
		Items:       items,
		Unread:      cur.Unread,
		LastChecked: a.now(),
	}
	if batch.Unread != nil {
		next.Unread = clampUnread(*batch.Unread + a.unreadDelta - delta)
	}
	return next
}

func (a *Aggregator[T]) noteFailure(err error) {
	if !api.IsAuth(err) {
		a.mu.Lock()
		a.authFailures = 0
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.authFailures++
	stop := a.authFailures >= authFailureLimit && a.polling
	a.mu.Unlock()

	if stop {
		a.log.Warn("%s: stopping polling after %d auth failures", a.policy.Domain, authFailureLimit)
		a.StopPolling()
	}
}

// StartPolling performs one immediate load and then registers a periodic
// load with the scheduler. Calling it again while registered does nothing.
// The error of the initial load is returned, but polling stays registered.
func (a *Aggregator[T]) StartPolling(ctx context.Context) error {
	a.mu.Lock()
	if a.polling {
		a.mu.Unlock()
		return nil
	}
	a.polling = true
	a.authFailures = 0
	a.mu.Unlock()

	err := a.Load(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.polling {
		// Stopped during the initial load.
		return err
	}
	if a.sched != nil {
		a.token = a.sched.Every(string(a.policy.Domain), a.policy.Interval, func(ctx context.Context) {
			_ = a.Load(ctx)
		})
	}
	return err
}

// StopPolling cancels the periodic load. It is safe to call when not
// polling.
func (a *Aggregator[T]) StopPolling() {
	a.mu.Lock()
	tok := a.token
	a.token = nil
	a.polling = false
	a.mu.Unlock()

	if tok != nil {
		tok.Cancel()
	}
}

// Polling reports whether the aggregator is registered for polling.
func (a *Aggregator[T]) Polling() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polling
}

// touchLocked stamps key with a new revision. Called with mu held.
func (a *Aggregator[T]) touchLocked(key string) {
	a.rev++
	a.touched[key] = a.rev
}

// Add inserts item at the head of the list. It reports false, leaving the
// list unchanged, when an item with the same id is already present.
func (a *Aggregator[T]) Add(item T) bool {
	return a.AddCounted(item, nil)
}

// AddCounted is Add that also moves the unread counter by unread(item) in
// the same state change, so a load committing in between cannot count the
// item twice.
func (a *Aggregator[T]) AddCounted(item T, unread func(T) int) bool {
	key := item.Key()
	if key == "" {
		return false
	}

	added := false
	a.res.Patch(func(f Feed[T]) Feed[T] {
		for _, it := range f.Items {
			if it.Key() == key {
				return f
			}
		}
		a.mu.Lock()
		a.touchLocked(key)
		a.mu.Unlock()

		items := make([]T, 0, len(f.Items)+1)
		items = append(items, item)
		items = append(items, f.Items...)
		if a.policy.Limit > 0 && len(items) > a.policy.Limit {
			items = items[:a.policy.Limit]
		}
		f.Items = items
		if unread != nil {
			a.shiftUnread(&f, unread(item))
		}
		added = true
		return f
	})
	return added
}

// Update replaces the item with the given id by fn(item). It returns the
// previous and new values, and false when no such item exists.
func (a *Aggregator[T]) Update(id string, fn func(T) T) (prev, next T, ok bool) {
	return a.UpdateCounted(id, fn, nil)
}

// UpdateCounted is Update that also moves the unread counter by
// unread(prev, next) in the same state change.
func (a *Aggregator[T]) UpdateCounted(id string, fn func(T) T, unread func(prev, next T) int) (prev, next T, ok bool) {
	a.res.Patch(func(f Feed[T]) Feed[T] {
		for i, it := range f.Items {
			if it.Key() != id {
				continue
			}
			prev = it
			next = fn(it)
			ok = true

			a.mu.Lock()
			a.touchLocked(id)
			a.mu.Unlock()

			items := make([]T, len(f.Items))
			copy(items, f.Items)
			items[i] = next
			f.Items = items
			if unread != nil {
				a.shiftUnread(&f, unread(prev, next))
			}
			return f
		}
		return f
	})
	return prev, next, ok
}

// Upsert updates the item with item's id in place, or inserts item at the
// head when absent. existed reports which happened; prev is the replaced
// value.
func (a *Aggregator[T]) Upsert(item T) (prev T, existed bool) {
	prev, _, existed = a.Update(item.Key(), func(T) T { return item })
	if !existed {
		a.Add(item)
	}
	return prev, existed
}

// AdjustUnread changes the unread counter by delta, never going below zero.
func (a *Aggregator[T]) AdjustUnread(delta int) {
	a.res.Patch(func(f Feed[T]) Feed[T] {
		a.shiftUnread(&f, delta)
		return f
	})
}

// shiftUnread moves f.Unread by delta and records the change for the next
// load. It runs inside a Patch.
func (a *Aggregator[T]) shiftUnread(f *Feed[T], delta int) {
	if delta == 0 {
		return
	}
	next := clampUnread(f.Unread + delta)

	a.mu.Lock()
	a.unreadDelta += next - f.Unread
	a.mu.Unlock()

	f.Unread = next
}

// MarkAllReadLocally zeroes the unread counter and applies mark to every
// item.
func (a *Aggregator[T]) MarkAllReadLocally(mark func(T) T) {
	a.res.Patch(func(f Feed[T]) Feed[T] {
		a.mu.Lock()
		a.unreadDelta -= f.Unread
		a.mu.Unlock()

		if mark != nil {
			items := make([]T, len(f.Items))
			for i, it := range f.Items {
				items[i] = mark(it)
			}
			f.Items = items
		}
		f.Unread = 0
		return f
	})
}

// Reset empties the queue and forgets push history. A load in flight when
// Reset is called is discarded.
func (a *Aggregator[T]) Reset() {
	a.res.Reset(Feed[T]{})

	a.mu.Lock()
	a.touched = make(map[string]uint64)
	a.unreadDelta = 0
	a.authFailures = 0
	a.mu.Unlock()
}

func clampUnread(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
