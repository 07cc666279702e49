// Package state provides Resource, the single container used for every
// asynchronously loaded piece of client state: the data, whether a request
// is in flight, and the last error.
package state

import (
	"sync"
	"time"
)

// Ticket identifies one request issued against a Resource. Tickets are
// issued in increasing order; a response carrying a ticket older than the
// last applied one is stale and rejected.
type Ticket uint64

// Snapshot is an immutable view of a Resource at one point in time.
type Snapshot[T any] struct {
	Data      T
	IsLoading bool
	Err       error

	// Version increases on every accepted write.
	Version uint64

	// UpdatedAt is when the last accepted write happened.
	UpdatedAt time.Time
}

// Resource holds one piece of asynchronously loaded state.
//
// Writes come from two directions: request/response (Begin followed by
// Succeed, Commit or Fail) and pushes (Replace, Patch). Update functions
// receive the current data and must return a new value instead of mutating
// shared slices or maps, since snapshots handed to readers alias them.
type Resource[T any] struct {
	mu       sync.Mutex
	snap     Snapshot[T]
	issued   Ticket
	applied  Ticket
	inflight map[Ticket]struct{}
	subs     map[int]func(Snapshot[T])
	nextSub  int
	now      func() time.Time
}

// New returns a Resource holding initial.
func New[T any](initial T) *Resource[T] {
	return &Resource[T]{
		snap:     Snapshot[T]{Data: initial},
		inflight: make(map[Ticket]struct{}),
		subs:     make(map[int]func(Snapshot[T])),
		now:      time.Now,
	}
}

// Get returns the current snapshot.
func (r *Resource[T]) Get() Snapshot[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Begin marks the resource as loading and returns the ticket for the new
// request.
func (r *Resource[T]) Begin() Ticket {
	r.mu.Lock()
	t := r.begin()
	snap := r.snap
	r.mu.Unlock()

	r.notify(snap)
	return t
}

// TryBegin is Begin, except that it refuses (returns false) while another
// request is still in flight. Callers use it to drop overlapping loads.
func (r *Resource[T]) TryBegin() (Ticket, bool) {
	r.mu.Lock()
	if len(r.inflight) > 0 {
		r.mu.Unlock()
		return 0, false
	}
	t := r.begin()
	snap := r.snap
	r.mu.Unlock()

	r.notify(snap)
	return t, true
}

func (r *Resource[T]) begin() Ticket {
	r.issued++
	t := r.issued
	r.inflight[t] = struct{}{}
	r.snap.IsLoading = true
	return t
}

// Succeed replaces the data with the response for ticket t. It reports
// whether the response was applied.
func (r *Resource[T]) Succeed(t Ticket, data T) bool {
	return r.Commit(t, func(T) T { return data })
}

// Commit applies fn to the current data as the response for ticket t and
// clears the error. The response is rejected, and fn not called, when a
// response with a newer ticket has already been applied.
func (r *Resource[T]) Commit(t Ticket, fn func(T) T) bool {
	r.mu.Lock()
	applied := r.finish(t)
	if applied {
		r.snap.Data = fn(r.snap.Data)
		r.snap.Err = nil
		r.stamp()
	}
	snap := r.snap
	r.mu.Unlock()

	r.notify(snap)
	return applied
}

// Fail records err as the response for ticket t. The data is left as it
// was. Stale failures are ignored apart from clearing the loading flag.
func (r *Resource[T]) Fail(t Ticket, err error) bool {
	r.mu.Lock()
	applied := r.finish(t)
	if applied {
		r.snap.Err = err
	}
	snap := r.snap
	r.mu.Unlock()

	r.notify(snap)
	return applied
}

// finish retires ticket t and reports whether its response may be applied.
func (r *Resource[T]) finish(t Ticket) bool {
	delete(r.inflight, t)
	r.snap.IsLoading = len(r.inflight) > 0
	if t < r.applied {
		return false
	}
	r.applied = t
	return true
}

// Reset overwrites the data and clears the error. Responses to requests
// issued before the reset are rejected when they arrive.
func (r *Resource[T]) Reset(data T) {
	r.mu.Lock()
	r.issued++
	r.applied = r.issued
	r.snap.Data = data
	r.snap.Err = nil
	r.stamp()
	snap := r.snap
	r.mu.Unlock()

	r.notify(snap)
}

// Replace overwrites the data outside the request/response cycle.
func (r *Resource[T]) Replace(data T) {
	r.Patch(func(T) T { return data })
}

// Patch applies fn to the data outside the request/response cycle.
func (r *Resource[T]) Patch(fn func(T) T) {
	r.mu.Lock()
	r.snap.Data = fn(r.snap.Data)
	r.stamp()
	snap := r.snap
	r.mu.Unlock()

	r.notify(snap)
}

func (r *Resource[T]) stamp() {
	r.snap.Version++
	r.snap.UpdatedAt = r.now()
}

// Subscribe registers fn to receive every new snapshot. fn runs on the
// writer's goroutine after the lock is released. The returned function
// removes the subscription.
func (r *Resource[T]) Subscribe(fn func(Snapshot[T])) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Resource[T]) notify(snap Snapshot[T]) {
	r.mu.Lock()
	subs := make([]func(Snapshot[T]), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
