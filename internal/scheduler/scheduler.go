// Package scheduler runs every periodic refresh task of the client from a
// single timer. Tasks are kept in a min-heap ordered by their next run time
// and are executed one at a time.
package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultStagger separates the first runs of consecutively registered tasks.
const DefaultStagger = 2 * time.Second

// Func is the work performed by a periodic task.
type Func func(ctx context.Context)

type entry struct {
	name      string
	interval  time.Duration
	fn        Func
	next      time.Time
	index     int
	cancelled bool
}

// Token identifies a registration. Cancel removes it.
type Token struct {
	s *Scheduler
	e *entry
}

// Name returns the name the task was registered with.
func (t *Token) Name() string {
	return t.e.name
}

// Cancel stops future runs of the task. A run already in progress is not
// interrupted. Cancel is idempotent.
func (t *Token) Cancel() {
	t.s.cancel(t.e)
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	tasks   taskHeap
	stagger time.Duration
	now     func() time.Time
	wake    chan struct{}
}

// New returns a scheduler whose consecutive registrations are offset by
// stagger. A negative stagger means DefaultStagger.
func New(stagger time.Duration) *Scheduler {
	if stagger < 0 {
		stagger = DefaultStagger
	}
	return &Scheduler{
		stagger: stagger,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

// SetClock replaces the time source. Used by tests together with RunDue.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Every registers fn to run every interval. The first run happens one
// interval from now, pushed back by the stagger times the number of tasks
// already registered.
func (s *Scheduler) Every(name string, interval time.Duration, fn Func) *Token {
	s.mu.Lock()
	offset := time.Duration(len(s.tasks)) * s.stagger
	e := &entry{
		name:     name,
		interval: interval,
		fn:       fn,
		next:     s.now().Add(interval + offset),
	}
	heap.Push(&s.tasks, e)
	s.mu.Unlock()

	s.signal()
	return &Token{s: s, e: e}
}

func (s *Scheduler) cancel(e *entry) {
	s.mu.Lock()
	if e.cancelled {
		s.mu.Unlock()
		return
	}
	e.cancelled = true
	if e.index >= 0 && e.index < len(s.tasks) && s.tasks[e.index] == e {
		heap.Remove(&s.tasks, e.index)
	}
	s.mu.Unlock()

	s.signal()
}

// Tasks returns the names of the live registrations, sorted.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.tasks))
	for _, e := range s.tasks {
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns when the earliest task is due, or false if there is none.
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) == 0 {
		return time.Time{}, false
	}
	return s.tasks[0].next, true
}

// RunDue runs, sequentially, every task due at now and reschedules each one
// interval after now. It returns the number of tasks run.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*entry
	for len(s.tasks) > 0 && !s.tasks[0].next.After(now) {
		due = append(due, heap.Pop(&s.tasks).(*entry))
	}
	s.mu.Unlock()

	ran := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if s.isCancelled(e) {
			continue
		}
		e.fn(ctx)
		ran++
	}

	s.mu.Lock()
	for _, e := range due {
		if !e.cancelled {
			e.next = now.Add(e.interval)
			heap.Push(&s.tasks, e)
		}
	}
	s.mu.Unlock()

	return ran
}

func (s *Scheduler) isCancelled(e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.cancelled
}

// Run drives the scheduler until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := time.Hour
		if next, ok := s.NextRun(); ok {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
			s.RunDue(ctx, s.clock())
		}
	}
}

func (s *Scheduler) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// taskHeap implements heap.Interface ordered by next run time.
type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].next.Before(h[j].next) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
