package realtime

import "sync"

// Stream is a typed fan-out of one kind of push event. Subscribers are
// called synchronously, in no particular order, on the publisher's
// goroutine.
type Stream[T any] struct {
	mu   sync.RWMutex
	subs map[int]func(T)
	next int
}

// Subscribe registers fn and returns a function that removes it.
func (s *Stream[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]func(T))
	}
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Publish delivers v to every subscriber.
func (s *Stream[T]) Publish(v T) {
	s.mu.RLock()
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of subscribers.
func (s *Stream[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
