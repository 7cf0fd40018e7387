// Package cache provides an in-memory keyed store whose entries expire a fixed
// time after their latest write.
package cache

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = 30 * time.Second

// Store maps keys to values with a TTL measured from each entry's latest write.
// A single background loop evicts expired entries; lookups also treat expired
// entries as absent so expiry never depends on sweep latency.
//
// Entries for which the retain predicate reports true are skipped when their
// deadline passes. They are not re-armed by the sweep: the next write to the
// key arms a fresh deadline. A value that is never written again therefore
// stays resident until the process exits.
type Store[V any] struct {
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	retain        func(V) bool
	evict         func(key string, v V)

	mu        sync.Mutex
	items     map[string]*entry[V]
	deadlines deadlineHeap
	// gen numbers every write store-wide so a recreated key never matches
	// a deadline pushed for an earlier entry.
	gen uint64

	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	runMu   sync.Mutex
	running bool
	closed  bool
}

type entry[V any] struct {
	value      V
	deadline   time.Time
	generation uint64
}

// Option configures a Store.
type Option[V any] func(*Store[V])

// WithClock overrides the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(s *Store[V]) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetain sets the predicate that defers expiry of an entry.
func WithRetain[V any](fn func(V) bool) Option[V] {
	return func(s *Store[V]) { s.retain = fn }
}

// WithEvict sets the callback invoked after an entry expires. It runs without the store lock held.
func WithEvict[V any](fn func(key string, v V)) Option[V] {
	return func(s *Store[V]) { s.evict = fn }
}

// WithSweepInterval bounds how long the sweep loop sleeps between passes.
func WithSweepInterval[V any](d time.Duration) Option[V] {
	return func(s *Store[V]) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// New creates a Store with the given TTL.
func New[V any](ttl time.Duration, opts ...Option[V]) *Store[V] {
	s := &Store[V]{
		ttl:           ttl,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		items:         make(map[string]*entry[V]),
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	e, ok := s.items[key]
	if !ok {
		s.mu.Unlock()
		var zero V
		return zero, false
	}
	if s.expired(e, s.now()) {
		delete(s.items, key)
		s.mu.Unlock()
		s.onEvict(key, e.value)
		var zero V
		return zero, false
	}
	v := e.value
	s.mu.Unlock()
	return v, true
}

// Set replaces the value for key and starts a fresh TTL window.
func (s *Store[V]) Set(key string, v V) {
	s.mu.Lock()
	s.put(key, v)
	s.mu.Unlock()
	s.signal()
}

// Update applies fn to the current value (ok=false when absent or expired).
// When fn reports write=true the result is stored with a fresh TTL window;
// otherwise the entry is left untouched. Update returns the resulting value
// and whether it was written.
func (s *Store[V]) Update(key string, fn func(cur V, ok bool) (next V, write bool)) (V, bool) {
	s.mu.Lock()
	var cur V
	e, ok := s.items[key]
	if ok && !s.expired(e, s.now()) {
		cur = e.value
	} else {
		ok = false
	}
	next, write := fn(cur, ok)
	if !write {
		s.mu.Unlock()
		return cur, false
	}
	s.put(key, next)
	s.mu.Unlock()
	s.signal()
	return next, true
}

// Delete removes key without invoking the evict callback.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len returns the number of resident entries, including ones awaiting a sweep.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep evicts every entry whose deadline is at or before now and returns how many were evicted.
func (s *Store[V]) Sweep(now time.Time) int {
	type evicted struct {
		key   string
		value V
	}
	var out []evicted

	s.mu.Lock()
	for s.deadlines.Len() > 0 && !s.deadlines[0].at.After(now) {
		d := heap.Pop(&s.deadlines).(deadline)
		e, ok := s.items[d.key]
		if !ok || e.generation != d.generation || e.deadline.After(now) {
			continue
		}
		if s.retain != nil && s.retain(e.value) {
			continue
		}
		delete(s.items, d.key)
		out = append(out, evicted{key: d.key, value: e.value})
	}
	s.mu.Unlock()

	for _, ev := range out {
		s.onEvict(ev.key, ev.value)
	}
	return len(out)
}

// Run starts the sweep loop. It returns when ctx is done or Close is called.
func (s *Store[V]) Run(ctx context.Context) {
	s.runMu.Lock()
	if s.running || s.closed {
		s.runMu.Unlock()
		return
	}
	s.running = true
	s.runMu.Unlock()
	defer close(s.done)

	timer := time.NewTimer(s.nextWait())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
			s.Sweep(s.now())
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextWait())
	}
}

// Start runs the sweep loop in a new goroutine.
func (s *Store[V]) Start(ctx context.Context) {
	go s.Run(ctx)
}

// Close stops the sweep loop and waits for it to exit if it was started.
func (s *Store[V]) Close() {
	s.runMu.Lock()
	if s.closed {
		s.runMu.Unlock()
		return
	}
	s.closed = true
	running := s.running
	close(s.stop)
	s.runMu.Unlock()
	if running {
		<-s.done
	}
}

func (s *Store[V]) put(key string, v V) {
	e, ok := s.items[key]
	if !ok {
		e = &entry[V]{}
		s.items[key] = e
	}
	e.value = v
	s.gen++
	e.generation = s.gen
	e.deadline = s.now().Add(s.ttl)
	heap.Push(&s.deadlines, deadline{key: key, at: e.deadline, generation: e.generation})
}

func (s *Store[V]) expired(e *entry[V], now time.Time) bool {
	if now.Before(e.deadline) {
		return false
	}
	return s.retain == nil || !s.retain(e.value)
}

func (s *Store[V]) onEvict(key string, v V) {
	if s.evict != nil {
		s.evict(key, v)
	}
}

func (s *Store[V]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store[V]) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	wait := s.sweepInterval
	if s.deadlines.Len() > 0 {
		if until := s.deadlines[0].at.Sub(s.now()); until < wait {
			wait = until
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

type deadline struct {
	key        string
	at         time.Time
	generation uint64
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(deadline)) }

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}
