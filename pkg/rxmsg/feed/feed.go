// Package feed provides the in-process fan-out primitive used throughout rxmsg.
//
// A Feed is a single publish point with any number of independent subscriber
// registrations. Derived feeds (Filter, Map) subscribe to their source once and
// republish matching values, so a shared inbound stream can be partitioned into
// typed or per-channel views without a central dispatcher.
package feed

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

type subscription[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// Feed is a hot, multi-subscriber stream of values.
//
// Publish delivers synchronously and in order to a snapshot of the subscribers
// registered at the time of the call. The feed lock is not held while handlers
// run, so a handler may unsubscribe itself or publish to another feed.
type Feed[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription[T]
	nextID uint64
	closed bool
	detach func()
}

// New creates an empty feed.
func New[T any]() *Feed[T] {
	return &Feed[T]{
		subs: make(map[uint64]*subscription[T]),
	}
}

// Subscribe registers fn and returns a function that removes the registration.
// The returned function is idempotent. Subscribing to a closed feed is a no-op.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return func() {}
	}

	f.nextID++
	id := f.nextID
	sub := &subscription[T]{fn: fn}
	sub.active.Store(true)
	f.subs[id] = sub

	return func() {
		sub.active.Store(false)
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Publish delivers v to every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.RLock()
	if len(f.subs) == 0 {
		f.mu.RUnlock()
		return
	}
	ids := make([]uint64, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	snapshot := make([]*subscription[T], 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		snapshot = append(snapshot, f.subs[id])
	}
	f.mu.RUnlock()

	for _, sub := range snapshot {
		// a handler earlier in this loop may have removed a later one
		if sub.active.Load() {
			sub.fn(v)
		}
	}
}

// Len returns the number of active subscribers.
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close drops all subscribers and, for derived feeds, detaches from the source.
// Subsequent Subscribe calls are no-ops and Publish delivers nothing.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		sub.active.Store(false)
		delete(f.subs, id)
	}
	detach := f.detach
	f.detach = nil
	f.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// Filter returns a derived feed that republishes the values of src for which
// pred returns true. The derived feed stays attached until it is closed.
func Filter[T any](src *Feed[T], pred func(T) bool) *Feed[T] {
	out := New[T]()
	out.detach = src.Subscribe(func(v T) {
		if pred(v) {
			out.Publish(v)
		}
	})
	return out
}

// Map returns a derived feed that republishes fn(v) for every value of src.
func Map[T, U any](src *Feed[T], fn func(T) U) *Feed[U] {
	out := New[U]()
	out.detach = src.Subscribe(func(v T) {
		out.Publish(fn(v))
	})
	return out
}

// First waits for the first value of f satisfying pred. A nil pred matches
// anything. The registration is removed before First returns.
func First[T any](ctx context.Context, f *Feed[T], pred func(T) bool) (T, error) {
	ch := make(chan T, 1)
	var once sync.Once
	unsubscribe := f.Subscribe(func(v T) {
		if pred != nil && !pred(v) {
			return
		}
		once.Do(func() {
			ch <- v
		})
	})
	defer unsubscribe()

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
