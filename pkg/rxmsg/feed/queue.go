package feed

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is used by NewQueue when size is not positive.
const DefaultQueueSize = 64

// Queue adapts a feed subscription to a buffered channel so that consumers can
// range or select over values instead of registering callbacks.
//
// Delivery never blocks the publisher: when the buffer is full the value is
// dropped and counted.
type Queue[T any] struct {
	ch          chan T
	mu          sync.Mutex
	closed      bool
	dropped     atomic.Uint64
	unsubscribe func()
}

// NewQueue subscribes to f and buffers up to size values.
//
// Example:
//
//	q := feed.NewQueue(client.Messages(), 100)
//	defer q.Close()
//	for msg := range q.C() {
//	    ...
//	}
func NewQueue[T any](f *Feed[T], size int) *Queue[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}

	q := &Queue[T]{
		ch: make(chan T, size),
	}
	q.unsubscribe = f.Subscribe(q.offer)

	return q
}

func (q *Queue[T]) offer(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	select {
	case q.ch <- v:
	default:
		q.dropped.Add(1)
	}
}

// C returns the receive side of the queue. It is closed by Close.
func (q *Queue[T]) C() <-chan T {
	return q.ch
}

// Dropped returns the number of values discarded because the buffer was full.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Close unsubscribes from the feed and closes the channel. Buffered values can
// still be drained after Close. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	q.unsubscribe()
}
