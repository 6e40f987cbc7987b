package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedPublishSubscribe(t *testing.T) {
	t.Run("delivers to all subscribers in registration order", func(t *testing.T) {
		f := New[int]()
		var got []string

		f.Subscribe(func(v int) { got = append(got, "a") })
		f.Subscribe(func(v int) { got = append(got, "b") })
		f.Publish(1)

		assert.Equal(t, []string{"a", "b"}, got)
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		f := New[int]()
		var got []int

		unsubscribe := f.Subscribe(func(v int) { got = append(got, v) })
		f.Publish(1)
		unsubscribe()
		unsubscribe() // idempotent
		f.Publish(2)

		assert.Equal(t, []int{1}, got)
		assert.Equal(t, 0, f.Len())
	})

	t.Run("handler may unsubscribe itself", func(t *testing.T) {
		f := New[int]()
		calls := 0

		var unsubscribe func()
		unsubscribe = f.Subscribe(func(v int) {
			calls++
			unsubscribe()
		})

		f.Publish(1)
		f.Publish(2)

		assert.Equal(t, 1, calls)
	})

	t.Run("handler removed mid-publish is skipped", func(t *testing.T) {
		f := New[int]()
		var second func()
		secondCalls := 0

		f.Subscribe(func(v int) { second() })
		second = f.Subscribe(func(v int) { secondCalls++ })

		f.Publish(1)
		assert.Equal(t, 0, secondCalls)
	})

	t.Run("publish with no subscribers is a no-op", func(t *testing.T) {
		f := New[string]()
		assert.NotPanics(t, func() { f.Publish("x") })
	})

	t.Run("closed feed ignores subscribers", func(t *testing.T) {
		f := New[int]()
		calls := 0
		f.Subscribe(func(v int) { calls++ })
		f.Close()
		f.Close()

		f.Subscribe(func(v int) { calls++ })
		f.Publish(1)

		assert.Equal(t, 0, calls)
		assert.Equal(t, 0, f.Len())
	})
}

func TestFilterAndMap(t *testing.T) {
	src := New[int]()
	evens := Filter(src, func(v int) bool { return v%2 == 0 })
	doubled := Map(evens, func(v int) int { return v * 2 })

	var got []int
	doubled.Subscribe(func(v int) { got = append(got, v) })

	for i := 1; i <= 6; i++ {
		src.Publish(i)
	}
	assert.Equal(t, []int{4, 8, 12}, got)

	evens.Close()
	src.Publish(8)
	assert.Equal(t, []int{4, 8, 12}, got)
	assert.Equal(t, 0, src.Len(), "closing a derived feed detaches it from its source")
}

func TestFirst(t *testing.T) {
	t.Run("returns first matching value and unsubscribes", func(t *testing.T) {
		f := New[int]()
		done := make(chan int, 1)

		go func() {
			v, err := First(context.Background(), f, func(v int) bool { return v > 2 })
			assert.NoError(t, err)
			done <- v
		}()

		require.Eventually(t, func() bool { return f.Len() == 1 }, time.Second, time.Millisecond)
		for i := 1; i <= 5; i++ {
			f.Publish(i)
		}

		select {
		case v := <-done:
			assert.Equal(t, 3, v)
		case <-time.After(time.Second):
			t.Fatal("First did not return")
		}
		assert.Eventually(t, func() bool { return f.Len() == 0 }, time.Second, time.Millisecond)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		f := New[int]()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := First(ctx, f, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, f.Len())
	})
}

func TestQueue(t *testing.T) {
	t.Run("buffers values in order", func(t *testing.T) {
		f := New[int]()
		q := NewQueue(f, 4)

		f.Publish(1)
		f.Publish(2)
		f.Publish(3)
		q.Close()

		var got []int
		for v := range q.C() {
			got = append(got, v)
		}
		assert.Equal(t, []int{1, 2, 3}, got)
	})

	t.Run("drops on overflow without blocking", func(t *testing.T) {
		f := New[int]()
		q := NewQueue(f, 1)
		defer q.Close()

		f.Publish(1)
		f.Publish(2)
		f.Publish(3)

		assert.Equal(t, uint64(2), q.Dropped())
		assert.Equal(t, 1, <-q.C())
	})

	t.Run("default size", func(t *testing.T) {
		f := New[int]()
		q := NewQueue(f, 0)
		defer q.Close()
		assert.Equal(t, DefaultQueueSize, cap(q.ch))
	})

	t.Run("concurrent publish and close", func(t *testing.T) {
		f := New[int]()
		q := NewQueue(f, 8)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					f.Publish(j)
				}
			}()
		}
		q.Close()
		wg.Wait()
	})
}
