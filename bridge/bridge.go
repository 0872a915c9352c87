// Package bridge connects a blocking producer to a demand-driven consumer.
//
// A BoundedBridge lets a producer that wants to call a blocking "emit" for
// every value feed a consumer that pulls values from a channel and grants
// demand explicitly. The producer blocks until the consumer has granted a
// permit, so the number of values in flight never exceeds the bridge
// capacity regardless of how fast the producer is.
//
//	b := bridge.New[Record](256)
//	go func() {
//	    defer b.Complete()
//	    for rec := range source {
//	        if err := b.Emit(ctx, rec); err != nil {
//	            return
//	        }
//	    }
//	}()
//
//	b.Allow(256)
//	for rec := range b.Values() {
//	    handle(rec)
//	    b.Allow(1)
//	}
package bridge

import (
	"context"
	"errors"
	"sync"
)

// ErrCompleted is returned by Emit after Complete has been called.
var ErrCompleted = errors.New("bridge: completed")

// BoundedBridge is a single-producer, permit-gated bridge.
//
// Permits start at zero: nothing flows until the consumer calls Allow.
// Outstanding permits are capped at the bridge capacity.
type BoundedBridge[T any] struct {
	capacity int
	values   chan T
	signal   chan struct{}
	done     chan struct{}

	mu        sync.Mutex
	permits   int
	completed bool

	// sendMu keeps Complete from closing values while Emit is sending.
	sendMu sync.RWMutex
}

// New creates a bridge holding at most capacity undelivered values.
// A capacity below 1 is treated as 1.
func New[T any](capacity int) *BoundedBridge[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedBridge[T]{
		capacity: capacity,
		values:   make(chan T, capacity),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Capacity returns the maximum number of outstanding permits.
func (b *BoundedBridge[T]) Capacity() int {
	return b.capacity
}

// Emit blocks until a permit is available, then hands v to the consumer.
//
// It returns ErrCompleted once the bridge is completed and ctx.Err() if ctx
// ends first. Emit must only be called from one goroutine.
func (b *BoundedBridge[T]) Emit(ctx context.Context, v T) error {
	for {
		b.mu.Lock()
		if b.completed {
			b.mu.Unlock()
			return ErrCompleted
		}
		if b.permits > 0 {
			b.permits--
			b.mu.Unlock()
			return b.send(ctx, v)
		}
		b.mu.Unlock()

		select {
		case <-b.signal:
		case <-b.done:
			return ErrCompleted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *BoundedBridge[T]) send(ctx context.Context, v T) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()

	select {
	case <-b.done:
		return ErrCompleted
	default:
	}

	select {
	case b.values <- v:
		return nil
	case <-b.done:
		return ErrCompleted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Allow grants n more permits, waking a blocked producer.
func (b *BoundedBridge[T]) Allow(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.permits += n
	if b.permits > b.capacity {
		b.permits = b.capacity
	}
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Permits returns the number of outstanding permits.
func (b *BoundedBridge[T]) Permits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.permits
}

// Complete signals that no further values follow. Values already emitted
// are still delivered, after which the Values channel is closed.
// Calling Complete more than once is a no-op.
func (b *BoundedBridge[T]) Complete() {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return
	}
	b.completed = true
	b.mu.Unlock()

	close(b.done)

	b.sendMu.Lock()
	close(b.values)
	b.sendMu.Unlock()
}

// Values returns the consumer side of the bridge.
func (b *BoundedBridge[T]) Values() <-chan T {
	return b.values
}

// Done is closed when Complete is called.
func (b *BoundedBridge[T]) Done() <-chan struct{} {
	return b.done
}
