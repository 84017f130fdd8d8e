// Package queue provides the work and log queues shared by harness workers.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the number of slots in a work queue created with capacity <= 0.
const DefaultCapacity = 100

var (
	// ErrTimeout is returned by Pop when no item arrived within the timeout.
	ErrTimeout = errors.New("queue: timed out waiting for item")
	// ErrDrained is returned by Bounded.Pop once the queue is closed and every item is done.
	ErrDrained = errors.New("queue: closed and drained")
	// ErrClosed is returned by Unbounded once the queue is closed (and, for Pop, empty).
	ErrClosed = errors.New("queue: closed")
)

// Bounded is a fixed-capacity FIFO. Push blocks while the queue is full, which is
// what keeps a fast feeder from outrunning the backend.
//
// Every pushed item stays in flight until a consumer calls Done for it, so an item
// a worker puts back with Requeue is never lost to a concurrent shutdown.
type Bounded[T any] struct {
	items chan T

	mu       sync.Mutex
	overflow []T

	inflight  atomic.Int64
	closed    atomic.Bool
	drained   chan struct{}
	drainOnce sync.Once
}

// NewBounded creates a work queue with the given number of slots.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bounded[T]{
		items:   make(chan T, capacity),
		drained: make(chan struct{}),
	}
}

// Push adds an item, blocking until a slot frees or ctx ends.
// Pushing after Close is a programming error and panics.
func (q *Bounded[T]) Push(ctx context.Context, item T) error {
	if q.closed.Load() {
		panic("queue: push on closed queue")
	}
	q.inflight.Add(1)
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		q.Done()
		return ctx.Err()
	}
}

// Requeue puts an in-flight item back without blocking. It is legal after Close
// because the item has not been marked Done yet.
func (q *Bounded[T]) Requeue(item T) {
	select {
	case q.items <- item:
	default:
		q.mu.Lock()
		q.overflow = append(q.overflow, item)
		q.mu.Unlock()
	}
}

// Pop returns the next item, ErrTimeout if none arrives in time, or ErrDrained
// once the queue is closed with nothing left in flight.
func (q *Bounded[T]) Pop(timeout time.Duration) (T, error) {
	var zero T
	if item, ok := q.popOverflow(); ok {
		return item, nil
	}
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.items:
		return item, nil
	case <-q.drained:
		return zero, ErrDrained
	case <-timer.C:
		if item, ok := q.popOverflow(); ok {
			return item, nil
		}
		return zero, ErrTimeout
	}
}

func (q *Bounded[T]) popOverflow() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		return zero, false
	}
	item := q.overflow[0]
	q.overflow[0] = zero
	q.overflow = q.overflow[1:]
	return item, true
}

// Done marks one popped item as finished.
func (q *Bounded[T]) Done() {
	if q.inflight.Add(-1) == 0 && q.closed.Load() {
		q.signalDrained()
	}
}

// Close records that no more items will be pushed by the feeder.
func (q *Bounded[T]) Close() {
	q.closed.Store(true)
	if q.inflight.Load() == 0 {
		q.signalDrained()
	}
}

func (q *Bounded[T]) signalDrained() {
	q.drainOnce.Do(func() { close(q.drained) })
}

// Closed reports whether Close was called.
func (q *Bounded[T]) Closed() bool {
	return q.closed.Load()
}

// Len returns the number of queued items, not counting items being processed.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	n := len(q.overflow)
	q.mu.Unlock()
	return n + len(q.items)
}

// Empty reports whether no item is waiting to be popped.
func (q *Bounded[T]) Empty() bool {
	return q.Len() == 0
}

// InFlight returns the number of pushed items not yet marked Done.
func (q *Bounded[T]) InFlight() int64 {
	return q.inflight.Load()
}

// Unbounded is a FIFO whose Put never blocks. It decouples log emission from I/O.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

// NewUnbounded creates an empty unbounded queue.
func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{notify: make(chan struct{}, 1)}
}

// Put appends an item. It returns ErrClosed after Close.
func (q *Unbounded[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.wake()
	return nil
}

// wake must be called with mu held.
func (q *Unbounded[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop returns the oldest item, ErrTimeout if none arrives in time, or ErrClosed
// once the queue is closed and empty.
func (q *Unbounded[T]) Pop(timeout time.Duration) (T, error) {
	var zero T
	var timer *time.Timer
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return zero, ErrTimeout
		}
	}
}

// Close stops further Puts. Items already queued can still be popped.
func (q *Unbounded[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wake()
}

// Len returns the number of queued items.
func (q *Unbounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
