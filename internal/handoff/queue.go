// Package handoff provides the bounded queue that carries "this connection
// has data ready" events from a pool's polling goroutine to its processing
// goroutine.
//
// The queue is a fixed ring with separate atomic head and tail cursors.
// Push and Pop each take their own spin lock, so a producer and a consumer
// never contend on the same lock. Items carry their own queued flag, which
// keeps any item from occupying more than one slot at a time.
package handoff

import (
	"sync/atomic"
	"time"
)

// retryInterval is the back-off between spin-lock attempts. Lower values
// react faster but burn more CPU.
const retryInterval = 10 * time.Microsecond

// minCapacity is the smallest ring the queue will allocate.
const minCapacity = 4

// Queueable is something that can sit in a Queue. MarkQueued must atomically
// test-and-set the item's queued flag and report whether it was previously
// clear. ClearQueued releases the item so it can be queued again.
type Queueable interface {
	comparable
	MarkQueued() bool
	ClearQueued()
}

// Queue is a bounded FIFO of Queueable items.
//
// An item popped from the queue keeps its queued flag set until the
// consumer calls ClearQueued, so a readiness event raised while the item is
// being processed does not queue it a second time.
type Queue[T Queueable] struct {
	slots []T
	size  uint32

	head atomic.Uint32 // next slot to pop
	tail atomic.Uint32 // next free slot

	pushLock atomic.Bool
	popLock  atomic.Bool

	// notify wakes a waiting Pop without polling.
	notify chan struct{}
}

// New creates a queue holding at most capacity-1 items. Capacities below 4
// are raised to 4.
func New[T Queueable](capacity int) *Queue[T] {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Queue[T]{
		slots:  make([]T, capacity),
		size:   uint32(capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push marks the item queued and appends it. It is a no-op returning false
// if the item is already queued. Push waits for space when the ring is full.
func (q *Queue[T]) Push(item T) bool {
	if !item.MarkQueued() {
		return false
	}
	q.Enqueue(item)
	return true
}

// Enqueue appends an item whose queued flag the caller has already set with
// MarkQueued.
func (q *Queue[T]) Enqueue(item T) {
	lock(&q.pushLock)

	tail := q.tail.Load()
	next := (tail + 1) % q.size
	for next == q.head.Load() {
		time.Sleep(retryInterval)
	}
	q.slots[tail] = item
	q.tail.Store(next)

	q.pushLock.Store(false)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest item, waiting up to timeout for one to arrive. It
// returns false on timeout; callers should re-check their own stop
// conditions and try again.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	lock(&q.popLock)
	defer q.popLock.Store(false)

	var zero T
	head := q.head.Load()
	if head == q.tail.Load() {
		if timeout <= 0 {
			return zero, false
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for head == q.tail.Load() {
			select {
			case <-q.notify:
			case <-timer.C:
				if head == q.tail.Load() {
					return zero, false
				}
			}
		}
	}

	item := q.slots[head]
	q.slots[head] = zero
	q.head.Store((head + 1) % q.size)

	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return int((q.tail.Load() + q.size - q.head.Load()) % q.size)
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool {
	return q.head.Load() == q.tail.Load()
}

// Cap returns the maximum number of items the queue can hold.
func (q *Queue[T]) Cap() int {
	return int(q.size) - 1
}

func lock(flag *atomic.Bool) {
	for !flag.CompareAndSwap(false, true) {
		time.Sleep(retryInterval)
	}
}
