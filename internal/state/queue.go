package state

import (
	"sync"
	"time"
)

// OverflowPolicy decides what Push does when the queue is full.
type OverflowPolicy int

const (
	// OverflowBlock makes Push wait for space (or Close).
	OverflowBlock OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest entry and counts it as dropped.
	OverflowDropOldest
)

// Queue is a bounded FIFO between one producer and one consumer.
// Order is preserved; Close wakes every waiter.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	drained  *sync.Cond

	items  []T
	head   int
	count  int
	policy OverflowPolicy

	closed  bool
	dropped uint64
}

// NewQueue creates a queue with the given capacity (minimum 1).
func NewQueue[T any](capacity int, policy OverflowPolicy) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		items:  make([]T, capacity),
		policy: policy,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)
	return q
}

// Push appends v. It returns false if the queue is closed, in which case v
// was not enqueued.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && q.count == len(q.items) {
		if q.policy == OverflowDropOldest {
			var zero T
			q.items[q.head] = zero
			q.head = (q.head + 1) % len(q.items)
			q.count--
			q.dropped++
			break
		}
		q.notFull.Wait()
	}
	if q.closed {
		return false
	}

	q.items[(q.head+q.count)%len(q.items)] = v
	q.count++
	q.notEmpty.Signal()
	return true
}

// Pop removes and returns the oldest entry, blocking while the queue is
// empty. After Close it keeps returning remaining entries and then
// reports ok=false.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.count == 0 {
		return v, false
	}

	v = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.count--
	q.notFull.Signal()
	if q.count == 0 {
		q.drained.Broadcast()
	}
	return v, true
}

// Close stops accepting entries and wakes all blocked callers.
// Calling Close more than once is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.drained.Broadcast()
}

// WaitEmpty blocks until the consumer has taken every entry or timeout
// elapses. It reports whether the queue was empty on return.
func (q *Queue[T]) WaitEmpty(timeout time.Duration) bool {
	deadline := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.drained.Broadcast()
		q.mu.Unlock()
	})
	defer deadline.Stop()

	start := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count > 0 && time.Since(start) < timeout {
		q.drained.Wait()
	}
	return q.count == 0
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Dropped returns how many entries were evicted under OverflowDropOldest.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
