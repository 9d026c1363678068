// Package state provides the shared-state primitives used between the
// acquisition loop and its readers.
//
// Cell is a read-copy-update holder: one goroutine owns writes, any number
// of goroutines read immutable snapshots without locking. Queue is a bounded
// FIFO that hands values between exactly two loops in order.
package state

import "sync/atomic"

type snapshot[T any] struct {
	value   T
	version uint64
}

// Cell holds the latest published value of T.
//
// Values stored in a Cell must be treated as immutable once published:
// a writer that needs to change a composite value builds a new one and
// stores it, so a reader never observes a half-updated struct.
type Cell[T any] struct {
	p atomic.Pointer[snapshot[T]]
}

// NewCell creates a cell holding initial at version 0.
func NewCell[T any](initial T) *Cell[T] {
	c := &Cell[T]{}
	c.p.Store(&snapshot[T]{value: initial})
	return c
}

// Load returns the current value.
func (c *Cell[T]) Load() T {
	return c.p.Load().value
}

// LoadVersioned returns the current value and its version.
// The version increases by one on every Store.
func (c *Cell[T]) LoadVersioned() (T, uint64) {
	s := c.p.Load()
	return s.value, s.version
}

// Store publishes v and returns its version.
func (c *Cell[T]) Store(v T) uint64 {
	for {
		old := c.p.Load()
		next := &snapshot[T]{value: v, version: old.version + 1}
		if c.p.CompareAndSwap(old, next) {
			return next.version
		}
	}
}

// Update publishes fn(current). fn may run more than once when writers race,
// so it must be free of side effects.
func (c *Cell[T]) Update(fn func(T) T) T {
	for {
		old := c.p.Load()
		next := &snapshot[T]{value: fn(old.value), version: old.version + 1}
		if c.p.CompareAndSwap(old, next) {
			return next.value
		}
	}
}
