package logging

import (
	"sync"
	"time"
)

// LogEntry is one log record kept for /api/logs and the log stream.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent entries and numbers them from 1 so
// readers can tell replayed entries from live ones.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    uint64 // seq of the next entry
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{entries: make([]LogEntry, size), next: 1}
}

// Write stores entry, overwriting the oldest one when full, and returns it
// with its sequence number set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	entry.Seq = rb.next
	rb.entries[int((rb.next-1)%uint64(len(rb.entries)))] = entry
	rb.next++
	return entry
}

// ReadAll returns the stored entries oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.ReadSince(0)
}

// ReadSince returns the stored entries with Seq greater than seq, oldest
// first.
func (rb *RingBuffer) ReadSince(seq uint64) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	first := rb.first()
	if seq+1 > first {
		first = seq + 1
	}
	if first >= rb.next {
		return nil
	}

	size := uint64(len(rb.entries))
	out := make([]LogEntry, 0, rb.next-first)
	for s := first; s < rb.next; s++ {
		out = append(out, rb.entries[int((s-1)%size)])
	}
	return out
}

// first returns the seq of the oldest stored entry.
func (rb *RingBuffer) first() uint64 {
	size := uint64(len(rb.entries))
	if rb.next-1 <= size {
		return 1
	}
	return rb.next - size
}

// Count returns the number of stored entries.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return int(rb.next - rb.first())
}

// LastSeq returns the seq of the newest entry, 0 when empty.
func (rb *RingBuffer) LastSeq() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.next - 1
}
