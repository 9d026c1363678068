package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Stream merges several event types into one channel for a single
// consumer, such as an SSE connection. Delivery never blocks the bus:
// events arriving while C is full are dropped and counted.
type Stream struct {
	C <-chan any

	ch      chan any
	mu      sync.Mutex
	unsubs  []func()
	dropped atomic.Int64
}

// NewStream creates a stream whose channel holds buffer events.
func NewStream(buffer int) *Stream {
	ch := make(chan any, buffer)
	return &Stream{C: ch, ch: ch}
}

// Forward adds events of type T from bus to s.
func Forward[T Event](bus *Bus, s *Stream) {
	unsub := event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	})
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// Dropped returns the number of events lost to a full channel.
func (s *Stream) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes every forwarded type. C is left open since a
// delivery may still be in flight.
func (s *Stream) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}
