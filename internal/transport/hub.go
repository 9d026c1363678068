// Package transport fans published messages out to in-process subscribers.
//
// Publishing never blocks: a subscriber whose buffer is full misses the
// message and the drop is counted. HasSubscribers is cheap enough to be
// called per frame so that producers can skip work nobody will receive.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/monocam/internal/calib"
	"github.com/smazurov/monocam/internal/logging"
)

// Publish channels.
const (
	ChannelColor       = "color"
	ChannelColorRaw    = "color-raw"
	ChannelGray        = "gray"
	ChannelGrayRaw     = "gray-raw"
	ChannelIMU         = "imu"
	ChannelIMURaw      = "imu-raw"
	ChannelTemperature = "temperature"
)

// Channels lists every channel the node publishes.
var Channels = []string{
	ChannelColor, ChannelColorRaw, ChannelGray, ChannelGrayRaw,
	ChannelIMU, ChannelIMURaw, ChannelTemperature,
}

// ErrNoSubscribers is returned when publishing to a channel nobody listens to.
var ErrNoSubscribers = errors.New("no subscribers")

// DropError reports subscribers that missed a message.
type DropError struct {
	Channel string
	Dropped int
}

func (e *DropError) Error() string {
	return fmt.Sprintf("channel %s: %d subscriber(s) full", e.Channel, e.Dropped)
}

// Metadata accompanies every published message.
type Metadata struct {
	FrameID    string            `json:"frame_id"`
	Sequence   uint64            `json:"sequence,omitempty"`
	CameraInfo *calib.CameraInfo `json:"camera_info,omitempty"`
	Transform  *calib.Transform  `json:"transform,omitempty"`
}

// Message is one publication.
type Message struct {
	Channel   string
	Timestamp time.Time
	Payload   any
	Metadata  Metadata
}

// Subscription receives messages for one channel.
type Subscription struct {
	C <-chan Message

	hub     *Hub
	channel string
	ch      chan Message
	dropped atomic.Int64
	once    sync.Once
}

// Dropped returns how many messages this subscriber missed.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

type channelState struct {
	subs      []*Subscription
	count     atomic.Int32
	published atomic.Int64
	dropped   atomic.Int64
}

// ChannelStats summarises one channel.
type ChannelStats struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
	Published   int64  `json:"published"`
	Dropped     int64  `json:"dropped"`
}

// Hub routes messages from publishers to subscribers.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*channelState
	logger   logging.Logger
}

// NewHub creates a hub with every known channel registered.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		channels: make(map[string]*channelState),
		logger:   logger,
	}
	for _, name := range Channels {
		h.channels[name] = &channelState{}
	}
	return h
}

func (h *Hub) channel(name string) *channelState {
	h.mu.RLock()
	cs, ok := h.channels[name]
	h.mu.RUnlock()
	if ok {
		return cs
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if cs, ok := h.channels[name]; ok {
		return cs
	}
	cs = &channelState{}
	h.channels[name] = cs
	return cs
}

// Subscribe registers a subscriber with the given buffer size.
func (h *Hub) Subscribe(channel string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Message, buffer)
	sub := &Subscription{C: ch, hub: h, channel: channel, ch: ch}

	cs := h.channel(channel)
	h.mu.Lock()
	cs.subs = append(cs.subs, sub)
	cs.count.Add(1)
	h.mu.Unlock()

	h.logger.Debug("Subscriber added", "channel", channel, "subscribers", cs.count.Load())
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	cs := h.channel(sub.channel)
	h.mu.Lock()
	if i := slices.Index(cs.subs, sub); i >= 0 {
		cs.subs = slices.Delete(cs.subs, i, i+1)
		cs.count.Add(-1)
	}
	close(sub.ch)
	h.mu.Unlock()

	h.logger.Debug("Subscriber removed", "channel", sub.channel, "subscribers", cs.count.Load())
}

// HasSubscribers reports whether channel has at least one subscriber.
func (h *Hub) HasSubscribers(channel string) bool {
	h.mu.RLock()
	cs, ok := h.channels[channel]
	h.mu.RUnlock()
	return ok && cs.count.Load() > 0
}

// Publish delivers a message to every subscriber without blocking.
func (h *Hub) Publish(channel string, payload any, ts time.Time, md Metadata) error {
	msg := Message{Channel: channel, Timestamp: ts, Payload: payload, Metadata: md}

	h.mu.RLock()
	defer h.mu.RUnlock()

	cs, ok := h.channels[channel]
	if !ok || len(cs.subs) == 0 {
		return ErrNoSubscribers
	}

	dropped := 0
	for _, sub := range cs.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}

	cs.published.Add(1)
	if dropped > 0 {
		cs.dropped.Add(int64(dropped))
		return &DropError{Channel: channel, Dropped: dropped}
	}
	return nil
}

// Stats returns per-channel counters sorted by name.
func (h *Hub) Stats() []ChannelStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ChannelStats, 0, len(h.channels))
	for name, cs := range h.channels {
		out = append(out, ChannelStats{
			Name:        name,
			Subscribers: int(cs.count.Load()),
			Published:   cs.published.Load(),
			Dropped:     cs.dropped.Load(),
		})
	}
	slices.SortFunc(out, func(a, b ChannelStats) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}
