package nats

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/nats-io/nats.go"

	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/metrics"
	"github.com/smazurov/monocam/internal/transport"
)

// Hub is the part of transport.Hub the bridge reads from.
type Hub interface {
	Subscribe(channel string, buffer int) *transport.Subscription
}

// MessagePublisher sends encoded messages. *Publisher implements it.
type MessagePublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	Camera      string
	Channels    []string
	Buffer      int // per channel, default 4
	JPEGQuality int // default 85
	Logger      logging.Logger
}

// BridgeStats counts bridged messages.
type BridgeStats struct {
	Forwarded int64 `json:"forwarded"`
	Failed    int64 `json:"failed"`
}

// Bridge subscribes to hub channels and republishes every message on
// monocam.<camera>.<channel>: images as JPEG with metadata headers, other
// payloads as JSON. Health changes from the event bus go to
// monocam.<camera>.health.
type Bridge struct {
	pub      MessagePublisher
	hub      Hub
	eventBus *events.Bus
	opts     BridgeOptions
	logger   logging.Logger

	mu      sync.Mutex
	subs    []*transport.Subscription
	unsub   func()
	wg      sync.WaitGroup
	started bool

	forwarded atomic.Int64
	failed    atomic.Int64
}

// NewBridge creates a bridge. eventBus may be nil.
func NewBridge(pub MessagePublisher, hub Hub, eventBus *events.Bus, opts BridgeOptions) *Bridge {
	if opts.Buffer <= 0 {
		opts.Buffer = 4
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 85
	}
	var logger logging.Logger = slog.Default()
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Bridge{
		pub:      pub,
		hub:      hub,
		eventBus: eventBus,
		opts:     opts,
		logger:   logger,
	}
}

// Start subscribes to the configured channels.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true

	for _, ch := range b.opts.Channels {
		sub := b.hub.Subscribe(ch, b.opts.Buffer)
		b.subs = append(b.subs, sub)
		b.wg.Add(1)
		go b.forward(sub)
	}

	if b.eventBus != nil {
		b.unsub = b.eventBus.Subscribe(func(e events.HealthChangedEvent) {
			b.publishHealth(e)
		})
	}
	b.logger.Info("NATS bridge started", "camera", b.opts.Camera, "channels", b.opts.Channels)
}

func (b *Bridge) forward(sub *transport.Subscription) {
	defer b.wg.Done()
	for msg := range sub.C {
		b.send(msg)
	}
}

func (b *Bridge) send(msg transport.Message) {
	out, err := b.encode(msg)
	if err != nil {
		b.failed.Add(1)
		metrics.IncBridged(msg.Channel, metrics.BridgeEncode)
		b.logger.Warn("Failed to encode bridged message", "channel", msg.Channel, "error", err)
		return
	}

	err = b.pub.PublishMsg(out)
	switch {
	case err == nil:
		b.forwarded.Add(1)
		metrics.IncBridged(msg.Channel, metrics.BridgeSent)
	case errors.Is(err, ErrNotConnected):
		b.failed.Add(1)
		metrics.IncBridged(msg.Channel, metrics.BridgeNoServer)
	default:
		b.failed.Add(1)
		metrics.IncBridged(msg.Channel, metrics.BridgeFailed)
		b.logger.Debug("Failed to publish bridged message", "channel", msg.Channel, "error", err)
	}
}

func (b *Bridge) encode(msg transport.Message) (*nats.Msg, error) {
	out := nats.NewMsg(SubjectChannel(b.opts.Camera, msg.Channel))

	if img, ok := msg.Payload.(image.Image); ok {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(b.opts.JPEGQuality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		out.Data = buf.Bytes()
		out.Header.Set(HeaderTimestamp, strconv.FormatInt(msg.Timestamp.UnixNano(), 10))
		out.Header.Set(HeaderFrameID, msg.Metadata.FrameID)
		out.Header.Set(HeaderSequence, strconv.FormatUint(msg.Metadata.Sequence, 10))
		if msg.Metadata.CameraInfo != nil {
			info, err := json.Marshal(msg.Metadata.CameraInfo)
			if err != nil {
				return nil, fmt.Errorf("encode camera info: %w", err)
			}
			out.Header.Set(HeaderCameraInfo, string(info))
		}
		return out, nil
	}

	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	body, err := SensorMessage{
		Camera:    b.opts.Camera,
		Channel:   msg.Channel,
		Timestamp: msg.Timestamp.Format(time.RFC3339Nano),
		FrameID:   msg.Metadata.FrameID,
		Transform: msg.Metadata.Transform,
		Data:      data,
	}.Marshal()
	if err != nil {
		return nil, err
	}
	out.Data = body
	return out, nil
}

func (b *Bridge) publishHealth(e events.HealthChangedEvent) {
	data, err := HealthMessage{
		Camera:    b.opts.Camera,
		Level:     e.Level,
		Previous:  e.Previous,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}.Marshal()
	if err != nil {
		b.logger.Warn("Failed to marshal health message", "error", err)
		return
	}
	msg := nats.NewMsg(SubjectHealth(b.opts.Camera))
	msg.Data = data
	if err := b.pub.PublishMsg(msg); err != nil && !errors.Is(err, ErrNotConnected) {
		b.logger.Debug("Failed to publish health", "error", err)
	}
}

// Stats returns the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{Forwarded: b.forwarded.Load(), Failed: b.failed.Load()}
}

// Stop closes the hub subscriptions and waits for the forwarders.
func (b *Bridge) Stop() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	unsub := b.unsub
	b.unsub = nil
	b.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, sub := range subs {
		sub.Close()
	}
	b.wg.Wait()
	b.logger.Info("NATS bridge stopped", "forwarded", b.forwarded.Load(), "failed", b.failed.Load())
}
