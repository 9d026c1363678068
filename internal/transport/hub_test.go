package transport

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHasSubscribers(t *testing.T) {
	hub := NewHub(testLogger())

	if hub.HasSubscribers(ChannelColor) {
		t.Fatal("fresh hub should have no subscribers")
	}

	sub := hub.Subscribe(ChannelColor, 1)
	if !hub.HasSubscribers(ChannelColor) {
		t.Error("expected subscriber on color")
	}
	if hub.HasSubscribers(ChannelGray) {
		t.Error("gray should have no subscribers")
	}

	sub.Close()
	sub.Close()
	if hub.HasSubscribers(ChannelColor) {
		t.Error("expected no subscribers after Close")
	}
	if _, ok := <-sub.C; ok {
		t.Error("expected subscription channel to be closed")
	}
}

func TestPublishDelivers(t *testing.T) {
	hub := NewHub(testLogger())
	a := hub.Subscribe(ChannelIMU, 4)
	b := hub.Subscribe(ChannelIMU, 4)
	defer a.Close()
	defer b.Close()

	ts := time.Unix(100, 0)
	if err := hub.Publish(ChannelIMU, "sample", ts, Metadata{FrameID: "imu_link"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, sub := range []*Subscription{a, b} {
		msg := <-sub.C
		if msg.Payload != "sample" || !msg.Timestamp.Equal(ts) || msg.Metadata.FrameID != "imu_link" {
			t.Errorf("unexpected message %+v", msg)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(testLogger())
	sub := hub.Subscribe(ChannelColor, 1)
	defer sub.Close()

	if err := hub.Publish(ChannelColor, 1, time.Now(), Metadata{}); err != nil {
		t.Fatalf("first Publish failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- hub.Publish(ChannelColor, 2, time.Now(), Metadata{}) }()

	select {
	case err := <-done:
		var de *DropError
		if !errors.As(err, &de) || de.Dropped != 1 {
			t.Errorf("expected DropError for full subscriber, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if sub.Dropped() != 1 {
		t.Errorf("expected 1 drop, got %d", sub.Dropped())
	}
}

func TestPublishNoSubscribers(t *testing.T) {
	hub := NewHub(testLogger())
	if err := hub.Publish(ChannelGray, nil, time.Now(), Metadata{}); !errors.Is(err, ErrNoSubscribers) {
		t.Errorf("expected ErrNoSubscribers, got %v", err)
	}
}

func TestStats(t *testing.T) {
	hub := NewHub(testLogger())
	sub := hub.Subscribe(ChannelTemperature, 1)
	defer sub.Close()

	_ = hub.Publish(ChannelTemperature, 35.0, time.Now(), Metadata{})
	_ = hub.Publish(ChannelTemperature, 35.1, time.Now(), Metadata{})

	var found bool
	for _, st := range hub.Stats() {
		if st.Name != ChannelTemperature {
			continue
		}
		found = true
		if st.Subscribers != 1 || st.Published != 2 || st.Dropped != 1 {
			t.Errorf("unexpected stats %+v", st)
		}
	}
	if !found {
		t.Error("temperature channel missing from stats")
	}
}
