package diagnostics

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/smazurov/monocam/internal/camera"
	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func healthyInputs() Inputs {
	return Inputs{
		Connection:     device.ConnOpen,
		Acquisition:    camera.AcqRunning,
		Workers:        map[string]bool{"acquisition": true, "video": true, "sensors": true},
		SinceOpen:      10 * time.Second,
		HaveFrame:      true,
		FrameAge:       0,
		FrameStale:     time.Second,
		HasTemperature: true,
		HaveTemp:       true,
		TempValid:      true,
		TempAge:        time.Second,
		TempStale:      5 * time.Second,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Inputs)
		want   Level
	}{
		{"age zero and open", func(*Inputs) {}, LevelOK},
		{"not open", func(in *Inputs) { in.Connection = device.ConnError }, LevelError},
		{"connecting", func(in *Inputs) { in.Connection = device.ConnConnecting }, LevelError},
		{"frame stale", func(in *Inputs) { in.FrameAge = 1500 * time.Millisecond }, LevelWarn},
		{"frame at limit", func(in *Inputs) { in.FrameAge = time.Second }, LevelOK},
		{"worker dead", func(in *Inputs) { in.Workers["video"] = false }, LevelError},
		{"faulted", func(in *Inputs) { in.Acquisition = camera.AcqFaulted }, LevelError},
		{"liveness failure", func(in *Inputs) { in.Liveness = "video loop failed" }, LevelError},
		{"temperature invalid", func(in *Inputs) { in.TempValid = false }, LevelWarn},
		{"temperature stale", func(in *Inputs) { in.TempAge = 6 * time.Second }, LevelWarn},
		{"no temperature sensor", func(in *Inputs) {
			in.HasTemperature = false
			in.TempValid = false
		}, LevelOK},
		{"waiting for first frame", func(in *Inputs) {
			in.HaveFrame = false
			in.SinceOpen = 200 * time.Millisecond
		}, LevelOK},
		{"no frame after limit", func(in *Inputs) {
			in.HaveFrame = false
			in.SinceOpen = 2 * time.Second
		}, LevelWarn},
		{"waiting for temperature", func(in *Inputs) {
			in.HaveTemp = false
			in.TempValid = false
			in.SinceOpen = time.Second
		}, LevelOK},
		{"error beats warn", func(in *Inputs) {
			in.Connection = device.ConnError
			in.FrameAge = time.Hour
		}, LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := healthyInputs()
			tt.modify(&in)
			got, checks := Classify(in)
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v (checks %+v)", got, tt.want, checks)
			}
		})
	}
}

func TestLevelText(t *testing.T) {
	for level, want := range map[Level]string{LevelOK: "ok", LevelWarn: "warn", LevelError: "error", Level(9): "unknown"} {
		b, _ := level.MarshalText()
		if string(b) != want {
			t.Errorf("Level(%d) = %q, want %q", level, b, want)
		}
	}
}

type fakeSource struct {
	mu     sync.Mutex
	status camera.Status
}

func (s *fakeSource) Status() camera.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSource) set(fn func(*camera.Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func openStatus(now time.Time) camera.Status {
	return camera.Status{
		Connection:  device.ConnOpen,
		Acquisition: camera.AcqRunning,
		Session:     device.SessionInfo{HasTemperature: true},
		OpenedAt:    now.Add(-time.Minute),
		LastFrame:   camera.FrameMeta{Sequence: 10, ReceivedAt: now},
		Temperature: camera.TempPublished{Celsius: 38, Valid: true, ReadAt: now, PublishedAt: now},
		Staleness:   camera.Staleness{Frame: time.Second, Temperature: 5 * time.Second},
		Workers: map[string]camera.WorkerStatus{
			"acquisition": {Alive: true},
			"video":       {Alive: true},
			"sensors":     {Alive: true},
		},
	}
}

func TestAggregatorFrameAge(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSource{status: openStatus(mock.Now())}
	agg := NewAggregator(src)

	snap := agg.Snapshot(mock.Now())
	if snap.Level != LevelOK {
		t.Fatalf("fresh snapshot level = %v: %s", snap.Level, snap.Message)
	}
	if snap.FrameAge != 0 {
		t.Errorf("FrameAge = %v, want 0", snap.FrameAge)
	}

	mock.Add(1500 * time.Millisecond)
	snap = agg.Snapshot(mock.Now())
	if snap.Level != LevelWarn {
		t.Errorf("level after 1.5s without frames = %v, want warn", snap.Level)
	}
	if snap.FrameAge != 1.5 {
		t.Errorf("FrameAge = %v, want 1.5", snap.FrameAge)
	}

	src.set(func(st *camera.Status) { st.Connection = device.ConnUninitialized })
	if snap = agg.Snapshot(mock.Now()); snap.Level != LevelError {
		t.Errorf("closed camera level = %v, want error", snap.Level)
	}
}

type countingWatchdog struct {
	mu    sync.Mutex
	pings int
}

func (w *countingWatchdog) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pings++
	return nil
}

func (w *countingWatchdog) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pings
}

type healthRecorder struct {
	mu     sync.Mutex
	events []events.HealthChangedEvent
}

func (r *healthRecorder) Publish(ev events.Event) {
	if e, ok := ev.(events.HealthChangedEvent); ok {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}
}

func TestMonitorPublishesLevelChanges(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSource{status: openStatus(mock.Now())}
	wd := &countingWatchdog{}
	rec := &healthRecorder{}
	m := NewMonitor(MonitorOptions{
		Aggregator: NewAggregator(src),
		Events:     rec,
		Watchdog:   wd,
		Clock:      mock,
		Logger:     testLogger(),
	})

	if _, ok := m.Last(); ok {
		t.Error("Last() before the first run should report false")
	}

	m.Run()
	m.Run()
	if len(rec.events) != 1 || rec.events[0].Level != "ok" {
		t.Fatalf("events after two healthy runs = %+v, want one ok", rec.events)
	}
	if wd.count() != 2 {
		t.Errorf("watchdog pings = %d, want 2", wd.count())
	}

	src.set(func(st *camera.Status) { st.Connection = device.ConnError })
	snap := m.Run()
	if snap.Level != LevelError {
		t.Fatalf("level = %v, want error", snap.Level)
	}
	if len(rec.events) != 2 || rec.events[1].Level != "error" || rec.events[1].Previous != "ok" {
		t.Errorf("events = %+v", rec.events)
	}
	if rec.events[1].IsHealthy() {
		t.Error("error event should not be healthy")
	}
	if wd.count() != 2 {
		t.Errorf("watchdog pinged while in error: %d pings", wd.count())
	}

	last, ok := m.Last()
	if !ok || last.Level != LevelError {
		t.Errorf("Last() = %v, %v", last.Level, ok)
	}
}

func TestMonitorPingsWhileDegraded(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSource{status: openStatus(mock.Now())}
	wd := &countingWatchdog{}
	m := NewMonitor(MonitorOptions{Aggregator: NewAggregator(src), Watchdog: wd, Clock: mock, Logger: testLogger()})

	mock.Add(2 * time.Second)
	if snap := m.Run(); snap.Level != LevelWarn {
		t.Fatalf("level = %v, want warn", snap.Level)
	}
	if wd.count() != 1 {
		t.Errorf("watchdog pings = %d, want 1", wd.count())
	}
}
