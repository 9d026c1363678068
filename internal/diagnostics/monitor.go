package diagnostics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/metrics"
)

// Watchdog is pinged while the node is not in error.
type Watchdog interface {
	Ping() error
}

// EventPublisher receives health change events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Aggregator *Aggregator
	Events     EventPublisher // optional
	Watchdog   Watchdog       // optional
	Clock      clock.Clock    // optional
	Logger     logging.Logger // optional
}

// Monitor runs the periodic diagnostics job: it classifies the node,
// exports metrics, publishes level changes and feeds the watchdog.
type Monitor struct {
	agg      *Aggregator
	events   EventPublisher
	watchdog Watchdog
	clk      clock.Clock
	logger   logging.Logger

	mu      sync.RWMutex
	last    Snapshot
	started bool
}

// NewMonitor creates a monitor.
func NewMonitor(opts MonitorOptions) *Monitor {
	m := &Monitor{
		agg:      opts.Aggregator,
		events:   opts.Events,
		watchdog: opts.Watchdog,
		clk:      opts.Clock,
		logger:   opts.Logger,
	}
	if m.clk == nil {
		m.clk = clock.New()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Run performs one diagnostics pass and returns its snapshot.
func (m *Monitor) Run() Snapshot {
	snap := m.agg.Snapshot(m.clk.Now())

	metrics.SetDiagnosticLevel(int(snap.Level))
	metrics.SetFrameAge(snap.FrameAge)

	m.mu.Lock()
	prev, started := m.last.Level, m.started
	m.last = snap
	m.started = true
	m.mu.Unlock()

	if !started || prev != snap.Level {
		m.logLevel(snap, prev)
		if m.events != nil {
			m.events.Publish(events.HealthChangedEvent{
				Level:     snap.Level.String(),
				Previous:  prev.String(),
				Message:   snap.Message,
				Timestamp: snap.Timestamp.Format(time.RFC3339),
			})
		}
	}

	if m.watchdog != nil && snap.Level != LevelError {
		if err := m.watchdog.Ping(); err != nil {
			m.logger.Debug("Watchdog ping failed", "error", err)
		}
	}
	return snap
}

func (m *Monitor) logLevel(snap Snapshot, prev Level) {
	switch snap.Level {
	case LevelError:
		m.logger.Error("Camera unhealthy", "previous", prev, "message", snap.Message)
	case LevelWarn:
		m.logger.Warn("Camera degraded", "previous", prev, "message", snap.Message)
	default:
		m.logger.Info("Camera healthy", "previous", prev)
	}
}

// Last returns the snapshot of the most recent Run.
func (m *Monitor) Last() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.started
}
