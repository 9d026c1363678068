// Package diagnostics classifies the health of the camera node.
//
// The aggregator only reads: every snapshot is rebuilt from the node's
// state cells and nothing here writes back into the node.
package diagnostics

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/smazurov/monocam/internal/camera"
	"github.com/smazurov/monocam/internal/device"
)

// Level is the overall diagnostic level.
type Level int

// Diagnostic levels, ordered by severity.
const (
	LevelOK Level = iota
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "ok"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Check is the outcome of one health check.
type Check struct {
	Name    string `json:"name"`
	Level   Level  `json:"level"`
	Message string `json:"message,omitempty"`
}

// Inputs are the values the classification depends on.
type Inputs struct {
	Connection  device.ConnStatus
	Acquisition camera.AcqState
	Workers     map[string]bool
	Liveness    string

	// SinceOpen is the time since the session opened. Missing frames or
	// temperature are only reported once it exceeds the matching limit.
	SinceOpen time.Duration

	HaveFrame  bool
	FrameAge   time.Duration
	FrameStale time.Duration

	HasTemperature bool
	HaveTemp       bool
	TempValid      bool
	TempAge        time.Duration
	TempStale      time.Duration
}

// Classify returns the overall level and the individual checks. Error
// wins over Warn.
func Classify(in Inputs) (Level, []Check) {
	var checks []Check
	add := func(name string, level Level, format string, args ...any) {
		checks = append(checks, Check{Name: name, Level: level, Message: fmt.Sprintf(format, args...)})
	}

	if in.Connection != device.ConnOpen {
		add("connection", LevelError, "camera %s", in.Connection)
	} else {
		add("connection", LevelOK, "camera open")
	}

	if in.Acquisition == camera.AcqFaulted {
		add("acquisition", LevelError, "acquisition faulted")
	}
	if in.Liveness != "" {
		add("liveness", LevelError, "%s", in.Liveness)
	}

	names := make([]string, 0, len(in.Workers))
	for name := range in.Workers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !in.Workers[name] {
			add("worker."+name, LevelError, "%s loop not running", name)
		}
	}

	switch {
	case !in.HaveFrame && in.SinceOpen <= in.FrameStale:
		add("frame", LevelOK, "waiting for first frame")
	case !in.HaveFrame:
		add("frame", LevelWarn, "no frame received")
	case in.FrameAge > in.FrameStale:
		add("frame", LevelWarn, "last frame %s old (limit %s)", in.FrameAge.Round(time.Millisecond), in.FrameStale)
	default:
		add("frame", LevelOK, "last frame %s old", in.FrameAge.Round(time.Millisecond))
	}

	if in.HasTemperature {
		switch {
		case !in.HaveTemp && in.SinceOpen <= in.TempStale:
			add("temperature", LevelOK, "waiting for first reading")
		case !in.TempValid:
			add("temperature", LevelWarn, "temperature invalid")
		case in.TempAge > in.TempStale:
			add("temperature", LevelWarn, "temperature %s old (limit %s)", in.TempAge.Round(time.Millisecond), in.TempStale)
		default:
			add("temperature", LevelOK, "temperature %s old", in.TempAge.Round(time.Millisecond))
		}
	}

	level := LevelOK
	for _, c := range checks {
		level = max(level, c.Level)
	}
	return level, checks
}

// Snapshot is one diagnostic report.
type Snapshot struct {
	Timestamp      time.Time     `json:"timestamp"`
	Level          Level         `json:"level"`
	Message        string        `json:"message"`
	Checks         []Check       `json:"checks"`
	FrameAge       float64       `json:"frame_age_seconds"`
	TemperatureAge float64       `json:"temperature_age_seconds"`
	Status         camera.Status `json:"status"`
}

// Source provides the node state.
type Source interface {
	Status() camera.Status
}

// Aggregator builds snapshots from a Source.
type Aggregator struct {
	source Source
}

// NewAggregator creates an aggregator reading from source.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// Snapshot classifies the node state as seen at now.
func (a *Aggregator) Snapshot(now time.Time) Snapshot {
	st := a.source.Status()
	in := inputsFrom(st, now)
	level, checks := Classify(in)

	return Snapshot{
		Timestamp:      now,
		Level:          level,
		Message:        summarize(level, checks),
		Checks:         checks,
		FrameAge:       in.FrameAge.Seconds(),
		TemperatureAge: in.TempAge.Seconds(),
		Status:         st,
	}
}

func inputsFrom(st camera.Status, now time.Time) Inputs {
	in := Inputs{
		Connection:     st.Connection,
		Acquisition:    st.Acquisition,
		Workers:        make(map[string]bool, len(st.Workers)),
		Liveness:       st.Liveness,
		FrameStale:     st.Staleness.Frame,
		HasTemperature: st.Session.HasTemperature,
		TempStale:      st.Staleness.Temperature,
	}
	for name, w := range st.Workers {
		in.Workers[name] = w.Alive
	}
	if !st.LastFrame.ReceivedAt.IsZero() {
		in.HaveFrame = true
		in.FrameAge = max(0, now.Sub(st.LastFrame.ReceivedAt))
	}
	if !st.OpenedAt.IsZero() {
		in.SinceOpen = max(0, now.Sub(st.OpenedAt))
	}
	if !st.Temperature.PublishedAt.IsZero() {
		in.HaveTemp = true
		in.TempValid = st.Temperature.Valid
	}
	if !st.Temperature.ReadAt.IsZero() {
		in.TempAge = max(0, now.Sub(st.Temperature.ReadAt))
	}
	return in
}

// summarize joins the messages of the checks at level.
func summarize(level Level, checks []Check) string {
	if level == LevelOK {
		return "all checks passed"
	}
	var parts []string
	for _, c := range checks {
		if c.Level == level {
			parts = append(parts, c.Message)
		}
	}
	return strings.Join(parts, "; ")
}
