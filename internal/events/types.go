package events

// Event type constants for kelindar/event.
const (
	TypeAcquisitionState uint32 = iota + 1
	TypeSessionOpened
	TypeGrabStreak
	TypeWorkerState
	TypeHealthChanged
	TypeParametersChanged
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// AcquisitionStateEvent is published on every acquisition state transition.
type AcquisitionStateEvent struct {
	From      string `json:"from" example:"running" doc:"Previous acquisition state"`
	To        string `json:"to" example:"draining" doc:"New acquisition state"`
	Reason    string `json:"reason,omitempty" example:"end of input" doc:"Why the transition happened"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for AcquisitionStateEvent.
func (e AcquisitionStateEvent) Type() uint32 { return TypeAcquisitionState }

// SessionOpenedEvent is published once the camera session is open.
type SessionOpenedEvent struct {
	Source     string `json:"source" example:"sim" doc:"Input source"`
	Serial     uint32 `json:"serial" example:"300000001" doc:"Camera serial number"`
	Model      string `json:"model" example:"zed-x-one-gs" doc:"Camera model"`
	Resolution string `json:"resolution" example:"HD1080" doc:"Grab resolution"`
	FrameRate  int    `json:"frame_rate" example:"30" doc:"Grab frame rate"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionOpenedEvent.
func (e SessionOpenedEvent) Type() uint32 { return TypeSessionOpened }

// GrabStreakEvent is published when consecutive transient grab failures
// exceed the warning threshold.
type GrabStreakEvent struct {
	Streak    int    `json:"streak" example:"11" doc:"Consecutive transient failures"`
	Error     string `json:"error" example:"grab failed: transient" doc:"Last grab error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for GrabStreakEvent.
func (e GrabStreakEvent) Type() uint32 { return TypeGrabStreak }

// WorkerStateEvent is published when a supervised worker changes state.
type WorkerStateEvent struct {
	Worker    string `json:"worker" example:"video" doc:"Worker name"`
	From      string `json:"from" example:"running" doc:"Previous state"`
	To        string `json:"to" example:"error" doc:"New state"`
	Error     string `json:"error,omitempty" doc:"Worker error"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerStateEvent.
func (e WorkerStateEvent) Type() uint32 { return TypeWorkerState }

// HealthChangedEvent is published when the diagnostic level changes.
type HealthChangedEvent struct {
	Level     string `json:"level" example:"warn" doc:"New diagnostic level"`
	Previous  string `json:"previous" example:"ok" doc:"Previous diagnostic level"`
	Message   string `json:"message" example:"frame stale" doc:"Summary of the failing checks"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for HealthChangedEvent.
func (e HealthChangedEvent) Type() uint32 { return TypeHealthChanged }

// IsHealthy reports whether the new level is ok.
func (e HealthChangedEvent) IsHealthy() bool {
	return e.Level == "ok"
}

// ParametersChangedEvent is published after a parameter batch is applied.
type ParametersChangedEvent struct {
	Changes   map[string]any `json:"changes" doc:"Changed parameters and their new values"`
	Timestamp string         `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ParametersChangedEvent.
func (e ParametersChangedEvent) Type() uint32 { return TypeParametersChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
