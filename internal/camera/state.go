package camera

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/worker"
)

// AcqState is the acquisition loop state.
type AcqState int

// Acquisition states.
const (
	AcqIdle AcqState = iota
	AcqOpening
	AcqRunning
	AcqDraining
	AcqFaulted
	AcqStopped
)

var acqStateNames = []string{"idle", "opening", "running", "draining", "faulted", "stopped"}

func (s AcqState) String() string {
	if int(s) < len(acqStateNames) {
		return acqStateNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s AcqState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StopFlag is the single cancellation signal shared by all loops.
type StopFlag struct {
	raised atomic.Bool
	once   sync.Once
	ch     chan struct{}
	reason atomic.Pointer[string]
}

// NewStopFlag returns a lowered flag.
func NewStopFlag() *StopFlag {
	return &StopFlag{ch: make(chan struct{})}
}

// Raise sets the flag. It returns true only for the first call.
func (f *StopFlag) Raise(reason string) bool {
	first := false
	f.once.Do(func() {
		f.reason.Store(&reason)
		f.raised.Store(true)
		close(f.ch)
		first = true
	})
	return first
}

// Raised reports whether the flag is set.
func (f *StopFlag) Raised() bool {
	return f.raised.Load()
}

// Done is closed when the flag is raised.
func (f *StopFlag) Done() <-chan struct{} {
	return f.ch
}

// Reason returns the reason given to the first Raise.
func (f *StopFlag) Reason() string {
	if r := f.reason.Load(); r != nil {
		return *r
	}
	return ""
}

// Frame is an owned copy of one grabbed image.
type Frame struct {
	Sequence  uint64
	Timestamp time.Time
	Image     *image.NRGBA
}

// FrameMeta describes the most recent successful grab.
type FrameMeta struct {
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
}

// GrabStatus describes the most recent grab attempt.
type GrabStatus struct {
	LastResult      string `json:"last_result"`
	TransientStreak int    `json:"transient_streak"`
	LastError       string `json:"last_error,omitempty"`
	Fault           string `json:"fault,omitempty"`
}

// TempReading is the last temperature read from the device.
type TempReading struct {
	Celsius float64   `json:"celsius"`
	Valid   bool      `json:"valid"`
	ReadAt  time.Time `json:"read_at"`
	Err     string    `json:"error,omitempty"`
}

// TempPublished is the last temperature emitted by the poller. ReadAt is
// the time of the last successful device read.
type TempPublished struct {
	Celsius     float64   `json:"celsius"`
	Valid       bool      `json:"valid"`
	ReadAt      time.Time `json:"read_at"`
	PublishedAt time.Time `json:"published_at"`
}

// ChannelCounters counts emissions for one channel.
type ChannelCounters struct {
	Published atomic.Int64
	Dropped   atomic.Int64
}

// Counters holds per-channel publication counters.
type Counters struct {
	channels    map[string]*ChannelCounters
	conversions atomic.Int64
	convErrors  atomic.Int64
}

func newCounters(channels []string) *Counters {
	c := &Counters{channels: make(map[string]*ChannelCounters, len(channels))}
	for _, ch := range channels {
		c.channels[ch] = &ChannelCounters{}
	}
	return c
}

// Channel returns the counters for name; nil for an unknown channel.
func (c *Counters) Channel(name string) *ChannelCounters {
	return c.channels[name]
}

// Snapshot returns published and dropped counts per channel.
func (c *Counters) Snapshot() (published, dropped map[string]int64) {
	published = make(map[string]int64, len(c.channels))
	dropped = make(map[string]int64, len(c.channels))
	for name, cc := range c.channels {
		published[name] = cc.Published.Load()
		dropped[name] = cc.Dropped.Load()
	}
	return published, dropped
}

// Conversions returns the number of conversions attempted and failed.
func (c *Counters) Conversions() (total, failed int64) {
	return c.conversions.Load(), c.convErrors.Load()
}

// Staleness holds the diagnostic age thresholds.
type Staleness struct {
	Frame       time.Duration `json:"frame"`
	Temperature time.Duration `json:"temperature"`
}

// WorkerStatus is the liveness of one supervised loop.
type WorkerStatus struct {
	State     worker.State `json:"state"`
	Alive     bool         `json:"alive"`
	StartedAt time.Time    `json:"started_at"`
	LastError string       `json:"last_error,omitempty"`
}

func workerStatus(info worker.Info) WorkerStatus {
	ws := WorkerStatus{State: info.State, Alive: info.Alive(), StartedAt: info.StartedAt}
	if info.LastError != nil {
		ws.LastError = info.LastError.Error()
	}
	return ws
}

// Status is a read of the node's shared state. Each field comes from its
// own cell, so fields are individually consistent.
type Status struct {
	Connection  device.ConnStatus       `json:"connection"`
	Acquisition AcqState                `json:"acquisition"`
	Session     device.SessionInfo      `json:"session"`
	OpenedAt    time.Time               `json:"opened_at"`
	LastFrame   FrameMeta               `json:"last_frame"`
	Grab        GrabStatus              `json:"grab"`
	Temperature TempPublished           `json:"temperature"`
	Policy      OutputPolicy            `json:"policy"`
	Staleness   Staleness               `json:"staleness"`
	Workers     map[string]WorkerStatus `json:"workers"`
	Liveness    string                  `json:"liveness_failure,omitempty"`
	Published   map[string]int64        `json:"published"`
	Dropped     map[string]int64        `json:"dropped"`
	ConvErrors  int64                   `json:"conversion_errors"`
	FrameQueue  int                     `json:"frame_queue"`
	IMUDropped  uint64                  `json:"imu_dropped"`
	StopReason  string                  `json:"stop_reason,omitempty"`
	// Faulted is set once acquisition has passed through AcqFaulted.
	Faulted bool `json:"faulted"`
}
