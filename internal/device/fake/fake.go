// Package fake provides a scripted device.Adapter for tests.
package fake

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/smazurov/monocam/internal/device"
)

// Result is the scripted outcome class of one grab.
type Result int

// Grab outcomes.
const (
	Success Result = iota
	Transient
	EndOfInput
	Fatal
)

// Outcome is one scripted grab.
type Outcome struct {
	Result Result
	// Delay is waited before the grab returns.
	Delay time.Duration
	// Hold blocks the grab until it is closed, ignoring cancellation, like a
	// driver call that cannot be interrupted.
	Hold <-chan struct{}
}

// Repeat returns n copies of o.
func Repeat(n int, o Outcome) []Outcome {
	out := make([]Outcome, n)
	for i := range out {
		out[i] = o
	}
	return out
}

// Adapter replays a script of grab outcomes and counts calls.
// After the script is exhausted every grab returns After.
type Adapter struct {
	Script []Outcome
	After  Outcome

	Info        device.SessionInfo
	OpenErr     error
	IMUPerGrab  int
	Temperature float64
	Clock       clock.Clock

	// TemperatureErr is returned by temperature reads when set.
	TemperatureErr error
	// TemperatureAge backdates the timestamp of temperature samples.
	TemperatureAge time.Duration

	mu     sync.Mutex
	pos    int
	seq    uint64
	frame  *image.NRGBA
	imu    []device.SensorSample
	opened bool
	closed bool

	openCalls     atomic.Int64
	grabCalls     atomic.Int64
	retrieveCalls atomic.Int64
	closeCalls    atomic.Int64
	inFlight      atomic.Int32
	reentered     atomic.Bool
}

// New returns a fake camera with the given resolution and script.
func New(res device.Resolution, script ...Outcome) *Adapter {
	return &Adapter{
		Script:      script,
		Temperature: 40,
		Info: device.SessionInfo{
			Source:         "fake",
			Descriptor:     "fake",
			Serial:         12345,
			Model:          device.ModelVirtual,
			Resolution:     res,
			FrameRate:      30,
			Intrinsics:     device.NominalIntrinsics(res),
			CamIMURotation: quat.Number{Real: 1},
			HasIMU:         true,
			HasTemperature: true,
		},
	}
}

func (a *Adapter) enter() func() {
	if a.inFlight.Add(1) > 1 {
		a.reentered.Store(true)
	}
	return func() { a.inFlight.Add(-1) }
}

func (a *Adapter) clock() clock.Clock {
	if a.Clock == nil {
		return clock.New()
	}
	return a.Clock
}

// Open records the call and returns Info or OpenErr.
func (a *Adapter) Open(_ context.Context, cfg device.Config) (device.SessionInfo, error) {
	defer a.enter()()
	a.openCalls.Add(1)
	if a.OpenErr != nil {
		return device.SessionInfo{}, a.OpenErr
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.FrameRate > 0 {
		a.Info.FrameRate = cfg.FrameRate
	}
	r := a.Info.Resolution
	a.frame = image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	a.opened = true
	return a.Info, nil
}

// Grab plays the next scripted outcome.
func (a *Adapter) Grab(ctx context.Context) (device.FrameResult, error) {
	defer a.enter()()
	a.grabCalls.Add(1)

	a.mu.Lock()
	o := a.After
	if a.pos < len(a.Script) {
		o = a.Script[a.pos]
		a.pos++
	}
	closed := a.closed || !a.opened
	a.mu.Unlock()

	if closed {
		return device.FrameResult{}, &device.GrabError{Kind: device.GrabFatal, Err: device.ErrClosed}
	}

	if o.Hold != nil {
		<-o.Hold
	}
	if o.Delay > 0 {
		timer := a.clock().Timer(o.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return device.FrameResult{}, &device.GrabError{Kind: device.GrabTransient, Err: ctx.Err()}
		}
	}

	switch o.Result {
	case Transient:
		return device.FrameResult{}, &device.GrabError{Kind: device.GrabTransient, Err: errors.New("scripted transient")}
	case EndOfInput:
		return device.FrameResult{}, &device.GrabError{Kind: device.GrabEndOfInput, Err: errors.New("scripted end of input")}
	case Fatal:
		return device.FrameResult{}, &device.GrabError{Kind: device.GrabFatal, Err: errors.New("scripted fatal")}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	now := a.clock().Now()
	fill(a.frame, a.seq)
	for i := 0; i < a.IMUPerGrab; i++ {
		a.imu = append(a.imu, device.SensorSample{
			Kind:      device.SensorIMU,
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
			IMU: device.IMUData{
				Orientation:        quat.Number{Real: 1},
				AngularVelocity:    r3.Vector{Z: float64(a.seq)},
				LinearAcceleration: r3.Vector{Z: 9.81},
			},
		})
	}
	return device.FrameResult{Sequence: a.seq, Timestamp: now}, nil
}

// fill paints the frame with the low byte of seq so copies can be told apart.
func fill(img *image.NRGBA, seq uint64) {
	c := color.NRGBA{R: uint8(seq), G: uint8(seq >> 8), B: 0, A: 255}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// RetrieveImage returns the shared frame buffer.
func (a *Adapter) RetrieveImage(device.ViewKind) (device.ImageView, error) {
	defer a.enter()()
	a.retrieveCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return device.ImageView{}, device.ErrClosed
	}
	return device.ImageView{Image: a.frame}, nil
}

// RetrieveSensorSample pops scripted IMU samples or returns Temperature.
func (a *Adapter) RetrieveSensorSample(kind device.SensorKind) (device.SensorSample, bool, error) {
	defer a.enter()()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return device.SensorSample{}, false, device.ErrClosed
	}
	if kind == device.SensorTemperature {
		if a.TemperatureErr != nil {
			return device.SensorSample{}, false, a.TemperatureErr
		}
		return device.SensorSample{Kind: device.SensorTemperature, Timestamp: a.clock().Now().Add(-a.TemperatureAge), Temperature: a.Temperature}, true, nil
	}
	if len(a.imu) == 0 {
		return device.SensorSample{}, false, nil
	}
	s := a.imu[0]
	a.imu = a.imu[1:]
	return s, true, nil
}

// Close counts every call; only the first releases the session.
func (a *Adapter) Close() error {
	defer a.enter()()
	a.closeCalls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// OpenCalls returns the number of Open calls.
func (a *Adapter) OpenCalls() int { return int(a.openCalls.Load()) }

// GrabCalls returns the number of Grab calls.
func (a *Adapter) GrabCalls() int { return int(a.grabCalls.Load()) }

// RetrieveCalls returns the number of RetrieveImage calls.
func (a *Adapter) RetrieveCalls() int { return int(a.retrieveCalls.Load()) }

// CloseCalls returns the number of Close calls.
func (a *Adapter) CloseCalls() int { return int(a.closeCalls.Load()) }

// Reentered reports whether two adapter calls ever overlapped.
func (a *Adapter) Reentered() bool { return a.reentered.Load() }
