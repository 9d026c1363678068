package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/monocam/internal/convert"
	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/device/fake"
	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/params"
	"github.com/smazurov/monocam/internal/transport"
)

var testRes = device.Resolution{Name: "CUSTOM", Width: 64, Height: 32}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// transitionsFrom counts acquisition state events leaving state.
func (r *recorder) transitionsFrom(state AcqState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if e, ok := ev.(events.AcquisitionStateEvent); ok && e.From == state.String() {
			n++
		}
	}
	return n
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testNode struct {
	*Node
	hub    *transport.Hub
	rec    *recorder
	store  *params.Store
	device *fake.Adapter
}

func newTestNode(t *testing.T, dev *fake.Adapter, conv Converter, overrides map[string]any) *testNode {
	t.Helper()
	store := params.NewStore(overrides, testLogger())
	hub := transport.NewHub(testLogger())
	rec := &recorder{}
	n, err := New(Options{
		Store:     store,
		Adapter:   dev,
		Transport: hub,
		Converter: conv,
		Events:    rec,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testNode{Node: n, hub: hub, rec: rec, store: store, device: dev}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, n *Node) {
	t.Helper()
	select {
	case <-n.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("node did not finish")
	}
}

func drainCount(sub *transport.Subscription) int {
	count := 0
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return count
			}
			count++
		default:
			return count
		}
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		base time.Duration
		n    int
		want time.Duration
	}{
		{5 * time.Millisecond, 1, 5 * time.Millisecond},
		{5 * time.Millisecond, 2, 10 * time.Millisecond},
		{5 * time.Millisecond, 3, 20 * time.Millisecond},
		{5 * time.Millisecond, 6, 160 * time.Millisecond},
		{5 * time.Millisecond, 7, 200 * time.Millisecond},
		{5 * time.Millisecond, 1000, 200 * time.Millisecond},
		{300 * time.Millisecond, 1, 200 * time.Millisecond},
		{5 * time.Millisecond, 0, 5 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := retryDelay(tt.base, tt.n); got != tt.want {
			t.Errorf("retryDelay(%v, %d) = %v, want %v", tt.base, tt.n, got, tt.want)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without store should fail")
	}
	if _, err := New(Options{Store: params.NewStore(nil, testLogger())}); err == nil {
		t.Error("New() without adapter should fail")
	}
}

func TestOpenFailure(t *testing.T) {
	dev := fake.New(testRes)
	dev.OpenErr = &device.OpenError{Kind: device.OpenDeviceNotFound}
	n := newTestNode(t, dev, nil, nil)

	err := n.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should fail when the device cannot be opened")
	}
	waitDone(t, n.Node)

	st := n.Status()
	if st.Connection != device.ConnError {
		t.Errorf("Connection = %v, want %v", st.Connection, device.ConnError)
	}
	if st.Acquisition != AcqStopped {
		t.Errorf("Acquisition = %v, want %v", st.Acquisition, AcqStopped)
	}
	if dev.CloseCalls() != 0 {
		t.Errorf("Close called %d times on a session that never opened", dev.CloseCalls())
	}
	if dev.GrabCalls() != 0 {
		t.Errorf("Grab called %d times", dev.GrabCalls())
	}
}

func TestTransientOnlyStaysRunning(t *testing.T) {
	dev := fake.New(testRes)
	dev.After = fake.Outcome{Result: fake.Transient}
	n := newTestNode(t, dev, nil, map[string]any{ParamGrabRetryWarn: 3})

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, "transient streak", func() bool {
		return n.Status().Grab.TransientStreak >= 8
	})

	st := n.Status()
	if st.Acquisition != AcqRunning {
		t.Errorf("Acquisition = %v, want %v", st.Acquisition, AcqRunning)
	}
	if st.Connection != device.ConnOpen {
		t.Errorf("Connection = %v, want %v", st.Connection, device.ConnOpen)
	}
	if dev.CloseCalls() != 0 {
		t.Errorf("Close called %d times while running", dev.CloseCalls())
	}

	if err := n.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if dev.CloseCalls() != 1 {
		t.Errorf("Close called %d times, want 1", dev.CloseCalls())
	}
	if dev.Reentered() {
		t.Error("adapter calls overlapped")
	}

	streaks := 0
	n.rec.mu.Lock()
	for _, ev := range n.rec.events {
		if _, ok := ev.(events.GrabStreakEvent); ok {
			streaks++
		}
	}
	n.rec.mu.Unlock()
	if streaks != 1 {
		t.Errorf("got %d streak warnings, want 1", streaks)
	}
}

func TestEndOfInputClosesOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	script := append(fake.Repeat(3, fake.Outcome{Result: fake.Success}), fake.Outcome{Result: fake.EndOfInput})
	dev := fake.New(testRes, script...)
	dev.After = fake.Outcome{Result: fake.Fatal}
	n := newTestNode(t, dev, nil, nil)
	sub := n.hub.Subscribe(transport.ChannelColor, 16)
	defer sub.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, n.Node)

	st := n.Status()
	if dev.CloseCalls() != 1 {
		t.Errorf("Close called %d times, want 1", dev.CloseCalls())
	}
	if dev.GrabCalls() != 4 {
		t.Errorf("Grab called %d times, want 4", dev.GrabCalls())
	}
	if st.Grab.Fault != "" {
		t.Errorf("Fault = %q, want none after end of input", st.Grab.Fault)
	}
	if st.Acquisition != AcqStopped {
		t.Errorf("Acquisition = %v, want %v", st.Acquisition, AcqStopped)
	}
	if st.StopReason != "end of input" {
		t.Errorf("StopReason = %q", st.StopReason)
	}
	if got := n.rec.transitionsFrom(AcqRunning); got != 1 {
		t.Errorf("%d transitions out of running, want 1", got)
	}
	if st.Liveness != "" {
		t.Errorf("Liveness = %q, want none", st.Liveness)
	}
	if got := drainCount(sub); got != 3 {
		t.Errorf("color published %d frames, want 3", got)
	}

	if err := n.Stop(time.Second); err != nil {
		t.Errorf("Stop() after end of input error = %v", err)
	}
	if dev.CloseCalls() != 1 {
		t.Errorf("Close called %d times after Stop, want 1", dev.CloseCalls())
	}
}

func TestFatalFaults(t *testing.T) {
	script := append(fake.Repeat(2, fake.Outcome{Result: fake.Success}), fake.Outcome{Result: fake.Fatal})
	dev := fake.New(testRes, script...)
	n := newTestNode(t, dev, nil, nil)
	// Busy publish loops must not change the outcome.
	color := n.hub.Subscribe(transport.ChannelColor, 1)
	imu := n.hub.Subscribe(transport.ChannelIMU, 1)
	defer color.Close()
	defer imu.Close()
	dev.IMUPerGrab = 50

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, n.Node)

	st := n.Status()
	if dev.CloseCalls() != 1 {
		t.Errorf("Close called %d times, want 1", dev.CloseCalls())
	}
	if dev.GrabCalls() != 3 {
		t.Errorf("Grab called %d times, want 3", dev.GrabCalls())
	}
	if st.Grab.Fault == "" {
		t.Error("Fault should be recorded")
	}
	if got := n.rec.transitionsFrom(AcqRunning); got != 1 {
		t.Errorf("%d transitions out of running, want 1", got)
	}
	if got := n.rec.transitionsFrom(AcqFaulted); got != 1 {
		t.Errorf("%d transitions out of faulted, want 1", got)
	}
	if st.Connection != device.ConnUninitialized {
		t.Errorf("Connection = %v after close", st.Connection)
	}
	n.Stop(time.Second)
}

func TestUnsubscribedChannelsAreNotConverted(t *testing.T) {
	script := append(fake.Repeat(10, fake.Outcome{Result: fake.Success}), fake.Outcome{Result: fake.EndOfInput})
	dev := fake.New(testRes, script...)
	conv := convert.New()
	n := newTestNode(t, dev, conv, nil)
	sub := n.hub.Subscribe(transport.ChannelColor, 16)
	defer sub.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, n.Node)

	color, gray := conv.Calls()
	if gray != 0 {
		t.Errorf("gray conversions = %d, want 0", gray)
	}
	if color != 10 {
		t.Errorf("color conversions = %d, want 10", color)
	}

	var last uint64
	for i := 0; i < 10; i++ {
		msg := <-sub.C
		if msg.Metadata.Sequence <= last {
			t.Fatalf("frame %d out of order after %d", msg.Metadata.Sequence, last)
		}
		last = msg.Metadata.Sequence
		img := msg.Payload.(*image.NRGBA)
		if img.Pix[0] != uint8(msg.Metadata.Sequence) {
			t.Errorf("frame %d carries pixels of frame %d", msg.Metadata.Sequence, img.Pix[0])
		}
		if msg.Metadata.CameraInfo == nil || msg.Metadata.CameraInfo.DistortionModel != "none" {
			t.Errorf("color should carry rectified camera info, got %+v", msg.Metadata.CameraInfo)
		}
	}

	st := n.Status()
	if st.Published[transport.ChannelColor] != 10 {
		t.Errorf("published color = %d, want 10", st.Published[transport.ChannelColor])
	}
	if st.Published[transport.ChannelGray] != 0 {
		t.Errorf("published gray = %d, want 0", st.Published[transport.ChannelGray])
	}
	n.Stop(time.Second)
}

func TestNoVideoSubscriberSkipsFrameCopy(t *testing.T) {
	script := append(fake.Repeat(10, fake.Outcome{Result: fake.Success}), fake.Outcome{Result: fake.EndOfInput})
	dev := fake.New(device.HD1080, script...)
	conv := convert.New()
	n := newTestNode(t, dev, conv, nil)
	imu := n.hub.Subscribe(transport.ChannelIMU, 16)
	defer imu.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, n.Node)

	if got := dev.RetrieveCalls(); got != 0 {
		t.Errorf("RetrieveImage called %d times without video subscribers", got)
	}
	if color, gray := conv.Calls(); color+gray != 0 {
		t.Errorf("conversions = %d, want 0", color+gray)
	}
	st := n.Status()
	if st.LastFrame.Sequence != 10 {
		t.Errorf("last frame = %d, want 10", st.LastFrame.Sequence)
	}
	if st.Faulted {
		t.Error("end of input should not fault")
	}
	n.Stop(time.Second)
}

func TestReconfigurationNoTornPolicy(t *testing.T) {
	dev := fake.New(testRes)
	dev.After = fake.Outcome{Result: fake.Success, Delay: time.Millisecond}
	n := newTestNode(t, dev, nil, map[string]any{ParamPubResolution: PubCustom})
	color := n.hub.Subscribe(transport.ChannelColor, 256)
	gray := n.hub.Subscribe(transport.ChannelGrayRaw, 256)
	defer color.Close()
	defer gray.Close()

	valid := map[[2]int]bool{{64, 32}: true, {32, 16}: true, {16, 8}: true}

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	gate := params.NewGate(n.store)
	var g errgroup.Group
	g.Go(func() error {
		for i := 0; i < 200; i++ {
			factor := []float64{1, 2, 4}[i%3]
			res := gate.ApplyBatch([]params.Change{
				{Name: ParamDownscaleFactor, Value: factor},
				{Name: ParamCameraFlip, Value: i%2 == 0},
			})
			if err := res.Err(); err != nil {
				return err
			}
			time.Sleep(200 * time.Microsecond)
		}
		return nil
	})
	check := func(sub *transport.Subscription) {
		g.Go(func() error {
			deadline := time.After(3 * time.Second)
			for seen := 0; seen < 50; seen++ {
				select {
				case msg := <-sub.C:
					b := msg.Payload.(image.Image).Bounds()
					ci := msg.Metadata.CameraInfo
					if !valid[[2]int{b.Dx(), b.Dy()}] {
						t.Errorf("torn image size %dx%d", b.Dx(), b.Dy())
					}
					if ci.Width != b.Dx() || ci.Height != b.Dy() {
						t.Errorf("camera info %dx%d does not match image %dx%d", ci.Width, ci.Height, b.Dx(), b.Dy())
					}
				case <-deadline:
					return nil
				}
			}
			return nil
		})
	}
	check(color)
	check(gray)

	if err := g.Wait(); err != nil {
		t.Fatalf("apply error = %v", err)
	}
	if err := n.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestReadOnlyParameterRejected(t *testing.T) {
	dev := fake.New(testRes)
	n := newTestNode(t, dev, nil, nil)
	gate := params.NewGate(n.store)

	err := gate.Apply(ParamGrabFrameRate, 60)
	var reject *params.RejectError
	if !errors.As(err, &reject) || reject.Reason != params.ReasonReadOnly {
		t.Fatalf("Apply(read-only) error = %v, want ReadOnly rejection", err)
	}
	if got := params.Get[int](n.store.Current(), ParamGrabFrameRate); got != 30 {
		t.Errorf("frame rate = %d after rejected change, want 30", got)
	}
	if n.Config().FrameRate != 30 {
		t.Errorf("Config().FrameRate = %d", n.Config().FrameRate)
	}
}

type panicConverter struct{}

func (panicConverter) Color(*image.NRGBA, convert.Options) (*image.NRGBA, error) {
	panic("converter exploded")
}

func (panicConverter) Gray(*image.NRGBA, convert.Options) (*image.Gray, error) {
	panic("converter exploded")
}

func TestWorkerPanicIsLivenessFailure(t *testing.T) {
	dev := fake.New(testRes)
	dev.After = fake.Outcome{Result: fake.Success, Delay: time.Millisecond}
	n := newTestNode(t, dev, panicConverter{}, nil)
	sub := n.hub.Subscribe(transport.ChannelColor, 4)
	defer sub.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, n.Node)

	st := n.Status()
	if st.Liveness == "" {
		t.Error("liveness failure should be recorded")
	}
	if w := st.Workers[WorkerVideo]; w.Alive || w.LastError == "" {
		t.Errorf("video worker = %+v, want dead with error", w)
	}
	if dev.CloseCalls() != 1 {
		t.Errorf("Close called %d times, want 1", dev.CloseCalls())
	}
	if got := n.rec.transitionsFrom(AcqFaulted); got != 1 {
		t.Errorf("transitions out of Faulted = %d, want 1", got)
	}
	if !st.Faulted {
		t.Error("liveness failure should fault acquisition")
	}
	n.Stop(time.Second)
}

func TestStopTimeoutLeavesCloseToAcquisition(t *testing.T) {
	hold := make(chan struct{})
	dev := fake.New(testRes, fake.Outcome{Result: fake.Success, Hold: hold})
	dev.After = fake.Outcome{Result: fake.Success, Delay: time.Millisecond}
	n := newTestNode(t, dev, nil, nil)

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, "grab in progress", func() bool { return dev.GrabCalls() == 1 })

	if err := n.Stop(50 * time.Millisecond); err == nil {
		t.Error("Stop() should report loops still running")
	}
	if dev.CloseCalls() != 0 {
		t.Fatal("session closed while a grab was in progress")
	}

	close(hold)
	waitDone(t, n.Node)
	if dev.CloseCalls() != 1 {
		t.Errorf("Close called %d times, want 1", dev.CloseCalls())
	}
	if dev.Reentered() {
		t.Error("adapter calls overlapped")
	}
}

func TestIMUPublishedInOrder(t *testing.T) {
	script := append(fake.Repeat(5, fake.Outcome{Result: fake.Success}),
		fake.Outcome{Result: fake.EndOfInput, Delay: 200 * time.Millisecond})
	dev := fake.New(testRes, script...)
	dev.IMUPerGrab = 4
	n := newTestNode(t, dev, nil, nil)
	imu := n.hub.Subscribe(transport.ChannelIMU, 64)
	raw := n.hub.Subscribe(transport.ChannelIMURaw, 64)
	defer imu.Close()
	defer raw.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, 2*time.Second, "imu messages", func() bool {
		return n.Status().Published[transport.ChannelIMU] == 20
	})
	waitDone(t, n.Node)

	// The fake stamps each sample with the sequence of the grab it came with.
	last := 0.0
	for i := 0; i < 20; i++ {
		msg := <-imu.C
		m, ok := msg.Payload.(IMUMessage)
		if !ok {
			t.Fatalf("payload type %T", msg.Payload)
		}
		if m.AngularVelocity.Z < last {
			t.Fatalf("imu sample %d out of order", i)
		}
		last = m.AngularVelocity.Z
		if msg.Metadata.FrameID != "zed_one_imu_link" {
			t.Errorf("FrameID = %q", msg.Metadata.FrameID)
		}
		if msg.Metadata.Transform == nil || msg.Metadata.Transform.Child != "zed_one_imu_link" {
			t.Errorf("Transform = %+v", msg.Metadata.Transform)
		}
	}
	if got := drainCount(raw); got != 20 {
		t.Errorf("imu-raw published %d, want 20", got)
	}
	n.Stop(time.Second)
}

func TestTemperatureValidity(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	period := time.Second
	tests := []struct {
		name string
		r    TempReading
		want bool
	}{
		{"fresh", TempReading{Celsius: 40, Valid: true, ReadAt: now.Add(-500 * time.Millisecond)}, true},
		{"two periods", TempReading{Celsius: 40, Valid: true, ReadAt: now.Add(-2 * time.Second)}, true},
		{"stale", TempReading{Celsius: 40, Valid: true, ReadAt: now.Add(-2001 * time.Millisecond)}, false},
		{"never read", TempReading{}, false},
		{"failed read", TempReading{Celsius: 40, ReadAt: now, Err: "i2c timeout"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := temperatureValid(tt.r, now, period); got != tt.want {
				t.Errorf("temperatureValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTemperatureSentinelOnReadFailure(t *testing.T) {
	dev := fake.New(testRes)
	dev.After = fake.Outcome{Result: fake.Success, Delay: 5 * time.Millisecond}
	dev.TemperatureErr = device.ErrNoTemperature
	n := newTestNode(t, dev, nil, nil)
	sub := n.hub.Subscribe(transport.ChannelTemperature, 4)
	defer sub.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, "temperature read", func() bool {
		return n.tempRead.Load().Err != ""
	})
	n.publishTemperature()

	msg := <-sub.C
	tm := msg.Payload.(TemperatureMessage)
	if tm.Valid || tm.Celsius != device.NotValidTemp {
		t.Errorf("temperature = %+v, want invalid sentinel", tm)
	}
	if st := n.Status(); st.Temperature.Valid {
		t.Error("published temperature should be invalid")
	}
	n.Stop(time.Second)
}

func TestTemperatureStaleSample(t *testing.T) {
	dev := fake.New(testRes)
	dev.After = fake.Outcome{Result: fake.Success, Delay: 5 * time.Millisecond}
	dev.TemperatureAge = time.Hour
	n := newTestNode(t, dev, nil, nil)

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, "temperature read", func() bool {
		return n.tempRead.Load().Valid
	})
	n.publishTemperature()

	st := n.Status()
	if st.Temperature.Valid || st.Temperature.Celsius != device.NotValidTemp {
		t.Errorf("temperature = %+v, want invalid sentinel for an hour-old sample", st.Temperature)
	}
	if age := time.Since(st.Temperature.ReadAt); age < 59*time.Minute {
		t.Errorf("read age = %s, want the sample age", age)
	}
	n.Stop(time.Second)
}

func TestTemperaturePublished(t *testing.T) {
	dev := fake.New(testRes)
	dev.After = fake.Outcome{Result: fake.Success, Delay: 5 * time.Millisecond}
	dev.Temperature = 41.5
	n := newTestNode(t, dev, nil, nil)
	sub := n.hub.Subscribe(transport.ChannelTemperature, 4)
	defer sub.Close()

	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, "temperature read", func() bool {
		return n.tempRead.Load().Valid
	})
	n.publishTemperature()

	msg := <-sub.C
	if tm := msg.Payload.(TemperatureMessage); !tm.Valid || tm.Celsius != 41.5 {
		t.Errorf("temperature = %+v, want 41.5", tm)
	}
	n.Stop(time.Second)
}
