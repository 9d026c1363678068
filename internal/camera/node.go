package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/multierr"

	"github.com/smazurov/monocam/internal/calib"
	"github.com/smazurov/monocam/internal/convert"
	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/logging"
	"github.com/smazurov/monocam/internal/metrics"
	"github.com/smazurov/monocam/internal/params"
	"github.com/smazurov/monocam/internal/state"
	"github.com/smazurov/monocam/internal/transport"
	"github.com/smazurov/monocam/internal/worker"
)

// Worker ids.
const (
	WorkerAcquisition = "acquisition"
	WorkerVideo       = "video"
	WorkerSensors     = "sensors"
)

// Logger modules used by the node.
const (
	ModuleCamera    = "camera"
	ModuleVideo     = "video"
	ModuleSensors   = "sensors"
	ModuleStreaming = "streaming"
	ModuleSDK       = "sdk"
)

const (
	frameQueueSize = 4
	imuQueueSize   = 1024
)

// Transport publishes messages to subscriber-gated channels.
type Transport interface {
	HasSubscribers(channel string) bool
	Publish(channel string, payload any, ts time.Time, md transport.Metadata) error
}

// Converter produces publishable images from a grabbed frame.
type Converter interface {
	Color(src *image.NRGBA, opts convert.Options) (*image.NRGBA, error)
	Gray(src *image.NRGBA, opts convert.Options) (*image.Gray, error)
}

// EventPublisher receives node events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Options configures a Node.
type Options struct {
	Store     *params.Store
	Adapter   device.Adapter
	Transport Transport
	// Converter defaults to a new convert.Converter.
	Converter Converter
	// Events is optional.
	Events EventPublisher
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Node runs one camera session: the acquisition, video and sensor loops
// plus the scheduled temperature job.
type Node struct {
	cfg       Config
	store     *params.Store
	adapter   device.Adapter
	transport Transport
	converter Converter
	events    EventPublisher
	clk       clock.Clock

	logger      *slog.Logger
	videoLog    *slog.Logger
	sensorLog   *slog.Logger
	streamLog   *slog.Logger
	sdkLog      *slog.Logger
	stop        *StopFlag
	grabCtx     context.Context
	cancelGrab  context.CancelFunc
	frames      *state.Queue[Frame]
	imu         *state.Queue[device.SensorSample]
	pool        worker.Pool
	scheduler   gocron.Scheduler
	counters    *Counters
	provider    *calib.Provider
	lastTempRd  time.Time
	imuReported uint64

	conn      *state.Cell[device.ConnStatus]
	acq       *state.Cell[AcqState]
	session   *state.Cell[device.SessionInfo]
	openedAt  *state.Cell[time.Time]
	lastFrame *state.Cell[FrameMeta]
	grab      *state.Cell[GrabStatus]
	tempRead  *state.Cell[TempReading]
	tempPub   *state.Cell[TempPublished]
	policy    *state.Cell[OutputPolicy]
	dynamic   *state.Cell[Dynamic]
	liveness  *state.Cell[string]
	faulted   atomic.Bool

	startOnce sync.Once
	schedOnce sync.Once
	schedErr  error
	closeOnce sync.Once
	closeErr  error
	doneOnce  sync.Once
	done      chan struct{}
}

// New declares the node parameters on opts.Store and builds a node that
// has not opened its session yet.
func New(opts Options) (*Node, error) {
	if opts.Store == nil {
		return nil, errors.New("camera: parameter store is required")
	}
	if opts.Adapter == nil {
		return nil, errors.New("camera: device adapter is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("camera: transport is required")
	}
	if opts.Converter == nil {
		opts.Converter = convert.New()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	cfg := DeclareParameters(opts.Store)
	dyn := DynamicFromSet(opts.Store.Current())

	scheduler, err := gocron.NewScheduler(gocron.WithLogger(logging.GetLogger("scheduler")))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		store:     opts.Store,
		adapter:   opts.Adapter,
		transport: opts.Transport,
		converter: opts.Converter,
		events:    opts.Events,
		clk:       opts.Clock,
		logger:    logging.GetLogger(ModuleCamera).With("camera", cfg.CameraName),
		videoLog:  logging.GetLogger(ModuleVideo).With("camera", cfg.CameraName),
		sensorLog: logging.GetLogger(ModuleSensors).With("camera", cfg.CameraName),
		streamLog: logging.GetLogger(ModuleStreaming).With("camera", cfg.CameraName),
		sdkLog:    logging.GetLogger(ModuleSDK).With("camera", cfg.CameraName),
		stop:      NewStopFlag(),
		frames:    state.NewQueue[Frame](frameQueueSize, state.OverflowBlock),
		imu:       state.NewQueue[device.SensorSample](imuQueueSize, state.OverflowDropOldest),
		scheduler: scheduler,
		counters:  newCounters(transport.Channels),
		conn:      state.NewCell(device.ConnUninitialized),
		acq:       state.NewCell(AcqIdle),
		session:   state.NewCell(device.SessionInfo{}),
		openedAt:  state.NewCell(time.Time{}),
		lastFrame: state.NewCell(FrameMeta{}),
		grab:      state.NewCell(GrabStatus{}),
		tempRead:  state.NewCell(TempReading{Celsius: device.NotValidTemp}),
		tempPub:   state.NewCell(TempPublished{Celsius: device.NotValidTemp}),
		policy:    state.NewCell(ComputePolicy(cfg.Resolution, dyn)),
		dynamic:   state.NewCell(dyn),
		liveness:  state.NewCell(""),
		done:      make(chan struct{}),
	}
	n.grabCtx, n.cancelGrab = context.WithCancel(context.Background())
	n.pool = worker.NewPool(&worker.PoolOptions{
		OnStateChange: n.onWorkerState,
		Logger:        logging.GetLogger("worker"),
	})

	logging.SetModuleLevel(ModuleSDK, device.VerbosityLevel(cfg.SDKVerbose))
	applyDebugFlags(DebugFlags{}, dyn.Debug, true)
	opts.Store.OnChange(n.onParameters)
	metrics.SetAcquisitionState(AcqIdle.String(), acqStateNames)

	return n, nil
}

// Config returns the read-only configuration.
func (n *Node) Config() Config {
	return n.cfg
}

// Start opens the session and starts the loops. It returns the open error
// without starting anything when the device cannot be opened.
func (n *Node) Start(ctx context.Context) error {
	err := errors.New("camera: node already started")
	n.startOnce.Do(func() {
		err = n.start(ctx)
	})
	return err
}

func (n *Node) start(ctx context.Context) error {
	n.setState(AcqOpening, "start")
	n.conn.Store(device.ConnConnecting)

	n.logger.Info("Opening camera",
		"source", n.cfg.Source,
		"model", n.cfg.Model,
		"serial", n.cfg.Serial,
		"resolution", n.cfg.Resolution.Name,
		"fps", n.cfg.FrameRate)

	info, err := n.adapter.Open(ctx, n.cfg.DeviceConfig(n.clk, n.sdkLog))
	if err != nil {
		n.conn.Store(device.ConnError)
		n.grab.Store(GrabStatus{Fault: err.Error()})
		n.stop.Raise("open failed")
		n.setState(AcqStopped, err.Error())
		n.shutdownScheduler()
		n.finish()
		return fmt.Errorf("open camera: %w", err)
	}

	n.session.Store(info)
	n.openedAt.Store(n.clk.Now())
	n.conn.Store(device.ConnOpen)
	n.provider = calib.NewProvider(n.cfg.CameraName, info)
	n.policy.Store(ComputePolicy(info.Resolution, n.dynamic.Load()))

	n.logger.Info("Camera opened",
		"descriptor", info.Descriptor,
		"serial", info.Serial,
		"model", info.Model,
		"resolution", info.Resolution.Name,
		"width", info.Resolution.Width,
		"height", info.Resolution.Height,
		"fps", info.FrameRate,
		"camera_fw", info.CameraFirmware,
		"sensors_fw", info.SensorsFirmware)
	n.publishEvent(events.SessionOpenedEvent{
		Source:     string(info.Source),
		Serial:     info.Serial,
		Model:      string(info.Model),
		Resolution: info.Resolution.Name,
		FrameRate:  info.FrameRate,
		Timestamp:  n.clk.Now().Format(time.RFC3339),
	})

	n.setState(AcqRunning, "session open")

	go n.watchStop()

	for _, w := range []struct {
		id string
		fn worker.Func
	}{
		{WorkerAcquisition, n.runAcquisition},
		{WorkerVideo, n.runVideo},
		{WorkerSensors, n.runSensors},
	} {
		if err := n.pool.Go(w.id, w.fn); err != nil {
			n.stop.Raise("worker start failed")
			return fmt.Errorf("start %s loop: %w", w.id, err)
		}
	}

	if info.HasTemperature {
		if err := n.AddJob("temperature", n.cfg.TempPubPeriod, n.publishTemperature); err != nil {
			n.stop.Raise("scheduler failed")
			return err
		}
	}
	n.scheduler.Start()

	go func() {
		n.pool.Wait()
		n.closeSession()
		n.shutdownScheduler()
		n.finish()
	}()
	return nil
}

// AddJob schedules fn every period on the node scheduler. Runs of the same
// job never overlap.
func (n *Node) AddJob(name string, period time.Duration, fn func()) error {
	_, err := n.scheduler.NewJob(
		gocron.DurationJob(period),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s job: %w", name, err)
	}
	return nil
}

// watchStop wakes every blocking wait once the stop flag is raised.
func (n *Node) watchStop() {
	<-n.stop.Done()
	n.cancelGrab()
	n.frames.Close()
	n.imu.Close()
}

// Stop raises the stop flag and waits up to timeout for the loops to exit.
// The session is closed exactly once whichever path gets there first.
func (n *Node) Stop(timeout time.Duration) error {
	if n.stop.Raise("shutdown") {
		n.logger.Info("Stopping camera node")
	}

	var errs error
	if !n.pool.StopAll(timeout) {
		// A loop may still be inside a device call; the acquisition loop
		// closes the session when it returns.
		n.logger.Warn("Camera loops still running, leaving close to the acquisition loop", "timeout", timeout)
		errs = multierr.Append(errs, fmt.Errorf("loops did not exit within %s", timeout))
		return multierr.Append(errs, n.shutdownScheduler())
	}
	errs = multierr.Append(errs, n.shutdownScheduler())
	errs = multierr.Append(errs, n.closeSession())
	n.finish()
	return errs
}

// Done is closed after the loops have exited and the session is closed.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

func (n *Node) shutdownScheduler() error {
	n.schedOnce.Do(func() {
		if err := n.scheduler.Shutdown(); err != nil {
			n.schedErr = fmt.Errorf("shutdown scheduler: %w", err)
		}
	})
	return n.schedErr
}

func (n *Node) finish() {
	n.doneOnce.Do(func() {
		n.cancelGrab()
		close(n.done)
	})
}

// closeSession releases the device once. It runs on the acquisition
// goroutine in every normal path.
func (n *Node) closeSession() error {
	n.closeOnce.Do(func() {
		if n.conn.Load() != device.ConnOpen {
			return
		}
		if err := n.adapter.Close(); err != nil {
			n.closeErr = fmt.Errorf("close camera: %w", err)
			n.logger.Warn("Camera close failed", "error", err)
		}
		n.conn.Store(device.ConnUninitialized)
		n.logger.Info("Camera closed")
	})
	return n.closeErr
}

func (n *Node) setState(next AcqState, reason string) {
	prev := n.acq.Load()
	if prev == next {
		return
	}
	n.acq.Store(next)
	if next == AcqFaulted {
		n.faulted.Store(true)
	}
	metrics.SetAcquisitionState(next.String(), acqStateNames)
	n.logger.Debug("Acquisition state changed", "from", prev, "to", next, "reason", reason)
	n.publishEvent(events.AcquisitionStateEvent{
		From:      prev.String(),
		To:        next.String(),
		Reason:    reason,
		Timestamp: n.clk.Now().Format(time.RFC3339),
	})
}

func (n *Node) publishEvent(ev events.Event) {
	if n.events != nil {
		n.events.Publish(ev)
	}
}

// onWorkerState turns an unexpected worker exit into a liveness failure.
func (n *Node) onWorkerState(id string, oldState, newState worker.State, err error) {
	metrics.SetWorkerAlive(id, worker.Info{State: newState}.Alive())

	ev := events.WorkerStateEvent{
		Worker:    id,
		From:      string(oldState),
		To:        string(newState),
		Timestamp: n.clk.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	n.publishEvent(ev)

	if newState != worker.StateError || n.stop.Raised() {
		return
	}
	msg := fmt.Sprintf("%s loop failed: %v", id, err)
	n.liveness.Store(msg)
	n.logger.Error("Worker liveness failure", "worker", id, "error", err)
	n.stop.Raise(msg)
}

func (n *Node) onParameters(old, cur *params.Set) {
	prev := DynamicFromSet(old)
	next := DynamicFromSet(cur)
	n.dynamic.Store(next)

	if prev.PubResolution != next.PubResolution || prev.DownscaleFactor != next.DownscaleFactor || prev.Flip != next.Flip {
		native := n.session.Load().Resolution
		if native.Width == 0 {
			native = n.cfg.Resolution
		}
		pol := ComputePolicy(native, next)
		version := n.policy.Store(pol)
		n.logger.Info("Output policy changed",
			"mode", pol.Mode, "width", pol.Width, "height", pol.Height, "flip", pol.Flip, "version", version)
	}
	applyDebugFlags(prev.Debug, next.Debug, false)

	changes := make(map[string]any)
	for _, name := range cur.Names() {
		if params.Changed(old, cur, name) {
			changes[name], _ = cur.Value(name)
		}
	}
	if len(changes) > 0 {
		n.publishEvent(events.ParametersChangedEvent{
			Changes:   changes,
			Timestamp: n.clk.Now().Format(time.RFC3339),
		})
	}
}

func applyDebugFlags(prev, next DebugFlags, force bool) {
	set := func(on, was bool, modules ...string) {
		if on == was && !force {
			return
		}
		for _, m := range modules {
			if on {
				logging.SetModuleLevel(m, slog.LevelDebug)
			} else {
				logging.ResetModuleLevel(m)
			}
		}
	}
	set(next.Common, prev.Common, ModuleCamera)
	set(next.Video, prev.Video, ModuleVideo)
	set(next.Sensors, prev.Sensors, ModuleSensors)
	set(next.Streaming, prev.Streaming, ModuleStreaming, "nats")
}

// Status reads every state cell.
func (n *Node) Status() Status {
	published, dropped := n.counters.Snapshot()
	_, convErrors := n.counters.Conversions()
	dyn := n.dynamic.Load()

	workers := make(map[string]WorkerStatus)
	for id, info := range n.pool.Statuses() {
		workers[id] = workerStatus(info)
	}

	return Status{
		Connection:  n.conn.Load(),
		Acquisition: n.acq.Load(),
		Session:     n.session.Load(),
		OpenedAt:    n.openedAt.Load(),
		LastFrame:   n.lastFrame.Load(),
		Grab:        n.grab.Load(),
		Temperature: n.tempPub.Load(),
		Policy:      n.policy.Load(),
		Staleness:   Staleness{Frame: dyn.FrameStale, Temperature: dyn.TempStale},
		Workers:     workers,
		Liveness:    n.liveness.Load(),
		Published:   published,
		Dropped:     dropped,
		ConvErrors:  convErrors,
		FrameQueue:  n.frames.Len(),
		IMUDropped:  n.imu.Dropped(),
		StopReason:  n.stop.Reason(),
		Faulted:     n.faulted.Load(),
	}
}

// Policy returns the current output policy.
func (n *Node) Policy() OutputPolicy {
	return n.policy.Load()
}

// publish hands one message to the transport. A rejection is a drop.
func (n *Node) publish(channel string, payload any, ts time.Time, md transport.Metadata) {
	cc := n.counters.Channel(channel)
	if err := n.transport.Publish(channel, payload, ts, md); err != nil {
		cc.Dropped.Add(1)
		metrics.IncDropped(channel, metrics.DropTransport)
		n.streamLog.Debug("Publish rejected", "channel", channel, "error", err)
		return
	}
	cc.Published.Add(1)
	metrics.IncPublished(channel)
}
