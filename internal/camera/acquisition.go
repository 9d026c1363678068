package camera

import (
	"context"
	"errors"
	"image"
	"slices"
	"time"

	"github.com/smazurov/monocam/internal/device"
	"github.com/smazurov/monocam/internal/events"
	"github.com/smazurov/monocam/internal/metrics"
)

const (
	maxGrabBackoff = 200 * time.Millisecond
	// maxIMUPerPoll bounds the IMU drain after one grab so a chatty sensor
	// cannot starve the next grab.
	maxIMUPerPoll = imuQueueSize
)

// runAcquisition is the only goroutine that calls the adapter once the
// session is open. It grabs until the stop flag is raised or the device
// reports end of input or a fatal error.
func (n *Node) runAcquisition(_ context.Context) error {
	defer func() {
		if msg := n.liveness.Load(); msg != "" && n.acq.Load() == AcqRunning {
			n.setState(AcqFaulted, msg)
		}
		n.closeSession()
		n.setState(AcqStopped, n.stop.Reason())
	}()

	streak := 0
	for !n.stop.Raised() {
		res, err := n.adapter.Grab(n.grabCtx)
		n.pollSensors()

		if err == nil {
			streak = 0
			n.handleFrame(res)
			continue
		}

		if n.stop.Raised() {
			// The grab was interrupted by shutdown.
			return nil
		}

		kind, ok := device.GrabKind(err)
		if !ok {
			kind = device.GrabFatal
		}
		switch kind {
		case device.GrabTransient:
			streak++
			n.onTransient(streak, err)
			n.backoff(streak)
		case device.GrabEndOfInput:
			metrics.IncGrab(metrics.ResultEndOfInput)
			n.grab.Store(GrabStatus{LastResult: metrics.ResultEndOfInput, LastError: err.Error()})
			n.drain()
			return nil
		default:
			metrics.IncGrab(metrics.ResultFatal)
			n.fault(err)
			return nil
		}
	}
	return nil
}

func (n *Node) handleFrame(res device.FrameResult) {
	now := n.clk.Now()
	ts := res.Timestamp
	if ts.IsZero() {
		ts = now
	}

	// Without a video subscriber the frame is only recorded, never copied.
	if !n.videoSubscribed() {
		n.frameGrabbed(res.Sequence, ts, now)
		return
	}

	view, err := n.adapter.RetrieveImage(device.ViewColor)
	if err == nil && view.Image == nil {
		err = errors.New("empty image view")
	}
	if err != nil {
		metrics.IncGrab(metrics.ResultTransient)
		n.grab.Store(GrabStatus{LastResult: metrics.ResultTransient, LastError: "retrieve image: " + err.Error()})
		n.logger.Debug("Retrieve image failed", "sequence", res.Sequence, "error", err)
		return
	}
	n.frameGrabbed(res.Sequence, ts, now)

	// The view is only valid until the next grab, so the video loop gets a copy.
	frame := Frame{
		Sequence:  res.Sequence,
		Timestamp: ts,
		Image: &image.NRGBA{
			Pix:    slices.Clone(view.Image.Pix),
			Stride: view.Image.Stride,
			Rect:   view.Image.Rect,
		},
	}
	if !n.frames.Push(frame) {
		return
	}
	metrics.SetFrameQueueDepth(n.frames.Len())
}

func (n *Node) frameGrabbed(seq uint64, ts, now time.Time) {
	metrics.IncGrab(metrics.ResultSuccess)
	metrics.SetTransientStreak(0)
	n.grab.Store(GrabStatus{LastResult: metrics.ResultSuccess})
	n.lastFrame.Store(FrameMeta{Sequence: seq, Timestamp: ts, ReceivedAt: now})
}

func (n *Node) videoSubscribed() bool {
	for _, ch := range videoChannels {
		if n.transport.HasSubscribers(ch.name) {
			return true
		}
	}
	return false
}

func (n *Node) onTransient(streak int, err error) {
	metrics.IncGrab(metrics.ResultTransient)
	metrics.SetTransientStreak(streak)
	n.grab.Store(GrabStatus{
		LastResult:      metrics.ResultTransient,
		TransientStreak: streak,
		LastError:       err.Error(),
	})
	n.logger.Debug("Transient grab failure", "streak", streak, "error", err)

	if streak != n.cfg.GrabRetryWarn+1 {
		return
	}
	n.logger.Warn("Camera keeps failing to grab", "streak", streak, "error", err)
	n.publishEvent(events.GrabStreakEvent{
		Streak:    streak,
		Error:     err.Error(),
		Timestamp: n.clk.Now().Format(time.RFC3339),
	})
}

// retryDelay is the wait after the n-th consecutive transient failure.
func retryDelay(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxGrabBackoff {
			return maxGrabBackoff
		}
	}
	return min(d, maxGrabBackoff)
}

// backoff sleeps before the next grab, waking early on stop.
func (n *Node) backoff(streak int) {
	timer := n.clk.Timer(retryDelay(n.cfg.GrabRetryBackoff, streak))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-n.stop.Done():
	}
}

// drain stops acquisition after end of input and gives the video loop up to
// DrainTimeout to publish the frames it already holds.
func (n *Node) drain() {
	n.setState(AcqDraining, "end of input")
	n.logger.Info("End of input, draining", "pending", n.frames.Len())

	n.frames.Close()
	if !n.frames.WaitEmpty(n.cfg.DrainTimeout) {
		n.logger.Warn("Drain timed out", "pending", n.frames.Len(), "timeout", n.cfg.DrainTimeout)
	}
	n.stop.Raise("end of input")
}

// fault records a fatal grab error and stops every loop.
func (n *Node) fault(err error) {
	n.setState(AcqFaulted, err.Error())
	n.grab.Store(GrabStatus{
		LastResult: metrics.ResultFatal,
		LastError:  err.Error(),
		Fault:      err.Error(),
	})
	n.logger.Error("Camera fault", "error", err)
	n.stop.Raise("fatal: " + err.Error())
}

// pollSensors moves pending IMU samples to the sensor queue and refreshes
// the temperature cell. It runs on the acquisition goroutine after every
// grab attempt.
func (n *Node) pollSensors() {
	info := n.session.Load()

	if info.HasIMU {
		for range maxIMUPerPoll {
			s, ok, err := n.adapter.RetrieveSensorSample(device.SensorIMU)
			if err != nil {
				n.sensorLog.Debug("IMU read failed", "error", err)
				break
			}
			if !ok {
				break
			}
			n.imu.Push(s)
		}
		if dropped := n.imu.Dropped(); dropped > n.imuReported {
			metrics.AddIMUQueueDropped(int(dropped - n.imuReported))
			n.imuReported = dropped
		}
	}

	if !info.HasTemperature {
		return
	}
	now := n.clk.Now()
	if !n.lastTempRd.IsZero() && now.Sub(n.lastTempRd) < n.cfg.TempPubPeriod/2 {
		return
	}
	n.lastTempRd = now

	s, ok, err := n.adapter.RetrieveSensorSample(device.SensorTemperature)
	switch {
	case err != nil:
		prev := n.tempRead.Load()
		n.tempRead.Store(TempReading{Celsius: prev.Celsius, ReadAt: prev.ReadAt, Err: err.Error()})
		n.sensorLog.Debug("Temperature read failed", "error", err)
	case ok:
		// Age is taken from the sample, so a source repeating an old value goes stale.
		readAt := s.Timestamp
		if readAt.IsZero() || readAt.After(now) {
			readAt = now
		}
		n.tempRead.Store(TempReading{Celsius: s.Temperature, Valid: true, ReadAt: readAt})
	}
}
