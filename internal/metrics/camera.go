// Package metrics provides Prometheus metrics for the acquisition engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "monocam"

var (
	grabsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "grabs_total",
		Help:      "Grab attempts by outcome",
	}, []string{"result"})

	transientStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "transient_streak",
		Help:      "Consecutive transient grab failures",
	})

	acquisitionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "state",
		Help:      "1 for the current acquisition state, 0 otherwise",
	}, []string{"state"})

	frameQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "acquisition",
		Name:      "frame_queue_depth",
		Help:      "Frames waiting for the video publisher",
	})

	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "messages_total",
		Help:      "Messages published per channel",
	}, []string{"channel"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publish",
		Name:      "dropped_total",
		Help:      "Emissions dropped per channel and reason",
	}, []string{"channel", "reason"})

	imuQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sensors",
		Name:      "imu_queue_dropped_total",
		Help:      "IMU samples discarded because the sensor queue was full",
	})

	temperature = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sensors",
		Name:      "temperature_celsius",
		Help:      "Last published camera temperature",
	})

	diagnosticLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "level",
		Help:      "Overall diagnostic level (0 ok, 1 warn, 2 error)",
	})

	frameAge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "frame_age_seconds",
		Help:      "Age of the last grabbed frame",
	})

	workerAlive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "worker_alive",
		Help:      "1 while the worker goroutine is running",
	}, []string{"worker"})
)

// Grab outcomes used as the result label.
const (
	ResultSuccess    = "success"
	ResultTransient  = "transient"
	ResultEndOfInput = "end_of_input"
	ResultFatal      = "fatal"
)

// Drop reasons.
const (
	DropConversion = "conversion"
	DropTransport  = "transport"
)

// IncGrab counts one grab attempt.
func IncGrab(result string) {
	grabsTotal.WithLabelValues(result).Inc()
}

// SetTransientStreak records the current transient failure streak.
func SetTransientStreak(n int) {
	transientStreak.Set(float64(n))
}

// SetAcquisitionState marks state as the current one among all states.
func SetAcquisitionState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		acquisitionState.WithLabelValues(s).Set(v)
	}
}

// SetFrameQueueDepth records the frame queue length.
func SetFrameQueueDepth(n int) {
	frameQueueDepth.Set(float64(n))
}

// IncPublished counts one message on channel.
func IncPublished(channel string) {
	publishedTotal.WithLabelValues(channel).Inc()
}

// IncDropped counts one dropped emission.
func IncDropped(channel, reason string) {
	droppedTotal.WithLabelValues(channel, reason).Inc()
}

// AddIMUQueueDropped counts IMU samples lost to queue overflow.
func AddIMUQueueDropped(n int) {
	if n > 0 {
		imuQueueDropped.Add(float64(n))
	}
}

// SetTemperature records the last published temperature.
func SetTemperature(celsius float64) {
	temperature.Set(celsius)
}

// SetDiagnosticLevel records the overall level.
func SetDiagnosticLevel(level int) {
	diagnosticLevel.Set(float64(level))
}

// SetFrameAge records the age of the last frame in seconds.
func SetFrameAge(seconds float64) {
	frameAge.Set(seconds)
}

// SetWorkerAlive records worker liveness.
func SetWorkerAlive(worker string, alive bool) {
	v := 0.0
	if alive {
		v = 1
	}
	workerAlive.WithLabelValues(worker).Set(v)
}
