package device

import (
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/smazurov/monocam/internal/logging"
)

// NotValidTemp is reported for a temperature that could not be read.
const NotValidTemp = -273.15

// ConnStatus is the connection state of a device session.
type ConnStatus int

// Connection states.
const (
	ConnUninitialized ConnStatus = iota
	ConnConnecting
	ConnOpen
	ConnError
)

func (s ConnStatus) String() string {
	switch s {
	case ConnUninitialized:
		return "uninitialized"
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnError:
		return "error"
	default:
		return fmt.Sprintf("ConnStatus(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Resolution is a named grab resolution preset.
type Resolution struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Grab resolution presets.
var (
	HD4K   = Resolution{Name: "HD4K", Width: 3840, Height: 2160}
	HD1200 = Resolution{Name: "HD1200", Width: 1920, Height: 1200}
	HD1080 = Resolution{Name: "HD1080", Width: 1920, Height: 1080}
	SVGA   = Resolution{Name: "SVGA", Width: 960, Height: 600}
)

// Resolutions lists the presets in descending size.
var Resolutions = []Resolution{HD4K, HD1200, HD1080, SVGA}

// ParseResolution looks up a preset by name (case-insensitive).
func ParseResolution(name string) (Resolution, bool) {
	for _, r := range Resolutions {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Resolution{}, false
}

// Model identifies the camera model.
type Model string

// Supported camera models.
const (
	ModelXOneGS  Model = "zed-x-one-gs"
	ModelXOne4K  Model = "zed-x-one-4k"
	ModelVirtual Model = "virtual"
)

// SupportsHDR reports whether the sensor has an HDR mode.
func (m Model) SupportsHDR() bool {
	return m == ModelXOne4K
}

// Valid reports whether m is a known model.
func (m Model) Valid() bool {
	switch m {
	case ModelXOneGS, ModelXOne4K, ModelVirtual:
		return true
	}
	return false
}

// Source selects the adapter implementation.
type Source string

// Input sources.
const (
	SourceSim    Source = "sim"
	SourceReplay Source = "replay"
	SourceStream Source = "stream"
)

// Config describes the session to open.
type Config struct {
	Source      Source
	Model       Model
	Serial      uint32
	Resolution  Resolution
	FrameRate   int
	HDR         bool
	OpenTimeout time.Duration

	ReplayPath     string
	ReplayRealtime bool

	StreamAddress string
	StreamPort    int

	// TransientRate is the probability [0,1) that a sim grab fails transiently.
	TransientRate float64
	// OpenDelay simulates a slow sim device open.
	OpenDelay time.Duration

	Clock  clock.Clock
	Logger logging.Logger
}

func (c Config) clock() clock.Clock {
	if c.Clock == nil {
		return clock.New()
	}
	return c.Clock
}

func (c Config) logger() logging.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// FramePeriod returns the nominal time between two frames.
func (c Config) FramePeriod() time.Duration {
	if c.FrameRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(c.FrameRate)
}

// Intrinsics holds the native pinhole calibration of the sensor.
type Intrinsics struct {
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Fx         float64   `json:"fx"`
	Fy         float64   `json:"fy"`
	Cx         float64   `json:"cx"`
	Cy         float64   `json:"cy"`
	Distortion []float64 `json:"distortion"`
}

// SessionInfo describes an opened session.
type SessionInfo struct {
	Source            Source      `json:"source"`
	Descriptor        string      `json:"descriptor"`
	Serial            uint32      `json:"serial"`
	Model             Model       `json:"model"`
	Resolution        Resolution  `json:"resolution"`
	FrameRate         int         `json:"frame_rate"`
	HDR               bool        `json:"hdr"`
	CameraFirmware    uint32      `json:"camera_firmware"`
	SensorsFirmware   uint32      `json:"sensors_firmware"`
	Intrinsics        Intrinsics  `json:"intrinsics"`
	CamIMUTranslation r3.Vector   `json:"cam_imu_translation"`
	CamIMURotation    quat.Number `json:"cam_imu_rotation"`
	HasIMU            bool        `json:"has_imu"`
	HasTemperature    bool        `json:"has_temperature"`
}

// FrameResult is the outcome of a successful grab.
type FrameResult struct {
	Sequence  uint64
	Timestamp time.Time
}

// ViewKind selects an image view.
type ViewKind int

// Image views.
const (
	ViewColor ViewKind = iota
	ViewColorRaw
)

func (k ViewKind) String() string {
	if k == ViewColorRaw {
		return "color-raw"
	}
	return "color"
}

// ImageView references adapter-owned pixels. It is invalidated by the next Grab.
type ImageView struct {
	Image     *image.NRGBA
	Timestamp time.Time
}

// SensorKind selects a sensor.
type SensorKind int

// Sensors.
const (
	SensorIMU SensorKind = iota
	SensorTemperature
)

// IMUData is one inertial measurement.
type IMUData struct {
	Orientation           quat.Number `json:"orientation"`
	AngularVelocity       r3.Vector   `json:"angular_velocity"`
	LinearAcceleration    r3.Vector   `json:"linear_acceleration"`
	AngularVelocityRaw    r3.Vector   `json:"angular_velocity_raw"`
	LinearAccelerationRaw r3.Vector   `json:"linear_acceleration_raw"`
}

// SensorSample is one sensor reading with its own timestamp.
type SensorSample struct {
	Kind        SensorKind
	Timestamp   time.Time
	IMU         IMUData
	Temperature float64
}

// VerbosityLevel maps the SDK verbosity setting to a log level.
func VerbosityLevel(verbose int) slog.Level {
	switch {
	case verbose <= 0:
		return slog.LevelWarn
	case verbose == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
