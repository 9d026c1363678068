package device

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/smazurov/monocam/internal/logging"
)

// SimSerial is the serial number reported by the simulated camera.
const SimSerial uint32 = 300000001

const (
	simIMURate         = 200
	simIMUPeriod       = time.Second / simIMURate
	simMaxPendingIMU   = 1024
	simYawRate         = 0.2 // rad/s
	simBaseTemperature = 35.0
	simCameraFirmware  = 1523
	simSensorsFirmware = 777
	gravity            = 9.80665
)

// Sim is a synthetic live camera.
type Sim struct {
	cfg    Config
	info   SessionInfo
	clk    clock.Clock
	logger logging.Logger
	rng    *rand.Rand

	base  *image.NRGBA
	frame *image.NRGBA

	seq       uint64
	next      time.Time
	lastFrame time.Time

	imu     []SensorSample
	lastIMU time.Time
	yaw     float64
	temp    float64
	tempAt  time.Time

	open   bool
	closed bool
}

// NewSim returns an unopened simulated camera.
func NewSim() *Sim {
	return &Sim{}
}

// Open starts the simulated session.
func (s *Sim) Open(ctx context.Context, cfg Config) (SessionInfo, error) {
	if s.open {
		return SessionInfo{}, openErr(OpenSDKInternal, "session already open")
	}
	if err := cfg.Validate(); err != nil {
		return SessionInfo{}, err
	}
	if cfg.Model == "" {
		cfg.Model = ModelXOneGS
	}
	if cfg.Serial != 0 && cfg.Serial != SimSerial {
		return SessionInfo{}, openErr(OpenDeviceNotFound, "no camera with serial %d", cfg.Serial)
	}

	ctx, cancel := withOpenTimeout(ctx, cfg)
	defer cancel()

	s.cfg = cfg
	s.clk = cfg.clock()
	s.logger = cfg.logger()

	if cfg.OpenDelay > 0 {
		timer := s.clk.Timer(cfg.OpenDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return SessionInfo{}, openCtxErr(ctx)
		}
	}
	if ctx.Err() != nil {
		return SessionInfo{}, openCtxErr(ctx)
	}

	hdr := cfg.HDR
	if hdr && !cfg.Model.SupportsHDR() {
		s.logger.Warn("HDR is not supported by this camera model, ignoring", "model", cfg.Model)
		hdr = false
	}

	s.rng = rand.New(rand.NewPCG(uint64(SimSerial), 0x5eed))
	s.base = testPattern(cfg.Resolution.Width, cfg.Resolution.Height)
	s.frame = image.NewNRGBA(s.base.Rect)

	now := s.clk.Now()
	s.next = now
	s.lastIMU = now
	s.temp = simBaseTemperature
	s.tempAt = now

	s.info = SessionInfo{
		Source:            SourceSim,
		Descriptor:        "sim",
		Serial:            SimSerial,
		Model:             cfg.Model,
		Resolution:        cfg.Resolution,
		FrameRate:         cfg.FrameRate,
		HDR:               hdr,
		CameraFirmware:    simCameraFirmware,
		SensorsFirmware:   simSensorsFirmware,
		Intrinsics:        NominalIntrinsics(cfg.Resolution),
		CamIMUTranslation: r3.Vector{X: -0.0165, Y: 0.0053, Z: 0.0049},
		CamIMURotation:    quat.Number{Real: 1},
		HasIMU:            true,
		HasTemperature:    true,
	}
	s.open = true

	s.logger.Info("Simulated camera opened",
		"serial", SimSerial,
		"model", cfg.Model,
		"resolution", cfg.Resolution.Name,
		"fps", cfg.FrameRate)
	return s.info, nil
}

// Grab waits for the next frame slot and renders a frame.
func (s *Sim) Grab(ctx context.Context) (FrameResult, error) {
	if !s.open || s.closed {
		return FrameResult{}, grabErr(GrabFatal, ErrClosed)
	}

	if err := sleepUntil(ctx, s.clk, s.next); err != nil {
		return FrameResult{}, grabErr(GrabTransient, err)
	}

	now := s.clk.Now()
	period := s.cfg.FramePeriod()
	s.next = s.next.Add(period)
	if s.next.Before(now) {
		s.next = now
	}

	s.advanceIMU(now)
	s.advanceTemperature(now)

	if s.cfg.TransientRate > 0 && s.rng.Float64() < s.cfg.TransientRate {
		return FrameResult{}, grabErr(GrabTransient, errors.New("simulated frame drop"))
	}

	s.render()
	s.seq++
	s.lastFrame = now
	return FrameResult{Sequence: s.seq, Timestamp: now}, nil
}

// render draws the test pattern with a moving vertical band.
func (s *Sim) render() {
	copy(s.frame.Pix, s.base.Pix)

	w, h := s.frame.Rect.Dx(), s.frame.Rect.Dy()
	const band = 16
	x0 := int(s.seq*8) % w
	for y := 0; y < h; y++ {
		row := s.frame.Pix[y*s.frame.Stride:]
		for x := x0; x < x0+band && x < w; x++ {
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = 255, 255, 255, 255
		}
	}
}

func (s *Sim) advanceIMU(now time.Time) {
	for t := s.lastIMU.Add(simIMUPeriod); !t.After(now); t = t.Add(simIMUPeriod) {
		s.yaw += simYawRate * simIMUPeriod.Seconds()
		half := s.yaw / 2
		gyro := r3.Vector{Z: simYawRate}
		accel := r3.Vector{Z: gravity}
		noise := func() float64 { return (s.rng.Float64() - 0.5) * 0.02 }

		sample := SensorSample{
			Kind:      SensorIMU,
			Timestamp: t,
			IMU: IMUData{
				Orientation:           quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)},
				AngularVelocity:       gyro,
				LinearAcceleration:    accel,
				AngularVelocityRaw:    gyro.Add(r3.Vector{X: noise(), Y: noise(), Z: noise()}),
				LinearAccelerationRaw: accel.Add(r3.Vector{X: noise(), Y: noise(), Z: noise()}),
			},
		}
		if len(s.imu) >= simMaxPendingIMU {
			s.imu = s.imu[1:]
		}
		s.imu = append(s.imu, sample)
		s.lastIMU = t
	}
}

func (s *Sim) advanceTemperature(now time.Time) {
	step := (s.rng.Float64() - 0.5) * 0.05
	pull := (simBaseTemperature - s.temp) * 0.01
	s.temp += step + pull
	s.tempAt = now
}

// RetrieveImage returns the last grabbed frame. Both views share pixels.
func (s *Sim) RetrieveImage(ViewKind) (ImageView, error) {
	if !s.open || s.closed {
		return ImageView{}, ErrClosed
	}
	if s.seq == 0 {
		return ImageView{}, errors.New("no frame grabbed yet")
	}
	return ImageView{Image: s.frame, Timestamp: s.lastFrame}, nil
}

// RetrieveSensorSample pops the oldest IMU sample or reads the temperature.
func (s *Sim) RetrieveSensorSample(kind SensorKind) (SensorSample, bool, error) {
	if !s.open || s.closed {
		return SensorSample{}, false, ErrClosed
	}
	switch kind {
	case SensorIMU:
		if len(s.imu) == 0 {
			return SensorSample{}, false, nil
		}
		sample := s.imu[0]
		s.imu = s.imu[1:]
		return sample, true, nil
	case SensorTemperature:
		return SensorSample{Kind: SensorTemperature, Timestamp: s.tempAt, Temperature: s.temp}, true, nil
	default:
		return SensorSample{}, false, errors.New("unknown sensor")
	}
}

// Close releases the session. Subsequent calls are no-ops.
func (s *Sim) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.base = nil
	s.frame = nil
	s.imu = nil
	if s.logger != nil {
		s.logger.Info("Simulated camera closed", "frames", s.seq)
	}
	return nil
}

// NominalIntrinsics returns a pinhole model for a 100 degree horizontal field of view.
func NominalIntrinsics(res Resolution) Intrinsics {
	w, h := float64(res.Width), float64(res.Height)
	f := (w / 2) / math.Tan(100*math.Pi/180/2)
	return Intrinsics{
		Width:      res.Width,
		Height:     res.Height,
		Fx:         f,
		Fy:         f,
		Cx:         w / 2,
		Cy:         h / 2,
		Distortion: []float64{-0.05, 0.01, 0, 0, 0},
	}
}

var barColors = []color.NRGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{0, 0, 0, 255},
}

// testPattern renders colour bars over a grey ramp in the bottom quarter.
func testPattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	split := h * 3 / 4
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			var c color.NRGBA
			if y < split {
				c = barColors[x*len(barColors)/w]
			} else {
				v := uint8(x * 255 / max(w-1, 1))
				c = color.NRGBA{v, v, v, 255}
			}
			i := x * 4
			row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return img
}
