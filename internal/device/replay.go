package device

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/num/quat"

	"github.com/smazurov/monocam/internal/logging"
)

var replayExtensions = []string{".png", ".jpg", ".jpeg"}

// Replay plays back a directory of still frames.
type Replay struct {
	cfg    Config
	info   SessionInfo
	clk    clock.Clock
	logger logging.Logger

	files  []string
	index  int
	frame  *image.NRGBA
	start  time.Time
	lastAt time.Time
	seq    uint64
	open   bool
	closed bool
}

// NewReplay returns an unopened replay source.
func NewReplay() *Replay {
	return &Replay{}
}

// ListFrames returns the replayable frame files in dir in lexical order.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.Contains(replayExtensions, ext) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// Open scans the replay directory and decodes the first frame.
func (r *Replay) Open(ctx context.Context, cfg Config) (SessionInfo, error) {
	if r.open {
		return SessionInfo{}, openErr(OpenSDKInternal, "session already open")
	}
	if cfg.ReplayPath == "" {
		return SessionInfo{}, openErr(OpenInvalidConfig, "replay path is empty")
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Model == "" {
		cfg.Model = ModelVirtual
	}

	ctx, cancel := withOpenTimeout(ctx, cfg)
	defer cancel()

	files, err := ListFrames(cfg.ReplayPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return SessionInfo{}, &OpenError{Kind: OpenDeviceNotFound, Err: err}
		}
		return SessionInfo{}, &OpenError{Kind: OpenSDKInternal, Err: err}
	}
	if len(files) == 0 {
		return SessionInfo{}, openErr(OpenInvalidConfig, "no frames in %s", cfg.ReplayPath)
	}
	if ctx.Err() != nil {
		return SessionInfo{}, openCtxErr(ctx)
	}

	first, err := decodeFrame(files[0])
	if err != nil {
		return SessionInfo{}, &OpenError{Kind: OpenInvalidConfig, Err: err}
	}

	r.cfg = cfg
	r.clk = cfg.clock()
	r.logger = cfg.logger()
	r.files = files

	res := matchResolution(first.Rect.Dx(), first.Rect.Dy())
	if cfg.Resolution.Width > 0 && res != cfg.Resolution {
		r.logger.Warn("Replay frames differ from configured resolution, using recorded size",
			"configured", cfg.Resolution.Name,
			"recorded", fmt.Sprintf("%dx%d", res.Width, res.Height))
	}

	r.info = SessionInfo{
		Source:         SourceReplay,
		Descriptor:     cfg.ReplayPath,
		Serial:         cfg.Serial,
		Model:          cfg.Model,
		Resolution:     res,
		FrameRate:      cfg.FrameRate,
		Intrinsics:     NominalIntrinsics(res),
		CamIMURotation: quat.Number{Real: 1},
	}
	r.open = true

	r.logger.Info("Replay opened",
		"path", cfg.ReplayPath,
		"frames", len(files),
		"realtime", cfg.ReplayRealtime)
	return r.info, nil
}

// Grab decodes the next frame. After the last frame it reports GrabEndOfInput.
func (r *Replay) Grab(ctx context.Context) (FrameResult, error) {
	if !r.open || r.closed {
		return FrameResult{}, grabErr(GrabFatal, ErrClosed)
	}
	if r.index >= len(r.files) {
		return FrameResult{}, grabErr(GrabEndOfInput, fmt.Errorf("replay finished after %d frames", len(r.files)))
	}

	if r.start.IsZero() {
		r.start = r.clk.Now()
	}
	if r.cfg.ReplayRealtime {
		due := r.start.Add(time.Duration(r.index) * r.cfg.FramePeriod())
		if err := sleepUntil(ctx, r.clk, due); err != nil {
			return FrameResult{}, grabErr(GrabTransient, err)
		}
	}

	path := r.files[r.index]
	r.index++

	img, err := decodeFrame(path)
	if err != nil {
		r.logger.Warn("Skipping unreadable replay frame", "path", path, "error", err)
		return FrameResult{}, grabErr(GrabTransient, err)
	}

	r.frame = img
	r.seq++
	r.lastAt = r.clk.Now()
	return FrameResult{Sequence: r.seq, Timestamp: r.lastAt}, nil
}

// RetrieveImage returns the last decoded frame.
func (r *Replay) RetrieveImage(ViewKind) (ImageView, error) {
	if !r.open || r.closed {
		return ImageView{}, ErrClosed
	}
	if r.frame == nil {
		return ImageView{}, errors.New("no frame grabbed yet")
	}
	return ImageView{Image: r.frame, Timestamp: r.lastAt}, nil
}

// RetrieveSensorSample never has IMU data; temperature is unavailable.
func (r *Replay) RetrieveSensorSample(kind SensorKind) (SensorSample, bool, error) {
	if !r.open || r.closed {
		return SensorSample{}, false, ErrClosed
	}
	if kind == SensorTemperature {
		return SensorSample{}, false, ErrNoTemperature
	}
	return SensorSample{}, false, nil
}

// Close releases the replay. Subsequent calls are no-ops.
func (r *Replay) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.frame = nil
	if r.logger != nil {
		r.logger.Info("Replay closed", "frames", r.seq)
	}
	return nil
}

func decodeFrame(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return imaging.Clone(img), nil
}

// matchResolution names a decoded frame size after the preset it matches.
func matchResolution(w, h int) Resolution {
	for _, r := range Resolutions {
		if r.Width == w && r.Height == h {
			return r
		}
	}
	return Resolution{Name: "CUSTOM", Width: w, Height: h}
}

func sleepUntil(ctx context.Context, clk clock.Clock, t time.Time) error {
	d := t.Sub(clk.Now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
