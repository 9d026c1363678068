package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/nats-io/nats.go"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"github.com/smazurov/monocam/internal/logging"
)

// DefaultStreamPort is the port used when the stream port is unset.
const DefaultStreamPort = 10000

// Stream frame headers.
const (
	HeaderTimestamp   = "Monocam-Timestamp"
	HeaderTemperature = "Monocam-Temperature"
	HeaderSerial      = "Monocam-Serial"
)

const streamBuffer = 8

// StreamSubject returns the NATS subject carrying frames for serial.
// Serial 0 subscribes to every camera.
func StreamSubject(serial uint32) string {
	if serial == 0 {
		return "monocam.stream.*"
	}
	return fmt.Sprintf("monocam.stream.%d", serial)
}

// NewStreamMsg encodes img as a JPEG stream frame.
func NewStreamMsg(serial uint32, img image.Image, ts time.Time, temperature *float64) (*nats.Msg, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode stream frame: %w", err)
	}
	msg := nats.NewMsg(StreamSubject(serial))
	msg.Data = buf.Bytes()
	msg.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.UnixNano(), 10))
	msg.Header.Set(HeaderSerial, strconv.FormatUint(uint64(serial), 10))
	if temperature != nil {
		msg.Header.Set(HeaderTemperature, strconv.FormatFloat(*temperature, 'f', 3, 64))
	}
	return msg, nil
}

// Stream receives JPEG frames from a NATS server.
type Stream struct {
	cfg    Config
	info   SessionInfo
	clk    clock.Clock
	logger logging.Logger

	conn    *nats.Conn
	sub     *nats.Subscription
	msgs    chan *nats.Msg
	pending *nats.Msg

	frame  *image.NRGBA
	lastAt time.Time
	seq    uint64

	temp    float64
	tempAt  time.Time
	hasTemp bool

	open   bool
	closed bool
}

// NewStream returns an unopened network stream source.
func NewStream() *Stream {
	return &Stream{}
}

// Open connects to the stream server and waits for the first frame.
func (s *Stream) Open(ctx context.Context, cfg Config) (SessionInfo, error) {
	if s.open {
		return SessionInfo{}, openErr(OpenSDKInternal, "session already open")
	}
	if cfg.StreamAddress == "" {
		return SessionInfo{}, openErr(OpenInvalidConfig, "stream address is empty")
	}
	if cfg.StreamPort == 0 {
		cfg.StreamPort = DefaultStreamPort
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	if cfg.Model == "" {
		cfg.Model = ModelVirtual
	}

	ctx, cancel := withOpenTimeout(ctx, cfg)
	defer cancel()

	s.cfg = cfg
	s.clk = cfg.clock()
	s.logger = cfg.logger()

	url := fmt.Sprintf("nats://%s:%d", cfg.StreamAddress, cfg.StreamPort)
	opts := []nats.Option{
		nats.Name("monocam-stream-in"),
		nats.ReconnectWait(500 * time.Millisecond),
		nats.MaxReconnects(-1),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return SessionInfo{}, openCtxErr(ctx)
		}
		return SessionInfo{}, &OpenError{Kind: OpenDeviceNotFound, Err: err}
	}

	msgs := make(chan *nats.Msg, streamBuffer)
	sub, err := conn.ChanSubscribe(StreamSubject(cfg.Serial), msgs)
	if err != nil {
		conn.Close()
		return SessionInfo{}, &OpenError{Kind: OpenSDKInternal, Err: err}
	}

	var first *nats.Msg
	select {
	case first = <-msgs:
	case <-ctx.Done():
		err := multierr.Append(openCtxErr(ctx), sub.Unsubscribe())
		conn.Close()
		return SessionInfo{}, err
	}

	img, err := imaging.Decode(bytes.NewReader(first.Data))
	if err != nil {
		_ = sub.Unsubscribe()
		conn.Close()
		return SessionInfo{}, &OpenError{Kind: OpenInvalidConfig, Err: fmt.Errorf("decode first frame: %w", err)}
	}

	serial := cfg.Serial
	if v, err := strconv.ParseUint(first.Header.Get(HeaderSerial), 10, 32); err == nil {
		serial = uint32(v)
	}
	res := matchResolution(img.Bounds().Dx(), img.Bounds().Dy())

	s.conn = conn
	s.sub = sub
	s.msgs = msgs
	s.pending = first
	s.info = SessionInfo{
		Source:         SourceStream,
		Descriptor:     url,
		Serial:         serial,
		Model:          cfg.Model,
		Resolution:     res,
		FrameRate:      cfg.FrameRate,
		Intrinsics:     NominalIntrinsics(res),
		CamIMURotation: quat.Number{Real: 1},
		HasTemperature: first.Header.Get(HeaderTemperature) != "",
	}
	s.open = true

	s.logger.Info("Network stream opened", "url", url, "subject", sub.Subject, "serial", serial)
	return s.info, nil
}

// Grab waits up to two frame periods for the next frame.
func (s *Stream) Grab(ctx context.Context) (FrameResult, error) {
	if !s.open || s.closed {
		return FrameResult{}, grabErr(GrabFatal, ErrClosed)
	}
	if s.conn.IsClosed() {
		return FrameResult{}, grabErr(GrabFatal, nats.ErrConnectionClosed)
	}

	msg := s.pending
	s.pending = nil
	if msg == nil {
		timer := s.clk.Timer(2 * s.cfg.FramePeriod())
		defer timer.Stop()
		select {
		case msg = <-s.msgs:
		case <-timer.C:
			return FrameResult{}, grabErr(GrabTransient, errors.New("no frame within two frame periods"))
		case <-ctx.Done():
			return FrameResult{}, grabErr(GrabTransient, ctx.Err())
		}
	}

	img, err := imaging.Decode(bytes.NewReader(msg.Data))
	if err != nil {
		return FrameResult{}, grabErr(GrabTransient, fmt.Errorf("decode frame: %w", err))
	}

	ts := s.clk.Now()
	if ns, err := strconv.ParseInt(msg.Header.Get(HeaderTimestamp), 10, 64); err == nil {
		ts = time.Unix(0, ns)
	}
	if v, err := strconv.ParseFloat(msg.Header.Get(HeaderTemperature), 64); err == nil {
		s.temp = v
		s.tempAt = ts
		s.hasTemp = true
	}

	s.frame = imaging.Clone(img)
	s.lastAt = ts
	s.seq++
	return FrameResult{Sequence: s.seq, Timestamp: ts}, nil
}

// RetrieveImage returns the last received frame.
func (s *Stream) RetrieveImage(ViewKind) (ImageView, error) {
	if !s.open || s.closed {
		return ImageView{}, ErrClosed
	}
	if s.frame == nil {
		return ImageView{}, errors.New("no frame grabbed yet")
	}
	return ImageView{Image: s.frame, Timestamp: s.lastAt}, nil
}

// RetrieveSensorSample reports the temperature carried in frame headers.
func (s *Stream) RetrieveSensorSample(kind SensorKind) (SensorSample, bool, error) {
	if !s.open || s.closed {
		return SensorSample{}, false, ErrClosed
	}
	if kind != SensorTemperature {
		return SensorSample{}, false, nil
	}
	if !s.hasTemp {
		return SensorSample{}, false, ErrNoTemperature
	}
	return SensorSample{Kind: SensorTemperature, Timestamp: s.tempAt, Temperature: s.temp}, true, nil
}

// Close unsubscribes and closes the connection. Subsequent calls are no-ops.
func (s *Stream) Close() error {
	if s.closed || !s.open {
		s.closed = true
		return nil
	}
	s.closed = true
	err := multierr.Append(s.sub.Unsubscribe(), s.conn.Flush())
	s.conn.Close()
	s.frame = nil
	s.logger.Info("Network stream closed", "frames", s.seq)
	return err
}
