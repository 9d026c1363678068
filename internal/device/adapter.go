package device

import (
	"context"
	"errors"
	"fmt"
)

// Adapter is a single camera session. It is not safe for concurrent use.
type Adapter interface {
	Open(ctx context.Context, cfg Config) (SessionInfo, error)
	Grab(ctx context.Context) (FrameResult, error)
	RetrieveImage(kind ViewKind) (ImageView, error)
	// RetrieveSensorSample returns ok=false when no IMU sample is pending.
	RetrieveSensorSample(kind SensorKind) (SensorSample, bool, error)
	Close() error
}

// New returns an unopened adapter for the configured source.
func New(source Source) (Adapter, error) {
	switch source {
	case SourceSim, "":
		return NewSim(), nil
	case SourceReplay:
		return NewReplay(), nil
	case SourceStream:
		return NewStream(), nil
	default:
		return nil, &OpenError{Kind: OpenInvalidConfig, Err: fmt.Errorf("unknown input source %q", source)}
	}
}

// Validate checks the parts of cfg that every source depends on.
func (c Config) Validate() error {
	if c.Resolution.Width <= 0 || c.Resolution.Height <= 0 {
		return openErr(OpenInvalidConfig, "invalid resolution %dx%d", c.Resolution.Width, c.Resolution.Height)
	}
	if c.FrameRate < 15 || c.FrameRate > 120 {
		return openErr(OpenInvalidConfig, "frame rate %d out of range [15,120]", c.FrameRate)
	}
	if c.Model != "" && !c.Model.Valid() {
		return openErr(OpenInvalidConfig, "unknown camera model %q", c.Model)
	}
	return nil
}

// withOpenTimeout bounds ctx by cfg.OpenTimeout when set.
func withOpenTimeout(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	if cfg.OpenTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.OpenTimeout)
}

// openCtxErr converts a finished open context into an OpenError.
func openCtxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &OpenError{Kind: OpenTimeout, Err: ctx.Err()}
	}
	return &OpenError{Kind: OpenSDKInternal, Err: ctx.Err()}
}
