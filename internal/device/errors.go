package device

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("device session closed")

// ErrNoTemperature is returned when the source has no temperature sensor.
var ErrNoTemperature = errors.New("temperature sensor not available")

// OpenErrorKind classifies an open failure.
type OpenErrorKind int

// Open failure kinds.
const (
	OpenTimeout OpenErrorKind = iota
	OpenDeviceNotFound
	OpenInvalidConfig
	OpenSDKInternal
)

func (k OpenErrorKind) String() string {
	switch k {
	case OpenTimeout:
		return "timeout"
	case OpenDeviceNotFound:
		return "device not found"
	case OpenInvalidConfig:
		return "invalid config"
	case OpenSDKInternal:
		return "internal error"
	default:
		return fmt.Sprintf("OpenErrorKind(%d)", int(k))
	}
}

// OpenError reports why a session could not be opened.
type OpenError struct {
	Kind OpenErrorKind
	Err  error
}

func (e *OpenError) Error() string {
	if e.Err == nil {
		return "open failed: " + e.Kind.String()
	}
	return fmt.Sprintf("open failed: %s: %v", e.Kind, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

func openErr(kind OpenErrorKind, format string, args ...any) *OpenError {
	return &OpenError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// GrabErrorKind classifies a grab failure.
type GrabErrorKind int

// Grab failure kinds.
const (
	GrabTransient GrabErrorKind = iota
	GrabEndOfInput
	GrabFatal
)

func (k GrabErrorKind) String() string {
	switch k {
	case GrabTransient:
		return "transient"
	case GrabEndOfInput:
		return "end of input"
	case GrabFatal:
		return "fatal"
	default:
		return fmt.Sprintf("GrabErrorKind(%d)", int(k))
	}
}

// GrabError reports a failed grab.
type GrabError struct {
	Kind GrabErrorKind
	Err  error
}

func (e *GrabError) Error() string {
	if e.Err == nil {
		return "grab failed: " + e.Kind.String()
	}
	return fmt.Sprintf("grab failed: %s: %v", e.Kind, e.Err)
}

func (e *GrabError) Unwrap() error { return e.Err }

func grabErr(kind GrabErrorKind, err error) *GrabError {
	return &GrabError{Kind: kind, Err: err}
}

// GrabKind extracts the grab failure kind from err.
func GrabKind(err error) (GrabErrorKind, bool) {
	var ge *GrabError
	if errors.As(err, &ge) {
		return ge.Kind, true
	}
	return 0, false
}

// IsTransient reports whether err is a retryable grab failure.
func IsTransient(err error) bool {
	k, ok := GrabKind(err)
	return ok && k == GrabTransient
}

// IsEndOfInput reports whether err marks the end of a finite source.
func IsEndOfInput(err error) bool {
	k, ok := GrabKind(err)
	return ok && k == GrabEndOfInput
}
