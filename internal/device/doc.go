// Package device adapts a camera source to the acquisition engine.
//
// An Adapter wraps one camera session and is not reentrant: exactly one
// goroutine (the acquisition loop) may call its methods. Three sources are
// provided:
//
//   - sim: a synthetic live camera with a moving test pattern, a 200 Hz IMU
//     and a drifting temperature sensor
//   - replay: a directory of PNG/JPEG frames played back in lexical order
//   - stream: JPEG frames received from a NATS server
//
// Source errors never leave the adapter raw. Open failures are reported as
// *OpenError and grab failures as *GrabError, both carrying a Kind that the
// caller switches on:
//
//	res, err := adapter.Grab(ctx)
//	switch {
//	case err == nil:
//	    view, _ := adapter.RetrieveImage(device.ViewColor)
//	case device.IsTransient(err):
//	    // back off and retry
//	case device.IsEndOfInput(err):
//	    // controlled shutdown
//	default:
//	    // fatal
//	}
//
// An ImageView is only valid until the next Grab returns.
package device
