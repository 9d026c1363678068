package worker

import "time"

// State represents the current state of a supervised worker.
type State string

// Worker states.
const (
	StateIdle     State = "idle"     // Not running (never started or exited cleanly)
	StateStarting State = "starting" // Goroutine scheduled
	StateRunning  State = "running"  // Active
	StateStopping State = "stopping" // Stop requested, waiting for exit
	StateError    State = "error"    // Returned an error or panicked
)

// Info contains information about a supervised worker.
type Info struct {
	ID        string
	State     State
	StartedAt time.Time
	StoppedAt time.Time
	LastError error
}

// Alive reports whether the worker goroutine is still executing.
func (i Info) Alive() bool {
	return i.State == StateRunning || i.State == StateStarting || i.State == StateStopping
}
