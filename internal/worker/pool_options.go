package worker

import (
	"context"

	"github.com/smazurov/monocam/internal/logging"
)

// Func is the body of a worker. Returning nil means a clean exit.
type Func func(ctx context.Context) error

// StateChangeCallback is called when a worker state changes.
// Used for domain-specific reactions (e.g., liveness diagnostics, shutdown).
type StateChangeCallback func(id string, oldState, newState State, err error)

// PoolOptions configures a new Pool.
type PoolOptions struct {
	// OnStateChange is called when a worker state transitions (optional).
	OnStateChange StateChangeCallback

	// Logger for pool operations. If nil, uses slog.Default().
	Logger logging.Logger
}
