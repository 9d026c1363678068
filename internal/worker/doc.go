// Package worker supervises the long-running goroutines of a node.
//
// Pool runs named workers and tracks their lifecycle:
//   - State tracking (idle, starting, running, stopping, error)
//   - Panics are recovered and reported as errors, never propagated
//   - Callback hook for state changes (liveness diagnostics, shutdown)
//   - StopAll waits for cooperative exit, then cancels the worker context
//
// Workers are expected to watch their own stop signal; the context passed to
// them is only cancelled when a cooperative stop times out, so that a worker
// stuck in a blocking device call can still be released.
//
// Example usage:
//
//	pool := worker.NewPool(&worker.PoolOptions{
//	    OnStateChange: func(id string, old, new worker.State, err error) {
//	        log.Printf("worker %s: %s -> %s", id, old, new)
//	    },
//	})
//	pool.Go("acquisition", acq.Run)
//	defer pool.StopAll(2 * time.Second)
package worker
