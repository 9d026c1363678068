package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/smazurov/monocam/internal/logging"
)

// Pool supervises multiple named workers.
type Pool interface {
	// Go starts a worker by ID. Returns error if a worker with that ID is alive.
	Go(id string, fn Func) error

	// GetStatus returns worker info. Returns idle state if not found.
	GetStatus(id string) Info

	// IsAlive checks if a worker goroutine is still executing.
	IsAlive(id string) bool

	// Statuses returns info for every worker ever started.
	Statuses() map[string]Info

	// Wait blocks until every worker has returned.
	Wait()

	// StopAll marks workers as stopping, waits up to timeout for them to exit
	// and then cancels their context. Returns true if all exited in time.
	StopAll(timeout time.Duration) bool
}

type managedWorker struct {
	id        string
	state     State
	startedAt time.Time
	stoppedAt time.Time
	lastError error
	done      chan struct{}
}

type pool struct {
	opts    PoolOptions
	workers map[string]*managedWorker
	mu      sync.RWMutex
	logger  logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool.
func NewPool(opts *PoolOptions) Pool {
	if opts == nil {
		opts = &PoolOptions{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	var logger logging.Logger = slog.Default()
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &pool{
		opts:    *opts,
		workers: make(map[string]*managedWorker),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Go starts a worker by ID.
func (p *pool) Go(id string, fn Func) error {
	p.mu.Lock()
	if w, exists := p.workers[id]; exists && (Info{State: w.state}).Alive() {
		p.mu.Unlock()
		return fmt.Errorf("worker %s already running", id)
	}

	w := &managedWorker{
		id:        id,
		state:     StateStarting,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	p.workers[id] = w
	p.mu.Unlock()

	p.notifyStateChange(id, StateIdle, StateStarting, nil)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(w.done)
		p.runWorker(w, fn)
	}()

	return nil
}

// runWorker runs the worker body and handles state transitions.
func (p *pool) runWorker(w *managedWorker, fn Func) {
	p.transition(w, StateRunning, nil)
	p.logger.Debug("Worker started", "id", w.id)

	err := p.call(w.id, fn)

	if err != nil {
		p.logger.Error("Worker failed", "id", w.id, "error", err)
		p.transition(w, StateError, err)
		return
	}
	p.transition(w, StateIdle, nil)
	p.logger.Debug("Worker exited", "id", w.id)
}

// call invokes fn, converting a panic into an error.
func (p *pool) call(id string, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %s panicked: %v\n%s", id, r, debug.Stack())
		}
	}()
	return fn(p.ctx)
}

func (p *pool) transition(w *managedWorker, next State, err error) {
	p.mu.Lock()
	old := w.state
	w.state = next
	if err != nil {
		w.lastError = err
	}
	if next == StateIdle || next == StateError {
		w.stoppedAt = time.Now()
	}
	p.mu.Unlock()

	p.notifyStateChange(w.id, old, next, err)
}

// GetStatus returns worker info.
func (p *pool) GetStatus(id string) Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, exists := p.workers[id]
	if !exists {
		return Info{ID: id, State: StateIdle}
	}
	return w.info()
}

func (w *managedWorker) info() Info {
	return Info{
		ID:        w.id,
		State:     w.state,
		StartedAt: w.startedAt,
		StoppedAt: w.stoppedAt,
		LastError: w.lastError,
	}
}

// IsAlive checks if a worker is currently executing.
func (p *pool) IsAlive(id string) bool {
	return p.GetStatus(id).Alive()
}

// Statuses returns a copy of all worker infos.
func (p *pool) Statuses() map[string]Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Info, len(p.workers))
	for id, w := range p.workers {
		out[id] = w.info()
	}
	return out
}

// Wait blocks until every worker has returned.
func (p *pool) Wait() {
	p.wg.Wait()
}

// StopAll waits for cooperative exit, then cancels the worker context.
func (p *pool) StopAll(timeout time.Duration) bool {
	p.logger.Info("Stopping all workers")

	p.mu.Lock()
	var pending []*managedWorker
	var previous []State
	for _, w := range p.workers {
		if w.state == StateRunning || w.state == StateStarting {
			pending = append(pending, w)
			previous = append(previous, w.state)
			w.state = StateStopping
		}
	}
	p.mu.Unlock()

	for i, w := range pending {
		p.notifyStateChange(w.id, previous[i], StateStopping, nil)
	}

	deadline := time.After(timeout)
	clean := true
	for _, w := range pending {
		select {
		case <-w.done:
		case <-deadline:
			p.logger.Warn("Timeout waiting for worker to stop, cancelling", "id", w.id)
			clean = false
		}
		if !clean {
			break
		}
	}

	p.cancel()
	p.wg.Wait()
	p.logger.Info("All workers stopped", "clean", clean)
	return clean
}

// notifyStateChange invokes the OnStateChange callback if configured.
func (p *pool) notifyStateChange(id string, oldState, newState State, err error) {
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(id, oldState, newState, err)
	}
}
