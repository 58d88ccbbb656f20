package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/phrazzld/labelgen/internal/store"
)

// cycler is the part of Dispatcher the Runner drives.
type cycler interface {
	Recover(ctx context.Context) (store.StaleResetResult, error)
	RunCycle(ctx context.Context) (CycleResult, error)
}

// RunnerConfig holds configuration for the poll loop.
type RunnerConfig struct {
	// PollInterval is how long the loop sleeps after a cycle that found no
	// work. A cycle that found work is followed immediately by another.
	PollInterval time.Duration

	// RecoverOnStart resets every processing job before the first cycle.
	// Enable it only when this process is the sole worker on the store.
	RecoverOnStart bool
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval:   time.Second,
		RecoverOnStart: true,
	}
}

// Runner drives the Dispatcher from a single background goroutine.
type Runner struct {
	dispatcher cycler
	config     RunnerConfig
	wake       chan struct{}
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
}

// ErrRunnerStarted is returned by Start when the runner is already running.
var ErrRunnerStarted = errors.New("runner already started")

// NewRunner creates a new Runner
func NewRunner(dispatcher *Dispatcher, config RunnerConfig, logger *slog.Logger) *Runner {
	return newRunner(dispatcher, config, logger)
}

func newRunner(dispatcher cycler, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		dispatcher: dispatcher,
		config:     config,
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancelFunc: cancel,
		logger:     logger.With("component", "runner"),
	}
}

// Start recovers unfinished jobs and launches the poll loop.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrRunnerStarted
	}

	if r.config.RecoverOnStart {
		if _, err := r.dispatcher.Recover(r.ctx); err != nil {
			return fmt.Errorf("failed to recover jobs: %w", err)
		}
	}

	r.started = true
	r.wg.Add(1)
	go r.loop()

	r.logger.Info("runner started", "poll_interval", r.config.PollInterval)
	return nil
}

// Stop cancels the loop and waits for the current cycle, including its
// in-flight batches, to finish.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	r.logger.Info("runner stopped")
}

// Wake asks an idle loop to poll now instead of waiting for the interval.
// It never blocks.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop() {
	defer r.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-timer.C:
		case <-r.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		busy := r.cycle()
		if r.ctx.Err() != nil {
			return
		}

		next := r.config.PollInterval
		if busy {
			next = 0
		}
		timer.Reset(next)
	}
}

// cycle runs one dispatcher cycle and reports whether more work is likely
// waiting.
func (r *Runner) cycle() (busy bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in poll cycle",
				"panic", rec,
				"stack", string(debug.Stack()))
			busy = false
		}
	}()

	result, err := r.dispatcher.RunCycle(r.ctx)
	if err != nil {
		if r.ctx.Err() == nil {
			r.logger.Error("poll cycle failed", "error", err)
		}
		return false
	}

	if !result.Idle() {
		r.logger.Info("poll cycle finished",
			"claimed", result.Claimed,
			"batches", result.Batches,
			"completed", result.Completed,
			"failed", result.Failed,
			"requeued", result.Requeued)
	}
	return !result.Idle() && !result.BackingOff
}
