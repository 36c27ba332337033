package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SweepFunc performs one pass of a periodic job
type SweepFunc func(ctx context.Context) error

// SweepObserver receives the timing of every sweep
type SweepObserver interface {
	SweepFinished(sweep string, duration time.Duration, err error)
}

// Status is a point-in-time view of a worker
type Status struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	Interval  string     `json:"interval"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// SweepWorker runs a SweepFunc once on start and then on every tick.
// Each instance owns its own state; several may run side by side.
type SweepWorker struct {
	name     string
	interval time.Duration
	sweep    SweepFunc
	observer SweepObserver
	logger   *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	failures  int
	lastRun   time.Time
	lastError error
}

// NewSweepWorker creates a worker. observer may be nil.
func NewSweepWorker(name string, interval time.Duration, sweep SweepFunc, observer SweepObserver, logger *zap.Logger) *SweepWorker {
	return &SweepWorker{
		name:     name,
		interval: interval,
		sweep:    sweep,
		observer: observer,
		logger:   logger.With(zap.String("worker_name", name)),
	}
}

// Name returns the worker name for identification
func (w *SweepWorker) Name() string {
	return w.name
}

// Start begins the sweep loop in the background
func (w *SweepWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %s", w.name, w.interval)
	}

	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("%s already running", w.name)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("Sweep worker started", zap.Duration("interval", w.interval))
	go w.loop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	w.logger.Info("Sweep worker stopped", zap.Int("runs", w.runs), zap.Int("failures", w.failures))
	w.mu.RUnlock()
	return nil
}

// Status reports run counters
func (w *SweepWorker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Name:     w.name,
		Running:  w.isRunning,
		Interval: w.interval.String(),
		Runs:     w.runs,
		Failures: w.failures,
	}
	if !w.lastRun.IsZero() {
		last := w.lastRun
		s.LastRun = &last
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

// RunOnce performs a single sweep outside the loop
func (w *SweepWorker) RunOnce(ctx context.Context) error {
	started := time.Now()
	err := w.sweep(ctx)
	elapsed := time.Since(started)

	if w.observer != nil {
		w.observer.SweepFinished(w.name, elapsed, err)
	}

	w.mu.Lock()
	w.runs++
	w.lastRun = started.UTC()
	w.lastError = err
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("Sweep failed", zap.Duration("elapsed", elapsed), zap.Error(err))
	}
	return err
}

func (w *SweepWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	_ = w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Sweep loop context cancelled")
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx)
		}
	}
}
