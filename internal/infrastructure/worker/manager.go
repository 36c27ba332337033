package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// StatusReporter is implemented by workers that expose run counters
type StatusReporter interface {
	Status() Status
}

// WorkerManager manages lifecycle of multiple workers
type WorkerManager struct {
	workers []Worker
	logger  *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{
		workers: make([]Worker, 0),
		logger:  logger,
	}
}

// Register adds a worker to be managed
func (m *WorkerManager) Register(worker Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, worker)
	m.logger.Info("Worker registered",
		zap.String("worker_name", worker.Name()),
		zap.Int("total_workers", len(m.workers)))
}

// StartAll starts all registered workers. A worker that fails to start is
// logged and the rest still start; the failures are returned together.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("workers already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.isRunning = true
	workers := append([]Worker(nil), m.workers...)
	m.mu.Unlock()

	m.logger.Info("Starting all workers", zap.Int("count", len(workers)))

	var errs []error
	for _, w := range workers {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll gracefully stops all workers
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	workers := append([]Worker(nil), m.workers...)
	m.mu.Unlock()

	m.logger.Info("Stopping all workers", zap.Int("count", len(workers)))

	var errs []error
	for _, w := range workers {
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if m.cancel != nil {
		m.cancel()
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to stop %d workers: %w", len(errs), errors.Join(errs...))
	}
	m.logger.Info("All workers stopped")
	return nil
}

// Statuses returns the status of every worker that reports one
func (m *WorkerManager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		if r, ok := w.(StatusReporter); ok {
			out = append(out, r.Status())
		}
	}
	return out
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}
