// Package container wires the settlement services and owns their lifecycle.
package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/application/service"
	"github.com/irlwork/settlement/internal/config"
	"github.com/irlwork/settlement/internal/infrastructure/export"
	"github.com/irlwork/settlement/internal/infrastructure/worker"
	httpserver "github.com/irlwork/settlement/internal/interfaces/http"
)

// Container manages all application dependencies and lifecycle.
// Components are built in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	database     *DatabaseBundle
	repositories *RepositoryBundle
	external     *ExternalBundle
	metrics      *MetricsBundle
	services     *ServiceBundle
	workers      *worker.WorkerManager
	server       *httpserver.Server

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Task       port.TaskRepository
	Pending    port.PendingTransactionRepository
	Payout     port.PayoutRepository
	Ledger     port.LedgerRepository
	Dispute    port.DisputeRepository
	UserStats  port.UserStatsRepository
	EscrowHold port.EscrowHoldRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Task           service.TaskService
	Dispute        service.DisputeService
	Escrow         service.EscrowService
	Payment        service.PaymentService
	Withdrawal     service.WithdrawalService
	Reputation     service.ReputationService
	Reconciliation service.ReconciliationService
	Statements     *export.StatementExporter
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool        `json:"healthy"`
	Message string      `json:"message,omitempty"`
	Detail  interface{} `json:"detail,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components. Background work begins with Run.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	c.external = ProvideExternal(c.config, c.repositories.UserStats, c.logger)
	c.logger.Info("External clients initialized", zap.String("notifier", c.external.LarkMode))

	m, err := ProvideMetrics(&c.config.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	c.metrics = m

	services, err := ProvideServices(&ServiceDeps{
		Config:    c.config,
		Repos:     c.repositories,
		TxManager: c.database.TransactionMgr,
		External:  c.external,
		Metrics:   c.metrics.Settlement,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.services = services
	c.logger.Info("Application services initialized")

	workers, err := ProvideWorkers(&WorkerDeps{
		Config:   c.config,
		Services: c.services,
		Observer: c.metrics.Settlement,
		Logger:   c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.workers = workers

	c.server = httpserver.NewServer(httpserver.ServerConfig{
		Host:            c.config.Server.Host,
		Port:            c.config.Server.Port,
		ReadTimeout:     c.config.Server.ReadTimeout,
		WriteTimeout:    c.config.Server.WriteTimeout,
		ShutdownTimeout: c.config.Server.ShutdownTimeout,
	}, httpserver.Services{
		Tasks:          c.services.Task,
		Disputes:       c.services.Dispute,
		Escrow:         c.services.Escrow,
		Payments:       c.services.Payment,
		Withdrawals:    c.services.Withdrawal,
		Reputation:     c.services.Reputation,
		Reconciliation: c.services.Reconciliation,
		Statements:     c.services.Statements,
	}, c.healthComponents, c.metrics.Handler, newServiceLogger(c.logger.Named("http")))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Run serves HTTP and runs the sweep workers until ctx is cancelled or
// either side fails.
func (c *Container) Run(ctx context.Context) error {
	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.server.Start(gctx)
	})

	g.Go(func() error {
		if err := c.workers.StartAll(gctx); err != nil {
			return fmt.Errorf("start workers: %w", err)
		}
		<-gctx.Done()
		return c.workers.StopAll()
	})

	return g.Wait()
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop http: %w", err))
		}
	}

	// Pending deliveries still read the user directory, so drain before the DB closes
	if c.external != nil {
		if err := c.external.Notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.database != nil {
		if err := c.database.DB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	if c.database != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.database.DB.PingContext(pingCtx); err != nil {
			status.Components["database"] = ComponentHealth{
				Healthy: false,
				Message: fmt.Sprintf("ping failed: %v", err),
			}
			status.Overall = false
		} else {
			status.Components["database"] = ComponentHealth{Healthy: true}
		}
	} else {
		status.Components["database"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.workers != nil {
		status.Components["workers"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("worker count: %d, running: %t", c.workers.GetWorkerCount(), c.workers.IsRunning()),
			Detail:  c.workers.Statuses(),
		}
	} else {
		status.Components["workers"] = ComponentHealth{Healthy: false, Message: "not initialized"}
		status.Overall = false
	}

	if c.external != nil {
		status.Components["gateway"] = ComponentHealth{
			Healthy: c.config.Gateway.BaseURL != "",
			Message: c.config.Gateway.BaseURL,
		}
		status.Components["notifier"] = ComponentHealth{Healthy: true, Message: c.external.LarkMode}
	}

	return status
}

func (c *Container) healthComponents(ctx context.Context) map[string]interface{} {
	h := c.Health(ctx)
	out := make(map[string]interface{}, len(h.Components)+1)
	out["overall"] = h.Overall
	for name, comp := range h.Components {
		out[name] = comp
	}
	return out
}

// initDatabase opens the database and builds the repositories.
func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = bundle

	repos, err := ProvideRepositories(bundle.DB, c.logger)
	if err != nil {
		_ = bundle.DB.Close()
		return err
	}
	c.repositories = repos
	return nil
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Server returns the HTTP server.
func (c *Container) Server() *httpserver.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func newServiceLogger(logger *zap.Logger) *zapLoggerAdapter {
	return &zapLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.logger.Warn(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
