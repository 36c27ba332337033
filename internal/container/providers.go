package container

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/irlwork/settlement/internal/application/dispatcher"
	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/application/service"
	"github.com/irlwork/settlement/internal/config"
	"github.com/irlwork/settlement/internal/infrastructure/export"
	"github.com/irlwork/settlement/internal/infrastructure/external/gateway"
	"github.com/irlwork/settlement/internal/infrastructure/external/lark"
	"github.com/irlwork/settlement/internal/infrastructure/metrics"
	"github.com/irlwork/settlement/internal/infrastructure/persistence/repository"
	"github.com/irlwork/settlement/internal/infrastructure/persistence/sqlite"
	"github.com/irlwork/settlement/internal/infrastructure/worker"
	"github.com/irlwork/settlement/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// ExternalBundle holds the adapters to systems outside the process.
type ExternalBundle struct {
	Gateway *gateway.Client

	// Notifier is what services call; it hands off to Delivery asynchronously
	Notifier *dispatcher.Dispatcher
	Delivery port.Notifier
	LarkMode string
}

// MetricsBundle holds the prometheus registry and settlement collectors.
type MetricsBundle struct {
	Registry   *prometheus.Registry
	Settlement *metrics.SettlementMetrics
	Handler    http.Handler
}

// ProvideDatabase opens sqlite and applies the embedded migrations.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Task:       repository.NewTaskRepository(db.DB, logger),
		Pending:    repository.NewPendingTransactionRepository(db.DB, logger),
		Payout:     repository.NewPayoutRepository(db.DB, logger),
		Ledger:     repository.NewLedgerRepository(db.DB, logger),
		Dispute:    repository.NewDisputeRepository(db.DB, logger),
		UserStats:  repository.NewUserStatsRepository(db.DB, logger),
		EscrowHold: repository.NewEscrowHoldRepository(db.DB, logger),
	}, nil
}

// ProvideExternal creates the payments gateway client and the notifier.
// Without Lark credentials notifications are written to the log.
func ProvideExternal(cfg *config.Config, directory lark.UserDirectory, logger *zap.Logger) *ExternalBundle {
	bundle := &ExternalBundle{
		Gateway: gateway.NewClient(gateway.Config{
			BaseURL: cfg.Gateway.BaseURL,
			APIKey:  cfg.Gateway.APIKey,
			Timeout: cfg.Gateway.Timeout,
		}, logger.Named("gateway")),
	}
	if cfg.Gateway.BaseURL == "" {
		logger.Warn("Payments gateway base URL not set, transfers and card calls will fail")
	}

	larkCfg := lark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
	}
	if larkCfg.Enabled() {
		sdk := lark.NewSDKClient(larkCfg, logger.Named("lark"))
		bundle.Delivery = lark.NewNotifier(lark.NewMessenger(sdk, logger.Named("lark")), directory, cfg.Server.PublicURL, logger.Named("notifier"))
		bundle.LarkMode = "lark"
	} else {
		bundle.Delivery = lark.NewLogNotifier(logger.Named("notifier"))
		bundle.LarkMode = "log"
	}

	bundle.Notifier = dispatcher.NewDispatcher(dispatcher.WithLogger(newServiceLogger(logger.Named("dispatcher"))))
	bundle.Notifier.SubscribeNamed(dispatcher.AllTypes, bundle.LarkMode, bundle.Delivery.CreateNotification)
	return bundle
}

// ProvideMetrics builds a private registry with runtime collectors and the
// settlement counters.
func ProvideMetrics(cfg *config.MetricsConfig) (*MetricsBundle, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process collector: %w", err)
	}

	m, err := metrics.New(cfg.Namespace, reg)
	if err != nil {
		return nil, err
	}

	return &MetricsBundle{
		Registry:   reg,
		Settlement: m,
		Handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, nil
}

// ServiceDeps holds dependencies for creating services.
type ServiceDeps struct {
	Config    *config.Config
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	External  *ExternalBundle
	Metrics   service.Metrics
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.External == nil {
		return nil, fmt.Errorf("service dependencies are incomplete")
	}

	cfg := deps.Config
	repos := deps.Repos
	ext := deps.External
	log := newServiceLogger(deps.Logger)

	payments := service.NewPaymentService(
		repos.Task, repos.Pending, repos.Payout, repos.Ledger, repos.UserStats,
		deps.TxManager, ext.Notifier, deps.Metrics,
		service.PaymentConfig{
			FeePercent:     cfg.Payments.PlatformFeePercent,
			ClearingWindow: cfg.Payments.ClearingWindow,
			BatchSize:      cfg.Payments.BatchSize,
		},
		log,
	)

	escrow := service.NewEscrowService(
		repos.Task, repos.EscrowHold, repos.Ledger, ext.Gateway,
		deps.TxManager, ext.Notifier, deps.Metrics,
		service.EscrowConfig{
			AuthorizationWindow: cfg.Escrow.AuthorizationWindow,
			RenewalBuffer:       cfg.Escrow.RenewalBuffer,
			GracePeriod:         cfg.Escrow.GracePeriod,
			BatchSize:           cfg.Escrow.BatchSize,
		},
		log,
	)

	withdrawals := service.NewWithdrawalService(
		repos.Pending, repos.Payout, repos.Ledger, repos.UserStats,
		ext.Gateway, ext.Notifier, deps.Metrics, log,
	)

	tasks := service.NewTaskService(
		repos.Task, repos.UserStats, payments, escrow,
		ext.Notifier, deps.Metrics, log,
	)

	disputes := service.NewDisputeService(
		repos.Task, repos.Dispute, repos.UserStats, payments, escrow,
		deps.TxManager, ext.Notifier, deps.Metrics, log,
	)

	return &ServiceBundle{
		Task:           tasks,
		Dispute:        disputes,
		Escrow:         escrow,
		Payment:        payments,
		Withdrawal:     withdrawals,
		Reputation:     service.NewReputationService(repos.UserStats, ext.Gateway, log),
		Reconciliation: service.NewReconciliationService(repos.Task, repos.Payout, log),
		Statements:     export.NewStatementExporter(payments, repos.Pending, withdrawals, deps.Logger.Named("export")),
	}, nil
}

// WorkerDeps holds dependencies for creating workers.
type WorkerDeps struct {
	Config   *config.Config
	Services *ServiceBundle
	Observer worker.SweepObserver
	Logger   *zap.Logger
}

// ProvideWorkers registers the promotion, renewal and reconciliation sweeps.
// Workers are started by the caller.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil || deps.Services == nil {
		return nil, fmt.Errorf("worker dependencies are incomplete")
	}

	cfg := deps.Config
	intervals := map[string]time.Duration{
		worker.PromotionWorkerName:      cfg.Payments.PromotionInterval,
		worker.RenewalWorkerName:        cfg.Escrow.RenewalInterval,
		worker.ReconciliationWorkerName: cfg.Reconcile.Interval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return nil, fmt.Errorf("%s interval must be positive", name)
		}
	}

	log := deps.Logger.Named("worker")
	manager := worker.NewWorkerManager(log)
	manager.Register(worker.NewPromotionWorker(deps.Services.Payment, cfg.Payments.PromotionInterval, deps.Observer, log))
	manager.Register(worker.NewRenewalWorker(deps.Services.Escrow, cfg.Escrow.RenewalInterval, deps.Observer, log))
	manager.Register(worker.NewReconciliationWorker(deps.Services.Reconciliation, cfg.Reconcile.Interval, deps.Observer, log))

	return manager, nil
}
