package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/money"
	"github.com/irlwork/settlement/internal/domain/workflow"
)

// PaymentConfig holds the clearing-window pipeline settings
type PaymentConfig struct {
	FeePercent     float64
	ClearingWindow time.Duration
	BatchSize      int
}

// DefaultPaymentConfig returns the production defaults
func DefaultPaymentConfig() PaymentConfig {
	return PaymentConfig{
		FeePercent:     money.DefaultFeePercent,
		ClearingWindow: 48 * time.Hour,
		BatchSize:      500,
	}
}

// releasableEscrow are the escrow states a release may start from.
// Card holds must be captured first. EscrowNone covers legacy tasks
// created before escrow tracking.
var releasableEscrow = []workflow.EscrowStatus{
	workflow.EscrowDeposited,
	workflow.EscrowNone,
}

// ReleaseResult describes a completed release
type ReleaseResult struct {
	TaskID               string    `json:"task_id"`
	PendingTransactionID string    `json:"pending_transaction_id"`
	NetAmountCents       int64     `json:"net_amount_cents"`
	PlatformFeeCents     int64     `json:"platform_fee_cents"`
	NetAmount            float64   `json:"net_amount"`
	PlatformFee          float64   `json:"platform_fee"`
	ClearsAt             time.Time `json:"clears_at"`
}

// PromotionReport summarizes one promotion sweep
type PromotionReport struct {
	Scanned  int `json:"scanned"`
	Promoted int `json:"promoted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Balance is a user's wallet split by clearing state
type Balance struct {
	UserID         string     `json:"user_id"`
	PendingCents   int64      `json:"pending_cents"`
	AvailableCents int64      `json:"available_cents"`
	WithdrawnCents int64      `json:"withdrawn_cents"`
	Pending        float64    `json:"pending"`
	Available      float64    `json:"available"`
	Withdrawn      float64    `json:"withdrawn"`
	NextClearsAt   *time.Time `json:"next_clears_at,omitempty"`
}

// PaymentService moves released escrow through the clearing window
type PaymentService interface {
	ReleasePaymentToPending(ctx context.Context, taskID, humanID, agentID string) (*ReleaseResult, error)
	PromotePendingBalances(ctx context.Context) (*PromotionReport, error)
	GetWalletBalance(ctx context.Context, userID string) (*Balance, error)
}

type paymentServiceImpl struct {
	taskRepo    port.TaskRepository
	pendingRepo port.PendingTransactionRepository
	payoutRepo  port.PayoutRepository
	ledgerRepo  port.LedgerRepository
	statsRepo   port.UserStatsRepository
	txManager   port.TransactionManager
	notifier    port.Notifier
	metrics     Metrics
	cfg         PaymentConfig
	logger      Logger
	now         Clock

	sweepMu     sync.Mutex
	clearCursor port.ClearCursor
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	taskRepo port.TaskRepository,
	pendingRepo port.PendingTransactionRepository,
	payoutRepo port.PayoutRepository,
	ledgerRepo port.LedgerRepository,
	statsRepo port.UserStatsRepository,
	txManager port.TransactionManager,
	notifier port.Notifier,
	metrics Metrics,
	cfg PaymentConfig,
	logger Logger,
) PaymentService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPaymentConfig().BatchSize
	}
	return &paymentServiceImpl{
		taskRepo:    taskRepo,
		pendingRepo: pendingRepo,
		payoutRepo:  payoutRepo,
		ledgerRepo:  ledgerRepo,
		statsRepo:   statsRepo,
		txManager:   txManager,
		notifier:    notifier,
		metrics:     metricsOrNoop(metrics),
		cfg:         cfg,
		logger:      logger,
		now:         systemClock,
	}
}

// ReleasePaymentToPending moves a task's escrow into the payee's pending balance.
// All writes share one transaction. Retrying after the escrow is released
// returns ErrAlreadyReleased and credits nothing.
func (s *paymentServiceImpl) ReleasePaymentToPending(ctx context.Context, taskID, humanID, agentID string) (*ReleaseResult, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.HumanID == "" || task.HumanID != humanID || task.AgentID != agentID {
		return nil, ErrPartyMismatch
	}
	if task.EscrowStatus == workflow.EscrowReleased {
		return nil, ErrAlreadyReleased
	}
	if !isReleasable(task.EscrowStatus) {
		return nil, fmt.Errorf("%w: release from escrow %s", ErrEscrowState, task.EscrowStatus)
	}
	if task.Status != workflow.StatusApproved && task.Status != workflow.StatusDisputed {
		return nil, fmt.Errorf("%w: release from %s", ErrInvalidTaskStatus, task.Status)
	}

	payee, err := s.statsRepo.Get(ctx, humanID)
	if err != nil {
		return nil, fmt.Errorf("get payee: %w", err)
	}
	if !payee.HasPayoutDestination() {
		return nil, ErrNoPayoutDestination
	}

	split, err := money.SplitFee(money.ToCents(task.SettlementAmount()), s.cfg.FeePercent)
	if err != nil {
		return nil, fmt.Errorf("split fee: %w", err)
	}
	if split.NetCents <= 0 {
		return nil, fmt.Errorf("%w: net amount %d cents", ErrInvalidAmount, split.NetCents)
	}

	now := s.now()
	pending := &entity.PendingTransaction{
		ID:           uuid.NewString(),
		UserID:       humanID,
		TaskID:       taskID,
		AmountCents:  split.NetCents,
		Status:       entity.PendingStatusPending,
		ClearsAt:     now.Add(s.cfg.ClearingWindow),
		PayoutMethod: entity.PaymentMethodUSDC,
		CreatedAt:    now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		released, err := s.taskRepo.UpdateEscrowStatus(txCtx, taskID, releasableEscrow, workflow.EscrowReleased, now)
		if err != nil {
			return fmt.Errorf("release escrow: %w", err)
		}
		if !released {
			return ErrAlreadyReleased
		}

		if err := s.pendingRepo.Create(txCtx, pending); err != nil {
			return fmt.Errorf("create pending transaction: %w", err)
		}

		if err := s.payoutRepo.Create(txCtx, &entity.Payout{
			ID:               uuid.NewString(),
			TaskID:           taskID,
			AgentID:          agentID,
			HumanID:          humanID,
			GrossAmountCents: split.GrossCents,
			PlatformFeeCents: split.FeeCents,
			NetAmountCents:   split.NetCents,
			Status:           entity.PayoutStatusPending,
			PayoutMethod:     pending.PayoutMethod,
			CreatedAt:        now,
		}); err != nil {
			return fmt.Errorf("create payout: %w", err)
		}

		if err := s.ledgerRepo.CreateTransaction(txCtx, &entity.LedgerTransaction{
			ID:               uuid.NewString(),
			TaskID:           taskID,
			AgentID:          agentID,
			HumanID:          humanID,
			AmountCents:      split.NetCents,
			PlatformFeeCents: split.FeeCents,
			Type:             entity.LedgerTypeEscrowRelease,
			Status:           entity.LedgerStatusPending,
			CreatedAt:        now,
		}); err != nil {
			return fmt.Errorf("create ledger transaction: %w", err)
		}

		if err := s.statsRepo.Increment(txCtx, humanID, entity.CounterTasksCompleted, 1); err != nil {
			return err
		}
		if err := s.statsRepo.Increment(txCtx, humanID, entity.CounterEarnedCents, split.NetCents); err != nil {
			return err
		}
		if err := s.statsRepo.Increment(txCtx, agentID, entity.CounterPaidCents, split.GrossCents); err != nil {
			return err
		}

		moved, err := s.taskRepo.TransitionStatus(txCtx, taskID, port.StatusUpdate{
			From: task.Status,
			To:   workflow.StatusPaid,
			At:   now,
		})
		if err != nil {
			return fmt.Errorf("mark task paid: %w", err)
		}
		if !moved {
			return ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to release payment", "task_id", taskID, "error", err)
		return nil, err
	}

	s.metrics.PaymentReleased(split.NetCents, split.FeeCents)
	s.metrics.TransitionApplied(task.Status.String(), workflow.StatusPaid.String())
	s.logger.Info("Payment released to pending",
		"task_id", taskID,
		"human_id", humanID,
		"net_cents", split.NetCents,
		"fee_cents", split.FeeCents,
		"clears_at", pending.ClearsAt)

	notify(ctx, s.notifier, s.logger, entity.Notification{
		UserID:  humanID,
		Type:    entity.NotificationPaymentReleased,
		Title:   "Payment released",
		Message: fmt.Sprintf("$%s for %q is pending and clears %s", money.Format(split.NetCents), task.Title, pending.ClearsAt.Format(time.RFC1123)),
		Link:    "/tasks/" + taskID,
	})

	return &ReleaseResult{
		TaskID:               taskID,
		PendingTransactionID: pending.ID,
		NetAmountCents:       split.NetCents,
		PlatformFeeCents:     split.FeeCents,
		NetAmount:            money.FromCents(split.NetCents),
		PlatformFee:          money.FromCents(split.FeeCents),
		ClearsAt:             pending.ClearsAt,
	}, nil
}

func isReleasable(e workflow.EscrowStatus) bool {
	for _, r := range releasableEscrow {
		if r == e {
			return true
		}
	}
	return false
}

// PromotePendingBalances makes cleared pending rows withdrawable.
// This is the only path that sets a pending transaction to available.
// Row failures are logged and skipped. Sweeps page through the backlog with
// a cursor and wrap around at the end, so rows that keep failing are retried
// once per pass without holding back the rows behind them.
func (s *paymentServiceImpl) PromotePendingBalances(ctx context.Context) (*PromotionReport, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	now := s.now()
	rows, err := s.pendingRepo.ListClearable(ctx, now, s.clearCursor, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Failed to list clearable transactions", "error", err)
		return nil, fmt.Errorf("list clearable: %w", err)
	}

	// A short page means the backlog was exhausted.
	s.clearCursor = port.ClearCursor{}
	if len(rows) > 0 && len(rows) >= s.cfg.BatchSize {
		last := rows[len(rows)-1]
		s.clearCursor = port.ClearCursor{ClearsAt: last.ClearsAt, ID: last.ID}
	}

	report := &PromotionReport{Scanned: len(rows)}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		promoted, err := s.pendingRepo.MarkAvailable(ctx, row.ID, now)
		if err != nil {
			report.Failed++
			s.metrics.PendingPromoted(OutcomeFailed)
			s.logger.Error("Failed to promote pending transaction", "id", row.ID, "task_id", row.TaskID, "error", err)
			continue
		}
		if !promoted {
			report.Skipped++
			s.metrics.PendingPromoted(OutcomeRaceLost)
			continue
		}

		if _, err := s.payoutRepo.UpdateStatus(ctx, row.TaskID, entity.PayoutStatusPending, entity.PayoutStatusAvailable); err != nil {
			s.logger.Warn("Failed to mark payout available", "task_id", row.TaskID, "error", err)
		}

		report.Promoted++
		s.metrics.PendingPromoted(OutcomeOK)
		notify(ctx, s.notifier, s.logger, entity.Notification{
			UserID:  row.UserID,
			Type:    entity.NotificationFundsAvailable,
			Title:   "Funds available",
			Message: fmt.Sprintf("$%s is now available to withdraw", money.Format(row.AmountCents)),
			Link:    "/wallet",
		})
	}

	if report.Scanned > 0 {
		s.logger.Info("Promotion sweep finished",
			"scanned", report.Scanned,
			"promoted", report.Promoted,
			"skipped", report.Skipped,
			"failed", report.Failed)
	}
	return report, nil
}

// GetWalletBalance reports a user's pending, available and withdrawn totals
func (s *paymentServiceImpl) GetWalletBalance(ctx context.Context, userID string) (*Balance, error) {
	sums, err := s.pendingRepo.SumByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum balances: %w", err)
	}
	next, err := s.pendingRepo.NextClearsAt(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("next clears_at: %w", err)
	}

	b := &Balance{
		UserID:         userID,
		PendingCents:   sums[entity.PendingStatusPending],
		AvailableCents: sums[entity.PendingStatusAvailable],
		WithdrawnCents: sums[entity.PendingStatusWithdrawn],
		NextClearsAt:   next,
	}
	b.Pending = money.FromCents(b.PendingCents)
	b.Available = money.FromCents(b.AvailableCents)
	b.Withdrawn = money.FromCents(b.WithdrawnCents)
	return b, nil
}
