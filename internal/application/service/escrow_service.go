package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/money"
	"github.com/irlwork/settlement/internal/domain/workflow"
)

// EscrowConfig holds card-authorization lifetime settings
type EscrowConfig struct {
	AuthorizationWindow time.Duration
	RenewalBuffer       time.Duration
	GracePeriod         time.Duration
	BatchSize           int
}

// DefaultEscrowConfig returns the production defaults
func DefaultEscrowConfig() EscrowConfig {
	return EscrowConfig{
		AuthorizationWindow: 7 * 24 * time.Hour,
		RenewalBuffer:       24 * time.Hour,
		GracePeriod:         48 * time.Hour,
		BatchSize:           200,
	}
}

// RenewalReport summarizes one renewal sweep
type RenewalReport struct {
	Scanned   int `json:"scanned"`
	Renewed   int `json:"renewed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Escalated int `json:"escalated"`
	Skipped   int `json:"skipped"`
}

// ClaimFunc applies the guarded task status change a refund depends on.
// It runs inside the refund transaction before any money moves.
type ClaimFunc func(txCtx context.Context) error

// EscrowService moves task funds through authorized, deposited and refunded
type EscrowService interface {
	Authorize(ctx context.Context, taskID string) (*entity.EscrowHold, error)
	Capture(ctx context.Context, taskID string) error
	RecordDeposit(ctx context.Context, taskID string, txHash string) error
	Refund(ctx context.Context, taskID string) error
	RefundOnClose(ctx context.Context, taskID string, claim ClaimFunc) error
	RenewExpiringHolds(ctx context.Context) (*RenewalReport, error)
}

type escrowServiceImpl struct {
	taskRepo   port.TaskRepository
	holdRepo   port.EscrowHoldRepository
	ledgerRepo port.LedgerRepository
	card       port.CardProcessor
	txManager  port.TransactionManager
	notifier   port.Notifier
	metrics    Metrics
	cfg        EscrowConfig
	logger     Logger
	now        Clock
}

// NewEscrowService creates a new EscrowService
func NewEscrowService(
	taskRepo port.TaskRepository,
	holdRepo port.EscrowHoldRepository,
	ledgerRepo port.LedgerRepository,
	card port.CardProcessor,
	txManager port.TransactionManager,
	notifier port.Notifier,
	metrics Metrics,
	cfg EscrowConfig,
	logger Logger,
) EscrowService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEscrowConfig().BatchSize
	}
	return &escrowServiceImpl{
		taskRepo:   taskRepo,
		holdRepo:   holdRepo,
		ledgerRepo: ledgerRepo,
		card:       card,
		txManager:  txManager,
		notifier:   notifier,
		metrics:    metricsOrNoop(metrics),
		cfg:        cfg,
		logger:     logger,
		now:        systemClock,
	}
}

func (s *escrowServiceImpl) getTask(ctx context.Context, taskID string) (*entity.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Authorize places a card hold for the task's amount
func (s *escrowServiceImpl) Authorize(ctx context.Context, taskID string) (*entity.EscrowHold, error) {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := workflow.ValidateEscrowTransition(task.EscrowStatus, workflow.EscrowAuthorized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEscrowState, err)
	}

	amount := money.ToCents(task.SettlementAmount())
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	auth, err := s.card.Authorize(ctx, taskID, amount)
	if err != nil {
		s.logger.Error("Card authorization failed", "task_id", taskID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCardProcessor, err)
	}

	now := s.now()
	expiresAt := auth.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.cfg.AuthorizationWindow)
	}
	hold := &entity.EscrowHold{
		TaskID:          taskID,
		PaymentIntentID: auth.PaymentIntentID,
		AmountCents:     amount,
		AuthorizedAt:    now,
		ExpiresAt:       expiresAt,
		Status:          entity.HoldStatusActive,
		UpdatedAt:       now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.taskRepo.UpdateEscrowStatus(txCtx, taskID,
			[]workflow.EscrowStatus{workflow.EscrowNone}, workflow.EscrowAuthorized, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		return s.holdRepo.Create(txCtx, hold)
	})
	if err != nil {
		// Give the hold back rather than leave an orphan on the card.
		if rbErr := s.card.Refund(ctx, auth.PaymentIntentID); rbErr != nil {
			s.logger.Error("Failed to void orphaned authorization",
				"task_id", taskID, "payment_intent_id", auth.PaymentIntentID, "error", rbErr)
		}
		return nil, err
	}

	s.logger.Info("Escrow authorized", "task_id", taskID, "amount_cents", amount, "expires_at", expiresAt)
	return hold, nil
}

// Capture takes the authorized funds into platform custody
func (s *escrowServiceImpl) Capture(ctx context.Context, taskID string) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.EscrowStatus != workflow.EscrowAuthorized {
		return fmt.Errorf("%w: capture from %s", ErrEscrowState, task.EscrowStatus)
	}

	hold, err := s.holdRepo.GetByTaskID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get escrow hold: %w", err)
	}
	if hold == nil {
		return ErrNoEscrowHold
	}

	if err := s.card.Capture(ctx, hold.PaymentIntentID, hold.AmountCents); err != nil {
		s.logger.Error("Card capture failed", "task_id", taskID, "error", err)
		return fmt.Errorf("%w: %v", ErrCardProcessor, err)
	}

	now := s.now()
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := s.taskRepo.UpdateEscrowStatus(txCtx, taskID,
			[]workflow.EscrowStatus{workflow.EscrowAuthorized}, workflow.EscrowDeposited, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		_, err = s.holdRepo.UpdateStatus(txCtx, taskID, entity.HoldStatusActive, entity.HoldStatusCaptured)
		return err
	})
	if err != nil {
		s.logger.Error("Reconciliation needed: captured funds not recorded",
			"task_id", taskID, "payment_intent_id", hold.PaymentIntentID, "error", err)
		return err
	}

	s.logger.Info("Escrow captured", "task_id", taskID, "amount_cents", hold.AmountCents)
	return nil
}

// RecordDeposit marks an on-chain deposit as received
func (s *escrowServiceImpl) RecordDeposit(ctx context.Context, taskID string, txHash string) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := workflow.ValidateEscrowTransition(task.EscrowStatus, workflow.EscrowDeposited); err != nil {
		return fmt.Errorf("%w: %v", ErrEscrowState, err)
	}

	now := s.now()
	ok, err := s.taskRepo.UpdateEscrowStatus(ctx, taskID,
		[]workflow.EscrowStatus{workflow.EscrowNone}, workflow.EscrowDeposited, now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConcurrentUpdate
	}

	s.logger.Info("Escrow deposit recorded", "task_id", taskID, "tx_hash", txHash)
	return nil
}

// Refund returns held funds for a task that is already closed. Open tasks
// are refunded through RefundOnClose so status and escrow move together.
func (s *escrowServiceImpl) Refund(ctx context.Context, taskID string) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := workflow.CheckConsistency(task.Status, workflow.EscrowRefunded); err != nil {
		return fmt.Errorf("%w: refund while task is %s", ErrEscrowState, task.Status)
	}
	return s.refund(ctx, task, nil)
}

// RefundOnClose refunds held funds as part of closing the task. claim runs
// first in the same transaction; if it fails nothing is written and the
// processor is never called.
func (s *escrowServiceImpl) RefundOnClose(ctx context.Context, taskID string, claim ClaimFunc) error {
	task, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	return s.refund(ctx, task, claim)
}

func (s *escrowServiceImpl) refund(ctx context.Context, task *entity.Task, claim ClaimFunc) error {
	if !task.EscrowStatus.HoldsFunds() {
		return fmt.Errorf("%w: refund from %s", ErrEscrowState, task.EscrowStatus)
	}

	hold, err := s.holdRepo.GetByTaskID(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("get escrow hold: %w", err)
	}

	now := s.now()
	amount := money.ToCents(task.SettlementAmount())
	cardRefunded := false
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if claim != nil {
			if err := claim(txCtx); err != nil {
				return err
			}
		}
		ok, err := s.taskRepo.UpdateEscrowStatus(txCtx, task.ID,
			[]workflow.EscrowStatus{workflow.EscrowAuthorized, workflow.EscrowDeposited}, workflow.EscrowRefunded, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		if hold != nil {
			if _, err := s.holdRepo.UpdateStatus(txCtx, task.ID, hold.Status, entity.HoldStatusReleased); err != nil {
				return err
			}
		}
		if err := s.ledgerRepo.CreateTransaction(txCtx, &entity.LedgerTransaction{
			ID:          uuid.NewString(),
			TaskID:      task.ID,
			AgentID:     task.AgentID,
			HumanID:     task.HumanID,
			AmountCents: amount,
			Type:        entity.LedgerTypeEscrowRefund,
			Status:      entity.LedgerStatusCompleted,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		// Last step before commit: a processor failure rolls everything back.
		if hold != nil {
			if err := s.card.Refund(ctx, hold.PaymentIntentID); err != nil {
				s.logger.Error("Card refund failed", "task_id", task.ID, "error", err)
				return fmt.Errorf("%w: %v", ErrCardProcessor, err)
			}
			cardRefunded = true
		}
		return nil
	})
	if err != nil {
		if cardRefunded {
			s.logger.Error("Reconciliation needed: card refunded but not recorded",
				"task_id", task.ID, "payment_intent_id", hold.PaymentIntentID, "error", err)
		} else {
			s.logger.Warn("Refund not applied", "task_id", task.ID, "error", err)
		}
		return err
	}

	s.logger.Info("Escrow refunded", "task_id", task.ID, "amount_cents", amount, "card", hold != nil)
	return nil
}

// captureForRelease takes a card hold into custody so the release step has
// captured funds to pay out. Other escrow states pass through unchanged.
func captureForRelease(ctx context.Context, escrow EscrowService, task *entity.Task) error {
	if task.EscrowStatus != workflow.EscrowAuthorized {
		return nil
	}
	if err := escrow.Capture(ctx, task.ID); err != nil {
		return fmt.Errorf("capture escrow: %w", err)
	}
	return nil
}

// RenewExpiringHolds re-authorizes holds that lapse within RenewalBuffer.
// A hold still failing GracePeriod past expiry cancels its task when the
// task may legally be cancelled; otherwise it is escalated for manual review.
func (s *escrowServiceImpl) RenewExpiringHolds(ctx context.Context) (*RenewalReport, error) {
	now := s.now()
	holds, err := s.holdRepo.ListExpiring(ctx, now.Add(s.cfg.RenewalBuffer), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("Failed to list expiring holds", "error", err)
		return nil, fmt.Errorf("list expiring holds: %w", err)
	}

	report := &RenewalReport{Scanned: len(holds)}
	for _, hold := range holds {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.renewHold(ctx, hold, now, report)
	}

	if report.Scanned > 0 {
		s.logger.Info("Renewal sweep finished",
			"scanned", report.Scanned,
			"renewed", report.Renewed,
			"failed", report.Failed,
			"cancelled", report.Cancelled,
			"escalated", report.Escalated)
	}
	return report, nil
}

func (s *escrowServiceImpl) renewHold(ctx context.Context, hold *entity.EscrowHold, now time.Time, report *RenewalReport) {
	task, err := s.taskRepo.GetByID(ctx, hold.TaskID)
	if err != nil {
		report.Failed++
		s.logger.Error("Failed to load task for renewal", "task_id", hold.TaskID, "error", err)
		return
	}
	if task == nil || task.EscrowStatus != workflow.EscrowAuthorized {
		// Captured, refunded or gone: nothing left to renew.
		retired := entity.HoldStatusReleased
		if task != nil && (task.EscrowStatus == workflow.EscrowDeposited || task.EscrowStatus == workflow.EscrowReleased) {
			retired = entity.HoldStatusCaptured
		}
		if _, err := s.holdRepo.UpdateStatus(ctx, hold.TaskID, entity.HoldStatusActive, retired); err != nil {
			s.logger.Warn("Failed to retire stale hold", "task_id", hold.TaskID, "error", err)
		}
		report.Skipped++
		return
	}

	auth, renewErr := s.card.Renew(ctx, hold.PaymentIntentID, hold.AmountCents)
	if renewErr == nil && auth != nil {
		expiresAt := auth.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = now.Add(s.cfg.AuthorizationWindow)
		}
		intentID := auth.PaymentIntentID
		if intentID == "" {
			intentID = hold.PaymentIntentID
		}
		if _, err := s.holdRepo.RecordRenewal(ctx, hold.TaskID, intentID, expiresAt, now); err != nil {
			report.Failed++
			s.logger.Error("Reconciliation needed: renewal not recorded",
				"task_id", hold.TaskID, "payment_intent_id", intentID, "error", err)
			return
		}
		report.Renewed++
		s.metrics.HoldRenewed(OutcomeOK)
		return
	}

	if renewErr == nil {
		renewErr = fmt.Errorf("empty authorization")
	}
	report.Failed++
	s.metrics.HoldRenewed(OutcomeFailed)
	s.logger.Warn("Authorization renewal failed",
		"task_id", hold.TaskID,
		"attempts", hold.RenewalAttempts+1,
		"expires_at", hold.ExpiresAt,
		"error", renewErr)

	if err := s.holdRepo.RecordRenewalFailure(ctx, hold.TaskID, renewErr.Error(), now); err != nil {
		s.logger.Warn("Failed to record renewal failure", "task_id", hold.TaskID, "error", err)
	}

	if hold.ExpiryNotifiedAt == nil {
		notify(ctx, s.notifier, s.logger, entity.Notification{
			UserID:  task.AgentID,
			Type:    entity.NotificationEscrowExpiring,
			Title:   "Payment authorization expiring",
			Message: fmt.Sprintf("We could not renew the card hold for %q. Update your payment method before %s.", task.Title, hold.ExpiresAt.Add(s.cfg.GracePeriod).Format(time.RFC1123)),
			Link:    "/tasks/" + task.ID,
		})
		if err := s.holdRepo.MarkExpiryNotified(ctx, hold.TaskID, now); err != nil {
			s.logger.Warn("Failed to mark expiry notified", "task_id", hold.TaskID, "error", err)
		}
	}

	if now.Before(hold.ExpiresAt.Add(s.cfg.GracePeriod)) {
		return
	}
	s.lapseHold(ctx, task, now, report)
}

// lapseHold gives up on an authorization that is past its grace period.
// Escrow and hold always move to failed. The task is cancelled when the
// table allows it; active work is escalated for manual review instead.
func (s *escrowServiceImpl) lapseHold(ctx context.Context, task *entity.Task, now time.Time, report *RenewalReport) {
	cancel := workflow.ValidateTransition(task.Status, workflow.StatusCancelled).Valid

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if cancel {
			ok, err := s.taskRepo.TransitionStatus(txCtx, task.ID, port.StatusUpdate{
				From: task.Status,
				To:   workflow.StatusCancelled,
				At:   now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return ErrConcurrentUpdate
			}
		}
		ok, err := s.taskRepo.UpdateEscrowStatus(txCtx, task.ID,
			[]workflow.EscrowStatus{workflow.EscrowAuthorized}, workflow.EscrowFailed, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		_, err = s.holdRepo.UpdateStatus(txCtx, task.ID, entity.HoldStatusActive, entity.HoldStatusFailed)
		return err
	})
	if err != nil {
		report.Failed++
		s.logger.Error("Failed to record authorization lapse", "task_id", task.ID, "error", err)
		return
	}

	if !cancel {
		report.Escalated++
		s.metrics.HoldRenewed(OutcomeEscalated)
		s.logger.Error("Authorization lapsed on a task that cannot be cancelled; manual review required",
			"task_id", task.ID,
			"status", task.Status)
		notify(ctx, s.notifier, s.logger, entity.Notification{
			UserID:  task.AgentID,
			Type:    entity.NotificationEscrowFailed,
			Title:   "Payment authorization expired",
			Message: fmt.Sprintf("The card hold for %q expired and the task is no longer funded. Support will contact you.", task.Title),
			Link:    "/tasks/" + task.ID,
		})
		return
	}

	report.Cancelled++
	s.metrics.HoldRenewed(OutcomeCancelled)
	s.metrics.TransitionApplied(task.Status.String(), workflow.StatusCancelled.String())
	s.logger.Warn("Task cancelled after authorization lapse", "task_id", task.ID)

	for _, userID := range []string{task.AgentID, task.HumanID} {
		notify(ctx, s.notifier, s.logger, entity.Notification{
			UserID:  userID,
			Type:    entity.NotificationEscrowFailed,
			Title:   "Task cancelled",
			Message: fmt.Sprintf("%q was cancelled because its payment authorization expired.", task.Title),
			Link:    "/tasks/" + task.ID,
		})
	}
}
