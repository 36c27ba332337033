package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/dispute"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/workflow"
)

// Outcome is how an open dispute is settled
type Outcome string

const (
	// OutcomeApprove accepts the work and releases payment
	OutcomeApprove Outcome = "approve"
	// OutcomeCancel cancels the task and refunds the poster; the worker loses the dispute
	OutcomeCancel Outcome = "cancel"
	// OutcomePay pays the worker without a separate approval step
	OutcomePay Outcome = "pay"
	// OutcomeReview sends the work back for another review
	OutcomeReview Outcome = "review"
)

// Valid reports whether o is a known outcome
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeApprove, OutcomeCancel, OutcomePay, OutcomeReview:
		return true
	}
	return false
}

// DisputeService files and resolves task disputes
type DisputeService interface {
	FileDispute(ctx context.Context, taskID string, filing dispute.Filing) (*entity.Dispute, error)
	ResolveDispute(ctx context.Context, taskID string, outcome Outcome) (*entity.Task, error)
	ListDisputes(ctx context.Context, taskID string) ([]*entity.Dispute, error)
}

type disputeServiceImpl struct {
	taskRepo    port.TaskRepository
	disputeRepo port.DisputeRepository
	statsRepo   port.UserStatsRepository
	payments    PaymentService
	escrow      EscrowService
	txManager   port.TransactionManager
	notifier    port.Notifier
	metrics     Metrics
	logger      Logger
	now         Clock
}

// NewDisputeService creates a new DisputeService
func NewDisputeService(
	taskRepo port.TaskRepository,
	disputeRepo port.DisputeRepository,
	statsRepo port.UserStatsRepository,
	payments PaymentService,
	escrow EscrowService,
	txManager port.TransactionManager,
	notifier port.Notifier,
	metrics Metrics,
	logger Logger,
) DisputeService {
	return &disputeServiceImpl{
		taskRepo:    taskRepo,
		disputeRepo: disputeRepo,
		statsRepo:   statsRepo,
		payments:    payments,
		escrow:      escrow,
		txManager:   txManager,
		notifier:    notifier,
		metrics:     metricsOrNoop(metrics),
		logger:      logger,
		now:         systemClock,
	}
}

// FileDispute records a dispute and moves the task to disputed in one transaction.
// If another writer changed the status first, nothing is persisted.
func (s *disputeServiceImpl) FileDispute(ctx context.Context, taskID string, filing dispute.Filing) (*entity.Dispute, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if !task.Status.IsDisputable() {
		return nil, fmt.Errorf("%w: cannot dispute a %s task", ErrInvalidTaskStatus, task.Status)
	}

	now := s.now()
	d, err := dispute.Open(task, filing, now)
	if err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.disputeRepo.Create(txCtx, d); err != nil {
			return fmt.Errorf("create dispute: %w", err)
		}
		ok, err := s.taskRepo.TransitionStatus(txCtx, taskID, port.StatusUpdate{
			From: task.Status,
			To:   workflow.StatusDisputed,
			At:   now,
		})
		if err != nil {
			return fmt.Errorf("mark task disputed: %w", err)
		}
		if !ok {
			return ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to file dispute", "task_id", taskID, "filed_by", filing.FiledBy, "error", err)
		return nil, err
	}

	s.metrics.TransitionApplied(task.Status.String(), workflow.StatusDisputed.String())
	s.logger.Info("Dispute filed",
		"task_id", taskID,
		"dispute_id", d.ID,
		"filed_by", d.FiledBy,
		"filed_against", d.FiledAgainst)

	notify(ctx, s.notifier, s.logger, entity.Notification{
		UserID:  d.FiledAgainst,
		Type:    entity.NotificationDisputeFiled,
		Title:   "Dispute filed",
		Message: fmt.Sprintf("A dispute was filed on %q: %s", task.Title, d.Reason),
		Link:    "/tasks/" + taskID,
	})
	return d, nil
}

// ResolveDispute settles the open dispute of a disputed task
func (s *disputeServiceImpl) ResolveDispute(ctx context.Context, taskID string, outcome Outcome) (*entity.Task, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutcome, outcome)
	}

	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	if task.Status != workflow.StatusDisputed {
		return nil, fmt.Errorf("%w: task is %s, not disputed", ErrInvalidTaskStatus, task.Status)
	}

	open, err := s.disputeRepo.GetOpenByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get open dispute: %w", err)
	}
	if open == nil {
		return nil, ErrDisputeNotFound
	}

	switch outcome {
	case OutcomeApprove:
		err = s.resolveApprove(ctx, task, open)
	case OutcomePay:
		err = s.resolvePay(ctx, task, open)
	case OutcomeCancel:
		err = s.resolveCancel(ctx, task, open)
	case OutcomeReview:
		err = s.moveAndClose(ctx, task, open, workflow.StatusPendingReview, outcome, nil)
	}
	if err != nil {
		s.logger.Error("Failed to resolve dispute", "task_id", taskID, "outcome", outcome, "error", err)
		return nil, err
	}

	s.logger.Info("Dispute resolved", "task_id", taskID, "dispute_id", open.ID, "outcome", outcome)
	for _, userID := range []string{task.AgentID, task.HumanID} {
		notify(ctx, s.notifier, s.logger, entity.Notification{
			UserID:  userID,
			Type:    entity.NotificationDisputeResolved,
			Title:   "Dispute resolved",
			Message: fmt.Sprintf("The dispute on %q was resolved: %s", task.Title, outcome),
			Link:    "/tasks/" + taskID,
		})
	}

	return s.taskRepo.GetByID(ctx, taskID)
}

// resolveApprove moves disputed -> approved, then releases payment (approved -> paid).
// A failed release leaves the task approved for a later retry.
func (s *disputeServiceImpl) resolveApprove(ctx context.Context, task *entity.Task, open *entity.Dispute) error {
	if err := s.moveAndClose(ctx, task, open, workflow.StatusApproved, OutcomeApprove, nil); err != nil {
		return err
	}
	if err := captureForRelease(ctx, s.escrow, task); err != nil {
		return err
	}
	if _, err := s.payments.ReleasePaymentToPending(ctx, task.ID, task.HumanID, task.AgentID); err != nil {
		return fmt.Errorf("release payment: %w", err)
	}
	return nil
}

// resolvePay moves disputed -> paid. Escrow not yet released goes through
// the release step, which performs the status change itself.
func (s *disputeServiceImpl) resolvePay(ctx context.Context, task *entity.Task, open *entity.Dispute) error {
	if task.EscrowStatus == workflow.EscrowReleased {
		return s.moveAndClose(ctx, task, open, workflow.StatusPaid, OutcomePay, nil)
	}
	if err := captureForRelease(ctx, s.escrow, task); err != nil {
		return err
	}
	if _, err := s.payments.ReleasePaymentToPending(ctx, task.ID, task.HumanID, task.AgentID); err != nil {
		return fmt.Errorf("release payment: %w", err)
	}
	ok, err := s.disputeRepo.Resolve(ctx, open.ID, string(OutcomePay), s.now())
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("Dispute already closed", "dispute_id", open.ID)
	}
	return nil
}

// resolveCancel refunds the poster, cancels the task and counts a lost dispute
// for the worker. Held escrow is refunded only after the status is won.
func (s *disputeServiceImpl) resolveCancel(ctx context.Context, task *entity.Task, open *entity.Dispute) error {
	if task.EscrowStatus == workflow.EscrowReleased {
		return fmt.Errorf("%w: payment already released, resolve with %s", ErrEscrowState, OutcomePay)
	}
	lost := func(txCtx context.Context) error {
		return s.statsRepo.Increment(txCtx, task.HumanID, entity.CounterDisputesLost, 1)
	}
	if !task.EscrowStatus.HoldsFunds() {
		return s.moveAndClose(ctx, task, open, workflow.StatusCancelled, OutcomeCancel, lost)
	}

	err := s.escrow.RefundOnClose(ctx, task.ID, func(txCtx context.Context) error {
		return s.closeDispute(txCtx, task, open, workflow.StatusCancelled, OutcomeCancel, lost)
	})
	if err != nil {
		return err
	}
	s.metrics.TransitionApplied(task.Status.String(), workflow.StatusCancelled.String())
	return nil
}

// moveAndClose runs closeDispute in its own transaction
func (s *disputeServiceImpl) moveAndClose(ctx context.Context, task *entity.Task, open *entity.Dispute, to workflow.Status, outcome Outcome, extra func(ctx context.Context) error) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.closeDispute(txCtx, task, open, to, outcome, extra)
	})
	if err != nil {
		return err
	}

	s.metrics.TransitionApplied(task.Status.String(), to.String())
	return nil
}

// closeDispute applies a guarded status change, closes the dispute and runs
// extra. ctx must carry the surrounding transaction.
func (s *disputeServiceImpl) closeDispute(ctx context.Context, task *entity.Task, open *entity.Dispute, to workflow.Status, outcome Outcome, extra func(ctx context.Context) error) error {
	if res := workflow.ValidateTransition(task.Status, to); !res.Valid {
		return res.Err()
	}

	now := s.now()
	ok, err := s.taskRepo.TransitionStatus(ctx, task.ID, port.StatusUpdate{
		From: task.Status,
		To:   to,
		At:   now,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConcurrentUpdate
	}
	if _, err := s.disputeRepo.Resolve(ctx, open.ID, string(outcome), now); err != nil {
		return err
	}
	if extra != nil {
		return extra(ctx)
	}
	return nil
}

// ListDisputes returns every dispute filed on a task
func (s *disputeServiceImpl) ListDisputes(ctx context.Context, taskID string) ([]*entity.Dispute, error) {
	return s.disputeRepo.ListByTaskID(ctx, taskID)
}

// IsDisputeError reports whether err came from dispute validation
func IsDisputeError(err error) bool {
	return errors.Is(err, dispute.ErrTaskNotAssigned) ||
		errors.Is(err, dispute.ErrNotParticipant) ||
		errors.Is(err, dispute.ErrSameParty) ||
		errors.Is(err, dispute.ErrReasonRequired)
}
