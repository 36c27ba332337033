package service

import (
	"context"
	"fmt"

	"github.com/irlwork/settlement/internal/application/port"
)

// ReconciliationReport lists partial settlements found by one pass
type ReconciliationReport struct {
	OrphanedPayouts       []string `json:"orphaned_payouts"`
	ReleasedWithoutCredit []string `json:"released_without_credit"`
}

// Clean reports whether nothing needs attention
func (r *ReconciliationReport) Clean() bool {
	return len(r.OrphanedPayouts) == 0 && len(r.ReleasedWithoutCredit) == 0
}

// ReconciliationService detects settlement records left half-written.
// It only reports; fixing a finding is an operator decision.
type ReconciliationService interface {
	Reconcile(ctx context.Context) (*ReconciliationReport, error)
}

type reconciliationServiceImpl struct {
	taskRepo   port.TaskRepository
	payoutRepo port.PayoutRepository
	logger     Logger
	batchSize  int
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(taskRepo port.TaskRepository, payoutRepo port.PayoutRepository, logger Logger) ReconciliationService {
	return &reconciliationServiceImpl{
		taskRepo:   taskRepo,
		payoutRepo: payoutRepo,
		logger:     logger,
		batchSize:  500,
	}
}

// Reconcile implements ReconciliationService
func (s *reconciliationServiceImpl) Reconcile(ctx context.Context) (*ReconciliationReport, error) {
	report := &ReconciliationReport{}

	payouts, err := s.payoutRepo.ListMissingPendingTransaction(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list orphaned payouts: %w", err)
	}
	for _, p := range payouts {
		report.OrphanedPayouts = append(report.OrphanedPayouts, p.TaskID)
		s.logger.Error("Reconciliation: payout has no pending transaction",
			"task_id", p.TaskID, "payout_id", p.ID, "net_cents", p.NetAmountCents)
	}

	tasks, err := s.taskRepo.ListReleasedWithoutPending(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list released tasks: %w", err)
	}
	for _, t := range tasks {
		report.ReleasedWithoutCredit = append(report.ReleasedWithoutCredit, t.ID)
		s.logger.Error("Reconciliation: escrow released without pending transaction",
			"task_id", t.ID, "human_id", t.HumanID)
	}

	if !report.Clean() {
		s.logger.Warn("Reconciliation found partial settlements",
			"orphaned_payouts", len(report.OrphanedPayouts),
			"released_without_credit", len(report.ReleasedWithoutCredit))
	}
	return report, nil
}
