package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/irlwork/settlement/internal/application/service"
)

// Worker names, also used as the sweep metric label
const (
	PromotionWorkerName      = "promotion"
	RenewalWorkerName        = "renewal"
	ReconciliationWorkerName = "reconciliation"
)

// NewPromotionWorker moves cleared pending balances to available
func NewPromotionWorker(payments service.PaymentService, interval time.Duration, observer SweepObserver, logger *zap.Logger) *SweepWorker {
	return NewSweepWorker(PromotionWorkerName, interval, func(ctx context.Context) error {
		_, err := payments.PromotePendingBalances(ctx)
		return err
	}, observer, logger)
}

// NewRenewalWorker re-authorizes card holds before they lapse
func NewRenewalWorker(escrow service.EscrowService, interval time.Duration, observer SweepObserver, logger *zap.Logger) *SweepWorker {
	return NewSweepWorker(RenewalWorkerName, interval, func(ctx context.Context) error {
		_, err := escrow.RenewExpiringHolds(ctx)
		return err
	}, observer, logger)
}

// NewReconciliationWorker reports settlements left half-written
func NewReconciliationWorker(recon service.ReconciliationService, interval time.Duration, observer SweepObserver, logger *zap.Logger) *SweepWorker {
	return NewSweepWorker(ReconciliationWorkerName, interval, func(ctx context.Context) error {
		report, err := recon.Reconcile(ctx)
		if err != nil {
			return err
		}
		if !report.Clean() {
			logger.Warn("Reconciliation findings",
				zap.Strings("orphaned_payouts", report.OrphanedPayouts),
				zap.Strings("released_without_credit", report.ReleasedWithoutCredit))
		}
		return nil
	}, observer, logger)
}
