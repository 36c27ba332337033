package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/allocation"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/money"
)

// WithdrawalResult describes a completed withdrawal. UnreconciledIDs were
// paid out but could not be marked withdrawn.
type WithdrawalResult struct {
	AmountWithdrawnCents int64    `json:"amount_withdrawn_cents"`
	AmountWithdrawn      float64  `json:"amount_withdrawn"`
	RequestedCents       int64    `json:"requested_cents"`
	TxHash               string   `json:"tx_hash"`
	TransactionIDs       []string `json:"transaction_ids"`
	UnreconciledIDs      []string `json:"unreconciled_transaction_ids,omitempty"`
	WalletAddress        string   `json:"wallet_address"`
}

// WithdrawalService drains available balances to the user's wallet
type WithdrawalService interface {
	// ProcessWithdrawal withdraws amountCents, or everything available when nil.
	// Only whole pending transactions are consumed, oldest first, so the amount
	// withdrawn may be less than requested.
	ProcessWithdrawal(ctx context.Context, userID string, amountCents *int64) (*WithdrawalResult, error)
	ListWithdrawals(ctx context.Context, userID string) ([]*entity.Withdrawal, error)
}

type withdrawalServiceImpl struct {
	pendingRepo port.PendingTransactionRepository
	payoutRepo  port.PayoutRepository
	ledgerRepo  port.LedgerRepository
	statsRepo   port.UserStatsRepository
	transfer    port.TransferClient
	notifier    port.Notifier
	metrics     Metrics
	logger      Logger
	now         Clock
}

// NewWithdrawalService creates a new WithdrawalService
func NewWithdrawalService(
	pendingRepo port.PendingTransactionRepository,
	payoutRepo port.PayoutRepository,
	ledgerRepo port.LedgerRepository,
	statsRepo port.UserStatsRepository,
	transfer port.TransferClient,
	notifier port.Notifier,
	metrics Metrics,
	logger Logger,
) WithdrawalService {
	return &withdrawalServiceImpl{
		pendingRepo: pendingRepo,
		payoutRepo:  payoutRepo,
		ledgerRepo:  ledgerRepo,
		statsRepo:   statsRepo,
		transfer:    transfer,
		notifier:    notifier,
		metrics:     metricsOrNoop(metrics),
		logger:      logger,
		now:         systemClock,
	}
}

// ProcessWithdrawal implements WithdrawalService
func (s *withdrawalServiceImpl) ProcessWithdrawal(ctx context.Context, userID string, amountCents *int64) (*WithdrawalResult, error) {
	stats, err := s.statsRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if !stats.HasPayoutDestination() {
		return nil, ErrNoPayoutDestination
	}
	if !s.transfer.IsValidAddress(stats.WalletAddress) {
		return nil, ErrInvalidWallet
	}

	available, err := s.pendingRepo.ListAvailableByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list available: %w", err)
	}
	total := allocation.Total(available)

	requested := total
	if amountCents != nil {
		requested = *amountCents
		if requested <= 0 {
			return nil, ErrInvalidAmount
		}
		if requested > total {
			s.metrics.WithdrawalProcessed(OutcomeRejected, 0)
			return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientBalance, requested, total)
		}
	}

	selection := allocation.SelectFIFO(available, requested)
	if len(selection.Records) == 0 || selection.TotalCents <= 0 {
		return nil, ErrNothingToWithdraw
	}

	// Nothing has been written yet; a failed transfer leaves every row available.
	sent, err := s.transfer.SendTransfer(ctx, stats.WalletAddress, money.FromCents(selection.TotalCents))
	if err != nil || sent == nil || !sent.Success {
		reason := "no result"
		switch {
		case err != nil:
			reason = err.Error()
		case sent != nil:
			reason = sent.Error
		}
		s.metrics.WithdrawalProcessed(OutcomeFailed, 0)
		s.logger.Error("Transfer failed", "user_id", userID, "amount_cents", selection.TotalCents, "reason", reason)
		return nil, fmt.Errorf("%w: %s", ErrTransferFailed, reason)
	}

	// The transfer went out. From here on a failed write is a bookkeeping
	// gap for reconciliation, never a reason to fail the request.
	now := s.now()
	consumed := make([]string, 0, len(selection.Records))
	var unreconciled []string
	for _, row := range selection.Records {
		ok, err := s.pendingRepo.MarkWithdrawn(ctx, row.ID, now)
		if err != nil {
			s.logger.Error("Reconciliation needed: failed to mark withdrawn",
				"pending_transaction_id", row.ID, "tx_hash", sent.TxHash, "error", err)
			unreconciled = append(unreconciled, row.ID)
			continue
		}
		if !ok {
			s.metrics.WithdrawalProcessed(OutcomeRaceLost, 0)
			s.logger.Warn("Reconciliation needed: pending transaction no longer available",
				"pending_transaction_id", row.ID, "tx_hash", sent.TxHash, "user_id", userID)
			unreconciled = append(unreconciled, row.ID)
			continue
		}
		consumed = append(consumed, row.ID)

		if err := s.payoutRepo.AttachTxHash(ctx, row.TaskID, sent.TxHash, entity.PayoutStatusPaid); err != nil {
			s.logger.Warn("Failed to attach tx hash to payout", "task_id", row.TaskID, "error", err)
		}
	}

	withdrawal := &entity.Withdrawal{
		ID:                    uuid.NewString(),
		UserID:                userID,
		AmountCents:           selection.TotalCents,
		WalletAddress:         stats.WalletAddress,
		TxHash:                sent.TxHash,
		PendingTransactionIDs: consumed,
		Status:                entity.WithdrawalStatusCompleted,
		CreatedAt:             now,
	}
	if err := s.ledgerRepo.CreateWithdrawal(ctx, withdrawal); err != nil {
		s.logger.Error("Reconciliation needed: failed to record withdrawal",
			"user_id", userID, "tx_hash", sent.TxHash, "error", err)
	}
	if err := s.ledgerRepo.CreateTransaction(ctx, &entity.LedgerTransaction{
		ID:          uuid.NewString(),
		HumanID:     userID,
		AmountCents: selection.TotalCents,
		Type:        entity.LedgerTypeWithdrawal,
		Status:      entity.LedgerStatusCompleted,
		CreatedAt:   now,
	}); err != nil {
		s.logger.Warn("Failed to record withdrawal ledger entry", "user_id", userID, "error", err)
	}

	s.metrics.WithdrawalProcessed(OutcomeOK, selection.TotalCents)
	s.logger.Info("Withdrawal completed",
		"user_id", userID,
		"requested_cents", requested,
		"withdrawn_cents", selection.TotalCents,
		"records", len(consumed),
		"tx_hash", sent.TxHash)

	notify(ctx, s.notifier, s.logger, entity.Notification{
		UserID:  userID,
		Type:    entity.NotificationWithdrawal,
		Title:   "Withdrawal sent",
		Message: fmt.Sprintf("$%s sent to %s", money.Format(selection.TotalCents), stats.WalletAddress),
		Link:    "/wallet",
	})

	return &WithdrawalResult{
		AmountWithdrawnCents: selection.TotalCents,
		AmountWithdrawn:      money.FromCents(selection.TotalCents),
		RequestedCents:       requested,
		TxHash:               sent.TxHash,
		TransactionIDs:       consumed,
		UnreconciledIDs:      unreconciled,
		WalletAddress:        stats.WalletAddress,
	}, nil
}

// ListWithdrawals returns the user's withdrawal history
func (s *withdrawalServiceImpl) ListWithdrawals(ctx context.Context, userID string) ([]*entity.Withdrawal, error) {
	return s.ledgerRepo.ListWithdrawalsByUser(ctx, userID)
}
