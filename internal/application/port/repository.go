package port

import (
	"context"
	"time"

	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/workflow"
)

// Guarded updates return (false, nil) when the row no longer matches the
// expected prior state. That is the race-lost signal, not an error.

// StatusUpdate describes one guarded task status transition
type StatusUpdate struct {
	From workflow.Status
	To   workflow.Status
	At   time.Time

	// HumanID, when non-nil, overwrites human_id ("" clears it)
	HumanID *string

	// IncrementRevision bumps revision_count in the same write
	IncrementRevision bool
}

// ClearCursor resumes a clearing sweep after the last row it returned.
// The zero value starts from the oldest row.
type ClearCursor struct {
	ClearsAt time.Time
	ID       string
}

// TaskRepository defines persistence operations for Task
type TaskRepository interface {
	Create(ctx context.Context, task *entity.Task) error
	GetByID(ctx context.Context, id string) (*entity.Task, error)
	ListByStatus(ctx context.Context, status workflow.Status, limit int) ([]*entity.Task, error)

	// ListExpirable returns open tasks whose deadline is before now
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error)

	// ListReleasedWithoutPending returns tasks whose escrow is released but
	// which have no pending transaction (partial release)
	ListReleasedWithoutPending(ctx context.Context, limit int) ([]*entity.Task, error)

	// TransitionStatus applies upd only if the stored status equals upd.From
	TransitionStatus(ctx context.Context, id string, upd StatusUpdate) (bool, error)

	// UpdateEscrowStatus moves escrow_status to `to` only if it is one of from
	UpdateEscrowStatus(ctx context.Context, id string, from []workflow.EscrowStatus, to workflow.EscrowStatus, at time.Time) (bool, error)
}

// PendingTransactionRepository defines persistence operations for PendingTransaction
type PendingTransactionRepository interface {
	Create(ctx context.Context, pt *entity.PendingTransaction) error
	GetByID(ctx context.Context, id string) (*entity.PendingTransaction, error)
	GetByTaskID(ctx context.Context, taskID string) (*entity.PendingTransaction, error)
	ListByUser(ctx context.Context, userID string) ([]*entity.PendingTransaction, error)

	// ListClearable returns pending rows whose clears_at is before now,
	// ordered by (clears_at, id) and starting strictly after the cursor
	ListClearable(ctx context.Context, now time.Time, after ClearCursor, limit int) ([]*entity.PendingTransaction, error)

	// MarkAvailable promotes pending -> available. Only the promotion sweep calls it.
	MarkAvailable(ctx context.Context, id string, now time.Time) (bool, error)

	// ListAvailableByUser returns available rows oldest-first
	ListAvailableByUser(ctx context.Context, userID string) ([]*entity.PendingTransaction, error)

	// MarkWithdrawn moves available -> withdrawn
	MarkWithdrawn(ctx context.Context, id string, now time.Time) (bool, error)

	// SumByStatus totals amount_cents per status for a user
	SumByStatus(ctx context.Context, userID string) (map[string]int64, error)

	// NextClearsAt returns the earliest clears_at among the user's pending rows
	NextClearsAt(ctx context.Context, userID string) (*time.Time, error)
}

// PayoutRepository defines persistence operations for Payout
type PayoutRepository interface {
	Create(ctx context.Context, payout *entity.Payout) error
	GetByTaskID(ctx context.Context, taskID string) (*entity.Payout, error)
	UpdateStatus(ctx context.Context, taskID string, from, to string) (bool, error)
	AttachTxHash(ctx context.Context, taskID string, txHash string, status string) error

	// ListMissingPendingTransaction finds payouts with no matching pending transaction
	ListMissingPendingTransaction(ctx context.Context, limit int) ([]*entity.Payout, error)
}

// LedgerRepository defines persistence operations for the append-only ledger
type LedgerRepository interface {
	CreateTransaction(ctx context.Context, tx *entity.LedgerTransaction) error
	CreateWithdrawal(ctx context.Context, w *entity.Withdrawal) error
	ListWithdrawalsByUser(ctx context.Context, userID string) ([]*entity.Withdrawal, error)
}

// DisputeRepository defines persistence operations for Dispute
type DisputeRepository interface {
	Create(ctx context.Context, d *entity.Dispute) error
	GetOpenByTaskID(ctx context.Context, taskID string) (*entity.Dispute, error)
	ListByTaskID(ctx context.Context, taskID string) ([]*entity.Dispute, error)
	Resolve(ctx context.Context, id string, outcome string, at time.Time) (bool, error)
}

// UserStatsRepository defines persistence operations for UserStats
type UserStatsRepository interface {
	Get(ctx context.Context, userID string) (*entity.UserStats, error)
	Upsert(ctx context.Context, stats *entity.UserStats) error

	// Increment adds delta to one counter column, creating the row if needed
	Increment(ctx context.Context, userID string, counter string, delta int64) error
}

// EscrowHoldRepository defines persistence operations for EscrowHold
type EscrowHoldRepository interface {
	Create(ctx context.Context, hold *entity.EscrowHold) error
	GetByTaskID(ctx context.Context, taskID string) (*entity.EscrowHold, error)

	// ListExpiring returns active holds expiring at or before `before`
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.EscrowHold, error)

	RecordRenewal(ctx context.Context, taskID string, paymentIntentID string, expiresAt time.Time, at time.Time) (bool, error)
	RecordRenewalFailure(ctx context.Context, taskID string, errMsg string, at time.Time) error
	MarkExpiryNotified(ctx context.Context, taskID string, at time.Time) error
	UpdateStatus(ctx context.Context, taskID string, from, to string) (bool, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
