package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"go.uber.org/zap"
)

// LedgerRepository implements port.LedgerRepository over the
// transactions and withdrawals tables. Both are append-only.
type LedgerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sql.DB, logger *zap.Logger) port.LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

// CreateTransaction appends a ledger transaction
func (r *LedgerRepository) CreateTransaction(ctx context.Context, tx *entity.LedgerTransaction) error {
	query := `
		INSERT INTO transactions (
			id, task_id, agent_id, human_id, amount_cents, platform_fee_cents,
			type, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		tx.ID,
		nullString(tx.TaskID),
		nullString(tx.AgentID),
		nullString(tx.HumanID),
		tx.AmountCents,
		tx.PlatformFeeCents,
		tx.Type,
		tx.Status,
		tx.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create ledger transaction",
			zap.String("type", tx.Type),
			zap.String("task_id", tx.TaskID),
			zap.Error(err))
		return fmt.Errorf("failed to create ledger transaction: %w", err)
	}
	return nil
}

// CreateWithdrawal appends a withdrawal record
func (r *LedgerRepository) CreateWithdrawal(ctx context.Context, w *entity.Withdrawal) error {
	ids, err := encodeStrings(w.PendingTransactionIDs)
	if err != nil {
		return fmt.Errorf("failed to encode transaction ids: %w", err)
	}

	query := `
		INSERT INTO withdrawals (
			id, user_id, amount_cents, wallet_address, tx_hash,
			pending_transaction_ids, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = conn(ctx, r.db).ExecContext(ctx, query,
		w.ID,
		w.UserID,
		w.AmountCents,
		w.WalletAddress,
		w.TxHash,
		ids,
		w.Status,
		w.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create withdrawal", zap.String("user_id", w.UserID), zap.Error(err))
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

// ListWithdrawalsByUser returns a user's withdrawals, newest first
func (r *LedgerRepository) ListWithdrawalsByUser(ctx context.Context, userID string) ([]*entity.Withdrawal, error) {
	query := `
		SELECT id, user_id, amount_cents, wallet_address, tx_hash,
			pending_transaction_ids, status, created_at
		FROM withdrawals
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to list withdrawals", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*entity.Withdrawal
	for rows.Next() {
		var w entity.Withdrawal
		var ids string
		if err := rows.Scan(
			&w.ID,
			&w.UserID,
			&w.AmountCents,
			&w.WalletAddress,
			&w.TxHash,
			&ids,
			&w.Status,
			&w.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		if w.PendingTransactionIDs, err = decodeStrings(ids); err != nil {
			return nil, fmt.Errorf("failed to decode transaction ids: %w", err)
		}
		w.CreatedAt = w.CreatedAt.UTC()
		out = append(out, &w)
	}
	return out, rows.Err()
}

// Verify interface compliance
var _ port.LedgerRepository = (*LedgerRepository)(nil)
