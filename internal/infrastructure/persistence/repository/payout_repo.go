package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"go.uber.org/zap"
)

const payoutColumns = `id, task_id, agent_id, human_id, gross_amount_cents, platform_fee_cents,
	net_amount_cents, status, tx_hash, payout_method, created_at`

// PayoutRepository implements port.PayoutRepository
type PayoutRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPayoutRepository creates a new payout repository
func NewPayoutRepository(db *sql.DB, logger *zap.Logger) port.PayoutRepository {
	return &PayoutRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a payout
func (r *PayoutRepository) Create(ctx context.Context, payout *entity.Payout) error {
	query := `INSERT INTO payouts (` + payoutColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		payout.ID,
		payout.TaskID,
		payout.AgentID,
		payout.HumanID,
		payout.GrossAmountCents,
		payout.PlatformFeeCents,
		payout.NetAmountCents,
		payout.Status,
		nullString(payout.TxHash),
		payout.PayoutMethod,
		payout.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create payout", zap.String("task_id", payout.TaskID), zap.Error(err))
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

// GetByTaskID retrieves the payout of a task
func (r *PayoutRepository) GetByTaskID(ctx context.Context, taskID string) (*entity.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE task_id = ?`

	payout, err := scanPayout(conn(ctx, r.db).QueryRowContext(ctx, query, taskID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get payout", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return payout, nil
}

// UpdateStatus performs a guarded payout status update
func (r *PayoutRepository) UpdateStatus(ctx context.Context, taskID string, from, to string) (bool, error) {
	query := `UPDATE payouts SET status = ? WHERE task_id = ? AND status = ?`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, to, taskID, from)
	if err != nil {
		r.logger.Error("Failed to update payout status", zap.String("task_id", taskID), zap.Error(err))
		return false, fmt.Errorf("failed to update payout status: %w", err)
	}
	return affected(result)
}

// AttachTxHash records the settlement hash of a paid-out task
func (r *PayoutRepository) AttachTxHash(ctx context.Context, taskID string, txHash string, status string) error {
	query := `UPDATE payouts SET tx_hash = ?, status = ? WHERE task_id = ?`

	_, err := conn(ctx, r.db).ExecContext(ctx, query, txHash, status, taskID)
	if err != nil {
		r.logger.Error("Failed to attach tx hash", zap.String("task_id", taskID), zap.Error(err))
		return fmt.Errorf("failed to attach tx hash: %w", err)
	}
	return nil
}

// ListMissingPendingTransaction finds payouts whose pending transaction was never written
func (r *PayoutRepository) ListMissingPendingTransaction(ctx context.Context, limit int) ([]*entity.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts p
		WHERE NOT EXISTS (SELECT 1 FROM pending_transactions t WHERE t.task_id = p.task_id)
		ORDER BY p.created_at ASC LIMIT ?`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list orphaned payouts", zap.Error(err))
		return nil, fmt.Errorf("failed to list orphaned payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*entity.Payout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, payout)
	}
	return payouts, rows.Err()
}

func scanPayout(row rowScanner) (*entity.Payout, error) {
	var payout entity.Payout
	var txHash sql.NullString

	err := row.Scan(
		&payout.ID,
		&payout.TaskID,
		&payout.AgentID,
		&payout.HumanID,
		&payout.GrossAmountCents,
		&payout.PlatformFeeCents,
		&payout.NetAmountCents,
		&payout.Status,
		&txHash,
		&payout.PayoutMethod,
		&payout.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	payout.TxHash = txHash.String
	payout.CreatedAt = payout.CreatedAt.UTC()
	return &payout, nil
}

// Verify interface compliance
var _ port.PayoutRepository = (*PayoutRepository)(nil)
