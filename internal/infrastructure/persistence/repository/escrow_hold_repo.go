package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"go.uber.org/zap"
)

const holdColumns = `task_id, payment_intent_id, amount_cents, authorized_at, expires_at,
	renewal_attempts, last_renewal_error, expiry_notified_at, status, updated_at`

// EscrowHoldRepository implements port.EscrowHoldRepository
type EscrowHoldRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEscrowHoldRepository creates a new escrow hold repository
func NewEscrowHoldRepository(db *sql.DB, logger *zap.Logger) port.EscrowHoldRepository {
	return &EscrowHoldRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a hold
func (r *EscrowHoldRepository) Create(ctx context.Context, hold *entity.EscrowHold) error {
	query := `INSERT INTO escrow_holds (` + holdColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		hold.TaskID,
		hold.PaymentIntentID,
		hold.AmountCents,
		hold.AuthorizedAt.UTC(),
		hold.ExpiresAt.UTC(),
		hold.RenewalAttempts,
		hold.LastRenewalError,
		nullTime(hold.ExpiryNotifiedAt),
		hold.Status,
		hold.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create escrow hold", zap.String("task_id", hold.TaskID), zap.Error(err))
		return fmt.Errorf("failed to create escrow hold: %w", err)
	}
	return nil
}

// GetByTaskID returns the hold of a task
func (r *EscrowHoldRepository) GetByTaskID(ctx context.Context, taskID string) (*entity.EscrowHold, error) {
	query := `SELECT ` + holdColumns + ` FROM escrow_holds WHERE task_id = ?`

	hold, err := scanHold(conn(ctx, r.db).QueryRowContext(ctx, query, taskID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get escrow hold", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to get escrow hold: %w", err)
	}
	return hold, nil
}

// ListExpiring returns active holds that expire at or before `before`
func (r *EscrowHoldRepository) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*entity.EscrowHold, error) {
	query := `SELECT ` + holdColumns + ` FROM escrow_holds
		WHERE status = ? AND expires_at <= ?
		ORDER BY expires_at ASC LIMIT ?`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, entity.HoldStatusActive, before.UTC(), limit)
	if err != nil {
		r.logger.Error("Failed to list expiring holds", zap.Error(err))
		return nil, fmt.Errorf("failed to list expiring holds: %w", err)
	}
	defer rows.Close()

	var holds []*entity.EscrowHold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escrow hold: %w", err)
		}
		holds = append(holds, hold)
	}
	return holds, rows.Err()
}

// RecordRenewal stores a fresh authorization and resets the failure state
func (r *EscrowHoldRepository) RecordRenewal(ctx context.Context, taskID string, paymentIntentID string, expiresAt time.Time, at time.Time) (bool, error) {
	query := `
		UPDATE escrow_holds
		SET payment_intent_id = ?, expires_at = ?, authorized_at = ?,
			renewal_attempts = 0, last_renewal_error = '', expiry_notified_at = NULL,
			updated_at = ?
		WHERE task_id = ? AND status = ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		paymentIntentID, expiresAt.UTC(), at.UTC(), at.UTC(), taskID, entity.HoldStatusActive)
	if err != nil {
		r.logger.Error("Failed to record renewal", zap.String("task_id", taskID), zap.Error(err))
		return false, fmt.Errorf("failed to record renewal: %w", err)
	}
	return affected(result)
}

// RecordRenewalFailure bumps the attempt counter and keeps the last error
func (r *EscrowHoldRepository) RecordRenewalFailure(ctx context.Context, taskID string, errMsg string, at time.Time) error {
	query := `
		UPDATE escrow_holds
		SET renewal_attempts = renewal_attempts + 1, last_renewal_error = ?, updated_at = ?
		WHERE task_id = ?
	`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, errMsg, at.UTC(), taskID); err != nil {
		r.logger.Error("Failed to record renewal failure", zap.String("task_id", taskID), zap.Error(err))
		return fmt.Errorf("failed to record renewal failure: %w", err)
	}
	return nil
}

// MarkExpiryNotified stamps the time the poster was warned
func (r *EscrowHoldRepository) MarkExpiryNotified(ctx context.Context, taskID string, at time.Time) error {
	query := `UPDATE escrow_holds SET expiry_notified_at = ?, updated_at = ? WHERE task_id = ?`

	if _, err := conn(ctx, r.db).ExecContext(ctx, query, at.UTC(), at.UTC(), taskID); err != nil {
		return fmt.Errorf("failed to mark expiry notified: %w", err)
	}
	return nil
}

// UpdateStatus performs a guarded hold status update
func (r *EscrowHoldRepository) UpdateStatus(ctx context.Context, taskID string, from, to string) (bool, error) {
	query := `UPDATE escrow_holds SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ? AND status = ?`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, to, taskID, from)
	if err != nil {
		r.logger.Error("Failed to update escrow hold status", zap.String("task_id", taskID), zap.Error(err))
		return false, fmt.Errorf("failed to update escrow hold status: %w", err)
	}
	return affected(result)
}

func scanHold(row rowScanner) (*entity.EscrowHold, error) {
	var hold entity.EscrowHold
	var notifiedAt sql.NullTime

	err := row.Scan(
		&hold.TaskID,
		&hold.PaymentIntentID,
		&hold.AmountCents,
		&hold.AuthorizedAt,
		&hold.ExpiresAt,
		&hold.RenewalAttempts,
		&hold.LastRenewalError,
		&notifiedAt,
		&hold.Status,
		&hold.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	hold.AuthorizedAt = hold.AuthorizedAt.UTC()
	hold.ExpiresAt = hold.ExpiresAt.UTC()
	hold.ExpiryNotifiedAt = timePtr(notifiedAt)
	return &hold, nil
}

// Verify interface compliance
var _ port.EscrowHoldRepository = (*EscrowHoldRepository)(nil)
