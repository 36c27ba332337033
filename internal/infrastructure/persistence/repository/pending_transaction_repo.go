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

const pendingColumns = `id, user_id, task_id, amount_cents, status, clears_at, cleared_at, withdrawn_at, payout_method, created_at`

// PendingTransactionRepository implements port.PendingTransactionRepository
type PendingTransactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPendingTransactionRepository creates a new pending transaction repository
func NewPendingTransactionRepository(db *sql.DB, logger *zap.Logger) port.PendingTransactionRepository {
	return &PendingTransactionRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a pending transaction
func (r *PendingTransactionRepository) Create(ctx context.Context, pt *entity.PendingTransaction) error {
	query := `INSERT INTO pending_transactions (` + pendingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		pt.ID,
		pt.UserID,
		pt.TaskID,
		pt.AmountCents,
		pt.Status,
		pt.ClearsAt.UTC(),
		nullTime(pt.ClearedAt),
		nullTime(pt.WithdrawnAt),
		pt.PayoutMethod,
		pt.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create pending transaction",
			zap.String("task_id", pt.TaskID),
			zap.Error(err))
		return fmt.Errorf("failed to create pending transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a pending transaction by ID
func (r *PendingTransactionRepository) GetByID(ctx context.Context, id string) (*entity.PendingTransaction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transactions WHERE id = ?`
	return r.get(ctx, query, id)
}

// GetByTaskID retrieves the pending transaction created for a task
func (r *PendingTransactionRepository) GetByTaskID(ctx context.Context, taskID string) (*entity.PendingTransaction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transactions WHERE task_id = ?`
	return r.get(ctx, query, taskID)
}

// ListByUser returns every pending transaction of a user, newest first
func (r *PendingTransactionRepository) ListByUser(ctx context.Context, userID string) ([]*entity.PendingTransaction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transactions WHERE user_id = ? ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

// ListClearable returns pending rows whose clearing window has elapsed,
// one keyset page after the cursor
func (r *PendingTransactionRepository) ListClearable(ctx context.Context, now time.Time, after port.ClearCursor, limit int) ([]*entity.PendingTransaction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transactions
		WHERE status = ? AND clears_at < ?
		AND (clears_at > ? OR (clears_at = ? AND id > ?))
		ORDER BY clears_at ASC, id ASC LIMIT ?`
	from := after.ClearsAt.UTC()
	return r.list(ctx, query, entity.PendingStatusPending, now.UTC(), from, from, after.ID, limit)
}

// MarkAvailable promotes a cleared row. The clears_at guard is repeated here
// so a row can never become available early.
func (r *PendingTransactionRepository) MarkAvailable(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE pending_transactions SET status = ?, cleared_at = ?
		WHERE id = ? AND status = ? AND clears_at < ?`

	now = now.UTC()
	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		entity.PendingStatusAvailable, now, id, entity.PendingStatusPending, now)
	if err != nil {
		r.logger.Error("Failed to mark pending transaction available", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark available: %w", err)
	}
	return affected(result)
}

// ListAvailableByUser returns available rows oldest-cleared first
func (r *PendingTransactionRepository) ListAvailableByUser(ctx context.Context, userID string) ([]*entity.PendingTransaction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_transactions
		WHERE user_id = ? AND status = ?
		ORDER BY cleared_at ASC, created_at ASC, id ASC`
	return r.list(ctx, query, userID, entity.PendingStatusAvailable)
}

// MarkWithdrawn consumes an available row
func (r *PendingTransactionRepository) MarkWithdrawn(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE pending_transactions SET status = ?, withdrawn_at = ? WHERE id = ? AND status = ?`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		entity.PendingStatusWithdrawn, now.UTC(), id, entity.PendingStatusAvailable)
	if err != nil {
		r.logger.Error("Failed to mark pending transaction withdrawn", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to mark withdrawn: %w", err)
	}
	return affected(result)
}

// SumByStatus totals amount_cents per status for a user
func (r *PendingTransactionRepository) SumByStatus(ctx context.Context, userID string) (map[string]int64, error) {
	query := `SELECT status, COALESCE(SUM(amount_cents), 0) FROM pending_transactions WHERE user_id = ? GROUP BY status`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("Failed to sum pending transactions", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to sum pending transactions: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var status string
		var total int64
		if err := rows.Scan(&status, &total); err != nil {
			return nil, fmt.Errorf("failed to scan sum: %w", err)
		}
		sums[status] = total
	}
	return sums, rows.Err()
}

// NextClearsAt returns the earliest clears_at among the user's pending rows
func (r *PendingTransactionRepository) NextClearsAt(ctx context.Context, userID string) (*time.Time, error) {
	query := `SELECT clears_at FROM pending_transactions
		WHERE user_id = ? AND status = ?
		ORDER BY clears_at ASC LIMIT 1`

	var clearsAt time.Time
	err := conn(ctx, r.db).QueryRowContext(ctx, query, userID, entity.PendingStatusPending).Scan(&clearsAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next clears_at: %w", err)
	}
	clearsAt = clearsAt.UTC()
	return &clearsAt, nil
}

func (r *PendingTransactionRepository) get(ctx context.Context, query string, arg string) (*entity.PendingTransaction, error) {
	pt, err := scanPending(conn(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pending transaction", zap.String("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get pending transaction: %w", err)
	}
	return pt, nil
}

func (r *PendingTransactionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.PendingTransaction, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list pending transactions", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	defer rows.Close()

	var out []*entity.PendingTransaction
	for rows.Next() {
		pt, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending transaction: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

func scanPending(row rowScanner) (*entity.PendingTransaction, error) {
	var pt entity.PendingTransaction
	var clearedAt, withdrawnAt sql.NullTime

	err := row.Scan(
		&pt.ID,
		&pt.UserID,
		&pt.TaskID,
		&pt.AmountCents,
		&pt.Status,
		&pt.ClearsAt,
		&clearedAt,
		&withdrawnAt,
		&pt.PayoutMethod,
		&pt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	pt.ClearsAt = pt.ClearsAt.UTC()
	pt.CreatedAt = pt.CreatedAt.UTC()
	pt.ClearedAt = timePtr(clearedAt)
	pt.WithdrawnAt = timePtr(withdrawnAt)
	return &pt, nil
}

// Verify interface compliance
var _ port.PendingTransactionRepository = (*PendingTransactionRepository)(nil)
