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

const disputeColumns = `id, task_id, reason, category, evidence_urls, filed_by, filed_against,
	status, outcome, resolved_at, created_at`

// DisputeRepository implements port.DisputeRepository
type DisputeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDisputeRepository creates a new dispute repository
func NewDisputeRepository(db *sql.DB, logger *zap.Logger) port.DisputeRepository {
	return &DisputeRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a dispute
func (r *DisputeRepository) Create(ctx context.Context, d *entity.Dispute) error {
	evidence, err := encodeStrings(d.EvidenceURLs)
	if err != nil {
		return fmt.Errorf("failed to encode evidence urls: %w", err)
	}

	query := `INSERT INTO disputes (` + disputeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = conn(ctx, r.db).ExecContext(ctx, query,
		d.ID,
		d.TaskID,
		d.Reason,
		d.Category,
		evidence,
		d.FiledBy,
		d.FiledAgainst,
		d.Status,
		nullString(d.Outcome),
		nullTime(d.ResolvedAt),
		d.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create dispute", zap.String("task_id", d.TaskID), zap.Error(err))
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

// GetOpenByTaskID returns the open dispute of a task, if any
func (r *DisputeRepository) GetOpenByTaskID(ctx context.Context, taskID string) (*entity.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes
		WHERE task_id = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`

	d, err := scanDispute(conn(ctx, r.db).QueryRowContext(ctx, query, taskID, entity.DisputeStatusOpen))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get open dispute", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to get open dispute: %w", err)
	}
	return d, nil
}

// ListByTaskID returns all disputes of a task, oldest first
func (r *DisputeRepository) ListByTaskID(ctx context.Context, taskID string) ([]*entity.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE task_id = ? ORDER BY created_at ASC`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, taskID)
	if err != nil {
		r.logger.Error("Failed to list disputes", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var disputes []*entity.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		disputes = append(disputes, d)
	}
	return disputes, rows.Err()
}

// Resolve closes an open dispute with an outcome
func (r *DisputeRepository) Resolve(ctx context.Context, id string, outcome string, at time.Time) (bool, error) {
	query := `UPDATE disputes SET status = ?, outcome = ?, resolved_at = ? WHERE id = ? AND status = ?`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		entity.DisputeStatusResolved, outcome, at.UTC(), id, entity.DisputeStatusOpen)
	if err != nil {
		r.logger.Error("Failed to resolve dispute", zap.String("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to resolve dispute: %w", err)
	}
	return affected(result)
}

func scanDispute(row rowScanner) (*entity.Dispute, error) {
	var d entity.Dispute
	var evidence string
	var outcome sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.TaskID,
		&d.Reason,
		&d.Category,
		&evidence,
		&d.FiledBy,
		&d.FiledAgainst,
		&d.Status,
		&outcome,
		&resolvedAt,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.EvidenceURLs, err = decodeStrings(evidence); err != nil {
		return nil, fmt.Errorf("failed to decode evidence urls: %w", err)
	}
	d.Outcome = outcome.String
	d.ResolvedAt = timePtr(resolvedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// Verify interface compliance
var _ port.DisputeRepository = (*DisputeRepository)(nil)
