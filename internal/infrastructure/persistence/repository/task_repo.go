package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/workflow"
	"go.uber.org/zap"
)

const taskColumns = `
	id, title, description, status, escrow_status, budget, escrow_amount,
	payment_method, agent_id, human_id, revision_count, deadline,
	assigned_at, work_started_at, submitted_at, approved_at, paid_at,
	cancelled_at, escrow_deposited_at, escrow_released_at,
	created_at, updated_at`

// phaseColumns maps a target status to the timestamp column it stamps
var phaseColumns = map[workflow.Status]string{
	workflow.StatusAssigned:      "assigned_at",
	workflow.StatusInProgress:    "work_started_at",
	workflow.StatusPendingReview: "submitted_at",
	workflow.StatusApproved:      "approved_at",
	workflow.StatusPaid:          "paid_at",
	workflow.StatusCancelled:     "cancelled_at",
}

// escrowColumns maps a target escrow status to the timestamp column it stamps
var escrowColumns = map[workflow.EscrowStatus]string{
	workflow.EscrowDeposited: "escrow_deposited_at",
	workflow.EscrowReleased:  "escrow_released_at",
}

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sql.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new task
func (r *TaskRepository) Create(ctx context.Context, task *entity.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		string(task.Status),
		nullString(string(task.EscrowStatus)),
		task.Budget,
		task.EscrowAmount,
		task.PaymentMethod,
		task.AgentID,
		nullString(task.HumanID),
		task.RevisionCount,
		nullTime(task.Deadline),
		nullTime(task.AssignedAt),
		nullTime(task.WorkStartedAt),
		nullTime(task.SubmittedAt),
		nullTime(task.ApprovedAt),
		nullTime(task.PaidAt),
		nullTime(task.CancelledAt),
		nullTime(task.EscrowDepositedAt),
		nullTime(task.EscrowReleasedAt),
		task.CreatedAt.UTC(),
		task.UpdatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create task", zap.String("task_id", task.ID), zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by ID. Returns nil, nil when it does not exist.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task", zap.String("task_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListByStatus returns tasks in the given status, oldest first
func (r *TaskRepository) ListByStatus(ctx context.Context, status workflow.Status, limit int) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE status = ? ORDER BY created_at ASC LIMIT ?`
	return r.list(ctx, query, string(status), limit)
}

// ListExpirable returns open tasks whose deadline has passed
func (r *TaskRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = ? AND deadline IS NOT NULL AND deadline < ?
		ORDER BY deadline ASC LIMIT ?`
	return r.list(ctx, query, string(workflow.StatusOpen), now.UTC(), limit)
}

// ListReleasedWithoutPending finds released escrows that never produced a pending transaction
func (r *TaskRepository) ListReleasedWithoutPending(ctx context.Context, limit int) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t
		WHERE t.escrow_status = ?
		AND NOT EXISTS (SELECT 1 FROM pending_transactions p WHERE p.task_id = t.id)
		ORDER BY t.updated_at ASC LIMIT ?`
	return r.list(ctx, query, string(workflow.EscrowReleased), limit)
}

// TransitionStatus performs a guarded status update
func (r *TaskRepository) TransitionStatus(ctx context.Context, id string, upd port.StatusUpdate) (bool, error) {
	at := upd.At.UTC()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(upd.To), at}

	if col, ok := phaseColumns[upd.To]; ok {
		sets = append(sets, col+" = ?")
		args = append(args, at)
	}
	if upd.To == workflow.StatusOpen {
		sets = append(sets, "assigned_at = NULL", "work_started_at = NULL")
	}
	if upd.HumanID != nil {
		sets = append(sets, "human_id = ?")
		args = append(args, nullString(*upd.HumanID))
	}
	if upd.IncrementRevision {
		sets = append(sets, "revision_count = revision_count + 1")
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, string(upd.From))

	result, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to transition task",
			zap.String("task_id", id),
			zap.String("from", upd.From.String()),
			zap.String("to", upd.To.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to transition task: %w", err)
	}
	return affected(result)
}

// UpdateEscrowStatus performs a guarded escrow status update.
// workflow.EscrowNone in from matches rows whose escrow_status is NULL.
func (r *TaskRepository) UpdateEscrowStatus(ctx context.Context, id string, from []workflow.EscrowStatus, to workflow.EscrowStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no prior escrow status given")
	}

	at = at.UTC()
	sets := []string{"escrow_status = ?", "updated_at = ?"}
	args := []interface{}{string(to), at}
	if col, ok := escrowColumns[to]; ok {
		sets = append(sets, col+" = ?")
		args = append(args, at)
	}
	args = append(args, id)

	var guards []string
	var placeholders []string
	for _, s := range from {
		if s == workflow.EscrowNone {
			guards = append(guards, "escrow_status IS NULL")
			continue
		}
		placeholders = append(placeholders, "?")
		args = append(args, string(s))
	}
	if len(placeholders) > 0 {
		guards = append(guards, "escrow_status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND (` + strings.Join(guards, " OR ") + `)`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update escrow status",
			zap.String("task_id", id),
			zap.String("to", to.String()),
			zap.Error(err))
		return false, fmt.Errorf("failed to update escrow status: %w", err)
	}
	return affected(result)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Task, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*entity.Task, error) {
	var task entity.Task
	var status string
	var escrowStatus, humanID sql.NullString
	var deadline, assignedAt, workStartedAt, submittedAt, approvedAt, paidAt,
		cancelledAt, depositedAt, releasedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&status,
		&escrowStatus,
		&task.Budget,
		&task.EscrowAmount,
		&task.PaymentMethod,
		&task.AgentID,
		&humanID,
		&task.RevisionCount,
		&deadline,
		&assignedAt,
		&workStartedAt,
		&submittedAt,
		&approvedAt,
		&paidAt,
		&cancelledAt,
		&depositedAt,
		&releasedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = workflow.Status(status)
	task.EscrowStatus = workflow.EscrowStatus(escrowStatus.String)
	task.HumanID = humanID.String
	task.Deadline = timePtr(deadline)
	task.AssignedAt = timePtr(assignedAt)
	task.WorkStartedAt = timePtr(workStartedAt)
	task.SubmittedAt = timePtr(submittedAt)
	task.ApprovedAt = timePtr(approvedAt)
	task.PaidAt = timePtr(paidAt)
	task.CancelledAt = timePtr(cancelledAt)
	task.EscrowDepositedAt = timePtr(depositedAt)
	task.EscrowReleasedAt = timePtr(releasedAt)
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
