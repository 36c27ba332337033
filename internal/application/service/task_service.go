package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/workflow"
	"github.com/irlwork/settlement/pkg/utils"
)

var (
	// ErrInvalidTask is returned when task input fails validation
	ErrInvalidTask = errors.New("invalid task")

	// ErrDedicatedOperation is returned by Transition for edges that move
	// money or write records; those go through their own operation
	ErrDedicatedOperation = errors.New("transition requires its dedicated operation")
)

// directEdges are the only moves Transition applies on its own. Every other
// edge has a side effect (release, refund, dispute record, assignee change).
var directEdges = map[workflow.Status]workflow.Status{
	workflow.StatusPendingAcceptance: workflow.StatusAssigned,
	workflow.StatusAssigned:          workflow.StatusInProgress,
	workflow.StatusInProgress:        workflow.StatusPendingReview,
}

// CreateTaskInput carries the fields a poster supplies
type CreateTaskInput struct {
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	AgentID       string     `json:"agent_id"`
	Budget        float64    `json:"budget"`
	PaymentMethod string     `json:"payment_method"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

// TaskService drives tasks through the lifecycle. Every move is checked
// against the transition table and written with a guarded update.
type TaskService interface {
	CreateTask(ctx context.Context, in CreateTaskInput) (*entity.Task, error)
	GetTask(ctx context.Context, taskID string) (*entity.Task, error)
	Transition(ctx context.Context, taskID string, to workflow.Status) (*entity.Task, error)
	Assign(ctx context.Context, taskID, humanID string) (*entity.Task, error)
	Accept(ctx context.Context, taskID, humanID string) (*entity.Task, error)
	StartWork(ctx context.Context, taskID, humanID string) (*entity.Task, error)
	SubmitWork(ctx context.Context, taskID, humanID string) (*entity.Task, error)
	RequestRevision(ctx context.Context, taskID, agentID string) (*entity.Task, error)
	WorkerWithdraw(ctx context.Context, taskID, humanID string) (*entity.Task, error)
	Cancel(ctx context.Context, taskID, agentID string) (*entity.Task, error)
	Approve(ctx context.Context, taskID, agentID string) (*ReleaseResult, error)
	ExpireStale(ctx context.Context) (int, error)
}

type taskServiceImpl struct {
	taskRepo  port.TaskRepository
	statsRepo port.UserStatsRepository
	payments  PaymentService
	escrow    EscrowService
	notifier  port.Notifier
	metrics   Metrics
	logger    Logger
	now       Clock
}

// NewTaskService creates a new TaskService
func NewTaskService(
	taskRepo port.TaskRepository,
	statsRepo port.UserStatsRepository,
	payments PaymentService,
	escrow EscrowService,
	notifier port.Notifier,
	metrics Metrics,
	logger Logger,
) TaskService {
	return &taskServiceImpl{
		taskRepo:  taskRepo,
		statsRepo: statsRepo,
		payments:  payments,
		escrow:    escrow,
		notifier:  notifier,
		metrics:   metricsOrNoop(metrics),
		logger:    logger,
		now:       systemClock,
	}
}

// CreateTask posts a new open task
func (s *taskServiceImpl) CreateTask(ctx context.Context, in CreateTaskInput) (*entity.Task, error) {
	title := utils.SanitizeString(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if in.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalidTask)
	}
	if err := utils.ValidateAmount(in.Budget); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	switch in.PaymentMethod {
	case "", entity.PaymentMethodStripe, entity.PaymentMethodUSDC:
	default:
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidTask, in.PaymentMethod)
	}

	now := s.now()
	task := &entity.Task{
		ID:            uuid.NewString(),
		Title:         title,
		Description:   utils.SanitizeString(in.Description),
		Status:        workflow.StatusOpen,
		Budget:        in.Budget,
		EscrowAmount:  in.Budget,
		PaymentMethod: in.PaymentMethod,
		AgentID:       in.AgentID,
		Deadline:      in.Deadline,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}
	if err := s.statsRepo.Increment(ctx, in.AgentID, entity.CounterTasksPosted, 1); err != nil {
		s.logger.Warn("Failed to count posted task", "agent_id", in.AgentID, "error", err)
	}

	s.logger.Info("Task created", "task_id", task.ID, "agent_id", task.AgentID, "budget", task.Budget)
	return task, nil
}

// GetTask returns a task or ErrTaskNotFound
func (s *taskServiceImpl) GetTask(ctx context.Context, taskID string) (*entity.Task, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// Transition applies a bare status change. Only directEdges are accepted;
// approve, cancel, dispute and the rest have dedicated operations.
func (s *taskServiceImpl) Transition(ctx context.Context, taskID string, to workflow.Status) (*entity.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if res := workflow.ValidateTransition(task.Status, to); !res.Valid {
		return nil, res.Err()
	}
	if next, ok := directEdges[task.Status]; !ok || next != to {
		return nil, fmt.Errorf("%w: %s -> %s", ErrDedicatedOperation, task.Status, to)
	}
	if err := workflow.CheckConsistency(to, task.EscrowStatus); err != nil {
		return nil, err
	}
	return s.move(ctx, task, to, port.StatusUpdate{})
}

// Assign attaches a worker. Card-paid tasks wait for the worker to accept.
func (s *taskServiceImpl) Assign(ctx context.Context, taskID, humanID string) (*entity.Task, error) {
	if humanID == "" {
		return nil, fmt.Errorf("%w: human_id is required", ErrInvalidTask)
	}
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if humanID == task.AgentID {
		return nil, fmt.Errorf("%w: poster cannot take their own task", ErrInvalidTask)
	}

	to := workflow.StatusAssigned
	if task.PaymentMethod == entity.PaymentMethodStripe {
		to = workflow.StatusPendingAcceptance
	}

	updated, err := s.move(ctx, task, to, port.StatusUpdate{HumanID: &humanID})
	if err != nil {
		return nil, err
	}

	notify(ctx, s.notifier, s.logger, entity.Notification{
		UserID:  humanID,
		Type:    entity.NotificationTaskAssigned,
		Title:   "Task assigned",
		Message: fmt.Sprintf("You were assigned %q", task.Title),
		Link:    "/tasks/" + taskID,
	})
	return updated, nil
}

// Accept confirms a pending assignment
func (s *taskServiceImpl) Accept(ctx context.Context, taskID, humanID string) (*entity.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.HumanID != humanID {
		return nil, ErrNotAssignee
	}
	return s.move(ctx, task, workflow.StatusAssigned, port.StatusUpdate{})
}

// StartWork moves an assigned task into progress
func (s *taskServiceImpl) StartWork(ctx context.Context, taskID, humanID string) (*entity.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.HumanID != humanID {
		return nil, ErrNotAssignee
	}
	if err := workflow.CheckConsistency(workflow.StatusInProgress, task.EscrowStatus); err != nil {
		return nil, err
	}
	return s.move(ctx, task, workflow.StatusInProgress, port.StatusUpdate{})
}

// SubmitWork hands finished work to the poster for review
func (s *taskServiceImpl) SubmitWork(ctx context.Context, taskID, humanID string) (*entity.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.HumanID != humanID {
		return nil, ErrNotAssignee
	}

	updated, err := s.move(ctx, task, workflow.StatusPendingReview, port.StatusUpdate{})
	if err != nil {
		return nil, err
	}

	notify(ctx, s.notifier, s.logger, entity.Notification{
		UserID:  task.AgentID,
		Type:    entity.NotificationWorkSubmitted,
		Title:   "Work submitted",
		Message: fmt.Sprintf("Work on %q is ready for review", task.Title),
		Link:    "/tasks/" + taskID,
	})
	return updated, nil
}

// RequestRevision sends work back. At most MaxRevisions times per task.
func (s *taskServiceImpl) RequestRevision(ctx context.Context, taskID, agentID string) (*entity.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AgentID != agentID {
		return nil, ErrNotPoster
	}
	if task.RevisionCount >= workflow.MaxRevisions {
		return nil, fmt.Errorf("%w: %d of %d used", workflow.ErrRevisionLimit, task.RevisionCount, workflow.MaxRevisions)
	}

	updated, err := s.move(ctx, task, workflow.StatusInProgress, port.StatusUpdate{IncrementRevision: true})
	if err != nil {
		return nil, err
	}

	if err := s.statsRepo.Increment(ctx, task.HumanID, entity.CounterRejections, 1); err != nil {
		s.logger.Warn("Failed to count revision request", "human_id", task.HumanID, "error", err)
	}
	notify(ctx, s.notifier, s.logger, entity.Notification{
		UserID:  task.HumanID,
		Type:    entity.NotificationRevisionRequest,
		Title:   "Revision requested",
		Message: fmt.Sprintf("The poster asked for changes on %q", task.Title),
		Link:    "/tasks/" + taskID,
	})
	return updated, nil
}

// WorkerWithdraw releases the worker and reopens the listing
func (s *taskServiceImpl) WorkerWithdraw(ctx context.Context, taskID, humanID string) (*entity.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.HumanID != humanID {
		return nil, ErrNotAssignee
	}

	cleared := ""
	return s.move(ctx, task, workflow.StatusOpen, port.StatusUpdate{HumanID: &cleared})
}

// Cancel withdraws a listing before work starts and refunds any escrow
func (s *taskServiceImpl) Cancel(ctx context.Context, taskID, agentID string) (*entity.Task, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AgentID != agentID {
		return nil, ErrNotPoster
	}
	if !task.Status.IsCancellable() {
		return nil, fmt.Errorf("%w: cannot cancel a %s task", ErrInvalidTaskStatus, task.Status)
	}

	updated, err := s.closeTask(ctx, task, workflow.StatusCancelled)
	if err != nil {
		return nil, err
	}

	if err := s.statsRepo.Increment(ctx, agentID, entity.CounterTasksCancelled, 1); err != nil {
		s.logger.Warn("Failed to count cancelled task", "agent_id", agentID, "error", err)
	}
	notify(ctx, s.notifier, s.logger, entity.Notification{
		UserID:  task.HumanID,
		Type:    entity.NotificationTaskCancelled,
		Title:   "Task cancelled",
		Message: fmt.Sprintf("%q was cancelled by the poster", task.Title),
		Link:    "/tasks/" + taskID,
	})
	return updated, nil
}

// Approve accepts submitted work and releases payment into the clearing window
func (s *taskServiceImpl) Approve(ctx context.Context, taskID, agentID string) (*ReleaseResult, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.AgentID != agentID {
		return nil, ErrNotPoster
	}
	if task.EscrowStatus.IsTerminal() {
		return nil, fmt.Errorf("%w: escrow is %s", ErrEscrowState, task.EscrowStatus)
	}

	// A task left approved by an earlier failed release goes straight to release.
	if task.Status != workflow.StatusApproved {
		if _, err := s.move(ctx, task, workflow.StatusApproved, port.StatusUpdate{}); err != nil {
			return nil, err
		}
	}
	if err := captureForRelease(ctx, s.escrow, task); err != nil {
		return nil, err
	}
	return s.payments.ReleasePaymentToPending(ctx, taskID, task.HumanID, task.AgentID)
}

// ExpireStale expires open tasks past their deadline, refunding any escrow
func (s *taskServiceImpl) ExpireStale(ctx context.Context) (int, error) {
	tasks, err := s.taskRepo.ListExpirable(ctx, s.now(), 500)
	if err != nil {
		return 0, fmt.Errorf("list expirable: %w", err)
	}

	expired := 0
	for _, task := range tasks {
		if _, err := s.closeTask(ctx, task, workflow.StatusExpired); err != nil {
			s.logger.Warn("Failed to expire task", "task_id", task.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info("Expired stale tasks", "count", expired)
	}
	return expired, nil
}

// closeTask moves task to a terminal status. Held escrow is refunded in the
// same transaction as the status change, and only once the status is won.
func (s *taskServiceImpl) closeTask(ctx context.Context, task *entity.Task, to workflow.Status) (*entity.Task, error) {
	if !task.EscrowStatus.HoldsFunds() {
		return s.move(ctx, task, to, port.StatusUpdate{})
	}
	err := s.escrow.RefundOnClose(ctx, task.ID, func(txCtx context.Context) error {
		return s.claim(txCtx, task, to, port.StatusUpdate{})
	})
	if err != nil {
		return nil, err
	}
	s.recordMove(task, to)
	return s.GetTask(ctx, task.ID)
}

// move validates task.Status -> to, applies it and returns the fresh task
func (s *taskServiceImpl) move(ctx context.Context, task *entity.Task, to workflow.Status, upd port.StatusUpdate) (*entity.Task, error) {
	if err := s.claim(ctx, task, to, upd); err != nil {
		return nil, err
	}
	s.recordMove(task, to)
	return s.GetTask(ctx, task.ID)
}

// claim is the guarded write behind move. upd.From, upd.To and upd.At are
// filled in here.
func (s *taskServiceImpl) claim(ctx context.Context, task *entity.Task, to workflow.Status, upd port.StatusUpdate) error {
	if res := workflow.ValidateTransition(task.Status, to); !res.Valid {
		return res.Err()
	}

	upd.From = task.Status
	upd.To = to
	upd.At = s.now()

	ok, err := s.taskRepo.TransitionStatus(ctx, task.ID, upd)
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}
	if !ok {
		s.logger.Warn("Lost status race", "task_id", task.ID, "from", task.Status, "to", to)
		return ErrConcurrentUpdate
	}
	return nil
}

func (s *taskServiceImpl) recordMove(task *entity.Task, to workflow.Status) {
	s.metrics.TransitionApplied(task.Status.String(), to.String())
	s.logger.Info("Task status changed", "task_id", task.ID, "from", task.Status, "to", to)
}
