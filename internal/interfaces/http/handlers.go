package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/irlwork/settlement/internal/application/service"
	"github.com/irlwork/settlement/internal/domain/dispute"
	"github.com/irlwork/settlement/internal/domain/workflow"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	svc    Services
	health HealthFunc
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		svc:    services,
		health: health,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  string                 `json:"timestamp"`
	Components map[string]interface{} `json:"components,omitempty"`
}

// TransitionRequest is the body of POST /api/tasks/:id/transition
type TransitionRequest struct {
	To string `json:"to" binding:"required"`
}

// AssignRequest is the body of POST /api/tasks/:id/assign
type AssignRequest struct {
	HumanID string `json:"human_id" binding:"required"`
}

// ActorRequest identifies who performs a lifecycle action
type ActorRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// DisputeRequest is the body of POST /api/tasks/:id/disputes
type DisputeRequest struct {
	FiledBy      string   `json:"filed_by" binding:"required"`
	Reason       string   `json:"reason"`
	Category     string   `json:"category"`
	EvidenceURLs []string `json:"evidence_urls"`
}

// ResolveRequest is the body of POST /api/tasks/:id/disputes/resolve
type ResolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

// DepositRequest is the body of POST /api/tasks/:id/escrow/deposit
type DepositRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// WithdrawRequest is the body of POST /api/users/:id/withdraw.
// A missing amount withdraws everything available.
type WithdrawRequest struct {
	AmountCents *int64 `json:"amount_cents"`
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil {
		resp.Components = h.health(c.Request.Context())
	}
	ok(c, resp)
}

// CreateTask handles POST /api/tasks
func (h *Handlers) CreateTask(c *gin.Context) {
	var req service.CreateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	task, err := h.svc.Tasks.CreateTask(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, "create_task", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: task})
}

// GetTask handles GET /api/tasks/:id
func (h *Handlers) GetTask(c *gin.Context) {
	task, err := h.svc.Tasks.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get_task", err)
		return
	}
	ok(c, task)
}

// TransitionTask handles POST /api/tasks/:id/transition
func (h *Handlers) TransitionTask(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "to is required")
		return
	}

	task, err := h.svc.Tasks.Transition(c.Request.Context(), c.Param("id"), workflow.Status(req.To))
	if err != nil {
		h.writeError(c, "transition", err)
		return
	}
	ok(c, task)
}

// AssignTask handles POST /api/tasks/:id/assign
func (h *Handlers) AssignTask(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "human_id is required")
		return
	}

	task, err := h.svc.Tasks.Assign(c.Request.Context(), c.Param("id"), req.HumanID)
	if err != nil {
		h.writeError(c, "assign", err)
		return
	}
	ok(c, task)
}

type actorFunc func(ctx context.Context, taskID, userID string) (interface{}, error)

// actorAction binds {user_id} and runs fn for the task in the path
func (h *Handlers) actorAction(op string, fn actorFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ActorRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "user_id is required")
			return
		}

		result, err := fn(c.Request.Context(), c.Param("id"), req.UserID)
		if err != nil {
			h.writeError(c, op, err)
			return
		}
		ok(c, result)
	}
}

// AcceptTask handles POST /api/tasks/:id/accept
func (h *Handlers) AcceptTask(c *gin.Context) {
	h.actorAction("accept", func(ctx context.Context, taskID, userID string) (interface{}, error) {
		return h.svc.Tasks.Accept(ctx, taskID, userID)
	})(c)
}

// StartWork handles POST /api/tasks/:id/start
func (h *Handlers) StartWork(c *gin.Context) {
	h.actorAction("start", func(ctx context.Context, taskID, userID string) (interface{}, error) {
		return h.svc.Tasks.StartWork(ctx, taskID, userID)
	})(c)
}

// SubmitWork handles POST /api/tasks/:id/submit
func (h *Handlers) SubmitWork(c *gin.Context) {
	h.actorAction("submit", func(ctx context.Context, taskID, userID string) (interface{}, error) {
		return h.svc.Tasks.SubmitWork(ctx, taskID, userID)
	})(c)
}

// RequestRevision handles POST /api/tasks/:id/revision
func (h *Handlers) RequestRevision(c *gin.Context) {
	h.actorAction("revision", func(ctx context.Context, taskID, userID string) (interface{}, error) {
		return h.svc.Tasks.RequestRevision(ctx, taskID, userID)
	})(c)
}

// WorkerWithdraw handles POST /api/tasks/:id/withdraw
func (h *Handlers) WorkerWithdraw(c *gin.Context) {
	h.actorAction("worker_withdraw", func(ctx context.Context, taskID, userID string) (interface{}, error) {
		return h.svc.Tasks.WorkerWithdraw(ctx, taskID, userID)
	})(c)
}

// CancelTask handles POST /api/tasks/:id/cancel
func (h *Handlers) CancelTask(c *gin.Context) {
	h.actorAction("cancel", func(ctx context.Context, taskID, userID string) (interface{}, error) {
		return h.svc.Tasks.Cancel(ctx, taskID, userID)
	})(c)
}

// ApproveTask handles POST /api/tasks/:id/approve
func (h *Handlers) ApproveTask(c *gin.Context) {
	h.actorAction("approve", func(ctx context.Context, taskID, userID string) (interface{}, error) {
		return h.svc.Tasks.Approve(ctx, taskID, userID)
	})(c)
}

// FileDispute handles POST /api/tasks/:id/disputes
func (h *Handlers) FileDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "filed_by is required")
		return
	}

	d, err := h.svc.Disputes.FileDispute(c.Request.Context(), c.Param("id"), dispute.Filing{
		FiledBy:      req.FiledBy,
		Reason:       req.Reason,
		Category:     req.Category,
		EvidenceURLs: req.EvidenceURLs,
	})
	if err != nil {
		h.writeError(c, "file_dispute", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: d})
}

// ListDisputes handles GET /api/tasks/:id/disputes
func (h *Handlers) ListDisputes(c *gin.Context) {
	list, err := h.svc.Disputes.ListDisputes(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "list_disputes", err)
		return
	}
	ok(c, list)
}

// ResolveDispute handles POST /api/tasks/:id/disputes/resolve
func (h *Handlers) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "outcome is required")
		return
	}

	task, err := h.svc.Disputes.ResolveDispute(c.Request.Context(), c.Param("id"), service.Outcome(req.Outcome))
	if err != nil {
		h.writeError(c, "resolve_dispute", err)
		return
	}
	ok(c, task)
}

// AuthorizeEscrow handles POST /api/tasks/:id/escrow/authorize
func (h *Handlers) AuthorizeEscrow(c *gin.Context) {
	hold, err := h.svc.Escrow.Authorize(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "authorize_escrow", err)
		return
	}
	ok(c, hold)
}

// CaptureEscrow handles POST /api/tasks/:id/escrow/capture
func (h *Handlers) CaptureEscrow(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.svc.Escrow.Capture(c.Request.Context(), taskID); err != nil {
		h.writeError(c, "capture_escrow", err)
		return
	}
	ok(c, gin.H{"task_id": taskID, "escrow_status": workflow.EscrowDeposited})
}

// RecordDeposit handles POST /api/tasks/:id/escrow/deposit
func (h *Handlers) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "tx_hash is required")
		return
	}

	taskID := c.Param("id")
	if err := h.svc.Escrow.RecordDeposit(c.Request.Context(), taskID, req.TxHash); err != nil {
		h.writeError(c, "record_deposit", err)
		return
	}
	ok(c, gin.H{"task_id": taskID, "escrow_status": workflow.EscrowDeposited})
}

// RefundEscrow handles POST /api/tasks/:id/escrow/refund
func (h *Handlers) RefundEscrow(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.svc.Escrow.Refund(c.Request.Context(), taskID); err != nil {
		h.writeError(c, "refund_escrow", err)
		return
	}
	ok(c, gin.H{"task_id": taskID, "escrow_status": workflow.EscrowRefunded})
}

// GetBalance handles GET /api/users/:id/balance
func (h *Handlers) GetBalance(c *gin.Context) {
	balance, err := h.svc.Payments.GetWalletBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get_balance", err)
		return
	}
	ok(c, balance)
}

// Withdraw handles POST /api/users/:id/withdraw
func (h *Handlers) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid request body")
			return
		}
	}

	result, err := h.svc.Withdrawals.ProcessWithdrawal(c.Request.Context(), c.Param("id"), req.AmountCents)
	if err != nil {
		h.writeError(c, "withdraw", err)
		return
	}
	ok(c, result)
}

// ListWithdrawals handles GET /api/users/:id/withdrawals
func (h *Handlers) ListWithdrawals(c *gin.Context) {
	list, err := h.svc.Withdrawals.ListWithdrawals(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "list_withdrawals", err)
		return
	}
	ok(c, list)
}

// GetReputation handles GET /api/users/:id/reputation
func (h *Handlers) GetReputation(c *gin.Context) {
	summary, err := h.svc.Reputation.GetReputation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get_reputation", err)
		return
	}
	ok(c, summary)
}

// UpdateProfile handles PUT /api/users/:id/profile
func (h *Handlers) UpdateProfile(c *gin.Context) {
	var req service.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	stats, err := h.svc.Reputation.UpdateProfile(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.writeError(c, "update_profile", err)
		return
	}
	ok(c, stats)
}

// ExportStatement handles GET /api/users/:id/statement.xlsx
func (h *Handlers) ExportStatement(c *gin.Context) {
	userID := c.Param("id")

	// Render fully before writing headers so a failure still gets a JSON error
	var buf bytes.Buffer
	if err := h.svc.Statements.Export(c.Request.Context(), userID, &buf); err != nil {
		h.writeError(c, "export_statement", err)
		return
	}

	filename := fmt.Sprintf("statement-%s-%s.xlsx", userID, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// SweepPromote handles POST /api/admin/sweeps/promote
func (h *Handlers) SweepPromote(c *gin.Context) {
	report, err := h.svc.Payments.PromotePendingBalances(c.Request.Context())
	if err != nil {
		h.writeError(c, "sweep_promote", err)
		return
	}
	ok(c, report)
}

// SweepRenew handles POST /api/admin/sweeps/renew
func (h *Handlers) SweepRenew(c *gin.Context) {
	report, err := h.svc.Escrow.RenewExpiringHolds(c.Request.Context())
	if err != nil {
		h.writeError(c, "sweep_renew", err)
		return
	}
	ok(c, report)
}

// SweepReconcile handles POST /api/admin/sweeps/reconcile
func (h *Handlers) SweepReconcile(c *gin.Context) {
	report, err := h.svc.Reconciliation.Reconcile(c.Request.Context())
	if err != nil {
		h.writeError(c, "sweep_reconcile", err)
		return
	}
	ok(c, report)
}

// SweepExpire handles POST /api/admin/sweeps/expire
func (h *Handlers) SweepExpire(c *gin.Context) {
	expired, err := h.svc.Tasks.ExpireStale(c.Request.Context())
	if err != nil {
		h.writeError(c, "sweep_expire", err)
		return
	}
	ok(c, gin.H{"expired": expired})
}
