package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/irlwork/settlement/internal/application/service"
	"github.com/irlwork/settlement/internal/domain/dispute"
	"github.com/irlwork/settlement/internal/domain/workflow"
)

// Machine-readable error codes returned in Response.Code
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidTransition   = "invalid_transition"
	CodeUseOperation        = "use_dedicated_operation"
	CodeInvalidStatus       = "invalid_status"
	CodeRevisionLimit       = "revision_limit"
	CodeTaskNotFound        = "task_not_found"
	CodeDisputeNotFound     = "dispute_not_found"
	CodeEscrowNotFound      = "escrow_not_found"
	CodeInvalidState        = "invalid_state"
	CodeConflict            = "conflict"
	CodeAlreadyReleased     = "already_released"
	CodeForbidden           = "forbidden"
	CodeInvalidAmount       = "invalid_amount"
	CodeInsufficientBalance = "insufficient_balance"
	CodeNothingToWithdraw   = "nothing_to_withdraw"
	CodeInvalidWallet       = "invalid_wallet"
	CodeNoPayoutDestination = "no_payout_destination"
	CodeTransferFailed      = "transfer_failed"
	CodeCardProcessor       = "card_processor_failed"
	CodeInternal            = "internal_error"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is
var errorMappings = []errorMapping{
	{service.ErrTaskNotFound, http.StatusNotFound, CodeTaskNotFound},
	{service.ErrDisputeNotFound, http.StatusNotFound, CodeDisputeNotFound},
	{service.ErrNoEscrowHold, http.StatusNotFound, CodeEscrowNotFound},

	{workflow.ErrInvalidTransition, http.StatusConflict, CodeInvalidTransition},
	{service.ErrDedicatedOperation, http.StatusConflict, CodeUseOperation},
	{workflow.ErrRevisionLimit, http.StatusConflict, CodeRevisionLimit},
	{workflow.ErrInconsistentEscrow, http.StatusConflict, CodeInvalidState},
	{service.ErrInvalidTaskStatus, http.StatusConflict, CodeInvalidState},
	{service.ErrEscrowState, http.StatusConflict, CodeInvalidState},
	{service.ErrConcurrentUpdate, http.StatusConflict, CodeConflict},
	{service.ErrAlreadyReleased, http.StatusConflict, CodeAlreadyReleased},

	{service.ErrPartyMismatch, http.StatusForbidden, CodeForbidden},
	{service.ErrNotAssignee, http.StatusForbidden, CodeForbidden},
	{service.ErrNotPoster, http.StatusForbidden, CodeForbidden},
	{dispute.ErrNotParticipant, http.StatusForbidden, CodeForbidden},

	{workflow.ErrInvalidStatus, http.StatusBadRequest, CodeInvalidStatus},
	{service.ErrInvalidAmount, http.StatusBadRequest, CodeInvalidAmount},
	{service.ErrInsufficientBalance, http.StatusBadRequest, CodeInsufficientBalance},
	{service.ErrNothingToWithdraw, http.StatusBadRequest, CodeNothingToWithdraw},
	{service.ErrInvalidWallet, http.StatusBadRequest, CodeInvalidWallet},
	{service.ErrNoPayoutDestination, http.StatusBadRequest, CodeNoPayoutDestination},
	{service.ErrInvalidTask, http.StatusBadRequest, CodeInvalidRequest},
	{service.ErrUnknownOutcome, http.StatusBadRequest, CodeInvalidRequest},
	{dispute.ErrTaskNotAssigned, http.StatusBadRequest, CodeInvalidRequest},
	{dispute.ErrSameParty, http.StatusBadRequest, CodeInvalidRequest},
	{dispute.ErrReasonRequired, http.StatusBadRequest, CodeInvalidRequest},

	{service.ErrTransferFailed, http.StatusBadGateway, CodeTransferFailed},
	{service.ErrCardProcessor, http.StatusBadGateway, CodeCardProcessor},
}

// classify maps a service error to an HTTP status and error code
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeError renders err in the standard envelope. Internal errors are
// logged and their text is not exposed.
func (h *Handlers) writeError(c *gin.Context, op string, err error) {
	status, code := classify(err)

	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("Request failed", "operation", op, "path", c.Request.URL.Path, "error", err)
		msg = "internal error"
	case http.StatusBadGateway:
		h.logger.Error("Upstream failure", "operation", op, "error", err)
		msg = msg + ", try again"
	}

	c.JSON(status, Response{
		Success: false,
		Error:   msg,
		Code:    code,
	})
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Code:    CodeInvalidRequest,
	})
}
