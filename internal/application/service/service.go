package service

import (
	"context"
	"errors"
	"time"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics receives settlement events. A nil Metrics is replaced by a no-op.
type Metrics interface {
	TransitionApplied(from, to string)
	PaymentReleased(netCents, feeCents int64)
	PendingPromoted(outcome string)
	WithdrawalProcessed(outcome string, cents int64)
	HoldRenewed(outcome string)
}

// Outcome labels reported to Metrics
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeRaceLost  = "race_lost"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
	OutcomeEscalated = "escalated"
)

type noopMetrics struct{}

func (noopMetrics) TransitionApplied(string, string)  {}
func (noopMetrics) PaymentReleased(int64, int64)      {}
func (noopMetrics) PendingPromoted(string)            {}
func (noopMetrics) WithdrawalProcessed(string, int64) {}
func (noopMetrics) HoldRenewed(string)                {}

func metricsOrNoop(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

// Errors returned by the settlement services
var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrPartyMismatch       = errors.New("caller is not a party to this task")
	ErrNoPayoutDestination = errors.New("payee has no payout destination")
	ErrAlreadyReleased     = errors.New("escrow already released")
	ErrInvalidTaskStatus   = errors.New("task status does not allow this operation")
	ErrConcurrentUpdate    = errors.New("task was modified concurrently")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrNothingToWithdraw   = errors.New("no available balance fits the requested amount")
	ErrInvalidWallet       = errors.New("invalid wallet address")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrNoEscrowHold        = errors.New("task has no card authorization")
	ErrEscrowState         = errors.New("escrow status does not allow this operation")
	ErrCardProcessor       = errors.New("card processor request failed")
	ErrDisputeNotFound     = errors.New("no open dispute for task")
	ErrUnknownOutcome      = errors.New("unknown dispute outcome")
	ErrNotAssignee         = errors.New("caller is not the assigned worker")
	ErrNotPoster           = errors.New("caller is not the task poster")
)

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

// notify delivers n and logs failures; notification never fails the caller
func notify(ctx context.Context, notifier port.Notifier, logger Logger, n entity.Notification) {
	if notifier == nil || n.UserID == "" {
		return
	}
	if err := notifier.CreateNotification(ctx, n); err != nil {
		logger.Warn("Failed to deliver notification",
			"user_id", n.UserID,
			"type", n.Type,
			"error", err)
	}
}
