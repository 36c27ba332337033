package port

import (
	"context"
	"time"

	"github.com/irlwork/settlement/internal/domain/entity"
)

// TransferResult is the outcome of an outbound transfer
type TransferResult struct {
	Success bool
	TxHash  string
	Error   string
}

// WalletBalance is the on-chain balance of an address
type WalletBalance struct {
	Success bool
	Balance float64
}

// TransferClient moves money to a worker's payout destination.
// Amounts are dollars because that is what the transfer rail accepts.
type TransferClient interface {
	SendTransfer(ctx context.Context, address string, amount float64) (*TransferResult, error)
	GetBalance(ctx context.Context, address string) (*WalletBalance, error)
	IsValidAddress(address string) bool
}

// CardAuthorization is a hold placed on a poster's card
type CardAuthorization struct {
	PaymentIntentID string
	ExpiresAt       time.Time
}

// CardProcessor captures and releases card holds
type CardProcessor interface {
	Authorize(ctx context.Context, taskID string, amountCents int64) (*CardAuthorization, error)
	Capture(ctx context.Context, paymentIntentID string, amountCents int64) error
	Refund(ctx context.Context, paymentIntentID string) error

	// Renew places a fresh authorization before the current one lapses
	Renew(ctx context.Context, paymentIntentID string, amountCents int64) (*CardAuthorization, error)
}

// Notifier delivers user notifications. Callers log failures and move on.
type Notifier interface {
	CreateNotification(ctx context.Context, n entity.Notification) error
}
