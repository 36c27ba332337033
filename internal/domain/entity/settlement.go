package entity

import "time"

// PendingTransaction is a worker's entitlement to funds that are not yet withdrawable.
// Rows are never deleted; they form the audit trail of the clearing window.
type PendingTransaction struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	TaskID       string     `json:"task_id"`
	AmountCents  int64      `json:"amount_cents"`
	Status       string     `json:"status"`
	ClearsAt     time.Time  `json:"clears_at"`
	ClearedAt    *time.Time `json:"cleared_at,omitempty"`
	WithdrawnAt  *time.Time `json:"withdrawn_at,omitempty"`
	PayoutMethod string     `json:"payout_method"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PendingTransaction status constants
const (
	PendingStatusPending   = "pending"
	PendingStatusAvailable = "available"
	PendingStatusWithdrawn = "withdrawn"
)

// Payout records the fee split of one task's release
type Payout struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"task_id"`
	AgentID          string    `json:"agent_id"`
	HumanID          string    `json:"human_id"`
	GrossAmountCents int64     `json:"gross_amount_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	NetAmountCents   int64     `json:"net_amount_cents"`
	Status           string    `json:"status"`
	TxHash           string    `json:"tx_hash,omitempty"`
	PayoutMethod     string    `json:"payout_method"`
	CreatedAt        time.Time `json:"created_at"`
}

// Payout status constants
const (
	PayoutStatusPending   = "pending"
	PayoutStatusAvailable = "available"
	PayoutStatusPaid      = "paid"
)

// LedgerTransaction is an append-only money-movement entry
type LedgerTransaction struct {
	ID               string    `json:"id"`
	TaskID           string    `json:"task_id,omitempty"`
	AgentID          string    `json:"agent_id,omitempty"`
	HumanID          string    `json:"human_id,omitempty"`
	AmountCents      int64     `json:"amount_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// Ledger transaction types
const (
	LedgerTypeEscrowRelease = "escrow_release"
	LedgerTypeEscrowRefund  = "escrow_refund"
	LedgerTypeWithdrawal    = "withdrawal"
)

// Ledger transaction statuses
const (
	LedgerStatusPending   = "pending"
	LedgerStatusCompleted = "completed"
)

// Withdrawal records one transfer out of a worker's available balance
type Withdrawal struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"user_id"`
	AmountCents           int64     `json:"amount_cents"`
	WalletAddress         string    `json:"wallet_address"`
	TxHash                string    `json:"tx_hash"`
	PendingTransactionIDs []string  `json:"pending_transaction_ids"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
}

// WithdrawalStatusCompleted marks a withdrawal whose transfer was confirmed
const WithdrawalStatusCompleted = "completed"
