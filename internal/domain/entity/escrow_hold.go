package entity

import "time"

// EscrowHold tracks a card authorization that must be renewed before it lapses
type EscrowHold struct {
	TaskID           string     `json:"task_id"`
	PaymentIntentID  string     `json:"payment_intent_id"`
	AmountCents      int64      `json:"amount_cents"`
	AuthorizedAt     time.Time  `json:"authorized_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RenewalAttempts  int        `json:"renewal_attempts"`
	LastRenewalError string     `json:"last_renewal_error,omitempty"`
	ExpiryNotifiedAt *time.Time `json:"expiry_notified_at,omitempty"`
	Status           string     `json:"status"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Escrow hold statuses
const (
	HoldStatusActive   = "active"
	HoldStatusCaptured = "captured"
	HoldStatusReleased = "released"
	HoldStatusFailed   = "failed"
)
