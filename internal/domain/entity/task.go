package entity

import (
	"time"

	"github.com/irlwork/settlement/internal/domain/workflow"
)

// Task is a unit of real-world work posted by an agent and performed by a human.
// It is the aggregate root: every settlement record references exactly one task,
// and Status is the single source of truth for which phase the work is in.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Status       workflow.Status       `json:"status"`
	EscrowStatus workflow.EscrowStatus `json:"escrow_status,omitempty"`

	// Amounts are the dollar figures as posted; settlement converts to cents.
	Budget        float64 `json:"budget"`
	EscrowAmount  float64 `json:"escrow_amount"`
	PaymentMethod string  `json:"payment_method,omitempty"`

	AgentID string `json:"agent_id"`
	HumanID string `json:"human_id,omitempty"`

	RevisionCount int `json:"revision_count"`

	Deadline          *time.Time `json:"deadline,omitempty"`
	AssignedAt        *time.Time `json:"assigned_at,omitempty"`
	WorkStartedAt     *time.Time `json:"work_started_at,omitempty"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	EscrowDepositedAt *time.Time `json:"escrow_deposited_at,omitempty"`
	EscrowReleasedAt  *time.Time `json:"escrow_released_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAssigned returns true once a human has been attached to the task
func (t *Task) IsAssigned() bool {
	return t.HumanID != ""
}

// IsParticipant returns true if userID is the poster or the assignee
func (t *Task) IsParticipant(userID string) bool {
	return userID != "" && (userID == t.AgentID || userID == t.HumanID)
}

// SettlementAmount returns the amount that settlement works from: the escrowed
// amount when present, otherwise the posted budget (legacy tasks).
func (t *Task) SettlementAmount() float64 {
	if t.EscrowAmount > 0 {
		return t.EscrowAmount
	}
	return t.Budget
}

// Payment method constants
const (
	PaymentMethodStripe = "stripe"
	PaymentMethodUSDC   = "usdc"
)
