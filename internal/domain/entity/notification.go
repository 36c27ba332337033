package entity

// Notification types sent to marketplace participants
const (
	NotificationTaskAssigned    = "task_assigned"
	NotificationTaskCancelled   = "task_cancelled"
	NotificationWorkSubmitted   = "work_submitted"
	NotificationRevisionRequest = "revision_requested"
	NotificationDisputeFiled    = "dispute_filed"
	NotificationDisputeResolved = "dispute_resolved"
	NotificationPaymentReleased = "payment_released"
	NotificationFundsAvailable  = "funds_available"
	NotificationWithdrawal      = "withdrawal_completed"
	NotificationEscrowExpiring  = "escrow_expiring"
	NotificationEscrowFailed    = "escrow_failed"
)

// Notification is a message addressed to one user
type Notification struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}
