package entity

import "time"

// UserStats holds the aggregate counters settlement maintains per user.
// Reputation is derived from these; it is never written transactionally.
type UserStats struct {
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address,omitempty"`
	LarkOpenID    string `json:"lark_open_id,omitempty"`

	TotalTasksCompleted int `json:"total_tasks_completed"`
	TotalDisputesLost   int `json:"total_disputes_lost"`
	// TotalRejections counts revision requests. Not a failure signal.
	TotalRejections     int `json:"total_rejections"`
	TotalTasksPosted    int `json:"total_tasks_posted"`
	TotalTasksCancelled int `json:"total_tasks_cancelled"`

	TotalPaidCents   int64 `json:"total_paid_cents"`
	TotalEarnedCents int64 `json:"total_earned_cents"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HasPayoutDestination reports whether the user can receive transfers
func (u *UserStats) HasPayoutDestination() bool {
	return u != nil && u.WalletAddress != ""
}

// Counter names accepted by UserStatsRepository.Increment
const (
	CounterTasksCompleted = "total_tasks_completed"
	CounterDisputesLost   = "total_disputes_lost"
	CounterRejections     = "total_rejections"
	CounterTasksPosted    = "total_tasks_posted"
	CounterTasksCancelled = "total_tasks_cancelled"
	CounterPaidCents      = "total_paid_cents"
	CounterEarnedCents    = "total_earned_cents"
)
