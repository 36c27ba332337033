package entity

import "time"

// Dispute records a challenge to a task's progress.
// FiledAgainst is always the task's other participant.
type Dispute struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	Reason       string     `json:"reason"`
	Category     string     `json:"category,omitempty"`
	EvidenceURLs []string   `json:"evidence_urls,omitempty"`
	FiledBy      string     `json:"filed_by"`
	FiledAgainst string     `json:"filed_against"`
	Status       string     `json:"status"`
	Outcome      string     `json:"outcome,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Dispute statuses
const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)
