// Package dispute decides who a dispute is filed against.
package dispute

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/irlwork/settlement/internal/domain/entity"
)

var (
	// ErrTaskNotAssigned is returned when the task has no second party yet
	ErrTaskNotAssigned = errors.New("task has no assigned worker")

	// ErrNotParticipant is returned when the filer is neither poster nor worker
	ErrNotParticipant = errors.New("user is not a participant in this task")

	// ErrSameParty is returned when poster and worker are the same user
	ErrSameParty = errors.New("task poster and worker are the same user")

	// ErrReasonRequired is returned when no reason is given
	ErrReasonRequired = errors.New("dispute reason is required")
)

// Filing carries the caller-supplied details of a dispute
type Filing struct {
	FiledBy      string
	Reason       string
	Category     string
	EvidenceURLs []string
}

// Open builds a dispute record for task filed by filing.FiledBy.
// It does not check the task status: callers gate on workflow.IsDisputable
// and persist the record together with the status change.
func Open(task *entity.Task, filing Filing, now time.Time) (*entity.Dispute, error) {
	if task.AgentID == "" || task.HumanID == "" {
		return nil, ErrTaskNotAssigned
	}
	if task.AgentID == task.HumanID {
		return nil, ErrSameParty
	}
	if !task.IsParticipant(filing.FiledBy) {
		return nil, ErrNotParticipant
	}
	reason := strings.TrimSpace(filing.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	return &entity.Dispute{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		Reason:       reason,
		Category:     filing.Category,
		EvidenceURLs: filing.EvidenceURLs,
		FiledBy:      filing.FiledBy,
		FiledAgainst: OtherParty(task, filing.FiledBy),
		Status:       entity.DisputeStatusOpen,
		CreatedAt:    now,
	}, nil
}

// OtherParty returns the participant on the opposite side from userID
func OtherParty(task *entity.Task, userID string) string {
	if userID == task.AgentID {
		return task.HumanID
	}
	return task.AgentID
}
