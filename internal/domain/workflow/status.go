package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Status represents a task's position in the marketplace lifecycle
type Status string

const (
	StatusOpen              Status = "open"
	StatusPendingAcceptance Status = "pending_acceptance"
	StatusAssigned          Status = "assigned"
	StatusInProgress        Status = "in_progress"
	StatusPendingReview     Status = "pending_review"
	StatusApproved          Status = "approved"
	StatusDisputed          Status = "disputed"
	StatusPaid              Status = "paid"
	StatusExpired           Status = "expired"
	StatusCancelled         Status = "cancelled"
)

// MaxRevisions caps how many times a poster may send work back from pending_review.
// The validator only checks that the edge exists; callers enforce the cap.
const MaxRevisions = 2

// transitions lists the legal targets for every non-terminal status.
// Order matters only for error messages.
var transitions = map[Status][]Status{
	StatusOpen:              {StatusPendingAcceptance, StatusAssigned, StatusExpired, StatusCancelled},
	StatusPendingAcceptance: {StatusAssigned, StatusOpen, StatusCancelled},
	StatusAssigned:          {StatusInProgress, StatusCancelled, StatusOpen},
	StatusInProgress:        {StatusPendingReview, StatusDisputed, StatusOpen},
	StatusPendingReview:     {StatusApproved, StatusInProgress, StatusDisputed},
	StatusApproved:          {StatusPaid},
	StatusDisputed:          {StatusApproved, StatusCancelled, StatusPaid, StatusPendingReview},
	StatusPaid:              {},
	StatusExpired:           {},
	StatusCancelled:         {},
}

var terminalStatuses = map[Status]bool{
	StatusPaid:      true,
	StatusExpired:   true,
	StatusCancelled: true,
}

var cancellableStatuses = map[Status]bool{
	StatusOpen:              true,
	StatusPendingAcceptance: true,
	StatusAssigned:          true,
}

var disputableStatuses = map[Status]bool{
	StatusInProgress:    true,
	StatusPendingReview: true,
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known task status
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal returns true if no further transitions are allowed
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsCancellable returns true while no real-world work has begun
func (s Status) IsCancellable() bool {
	return cancellableStatuses[s]
}

// IsDisputable returns true while work is active or awaiting judgment
func (s Status) IsDisputable() bool {
	return disputableStatuses[s]
}

// AllowedTransitions returns a copy of the legal targets from s
func (s Status) AllowedTransitions() []Status {
	return append([]Status(nil), transitions[s]...)
}

// CanTransitionTo reports whether s -> to is an edge of the lifecycle table
func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal is the free-function form used by callers holding raw strings.
func IsTerminal(status string) bool { return Status(status).IsTerminal() }

// IsCancellable is the free-function form used by callers holding raw strings.
func IsCancellable(status string) bool { return Status(status).IsCancellable() }

// IsDisputable is the free-function form used by callers holding raw strings.
func IsDisputable(status string) bool { return Status(status).IsDisputable() }

// TransitionResult is the outcome of ValidateTransition
type TransitionResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Err converts an invalid result into an error wrapping ErrInvalidTransition.
func (r TransitionResult) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidTransition, r.Error)
}

// ValidateTransition checks whether a task may move from one status to another.
// It is pure and deterministic.
func ValidateTransition(from, to Status) TransitionResult {
	if !from.IsValid() {
		return TransitionResult{Error: fmt.Sprintf("unknown status: %s", from)}
	}
	if !to.IsValid() {
		return TransitionResult{Error: fmt.Sprintf("unknown target status: %s", to)}
	}
	if from.IsTerminal() {
		return TransitionResult{Error: fmt.Sprintf("status %s is terminal, cannot transition to %s", from, to)}
	}
	if from.CanTransitionTo(to) {
		return TransitionResult{Valid: true}
	}
	return TransitionResult{
		Error: fmt.Sprintf("invalid status transition: %s -> %s (allowed: %s)", from, to, joinStatuses(transitions[from])),
	}
}

// AllStatuses returns every known task status sorted by name
func AllStatuses() []Status {
	all := make([]Status, 0, len(transitions))
	for s := range transitions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

func joinStatuses(list []Status) string {
	parts := make([]string, len(list))
	for i, s := range list {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
