package workflow

import "fmt"

// EscrowStatus tracks where a task's funds sit, independently of task status.
// The zero value EscrowNone marks legacy tasks that never held escrow.
type EscrowStatus string

const (
	EscrowNone       EscrowStatus = ""
	EscrowAuthorized EscrowStatus = "authorized"
	EscrowDeposited  EscrowStatus = "deposited"
	EscrowReleased   EscrowStatus = "released"
	EscrowRefunded   EscrowStatus = "refunded"
	EscrowFailed     EscrowStatus = "failed"
)

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowNone:       {EscrowAuthorized, EscrowDeposited},
	EscrowAuthorized: {EscrowDeposited, EscrowRefunded, EscrowFailed},
	EscrowDeposited:  {EscrowReleased, EscrowRefunded},
	EscrowReleased:   {EscrowRefunded},
	EscrowRefunded:   {},
	EscrowFailed:     {},
}

// String returns the string representation of the escrow status
func (e EscrowStatus) String() string {
	if e == EscrowNone {
		return "none"
	}
	return string(e)
}

// IsValid returns true for known escrow statuses, including EscrowNone
func (e EscrowStatus) IsValid() bool {
	_, ok := escrowTransitions[e]
	return ok
}

// IsTerminal returns true once funds have left escrow for good
func (e EscrowStatus) IsTerminal() bool {
	return e == EscrowRefunded || e == EscrowFailed
}

// HoldsFunds returns true while the platform is holding (or has a hold on) money
func (e EscrowStatus) HoldsFunds() bool {
	return e == EscrowAuthorized || e == EscrowDeposited
}

// CanTransitionTo reports whether the escrow may move from e to to
func (e EscrowStatus) CanTransitionTo(to EscrowStatus) bool {
	for _, allowed := range escrowTransitions[e] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateEscrowTransition returns an error wrapping ErrInvalidTransition for illegal moves
func ValidateEscrowTransition(from, to EscrowStatus) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: escrow %s -> %s", ErrInvalidStatus, from, to)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: escrow %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// consistentEscrow maps a task status to the escrow statuses it may coexist with.
// Tasks without escrow (EscrowNone) are legacy and exempt.
var consistentEscrow = map[Status][]EscrowStatus{
	StatusOpen:              {EscrowAuthorized, EscrowDeposited},
	StatusPendingAcceptance: {EscrowAuthorized, EscrowDeposited},
	StatusAssigned:          {EscrowAuthorized, EscrowDeposited},
	StatusInProgress:        {EscrowAuthorized, EscrowDeposited},
	StatusPendingReview:     {EscrowAuthorized, EscrowDeposited},
	StatusApproved:          {EscrowAuthorized, EscrowDeposited, EscrowReleased},
	StatusDisputed:          {EscrowAuthorized, EscrowDeposited, EscrowReleased},
	StatusPaid:              {EscrowReleased},
	StatusExpired:           {EscrowRefunded, EscrowFailed},
	StatusCancelled:         {EscrowRefunded, EscrowFailed},
}

// CheckConsistency verifies that a task status and its escrow status agree.
func CheckConsistency(status Status, escrow EscrowStatus) error {
	if escrow == EscrowNone {
		return nil
	}
	allowed, ok := consistentEscrow[status]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	for _, e := range allowed {
		if e == escrow {
			return nil
		}
	}
	return fmt.Errorf("%w: status=%s escrow=%s", ErrInconsistentEscrow, status, escrow)
}
