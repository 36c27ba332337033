package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a status transition is not allowed
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidStatus is returned when a status is not recognised
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInconsistentEscrow is returned when task and escrow status disagree
	ErrInconsistentEscrow = errors.New("task status inconsistent with escrow status")

	// ErrRevisionLimit is returned when a poster asks for more revisions than allowed
	ErrRevisionLimit = errors.New("revision limit reached")
)
