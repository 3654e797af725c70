package service

import "errors"

// Typed failures surfaced by swap operations. Handlers map these onto
// HTTP status codes, callers match with errors.Is.
var (
	// ErrValidation covers malformed input: bad amounts, bad phone
	// prefixes, proof content mismatches.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when the referenced swap or agent does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition means a state machine precondition failed,
	// including losing a concurrent modification race. Callers should
	// re-fetch current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCapacityExceeded means the agent hit their daily swap limit.
	ErrCapacityExceeded = errors.New("agent daily capacity exceeded")

	// ErrAgentUnavailable means the agent is offline or not verified.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrDuplicateDispute means the swap already has an open dispute.
	ErrDuplicateDispute = errors.New("open dispute already exists")
)
