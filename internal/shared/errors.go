package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("invalid input")

	// ErrUnauthenticated indicates there is no valid principal.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates an authenticated principal lacks the permission.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState occurs when a transition is illegal from the current state.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInvalidAmount occurs when a monetary value violates a business rule.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAlreadyTerminal occurs when the entity already reached a terminal state.
	ErrAlreadyTerminal = errors.New("already terminal")
	// ErrAlreadyReceived occurs when a purchase order was received before.
	ErrAlreadyReceived = errors.New("already received")
	// ErrConcurrencyConflict indicates a version mismatch or lock contention.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// IsBusinessError reports whether err is a state machine rejection (409-style).
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrAlreadyReceived)
}
