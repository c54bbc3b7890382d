package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrencyConflict is the base class for failures caused by a
	// concurrent actor. Callers match it with errors.Is and retry or
	// surface it as a conflict.
	ErrConcurrencyConflict = errors.New("concurrent operation in progress")

	// ErrAlreadySettling means a settlement run already holds the period.
	ErrAlreadySettling = fmt.Errorf("settlement already in progress: %w", ErrConcurrencyConflict)

	// ErrPeriodSettling rejects writes against a period while a settlement
	// run holds it.
	ErrPeriodSettling = fmt.Errorf("period is being settled: %w", ErrConcurrencyConflict)

	// ErrLockTimeout means the per-group lock could not be acquired before
	// the caller's context expired.
	ErrLockTimeout = fmt.Errorf("timed out waiting for group lock: %w", ErrConcurrencyConflict)

	// ErrNothingToSettle means the current period has no expenses, so an
	// interim settlement would produce an empty plan.
	ErrNothingToSettle = errors.New("no expenses to settle")

	// ErrGroupClosed rejects operations against a group whose final
	// settlement has run.
	ErrGroupClosed = errors.New("group is closed")

	// ErrRateUnavailable means no exchange rate could be resolved for a
	// currency conversion, so the expense cannot be recorded.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrInvariantViolation means computed balances failed their zero-sum
	// check beyond rounding tolerance. It aborts the settlement; nothing
	// is corrected silently.
	ErrInvariantViolation = errors.New("balance invariant violation")
)

// ValidationError reports invalid caller input on a named field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ExitIneligibleError explains why a participant may not leave their group.
type ExitIneligibleError struct {
	ParticipantID string
	Reason        string
}

func (e *ExitIneligibleError) Error() string {
	return fmt.Sprintf("participant %s cannot exit: %s", e.ParticipantID, e.Reason)
}

// Exit ineligibility reasons.
const (
	ExitReasonNonZeroBalance = "balance is not settled"
	ExitReasonLastAdmin      = "sole admin must promote another participant first"
	ExitReasonLastMember     = "last participant must close the group instead"
	ExitReasonAlreadyExited  = "participant already exited"
)
