package fiscal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the invoice does not exist.
	ErrNotFound = errors.New("fiscal: invoice not found")
	// ErrVersionConflict indicates a concurrent update won the optimistic check.
	ErrVersionConflict = errors.New("fiscal: invoice modified concurrently")
	// ErrLocked indicates another operation holds the per-invoice lock.
	ErrLocked = errors.New("fiscal: invoice busy")
	// ErrBalanceExhausted indicates the pending balance is already zero.
	ErrBalanceExhausted = errors.New("fiscal: pending balance already discharged")
)

// ValidationError aggregates locally detectable payload problems. No call to
// the authority is made while one of these is outstanding.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "fiscal: invalid payload: " + strings.Join(e.Problems, "; ")
}

// RejectionError is a business refusal from the authority. It is terminal for
// the submission attempt and must never be auto-retried.
type RejectionError struct {
	Reasons []string
}

func (e *RejectionError) Error() string {
	return "fiscal: authority rejected submission: " + strings.Join(e.Reasons, "; ")
}

// TransportError is a network-level failure talking to the authority. The
// invoice is untouched and the attempt may be retried with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fiscal: %s: authority unreachable: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IllegalTransitionError reports an attempted transition the lifecycle does
// not allow.
type IllegalTransitionError struct {
	From State
	To   State
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("fiscal: illegal transition %s -> %s", e.From, e.To)
}

// BalanceExceededError reports a credit-note request larger than the pending
// balance. The amount is never clamped.
type BalanceExceededError struct {
	Requested string
	Pending   string
}

func (e *BalanceExceededError) Error() string {
	return fmt.Sprintf("fiscal: credit note of %s exceeds pending balance %s", e.Requested, e.Pending)
}

// IsRetryable reports whether err is a transport-level failure eligible for a
// bounded retry.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
