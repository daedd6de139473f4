package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrLockHeld       = errors.New("lock already held")
	ErrNoOpinion      = errors.New("source has no opinion")
	ErrNoQuorum       = errors.New("insufficient signal quorum")
	ErrBreakerTripped = errors.New("circuit breaker tripped")
	ErrPositionClosed = errors.New("position already closed")

	// Exchange error taxonomy. Transient and rate-limit errors are retryable
	// with backoff; the rest abort the intent immediately.
	ErrRateLimited       = errors.New("rate limited")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrTransient         = errors.New("transient exchange error")
)

// Retryable reports whether an exchange error may be retried with backoff.
// Unrecognized errors are treated as non-retryable; ambiguous outcomes are
// resolved by an order-status lookup, never by blind resubmission.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}
