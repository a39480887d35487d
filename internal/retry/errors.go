package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Transient marks an error as retryable.
//
// Backend adapters wrap rate-limit and other temporary API failures with
// Transient so the policy retries them; everything else propagates at once.
//
//	return retry.Transient(fmt.Errorf("sheets get %s: %w", rng, err))
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err should be retried.
//
// Errors wrapped with Transient or After qualify, as do network timeouts.
// Permanent always wins over the other markers.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te transientError
	if errors.As(err, &te) {
		return true
	}
	var ra AfterError
	if errors.As(err, &ra) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable even if a transient marker is
// present deeper in the chain.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err is wrapped with Permanent.
func IsPermanent(err error) bool {
	var e permanentError
	return errors.As(err, &e)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return fmt.Sprintf("permanent: %v", e.err) }
func (e permanentError) Unwrap() error { return e.err }

// After provides a suggested delay before retrying.
//
// Useful when the backend returns a Retry-After value (HTTP 429).
// The policy respects the hint, bounded by MaxDelay.
func After(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return afterError{err: err, after: after}
}

// AfterError is implemented by errors that carry an explicit retry delay.
type AfterError interface {
	error
	RetryAfter() time.Duration
}

type afterError struct {
	err   error
	after time.Duration
}

func (e afterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e afterError) Unwrap() error             { return e.err }
func (e afterError) RetryAfter() time.Duration { return e.after }
