// Package retry implements the exponential-backoff discipline that wraps
// every call to a remote backend.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

const (
	DefaultMaxAttempts = 8
	DefaultBase        = time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxDelay    = time.Minute
)

// Attempt describes a failed try that is about to be retried.
type Attempt struct {
	Op     string
	Number int // 1-based number of the attempt that just failed
	Max    int
	Delay  time.Duration
	Err    error
}

// Policy retries transient failures with exponential backoff.
//
// The zero value is usable; unset fields take the Default* values.
// A Policy is a value, copy it freely.
type Policy struct {
	// MaxAttempts counts the first call. 8 means one call plus up to seven retries.
	MaxAttempts int
	Base        time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Jitter spreads each delay by +/- the given fraction (0.2 = 20%). 0 disables it.
	Jitter float64

	// Retryable decides which errors are retried. Defaults to IsTransient.
	Retryable func(error) bool
	// OnRetry is invoked before sleeping.
	OnRetry func(Attempt)
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Base <= 0 {
		p.Base = DefaultBase
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	if p.Sleep == nil {
		p.Sleep = sleepCtx
	}
	return p
}

// WithAttempts returns a copy of p with a different attempt ceiling.
func (p Policy) WithAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// WithOnRetry returns a copy of p that reports retries to fn.
func (p Policy) WithOnRetry(fn func(Attempt)) Policy {
	p.OnRetry = fn
	return p
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt ceiling is reached. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= p.MaxAttempts || !p.Retryable(err) {
			return zero, err
		}

		delay := p.delayFor(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(Attempt{Op: op, Number: attempt, Max: p.MaxAttempts, Delay: delay, Err: err})
		}
		if serr := p.Sleep(ctx, delay); serr != nil {
			return zero, errors.Join(serr, err)
		}
	}
}

// Delay returns the un-jittered backoff before retry number n (1-based):
// Base * Multiplier^(n-1), capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := float64(p.Base)
	for i := 1; i < n; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) delayFor(attempt int, err error) time.Duration {
	var d time.Duration
	var ra AfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = p.Delay(attempt)
	}
	if p.Jitter > 0 && d > 0 {
		r := (rand.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
