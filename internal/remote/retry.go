package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts is the number of tries before Retry gives up.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait after the first failed attempt. Each
	// further failure doubles it.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps a single backoff wait.
	DefaultMaxDelay = time.Minute
)

// Policy configures Retry. The zero value means DefaultMaxAttempts attempts
// with DefaultBaseDelay backoff and no jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait after attempt 0; attempt i waits BaseDelay*2^i.
	BaseDelay time.Duration

	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// Jitter spreads each wait uniformly over ±50 % so that concurrent
	// batches failing together do not retry in lockstep.
	Jitter bool

	// OnRetry, if set, is called after a failed attempt that will be retried,
	// with the 1-based attempt number, its error, and the upcoming wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// newBackOff builds the exponential schedule for p: BaseDelay, 2*BaseDelay,
// 4*BaseDelay... capped at MaxDelay.
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = 0.5
	}
	b.Reset()
	return b
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should not be retried: it was marked with
// [Permanent], or it is an [APIError] the store will answer the same way
// every time.
func IsPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return false
}

// Retry executes fn up to p.MaxAttempts times, waiting BaseDelay*2^i after
// failed attempt i. It returns nil on the first success, or an error wrapping
// the last failure once attempts are exhausted. Cancelling ctx stops retrying
// before the next attempt or during a wait.
func Retry(ctx context.Context, p Policy, fn func() error) error {
	_, err := RetryValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryValue is [Retry] for operations that return a value.
func RetryValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var zero T
	p = p.normalized()

	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("retry cancelled: %w", err)
	}

	var (
		attempts int
		lastErr  error
		stopped  error
	)
	op := func() (T, error) {
		if err := ctx.Err(); err != nil {
			stopped = err
			return zero, backoff.Permanent(err)
		}
		attempts++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		if IsPermanent(err) {
			stopped = err
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		// Zero disables the wall-time limit; only MaxAttempts bounds the loop.
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(attempts, err, wait)
		}))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return v, nil
	}

	switch {
	case ctx.Err() != nil && (stopped == nil || errors.Is(stopped, ctx.Err())):
		return zero, fmt.Errorf("retry cancelled after %d attempt(s): %w", attempts, ctx.Err())
	case stopped != nil:
		return zero, fmt.Errorf("attempt %d failed permanently: %w", attempts, stopped)
	case lastErr != nil:
		return zero, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
	default:
		return zero, err
	}
}
