package orchestrator

import (
	"codefolio-backend/internal/browser"
	"codefolio-backend/internal/components/chrono"
	"codefolio-backend/internal/profile"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the single retry loop used for every scrape.
type RetryPolicy struct {
	MaxAttempts int
	// backoff between attempts
	InitialInterval     time.Duration
	Multiplier          float64
	MaxInterval         time.Duration
	RandomizationFactor float64
	// CrashCooldown is the minimum wait after a browser crash.
	CrashCooldown time.Duration
	// AttemptTimeout bounds a single attempt, including any page loads.
	AttemptTimeout time.Duration
	// Retryable decides whether a failed attempt may be repeated, it defaults
	// to profile.IsRetryable.
	Retryable func(err error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      1.5,
		MaxInterval:     8 * time.Second,
		CrashCooldown:   5 * time.Second,
		AttemptTimeout:  45 * time.Second,
		Retryable:       profile.IsRetryable,
	}
}

// withDefaults fills every zero field from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.CrashCooldown <= 0 {
		p.CrashCooldown = d.CrashCooldown
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = d.AttemptTimeout
	}
	if p.Retryable == nil {
		p.Retryable = d.Retryable
	}
	return p
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.RandomizationFactor
	// the attempt count is the only stop condition
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %s", e.Attempts, e.Err.Error())
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt runs op under the attempt timeout, an op that does not return
// once its context expires is abandoned and reported as a timeout. The value
// of an abandoned op is dropped with its result channel.
func runAttempt[T any](ctx context.Context, p RetryPolicy, attempt int, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		value, err := op(actx, attempt)
		done <- attemptResult[T]{value: value, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		if res.err != nil &&
			errors.Is(actx.Err(), context.DeadlineExceeded) &&
			ctx.Err() == nil &&
			profile.KindOf(res.err) == profile.KindUnknown {
			return zero, fmt.Errorf("%w: %w", context.DeadlineExceeded, res.err)
		}
		if res.err != nil {
			return zero, res.err
		}
		return res.value, nil
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("attempt %d: %w", attempt, context.DeadlineExceeded)
	}
}

// Do runs op until it succeeds, fails with a non-retryable error or
// MaxAttempts are used. Waits go through clock so they can be observed.
func (p RetryPolicy) Do(ctx context.Context, clock chrono.API, op func(ctx context.Context, attempt int) error) error {
	_, err := DoValue(ctx, p, clock, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

// DoValue is Do for an op that produces a value. Only the value of the
// attempt that succeeded is returned.
func DoValue[T any](ctx context.Context, p RetryPolicy, clock chrono.API, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	p = p.withDefaults()
	b := p.newBackOff()

	var zero T
	for attempt := 1; ; attempt++ {
		value, err := runAttempt(ctx, p, attempt, op)
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if errors.Is(err, browser.ErrCircuitOpen) || !p.Retryable(err) {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := b.NextBackOff()
		if profile.IsKind(err, profile.KindBrowserCrash) {
			wait = max(wait, p.CrashCooldown)
		}
		err = clock.Sleep(ctx, wait)
		if err != nil {
			return zero, err
		}
	}
}
