// Package resilience backs the Executor's per-action invocations with
// retry and circuit breaker primitives, parameterized per action by a
// policy's retry mapping. The Planner's model calls do not go through
// it.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/filagent/htncore/herrors"
)

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Retry executes fn, retrying with exponential backoff (via
// cenkalti/backoff's curve generator rather than a hand-rolled sine
// jitter) up to MaxAttempts times or until ctx is done.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = cfg.BackoffFactor

	var lastErr error
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := fn(); err != nil {
			lastErr = err
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.MaxAttempts)))

	if err != nil {
		return fmt.Errorf("retry exhausted after %d attempts: %w: %w", attempts, lastErr, herrors.New("resilience.Retry", herrors.Kind("max_retries_exceeded"), "max retries exceeded"))
	}
	return nil
}

// RetryWithCircuitBreaker composes Retry with a CircuitBreaker: a call
// is skipped (and treated as a failure, without consuming an attempt's
// worth of latency against the downstream) whenever the breaker is open.
func RetryWithCircuitBreaker(ctx context.Context, cfg RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, cfg, func() error {
		if !cb.CanExecute() {
			return herrors.ErrCircuitBreakerOpen
		}
		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	})
}
