// Package base implements the shared connector runtime: retry with
// exponential backoff, session token caching, health tracking, and the
// generic connector that composes them around a provider's capability
// interfaces.
package base

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/glucosync/glucosync/pkg/errors"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64
}

// NewRetryPolicy creates a new retry policy with exponential backoff
func NewRetryPolicy(maxAttempts int, initialDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialDelay:    initialDelay,
		MaxDelay:        60 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        60 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}
}

// NoRetryPolicy returns a policy that doesn't retry
func NoRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 1,
	}
}

// Execute runs a function with the retry policy
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteWithCondition runs a function, retrying only while shouldRetry
// approves the returned error. Delays between attempts follow the
// exponential backoff schedule; the wait is interruptible by ctx.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		// Don't retry on the last attempt
		if attempt == rp.MaxAttempts-1 {
			break
		}

		if err := rp.wait(ctx, rp.calculateDelay(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
}

// ExecuteWithAuthRecovery runs fn with the retry policy, treating an
// expired session specially: the first session-expired error triggers
// onUnauthorized (re-authentication) exactly once, consumes no backoff
// delay and no attempt, and the remaining budget resumes. A second
// session-expired error after recovery, and any non-retryable error,
// abort immediately.
func (rp *RetryPolicy) ExecuteWithAuthRecovery(ctx context.Context, fn func() error, onUnauthorized func(context.Context) error) error {
	var lastErr error
	recovered := false

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if errors.IsSessionExpired(err) {
			if recovered {
				return err
			}
			recovered = true
			if authErr := onUnauthorized(ctx); authErr != nil {
				return errors.Wrap(authErr, errors.ErrorTypeAuthentication, "re-authentication after expired session failed")
			}
			// Retry the same attempt immediately with the fresh session.
			attempt--
			continue
		}

		if !errors.IsRetryable(err) {
			return err
		}

		if attempt == rp.MaxAttempts-1 {
			break
		}

		if err := rp.wait(ctx, rp.calculateDelay(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
}

func (rp *RetryPolicy) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// Jitter stays inside +/- RandomizeFactor, so consecutive delays
	// remain strictly increasing for multipliers >= 2.
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// GetDelay returns the delay for a specific attempt (for testing/preview)
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.calculateDelay(attempt)
}

// Clone creates a copy of the retry policy
func (rp *RetryPolicy) Clone() *RetryPolicy {
	c := *rp
	return &c
}
