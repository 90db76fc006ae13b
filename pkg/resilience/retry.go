// SPDX-License-Identifier: Apache-2.0
// Package resilience provides bounded retry with exponential backoff for
// delivery and other transient-failure paths.
package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/cloudflair/agentlink/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// Value between 0 and 1; 0.1 means ±10% jitter.
	Jitter float64

	// IsRecoverable determines if an error should be retried.
	// If nil, AdapterError.Recoverable decides and plain errors are retried.
	IsRecoverable func(error) bool

	// OnRetry is invoked before each retry with the upcoming attempt number
	// (1-based), the previous error, and the delay about to be applied.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the delivery-path defaults: three attempts
// with a doubling, capped, jittered backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(attempts int) RetryConfig {
	rc.MaxAttempts = attempts
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts
// fail. Context cancellation during backoff abandons further attempts.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	isRecoverable := rc.IsRecoverable
	if isRecoverable == nil {
		isRecoverable = recoverableDefault
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := rc.backoff(attempt)
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return errors.New(errors.CodeContextLost, "context cancelled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts)
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRecoverable(err) {
			return err
		}
	}
	return lastErr
}

// backoff computes the exponential backoff delay before the given attempt.
func (rc RetryConfig) backoff(attempt int) time.Duration {
	multiplier := rc.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(multiplier, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		jitterRange := 2 * delay.Seconds() * rc.Jitter * (rand.Float64() - 0.5)
		delay = time.Duration(float64(delay) + jitterRange*float64(time.Second))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// recoverableDefault retries anything not explicitly marked unrecoverable.
func recoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	var ae *errors.AdapterError
	if stderrors.As(err, &ae) {
		return ae.Recoverable
	}
	return true
}
