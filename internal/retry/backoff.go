package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/vaultops-systems/vaultops/pkg/types"
)

const maxBackoffSeconds = 3600

// DefaultPolicy returns the default retry configuration.
func DefaultPolicy() types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts:       3,
		BackoffSeconds:    30,
		BackoffMultiplier: 2.0,
		RetryableFailures: []types.FailureCategory{
			types.FailureTransient,
			types.FailureTimeout,
		},
	}
}

// Backoff returns the exponential wait for a given attempt number:
// base * multiplier^(attempt-1), capped at an hour.
func Backoff(policy types.RetryPolicy, attempt int) time.Duration {
	if attempt <= 1 {
		return time.Duration(policy.BackoffSeconds) * time.Second
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(policy.BackoffSeconds) * math.Pow(multiplier, float64(attempt-1))
	if backoff > maxBackoffSeconds {
		backoff = maxBackoffSeconds
	}
	return time.Duration(backoff) * time.Second
}

// Jitter draws a full-jitter wait in [0, d].
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// IsRetryable returns whether a failure category should be retried under
// the policy.
func IsRetryable(policy types.RetryPolicy, category types.FailureCategory) bool {
	if category == types.FailurePermanent || category == types.FailurePolicy ||
		category == types.FailureIntegrity {
		return false
	}
	if len(policy.RetryableFailures) == 0 {
		return category == types.FailureTransient || category == types.FailureTimeout
	}
	for _, fc := range policy.RetryableFailures {
		if fc == category {
			return true
		}
	}
	return false
}

// Do runs f under the policy, sleeping a jittered exponential backoff
// between attempts. Non-retryable failures propagate immediately; the
// last error is returned when attempts are exhausted.
func Do(ctx context.Context, clock Clock, policy types.RetryPolicy, f func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = f(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(policy, Categorize(lastErr)) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(Jitter(Backoff(policy, attempt))):
		}
	}
	return lastErr
}
