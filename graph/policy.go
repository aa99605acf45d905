package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures the execution behavior for a specific node:
// timeout and retry strategy. If not specified, Options defaults apply.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node. If zero,
	// Options.DefaultNodeTimeout is used.
	Timeout time.Duration

	// Retry specifies automatic retry behavior for transient failures. If
	// nil, no retries are attempted.
	Retry *RetryPolicy
}

// RetryPolicy configures automatic retry of a failed node execution with
// exponential backoff and jitter, to avoid thundering-herd retries across
// concurrently running graphs.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts including the
	// initial one. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// Retryable decides whether a given error should trigger a retry. If
	// nil, no errors are considered retryable (MaxAttempts is effectively 1).
	Retryable func(error) bool
}

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
var ErrInvalidRetryPolicy = &ValidationError{Problems: []string{"invalid retry policy"}}

// Validate checks the policy's internal constraints.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// computeBackoff returns the delay before retry attempt number `attempt`
// (0-based: 0 is the delay before the second overall try), using
// exponential backoff capped at maxDelay plus jitter in [0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	if base <= 0 {
		return delay
	}
	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter timing, not security-sensitive
	}
	return delay + jitter
}
