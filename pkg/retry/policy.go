package retry

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMaxRetriesExceeded is returned once a policy runs out of attempts
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy describes how an operation is retried
type Policy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	RetryableFunc func(error) bool
}

// DefaultPolicy returns a policy suitable for chain RPC calls
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}
}

// ExponentialPolicy doubles the delay on every attempt: base * 2^attempt
func ExponentialPolicy(base time.Duration, maxRetries int) Policy {
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  base,
		Multiplier: 2,
	}
}

// Validate checks the policy is usable
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be positive")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// Backoff computes delays for a policy
type Backoff struct {
	policy Policy
}

// NewBackoff creates a backoff calculator
func NewBackoff(policy Policy) *Backoff {
	return &Backoff{policy: policy}
}

// Calculate returns the delay before the given attempt (1-based)
func (b *Backoff) Calculate(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.policy.BaseDelay) * math.Pow(b.policy.Multiplier, float64(attempt))
	if b.policy.MaxDelay > 0 && delay > float64(b.policy.MaxDelay) {
		return b.policy.MaxDelay
	}
	return time.Duration(delay)
}

// Exhausted reports whether the given failed attempt count is past the policy
func (b *Backoff) Exhausted(attempt int) bool {
	return attempt > b.policy.MaxRetries
}
