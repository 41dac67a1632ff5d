package client

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds the retry policy for transient failures.
type RetryConfig struct {
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay before jitter.
	MaxBackoff time.Duration

	// BackoffMultiplier is the growth factor per retry.
	BackoffMultiplier float64

	// Jitter is the relative spread applied to each delay (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		RetryLimit:        3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Validate checks the policy for usable values.
func (c RetryConfig) Validate() error {
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must be >= 0 (got %d)", c.RetryLimit)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be > 0 (got %v)", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff %v is below initial_backoff %v", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", c.BackoffMultiplier)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", c.Jitter)
	}
	return nil
}

// BaseBackoff returns the un-jittered delay before retry number n (1-based).
func (c RetryConfig) BaseBackoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(n-1))
	if d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(d)
}

// Backoff returns the jittered delay before retry number n (1-based).
func (c RetryConfig) Backoff(n int) time.Duration {
	base := c.BaseBackoff(n)
	if c.Jitter == 0 {
		return base
	}
	f := 1 - c.Jitter + rand.Float64()*2*c.Jitter
	return time.Duration(float64(base) * f)
}

// ShouldRetry reports whether a failure of the given class is retried.
func ShouldRetry(class ErrorClass) bool {
	return class == ErrorClassTransient
}

// Sleep waits for d or until ctx is done, in which case it returns the
// context's cause.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
