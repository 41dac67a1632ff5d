package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.RetryLimit != 3 {
		t.Errorf("RetryLimit = %d, want 3", cfg.RetryLimit)
	}
	if cfg.Jitter != 0.2 {
		t.Errorf("Jitter = %v, want 0.2", cfg.Jitter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RetryConfig)
	}{
		{"negative retry limit", func(c *RetryConfig) { c.RetryLimit = -1 }},
		{"zero initial backoff", func(c *RetryConfig) { c.InitialBackoff = 0 }},
		{"max below initial", func(c *RetryConfig) { c.MaxBackoff = c.InitialBackoff / 2 }},
		{"shrinking multiplier", func(c *RetryConfig) { c.BackoffMultiplier = 0.5 }},
		{"jitter out of range", func(c *RetryConfig) { c.Jitter = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetryConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestBaseBackoff_ExponentialWithCap(t *testing.T) {
	cfg := RetryConfig{
		RetryLimit:        5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2,
	}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	for i, w := range want {
		if got := cfg.BaseBackoff(i + 1); got != w {
			t.Errorf("BaseBackoff(%d) = %v, want %v", i+1, got, w)
		}
	}
	if got := cfg.BaseBackoff(0); got != want[0] {
		t.Errorf("BaseBackoff(0) = %v, want %v", got, want[0])
	}
}

func TestBackoff_Jitter(t *testing.T) {
	cfg := DefaultRetryConfig()
	base := cfg.BaseBackoff(2)
	lo := time.Duration(float64(base) * 0.8)
	hi := time.Duration(float64(base) * 1.2)

	distinct := map[time.Duration]bool{}
	for i := 0; i < 200; i++ {
		d := cfg.Backoff(2)
		if d < lo || d > hi {
			t.Fatalf("Backoff(2) = %v, want within [%v, %v]", d, lo, hi)
		}
		distinct[d] = true
	}
	if len(distinct) < 10 {
		t.Errorf("Backoff produced only %d distinct values", len(distinct))
	}

	cfg.Jitter = 0
	if got := cfg.Backoff(2); got != base {
		t.Errorf("Backoff without jitter = %v, want %v", got, base)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassTransient, true},
		{ErrorClassAuth, false},
		{ErrorClassClient, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ShouldRetry(tt.class); got != tt.want {
			t.Errorf("ShouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("Sleep() returned early")
	}

	cause := errors.New("stop")
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(10*time.Millisecond, func() { cancel(cause) })

	start = time.Now()
	if err := Sleep(ctx, 10*time.Second); !errors.Is(err, cause) {
		t.Errorf("Sleep() error = %v, want cause", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep() ignored cancellation")
	}
}
