package ratelimit

import (
	"testing"
	"time"
)

func TestState_IsStale(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		maxAge   time.Duration
		expected bool
	}{
		{"fresh state", 0, 5 * time.Minute, false},
		{"stale state", 10 * time.Minute, 5 * time.Minute, true},
		{"just under max age", 4 * time.Minute, 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			s := &State{LastUpdate: now.Add(-tt.age)}
			if got := s.IsStale(now, tt.maxAge); got != tt.expected {
				t.Errorf("IsStale() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_Bands(t *testing.T) {
	tests := []struct {
		name           string
		known          bool
		remaining      int
		expectBlock    bool
		expectThrottle bool
		expectHealthy  bool
	}{
		{"unknown budget", false, 0, false, false, true},
		{"healthy", true, 100, false, false, true},
		{"at healthy threshold", true, ThresholdHealthy, false, false, true},
		{"between warning and healthy", true, 30, false, false, false},
		{"warning", true, 15, false, true, false},
		{"at critical threshold", true, ThresholdCritical, false, true, false},
		{"critical", true, 3, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &State{Known: tt.known, Remaining: tt.remaining}
			s.UpdateHealth()

			if got := s.NeedsCriticalBlock(); got != tt.expectBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.expectBlock)
			}
			if got := s.NeedsThrottling(); got != tt.expectThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.expectThrottle)
			}
			if s.IsHealthy != tt.expectHealthy {
				t.Errorf("IsHealthy = %v, want %v", s.IsHealthy, tt.expectHealthy)
			}
		})
	}
}

func TestState_BlockedFor(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		state State
		want  time.Duration
	}{
		{"nothing pending", State{}, 0},
		{"retry after in future", State{RetryAfter: now.Add(3 * time.Second)}, 3 * time.Second},
		{"retry after in past", State{RetryAfter: now.Add(-time.Second)}, 0},
		{"critical waits for reset", State{Known: true, Remaining: 1, ResetAt: now.Add(10 * time.Second)}, 10 * time.Second},
		{"warning does not block", State{Known: true, Remaining: 10, ResetAt: now.Add(10 * time.Second)}, 0},
		{"larger of both", State{Known: true, Remaining: 1, ResetAt: now.Add(2 * time.Second), RetryAfter: now.Add(5 * time.Second)}, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.BlockedFor(now); got != tt.want {
				t.Errorf("BlockedFor() = %v, want %v", got, tt.want)
			}
		})
	}
}
