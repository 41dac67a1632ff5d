package scheduler

import (
	"testing"
	"time"
)

func TestConcurrency_HalvesOnFailure(t *testing.T) {
	c := newConcurrency(8, 4, 20, 10)

	if !c.failure() || c.cur != 4 {
		t.Fatalf("after one failure cur = %d, want 4", c.cur)
	}
	if c.failure() || c.cur != 4 {
		t.Errorf("after second failure cur = %d, want floor 4", c.cur)
	}
}

func TestConcurrency_RampUp(t *testing.T) {
	c := newConcurrency(8, 4, 9, 10)

	for i := 0; i < 9; i++ {
		if c.success() {
			t.Fatalf("ramped up after %d successes", i+1)
		}
	}
	if !c.success() || c.cur != 9 {
		t.Fatalf("after 10 successes cur = %d, want 9", c.cur)
	}

	for i := 0; i < 10; i++ {
		c.success()
	}
	if c.cur != 9 {
		t.Errorf("cur = %d, want ceiling 9", c.cur)
	}
}

func TestConcurrency_FailureResetsStreak(t *testing.T) {
	c := newConcurrency(8, 4, 20, 3)
	c.success()
	c.success()
	c.failure()
	c.success()
	c.success()
	if c.cur != 4 {
		t.Errorf("cur = %d, want 4 with streak reset", c.cur)
	}
	c.success()
	if c.cur != 5 {
		t.Errorf("cur = %d, want 5 after a full streak", c.cur)
	}
}

func TestNewConcurrency_ClampsInitial(t *testing.T) {
	if c := newConcurrency(50, 4, 20, 10); c.cur != 20 {
		t.Errorf("cur = %d, want 20", c.cur)
	}
	if c := newConcurrency(1, 4, 20, 10); c.cur != 4 {
		t.Errorf("cur = %d, want 4", c.cur)
	}
}

func TestLane_SpikeAndRecover(t *testing.T) {
	spike, recover := 100*time.Millisecond, 10*time.Millisecond
	l := newLane("r", LaneConfig{Initial: 8, Min: 3, Max: 10}, 20, 4)

	for i := 0; i < 3; i++ {
		if l.observe(200*time.Millisecond, spike, recover) {
			t.Fatal("cap changed before the window was full")
		}
	}
	if !l.observe(200*time.Millisecond, spike, recover) || l.cap != 4 {
		t.Fatalf("cap = %d, want 4 after spike", l.cap)
	}
	if l.window.full {
		t.Error("window not cleared after spike")
	}

	for i := 0; i < 4; i++ {
		l.observe(200*time.Millisecond, spike, recover)
	}
	if l.cap != 3 {
		t.Errorf("cap = %d, want floor 3", l.cap)
	}

	for i := 0; i < 3; i++ {
		l.observe(time.Millisecond, spike, recover)
	}
	if !l.observe(time.Millisecond, spike, recover) || l.cap != 4 {
		t.Errorf("cap = %d, want 4 after recovery", l.cap)
	}
}

func TestLane_MiddleBandHoldsCap(t *testing.T) {
	l := newLane("r", LaneConfig{Initial: 4, Min: 1, Max: 8}, 20, 2)
	for i := 0; i < 6; i++ {
		if l.observe(50*time.Millisecond, 100*time.Millisecond, 10*time.Millisecond) {
			t.Fatal("cap changed inside the neutral band")
		}
	}
	if l.cap != 4 {
		t.Errorf("cap = %d, want 4", l.cap)
	}
}

func TestNewLane_ClampsToGlobalMax(t *testing.T) {
	l := newLane("r", LaneConfig{Initial: 30, Min: 0, Max: 40}, 20, 5)
	if l.max != 20 || l.cap != 20 || l.min != 1 {
		t.Errorf("lane = %+v, want max/cap 20, min 1", l.stats(20))
	}
}

func TestLane_EffectiveCapBoundedByGlobal(t *testing.T) {
	l := newLane("r", LaneConfig{Initial: 6, Min: 1, Max: 8}, 20, 5)

	tests := []struct {
		global    int
		active    int
		effective int
		available bool
	}{
		{global: 8, active: 5, effective: 6, available: true},
		{global: 4, active: 3, effective: 4, available: true},
		{global: 4, active: 4, effective: 4, available: false},
		{global: 2, active: 3, effective: 2, available: false},
	}
	for _, tt := range tests {
		l.active = tt.active
		if got := l.stats(tt.global).Effective; got != tt.effective {
			t.Errorf("global %d: effective = %d, want %d", tt.global, got, tt.effective)
		}
		if got := l.available(tt.global); got != tt.available {
			t.Errorf("global %d active %d: available = %v, want %v", tt.global, tt.active, got, tt.available)
		}
	}
	if l.cap != 6 {
		t.Errorf("adaptive cap changed to %d", l.cap)
	}
}

func TestLatencyWindow_P90(t *testing.T) {
	w := newLatencyWindow(10)
	for i := 10; i >= 1; i-- {
		w.add(time.Duration(i) * time.Millisecond)
	}
	p90, ok := w.p90()
	if !ok || p90 != 9*time.Millisecond {
		t.Errorf("p90 = %v, %v; want 9ms", p90, ok)
	}

	// the two oldest samples (10ms, 9ms) are overwritten
	w.add(100 * time.Millisecond)
	w.add(100 * time.Millisecond)
	if p90, _ := w.p90(); p90 != 100*time.Millisecond {
		t.Errorf("p90 after overwrite = %v, want 100ms", p90)
	}
}
