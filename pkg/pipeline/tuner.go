package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// TunerConfig holds the chunk sizing policy of the async consumer.
type TunerConfig struct {
	Initial int
	Min     int
	Max     int
	Step    int

	// Alpha is the smoothing factor of the chunk time EMA.
	Alpha float64

	// Overload shrinks the chunk when the EMA exceeds it; Headroom lets it
	// grow when the EMA stays below it.
	Overload time.Duration
	Headroom time.Duration

	// Backlog watermarks, in queued pages.
	HeavyBacklog   int
	ShallowBacklog int

	// GrowAfter is the number of consecutive calm observations before growing.
	GrowAfter int

	// Cooldown is the minimum time between two size changes.
	Cooldown time.Duration

	// Snapshot emission interval under light and heavy backlog.
	EmitIntervalLight time.Duration
	EmitIntervalHeavy time.Duration
}

// DefaultTunerConfig returns the default chunk sizing policy.
func DefaultTunerConfig() TunerConfig {
	return TunerConfig{
		Initial:           500,
		Min:               100,
		Max:               5000,
		Step:              100,
		Alpha:             0.3,
		Overload:          50 * time.Millisecond,
		Headroom:          15 * time.Millisecond,
		HeavyBacklog:      8,
		ShallowBacklog:    2,
		GrowAfter:         3,
		Cooldown:          250 * time.Millisecond,
		EmitIntervalLight: 250 * time.Millisecond,
		EmitIntervalHeavy: 2 * time.Second,
	}
}

// Validate checks the policy.
func (c TunerConfig) Validate() error {
	if c.Min < 1 || c.Max < c.Min {
		return fmt.Errorf("invalid chunk bounds [%d, %d]", c.Min, c.Max)
	}
	if c.Initial < c.Min || c.Initial > c.Max {
		return fmt.Errorf("initial chunk %d outside [%d, %d]", c.Initial, c.Min, c.Max)
	}
	if c.Step < 1 {
		return fmt.Errorf("step must be >= 1 (got %d)", c.Step)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1] (got %v)", c.Alpha)
	}
	if c.Headroom >= c.Overload {
		return fmt.Errorf("headroom %v must be below overload %v", c.Headroom, c.Overload)
	}
	if c.ShallowBacklog > c.HeavyBacklog {
		return fmt.Errorf("shallow backlog %d above heavy backlog %d", c.ShallowBacklog, c.HeavyBacklog)
	}
	return nil
}

// ChunkTuner adapts the number of rows processed per chunk to the observed
// processing time and backlog. It is safe for concurrent use.
type ChunkTuner struct {
	mu         sync.Mutex
	cfg        TunerConfig
	size       int
	ema        float64 // nanoseconds
	primed     bool
	calm       int
	lastChange time.Time
	now        func() time.Time
}

// NewChunkTuner creates a tuner starting at cfg.Initial.
func NewChunkTuner(cfg TunerConfig) (*ChunkTuner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ChunkTuner{cfg: cfg, size: cfg.Initial, now: time.Now}, nil
}

// Size returns the current chunk size.
func (t *ChunkTuner) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// EMA returns the smoothed chunk processing time.
func (t *ChunkTuner) EMA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.ema)
}

// Observe records the processing time of one chunk and the current backlog.
// It reports whether the chunk size changed.
func (t *ChunkTuner) Observe(d time.Duration, backlog int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.primed {
		t.ema = float64(d)
		t.primed = true
	} else {
		t.ema = t.cfg.Alpha*float64(d) + (1-t.cfg.Alpha)*t.ema
	}
	ema := time.Duration(t.ema)

	overloaded := ema > t.cfg.Overload || backlog > t.cfg.HeavyBacklog
	if ema < t.cfg.Headroom && backlog <= t.cfg.ShallowBacklog {
		t.calm++
	} else {
		t.calm = 0
	}

	now := t.now()
	if !t.lastChange.IsZero() && now.Sub(t.lastChange) < t.cfg.Cooldown {
		return false
	}

	switch {
	case overloaded && t.size > t.cfg.Min:
		t.size = max(t.cfg.Min, t.size-t.cfg.Step)
	case t.calm >= t.cfg.GrowAfter && t.size < t.cfg.Max:
		t.size = min(t.cfg.Max, t.size+t.cfg.Step)
		t.calm = 0
	default:
		return false
	}
	t.lastChange = now
	chunkSize.Set(float64(t.size))
	return true
}

// EmitInterval returns the snapshot emission interval for backlog.
func (t *ChunkTuner) EmitInterval(backlog int) time.Duration {
	if backlog > t.cfg.HeavyBacklog {
		return t.cfg.EmitIntervalHeavy
	}
	return t.cfg.EmitIntervalLight
}
