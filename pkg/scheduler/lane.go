package scheduler

import (
	"math"
	"slices"
	"time"
)

// LaneConfig bounds one report's lane.
type LaneConfig struct {
	Initial int `mapstructure:"initial" yaml:"initial"`
	Min     int `mapstructure:"min" yaml:"min"`
	Max     int `mapstructure:"max" yaml:"max"`
}

// DefaultLaneConfig is used for reports without a preset.
func DefaultLaneConfig() LaneConfig {
	return LaneConfig{Initial: 4, Min: 1, Max: 8}
}

// LaneStats is a point-in-time view of a lane. Cap is the lane's adaptive
// cap; Effective is that cap bounded by the current global limit.
type LaneStats struct {
	Report    string `json:"report"`
	Cap       int    `json:"cap"`
	Effective int    `json:"effective"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
	Active    int    `json:"active"`
}

// lane is the per-report concurrency state, owned by the Scheduler.
type lane struct {
	report string
	cap    int
	min    int
	max    int
	active int
	window *latencyWindow
}

func newLane(report string, cfg LaneConfig, globalMax, windowSize int) *lane {
	hi := cfg.Max
	if hi > globalMax {
		hi = globalMax
	}
	lo := cfg.Min
	if lo < 1 {
		lo = 1
	}
	if lo > hi {
		lo = hi
	}
	return &lane{
		report: report,
		cap:    clamp(cfg.Initial, lo, hi),
		min:    lo,
		max:    hi,
		window: newLatencyWindow(windowSize),
	}
}

// effectiveCap bounds the lane cap by the current global limit.
func (l *lane) effectiveCap(global int) int {
	return min(l.cap, global)
}

func (l *lane) available(global int) bool {
	return l.active < l.effectiveCap(global)
}

// observe adds a latency sample and adapts the cap once the window is
// full. It reports whether the cap changed.
func (l *lane) observe(d, spike, recover time.Duration) bool {
	l.window.add(d)
	p90, ok := l.window.p90()
	if !ok {
		return false
	}
	switch {
	case p90 > spike:
		next := l.cap / 2
		if next < l.min {
			next = l.min
		}
		l.window.reset()
		if next == l.cap {
			return false
		}
		l.cap = next
		return true
	case p90 < recover && l.cap < l.max:
		l.cap++
		return true
	}
	return false
}

func (l *lane) stats(global int) LaneStats {
	return LaneStats{
		Report:    l.report,
		Cap:       l.cap,
		Effective: l.effectiveCap(global),
		Min:       l.min,
		Max:       l.max,
		Active:    l.active,
	}
}

// latencyWindow is a fixed-size ring of the most recent samples.
type latencyWindow struct {
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size < 1 {
		size = 1
	}
	return &latencyWindow{samples: make([]time.Duration, size)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *latencyWindow) reset() {
	w.next = 0
	w.full = false
}

// p90 returns the 90th percentile of a full window.
func (w *latencyWindow) p90() (time.Duration, bool) {
	if !w.full {
		return 0, false
	}
	sorted := slices.Clone(w.samples)
	slices.Sort(sorted)
	idx := int(math.Ceil(0.9*float64(len(sorted)))) - 1
	return sorted[clamp(idx, 0, len(sorted)-1)], true
}
