package analyzer

import "math"

// Trend directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// Granularity is one resolution of a time series, points ascending.
type Granularity struct {
	Name   string
	Points []SeriesPoint
}

// TrendOptions bounds granularity selection and significance.
type TrendOptions struct {
	// MinPoints is the fewest buckets a granularity needs (at least 2).
	MinPoints int
	// MaxPoints is the most buckets before falling back to a coarser level.
	MaxPoints int
	// ThresholdPct is the absolute percent change counted as significant.
	ThresholdPct float64
}

// DefaultTrendOptions returns the options used by the built-in analyzers.
func DefaultTrendOptions() TrendOptions {
	return TrendOptions{
		MinPoints:    2,
		MaxPoints:    31,
		ThresholdPct: 10,
	}
}

// Trend compares the two most recent buckets of a series.
type Trend struct {
	Metric      string  `json:"metric"`
	Granularity string  `json:"granularity"`
	PreviousKey string  `json:"previous_key"`
	CurrentKey  string  `json:"current_key"`
	Previous    float64 `json:"previous"`
	Current     float64 `json:"current"`
	ChangePct   float64 `json:"change_pct"`
	Significant bool    `json:"significant"`
	Direction   string  `json:"direction"`
}

// DetectTrend picks the finest granularity with MinPoints..MaxPoints
// buckets (levels are ordered finest first), falling back to the coarsest
// level that has at least MinPoints. ok is false when no level qualifies
// or the previous value is zero or not finite.
func DetectTrend(metric string, levels []Granularity, opts TrendOptions) (Trend, bool) {
	if opts.MinPoints < 2 {
		opts.MinPoints = 2
	}
	if opts.MaxPoints < opts.MinPoints {
		opts.MaxPoints = opts.MinPoints
	}

	var chosen *Granularity
	for i := range levels {
		n := len(levels[i].Points)
		if n >= opts.MinPoints && n <= opts.MaxPoints {
			chosen = &levels[i]
			break
		}
	}
	if chosen == nil {
		for i := len(levels) - 1; i >= 0; i-- {
			if len(levels[i].Points) >= opts.MinPoints {
				chosen = &levels[i]
				break
			}
		}
	}
	if chosen == nil {
		return Trend{}, false
	}

	pts := chosen.Points
	prev, cur := pts[len(pts)-2], pts[len(pts)-1]
	if prev.Value == 0 || !finite(prev.Value) || !finite(cur.Value) {
		return Trend{}, false
	}

	change := (cur.Value - prev.Value) / math.Abs(prev.Value) * 100
	tr := Trend{
		Metric:      metric,
		Granularity: chosen.Name,
		PreviousKey: prev.Key,
		CurrentKey:  cur.Key,
		Previous:    prev.Value,
		Current:     cur.Value,
		ChangePct:   math.Round(change*10) / 10,
		Significant: math.Abs(change) >= opts.ThresholdPct,
		Direction:   DirectionFlat,
	}
	switch {
	case change > 0:
		tr.Direction = DirectionUp
	case change < 0:
		tr.Direction = DirectionDown
	}
	return tr, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
