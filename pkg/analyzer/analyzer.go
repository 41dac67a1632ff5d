package analyzer

import (
	"time"

	"github.com/Sternrassler/reportstream/pkg/stream"
)

// Analyzer is the per-report accumulator contract.
type Analyzer interface {
	// Report returns the report type this analyzer consumes.
	Report() string

	// Ingest folds one row into the aggregate state.
	Ingest(row Row)

	// Finalize returns a snapshot of the current state.
	Finalize(meta Meta) Snapshot
}

// Meta describes the run a snapshot belongs to.
type Meta struct {
	RunID       string
	Facilities  []string
	Start       time.Time
	End         time.Time
	Timezone    string
	GeneratedAt time.Time
}

// SeriesPoint is one chart-ready bucket.
type SeriesPoint struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Finding is a numeric observation handed to wording/rendering collaborators.
type Finding struct {
	Kind   string  `json:"kind"`
	Metric string  `json:"metric"`
	Key    string  `json:"key,omitempty"`
	Value  float64 `json:"value"`
}

// Snapshot is the immutable result of Finalize.
type Snapshot struct {
	Report      string                    `json:"report"`
	RunID       string                    `json:"run_id"`
	Facilities  []string                  `json:"facilities"`
	RangeStart  time.Time                 `json:"range_start"`
	RangeEnd    time.Time                 `json:"range_end"`
	Timezone    string                    `json:"timezone"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Rows        uint64                    `json:"rows"`
	Metrics     map[string]float64        `json:"metrics"`
	Series      map[string][]SeriesPoint  `json:"series"`
	Top         map[string][]stream.Entry `json:"top"`
	Trends      []Trend                   `json:"trends"`
	Findings    []Finding                 `json:"findings"`
	Warnings    []stream.Entry            `json:"warnings"`
	Quality     Quality                   `json:"quality"`
}

// newSnapshot fills the run-level fields shared by all analyzers.
func newSnapshot(report string, meta Meta, rows uint64) Snapshot {
	return Snapshot{
		Report:      report,
		RunID:       meta.RunID,
		Facilities:  append([]string(nil), meta.Facilities...),
		RangeStart:  meta.Start,
		RangeEnd:    meta.End,
		Timezone:    meta.Timezone,
		GeneratedAt: meta.GeneratedAt,
		Rows:        rows,
		Metrics:     make(map[string]float64),
		Series:      make(map[string][]SeriesPoint),
		Top:         make(map[string][]stream.Entry),
		Trends:      []Trend{},
		Findings:    []Finding{},
	}
}

// addTrend appends a trend and, when significant, a matching finding.
func (s *Snapshot) addTrend(tr Trend, ok bool) {
	if !ok {
		return
	}
	s.Trends = append(s.Trends, tr)
	if tr.Significant {
		s.Findings = append(s.Findings, Finding{
			Kind:   "trend_" + tr.Direction,
			Metric: tr.Metric,
			Key:    tr.Granularity,
			Value:  tr.ChangePct,
		})
	}
}

// counterSeries converts a bucket counter into an ascending series.
func counterSeries(c *stream.CounterMap) []SeriesPoint {
	keys := c.Keys()
	out := make([]SeriesPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, SeriesPoint{Key: k, Value: float64(c.Get(k))})
	}
	return out
}
