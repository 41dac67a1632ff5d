package analyzer

import (
	"math"

	"github.com/Sternrassler/reportstream/pkg/stream"
)

// Quality score thresholds.
const (
	HighQualityScore   = 80
	MediumQualityScore = 55

	// parseWeight is the weight of the parse-success ratio in ScoreQuality.
	parseWeight = 0.5
)

// Quality labels.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Coverage is the share of rows carrying a report-specific field.
type Coverage struct {
	Name   string
	Ratio  float64
	Weight float64
}

// Quality is the data-quality section of a snapshot.
type Quality struct {
	Score      float64            `json:"score"`
	Label      string             `json:"label"`
	ParseRatio float64            `json:"parse_ratio"`
	Coverage   map[string]float64 `json:"coverage"`
}

// ScoreQuality computes a 0-100 score as the weighted mean of the parse
// ratio and the coverage ratios, and maps it to a three-tier label.
func ScoreQuality(parseRatio float64, coverage ...Coverage) Quality {
	q := Quality{
		ParseRatio: clampRatio(parseRatio),
		Coverage:   make(map[string]float64, len(coverage)),
	}

	sum := parseWeight * q.ParseRatio
	weights := parseWeight
	for _, c := range coverage {
		if c.Weight <= 0 {
			continue
		}
		r := clampRatio(c.Ratio)
		q.Coverage[c.Name] = r
		sum += c.Weight * r
		weights += c.Weight
	}

	q.Score = math.Round(sum/weights*1000) / 10
	q.Label = QualityLabel(q.Score)
	return q
}

// QualityLabel maps a score to high/medium/low.
func QualityLabel(score float64) string {
	switch {
	case score >= HighQualityScore:
		return QualityHigh
	case score >= MediumQualityScore:
		return QualityMedium
	default:
		return QualityLow
	}
}

func clampRatio(r float64) float64 {
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// ParseTally counts field parse outcomes and warning kinds.
type ParseTally struct {
	ok       uint64
	failed   uint64
	warnings *stream.CounterMap
}

func newParseTally() ParseTally {
	return ParseTally{warnings: stream.NewCounterMap()}
}

// OK records a successful parse.
func (t *ParseTally) OK() { t.ok++ }

// Fail records a failed parse and a warning of the given kind.
func (t *ParseTally) Fail(kind string) {
	t.failed++
	t.warnings.Inc(kind)
}

// Warn records a warning that does not count as a parse failure.
func (t *ParseTally) Warn(kind string) {
	t.warnings.Inc(kind)
}

// Ratio returns ok/(ok+failed), or 0 when nothing was parsed.
func (t *ParseTally) Ratio() float64 {
	total := t.ok + t.failed
	if total == 0 {
		return 0
	}
	return float64(t.ok) / float64(total)
}

// Warnings returns warning counts by kind, most frequent first.
func (t *ParseTally) Warnings() []stream.Entry {
	return t.warnings.Entries()
}

// fieldTracker is embedded by every analyzer: row count, per-field
// presence and the parse tally.
type fieldTracker struct {
	rows    uint64
	present *stream.CounterMap
	tally   ParseTally
}

func newFieldTracker() fieldTracker {
	return fieldTracker{
		present: stream.NewCounterMap(),
		tally:   newParseTally(),
	}
}

func (f *fieldTracker) seen(field string) {
	f.present.Inc(field)
}

func (f *fieldTracker) coverage(field string, weight float64) Coverage {
	ratio := 0.0
	if f.rows > 0 {
		ratio = float64(f.present.Get(field)) / float64(f.rows)
	}
	return Coverage{Name: field, Ratio: ratio, Weight: weight}
}
