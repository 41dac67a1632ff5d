package analyzer

import (
	"math"
	"sort"

	"github.com/Sternrassler/reportstream/pkg/calendar"
	"github.com/Sternrassler/reportstream/pkg/stream"
)

// ReportOrderTurnaround is the report name handled by TurnaroundAnalyzer.
const ReportOrderTurnaround = "order_turnaround"

// TurnaroundAnalyzer estimates order turnaround (ordered -> completed)
// in minutes with P² estimators overall and per completion day/week.
//
// Row fields: ordered_at (or created_at), completed_at (or resulted_at),
// status, priority.
type TurnaroundAnalyzer struct {
	fieldTracker
	cal *calendar.Calendar

	status   *stream.CounterMap
	priority *stream.CounterMap
	perDay   *stream.CounterMap

	p50 *stream.P2Quantile
	p90 *stream.P2Quantile

	dailyMedian  map[string]*stream.P2Quantile
	weeklyMedian map[string]*stream.P2Quantile

	completed uint64
	open      uint64
	sum       float64
	min       float64
	max       float64
}

// NewTurnaroundAnalyzer creates an analyzer bucketing in cal's timezone.
func NewTurnaroundAnalyzer(cal *calendar.Calendar) *TurnaroundAnalyzer {
	return &TurnaroundAnalyzer{
		fieldTracker: newFieldTracker(),
		cal:          cal,
		status:       stream.NewCounterMap(),
		priority:     stream.NewCounterMap(),
		perDay:       stream.NewCounterMap(),
		p50:          stream.NewP2Quantile(0.5),
		p90:          stream.NewP2Quantile(0.9),
		dailyMedian:  make(map[string]*stream.P2Quantile),
		weeklyMedian: make(map[string]*stream.P2Quantile),
		min:          math.Inf(1),
		max:          math.Inf(-1),
	}
}

// Report implements Analyzer.
func (a *TurnaroundAnalyzer) Report() string { return ReportOrderTurnaround }

// Ingest implements Analyzer.
func (a *TurnaroundAnalyzer) Ingest(row Row) {
	a.rows++

	if st, ok := row.String("status", "order_status"); ok {
		a.seen("status")
		a.status.Inc(st)
	}
	if pr, ok := row.String("priority"); ok {
		a.priority.Inc(pr)
	}

	ordered, present, err := row.Time(a.cal, "ordered_at", "created_at")
	switch {
	case !present:
		a.tally.Fail("ordered_at_missing")
		return
	case err != nil:
		a.tally.Fail("ordered_at_unparsed")
		return
	}
	a.tally.OK()

	done, present, err := row.Time(a.cal, "completed_at", "resulted_at")
	switch {
	case !present:
		a.open++
		return
	case err != nil:
		a.tally.Fail("completed_at_unparsed")
		return
	}
	a.tally.OK()
	a.seen("completed_at")

	minutes := done.Sub(ordered).Minutes()
	if minutes < 0 {
		a.tally.Warn("negative_duration")
		return
	}

	a.completed++
	a.sum += minutes
	a.min = math.Min(a.min, minutes)
	a.max = math.Max(a.max, minutes)
	a.p50.Add(minutes)
	a.p90.Add(minutes)

	day := a.cal.DayKey(done)
	a.perDay.Inc(day)
	medianFor(a.dailyMedian, day).Add(minutes)
	medianFor(a.weeklyMedian, a.cal.WeekKey(done)).Add(minutes)
}

func medianFor(m map[string]*stream.P2Quantile, key string) *stream.P2Quantile {
	e, ok := m[key]
	if !ok {
		e = stream.NewP2Quantile(0.5)
		m[key] = e
	}
	return e
}

// Finalize implements Analyzer.
func (a *TurnaroundAnalyzer) Finalize(meta Meta) Snapshot {
	s := newSnapshot(ReportOrderTurnaround, meta, a.rows)

	s.Metrics["orders"] = float64(a.rows)
	s.Metrics["completed"] = float64(a.completed)
	s.Metrics["open"] = float64(a.open)
	if a.completed > 0 {
		s.Metrics["turnaround_p50_min"] = a.p50.Value()
		s.Metrics["turnaround_p90_min"] = a.p90.Value()
		s.Metrics["turnaround_mean_min"] = a.sum / float64(a.completed)
		s.Metrics["turnaround_min_min"] = a.min
		s.Metrics["turnaround_max_min"] = a.max
	}

	byDay := quantileSeries(a.dailyMedian)
	byWeek := quantileSeries(a.weeklyMedian)
	s.Series["median_by_day"] = byDay
	s.Series["median_by_week"] = byWeek
	s.Series["completed_by_day"] = counterSeries(a.perDay)

	s.Top["status"] = a.status.Top(10)
	s.Top["priority"] = a.priority.Top(10)

	s.addTrend(DetectTrend("turnaround_median", []Granularity{
		{Name: "day", Points: byDay},
		{Name: "week", Points: byWeek},
	}, DefaultTrendOptions()))

	if a.completed > 0 {
		s.Findings = append(s.Findings, Finding{Kind: "tail", Metric: "turnaround_p90_min", Value: a.p90.Value()})
	}

	s.Warnings = a.tally.Warnings()
	s.Quality = ScoreQuality(a.tally.Ratio(),
		a.coverage("completed_at", 0.3),
		a.coverage("status", 0.2),
	)
	return s
}

// quantileSeries reads the current estimate of each bucket in key order.
func quantileSeries(m map[string]*stream.P2Quantile) []SeriesPoint {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]SeriesPoint, 0, len(keys))
	for _, k := range keys {
		if v, ok := m[k].Quantile(); ok {
			out = append(out, SeriesPoint{Key: k, Value: v})
		}
	}
	return out
}
