package analyzer

import (
	"math"

	"github.com/Sternrassler/reportstream/pkg/calendar"
	"github.com/Sternrassler/reportstream/pkg/stream"
)

// ReportItemUsage is the report name handled by UsageAnalyzer.
const ReportItemUsage = "item_usage"

// UsageAnalyzer totals item consumption. Quantities are rounded to whole
// units; a missing quantity counts as one unit.
//
// Row fields: item (or item_code, item_name), quantity (or qty),
// used_at (or timestamp), user_id.
type UsageAnalyzer struct {
	fieldTracker
	cal *calendar.Calendar

	quantity *stream.CounterMap // item -> units
	lines    *stream.CounterMap // item -> rows
	perDay   *stream.CounterMap
	perWeek  *stream.CounterMap

	users *stream.LinearCounter
	p50   *stream.P2Quantile
	p90   *stream.P2Quantile
}

// NewUsageAnalyzer creates an analyzer bucketing in cal's timezone.
func NewUsageAnalyzer(cal *calendar.Calendar) *UsageAnalyzer {
	return &UsageAnalyzer{
		fieldTracker: newFieldTracker(),
		cal:          cal,
		quantity:     stream.NewCounterMap(),
		lines:        stream.NewCounterMap(),
		perDay:       stream.NewCounterMap(),
		perWeek:      stream.NewCounterMap(),
		users:        stream.NewLinearCounter(stream.DefaultLinearCounterBits),
		p50:          stream.NewP2Quantile(0.5),
		p90:          stream.NewP2Quantile(0.9),
	}
}

// maxQuantity bounds a single row's quantity so per-item totals cannot
// overflow.
const maxQuantity = math.MaxUint32

// Report implements Analyzer.
func (a *UsageAnalyzer) Report() string { return ReportItemUsage }

// Ingest implements Analyzer.
func (a *UsageAnalyzer) Ingest(row Row) {
	a.rows++

	if user, ok := row.String("user_id", "user"); ok {
		a.users.Add(user)
	}

	qty := 1.0
	switch v, present, ok := row.Float("quantity", "qty"); {
	case !present:
		a.tally.Warn("quantity_missing")
	case !ok || v > maxQuantity:
		a.tally.Fail("quantity_unparsed")
	case v < 0:
		a.tally.Warn("negative_quantity")
		a.seen("quantity")
		return
	default:
		a.tally.OK()
		a.seen("quantity")
		qty = v
	}
	units := uint64(math.Round(qty))

	item, ok := row.String("item", "item_code", "item_name")
	if !ok {
		a.tally.Warn("item_missing")
		return
	}
	a.seen("item")
	a.quantity.Add(item, units)
	a.lines.Inc(item)
	a.p50.Add(qty)
	a.p90.Add(qty)

	ts, present, err := row.Time(a.cal, "used_at", "timestamp")
	switch {
	case !present:
		a.tally.Warn("used_at_missing")
	case err != nil:
		a.tally.Fail("used_at_unparsed")
	default:
		a.tally.OK()
		a.perDay.Add(a.cal.DayKey(ts), units)
		a.perWeek.Add(a.cal.WeekKey(ts), units)
	}
}

// Finalize implements Analyzer.
func (a *UsageAnalyzer) Finalize(meta Meta) Snapshot {
	s := newSnapshot(ReportItemUsage, meta, a.rows)

	s.Metrics["lines"] = float64(a.rows)
	s.Metrics["total_quantity"] = float64(a.quantity.Total())
	s.Metrics["distinct_items"] = float64(a.quantity.Len())
	s.Metrics["distinct_users"] = float64(a.users.Estimate())
	if v, ok := a.p50.Quantile(); ok {
		s.Metrics["quantity_p50"] = v
		s.Metrics["quantity_p90"] = a.p90.Value()
	}

	byDay := counterSeries(a.perDay)
	byWeek := counterSeries(a.perWeek)
	s.Series["quantity_by_day"] = byDay
	s.Series["quantity_by_week"] = byWeek

	s.Top["items_by_quantity"] = a.quantity.Top(10)
	s.Top["items_by_lines"] = a.lines.Top(10)

	s.addTrend(DetectTrend("quantity", []Granularity{
		{Name: "day", Points: byDay},
		{Name: "week", Points: byWeek},
	}, DefaultTrendOptions()))

	if total := a.quantity.Total(); total > 0 {
		if top := a.quantity.Top(1); len(top) == 1 {
			share := float64(top[0].Value) / float64(total) * 100
			s.Findings = append(s.Findings, Finding{Kind: "concentration", Metric: "items_by_quantity", Key: top[0].Key, Value: math.Round(share*10) / 10})
		}
	}

	s.Warnings = a.tally.Warnings()
	s.Quality = ScoreQuality(a.tally.Ratio(),
		a.coverage("item", 0.3),
		a.coverage("quantity", 0.2),
	)
	return s
}
