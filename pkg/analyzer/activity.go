package analyzer

import (
	"fmt"

	"github.com/Sternrassler/reportstream/pkg/calendar"
	"github.com/Sternrassler/reportstream/pkg/stream"
)

// ReportUserActivity is the report name handled by ActivityAnalyzer.
const ReportUserActivity = "user_activity"

// ActivityAnalyzer summarizes user activity events: volume per
// day/week/hour, action mix and distinct active users.
//
// Row fields: timestamp (or created_at, event_time), user_id, action.
type ActivityAnalyzer struct {
	fieldTracker
	cal *calendar.Calendar

	actions *stream.CounterMap
	hours   *stream.CounterMap
	days    *stream.CounterMap
	weeks   *stream.CounterMap

	// distinct users overall and per ISO week; identifiers are only hashed
	users       *stream.LinearCounter
	weeklyUsers map[string]*stream.LinearCounter
}

// NewActivityAnalyzer creates an analyzer bucketing in cal's timezone.
func NewActivityAnalyzer(cal *calendar.Calendar) *ActivityAnalyzer {
	return &ActivityAnalyzer{
		fieldTracker: newFieldTracker(),
		cal:          cal,
		actions:      stream.NewCounterMap(),
		hours:        stream.NewCounterMap(),
		days:         stream.NewCounterMap(),
		weeks:        stream.NewCounterMap(),
		users:        stream.NewLinearCounter(stream.DefaultLinearCounterBits),
		weeklyUsers:  make(map[string]*stream.LinearCounter),
	}
}

// Report implements Analyzer.
func (a *ActivityAnalyzer) Report() string { return ReportUserActivity }

// Ingest implements Analyzer.
func (a *ActivityAnalyzer) Ingest(row Row) {
	a.rows++

	user, hasUser := row.String("user_id", "user", "username")
	if hasUser {
		a.seen("user_id")
		a.users.Add(user)
	}

	if action, ok := row.String("action", "event", "activity"); ok {
		a.seen("action")
		a.actions.Inc(action)
	}

	ts, present, err := row.Time(a.cal, "timestamp", "created_at", "event_time")
	switch {
	case !present:
		a.tally.Fail("timestamp_missing")
		return
	case err != nil:
		a.tally.Fail("timestamp_unparsed")
		return
	}
	a.tally.OK()

	week := a.cal.WeekKey(ts)
	a.days.Inc(a.cal.DayKey(ts))
	a.weeks.Inc(week)
	a.hours.Inc(a.cal.HourKey(ts))

	if hasUser {
		wu, ok := a.weeklyUsers[week]
		if !ok {
			wu = stream.NewLinearCounter(stream.DefaultLinearCounterBits)
			a.weeklyUsers[week] = wu
		}
		wu.Add(user)
	}
}

// Finalize implements Analyzer.
func (a *ActivityAnalyzer) Finalize(meta Meta) Snapshot {
	s := newSnapshot(ReportUserActivity, meta, a.rows)

	s.Metrics["events"] = float64(a.rows)
	s.Metrics["distinct_users"] = float64(a.users.Estimate())
	s.Metrics["distinct_actions"] = float64(a.actions.Len())
	s.Metrics["active_days"] = float64(a.days.Len())
	if a.days.Len() > 0 {
		s.Metrics["events_per_active_day"] = float64(a.days.Total()) / float64(a.days.Len())
	}

	byDay := counterSeries(a.days)
	byWeek := counterSeries(a.weeks)
	s.Series["events_by_day"] = byDay
	s.Series["events_by_week"] = byWeek
	s.Series["events_by_hour"] = a.hourSeries()
	wau := a.weeklyActiveUsers()
	s.Series["weekly_active_users"] = wau

	s.Top["actions"] = a.actions.Top(10)

	opts := DefaultTrendOptions()
	s.addTrend(DetectTrend("events", []Granularity{
		{Name: "day", Points: byDay},
		{Name: "week", Points: byWeek},
	}, opts))
	s.addTrend(DetectTrend("weekly_active_users", []Granularity{
		{Name: "week", Points: wau},
	}, opts))

	if top := a.hours.Top(1); len(top) == 1 {
		s.Findings = append(s.Findings, Finding{Kind: "peak", Metric: "events_by_hour", Key: top[0].Key, Value: float64(top[0].Value)})
	}
	if top := a.actions.Top(1); len(top) == 1 {
		s.Findings = append(s.Findings, Finding{Kind: "dominant", Metric: "actions", Key: top[0].Key, Value: float64(top[0].Value)})
	}

	s.Warnings = a.tally.Warnings()
	s.Quality = ScoreQuality(a.tally.Ratio(),
		a.coverage("user_id", 0.3),
		a.coverage("action", 0.2),
	)
	return s
}

// hourSeries returns all 24 hours, zero-filled.
func (a *ActivityAnalyzer) hourSeries() []SeriesPoint {
	out := make([]SeriesPoint, 24)
	for h := 0; h < 24; h++ {
		key := fmt.Sprintf("%02d", h)
		out[h] = SeriesPoint{Key: key, Value: float64(a.hours.Get(key))}
	}
	return out
}

func (a *ActivityAnalyzer) weeklyActiveUsers() []SeriesPoint {
	weeks := a.weeks.Keys()
	out := make([]SeriesPoint, 0, len(weeks))
	for _, w := range weeks {
		wu, ok := a.weeklyUsers[w]
		if !ok {
			continue
		}
		out = append(out, SeriesPoint{Key: w, Value: float64(wu.Estimate())})
	}
	return out
}
