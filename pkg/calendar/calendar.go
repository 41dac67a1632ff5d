// Package calendar provides the run-scoped timezone handle used to parse
// row timestamps and derive day/week/month bucket keys.
//
// A Calendar is constructed explicitly for each run and passed to the
// analyzers that need it; there is no package-level state.
package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnparsable is returned when a timestamp matches none of the layouts.
var ErrUnparsable = errors.New("unparsable timestamp")

// DefaultLayouts are tried in order by Parse.
var DefaultLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Calendar parses timestamps and buckets them in one location.
type Calendar struct {
	loc     *time.Location
	layouts []string
}

// New creates a Calendar for the IANA timezone name. An empty name means UTC.
func New(timezone string) (*Calendar, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &Calendar{loc: loc, layouts: DefaultLayouts}, nil
}

// MustNew is New for static timezone names; it panics on error.
func MustNew(timezone string) *Calendar {
	c, err := New(timezone)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the calendar's location.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Parse parses s using the configured layouts. Timestamps without an
// explicit offset are interpreted in the calendar's location.
func (c *Calendar) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnparsable
	}
	for _, layout := range c.layouts {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t.In(c.loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsable, s)
}

// ParseValue parses a decoded JSON value: strings via Parse, numbers as
// Unix seconds (or milliseconds when the magnitude says so).
func (c *Calendar) ParseValue(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		return c.Parse(x)
	case float64:
		if x <= 0 {
			return time.Time{}, ErrUnparsable
		}
		if x > 1e12 {
			return time.UnixMilli(int64(x)).In(c.loc), nil
		}
		return time.Unix(int64(x), 0).In(c.loc), nil
	default:
		return time.Time{}, ErrUnparsable
	}
}

// DayKey returns "2006-01-02" for t in the calendar's location.
func (c *Calendar) DayKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// WeekKey returns the ISO week key, e.g. "2024-W05".
func (c *Calendar) WeekKey(t time.Time) string {
	year, week := t.In(c.loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthKey returns "2006-01".
func (c *Calendar) MonthKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01")
}

// HourKey returns the two digit hour of day ("00".."23").
func (c *Calendar) HourKey(t time.Time) string {
	return fmt.Sprintf("%02d", t.In(c.loc).Hour())
}
