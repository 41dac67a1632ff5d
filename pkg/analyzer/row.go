package analyzer

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/reportstream/pkg/calendar"
)

// Row is one decoded record of a report page.
type Row map[string]any

// String returns the first non-empty value among fields as a string.
// Numbers are formatted without trailing zeros.
func (r Row) String(fields ...string) (string, bool) {
	for _, f := range fields {
		switch v := r[f].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s, true
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case bool:
			return strconv.FormatBool(v), true
		}
	}
	return "", false
}

// Float returns the first numeric value among fields. Numeric strings are
// accepted. present reports whether any field had a non-empty value; NaN
// and infinities are present but not ok.
func (r Row) Float(fields ...string) (value float64, present bool, ok bool) {
	for _, f := range fields {
		switch v := r[f].(type) {
		case float64:
			return finiteOrZero(v)
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, true, false
			}
			return finiteOrZero(n)
		}
	}
	return 0, false, false
}

func finiteOrZero(v float64) (float64, bool, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true, false
	}
	return v, true, true
}

// Time parses the first present value among fields with cal.
func (r Row) Time(cal *calendar.Calendar, fields ...string) (t time.Time, present bool, err error) {
	for _, f := range fields {
		v, exists := r[f]
		if !exists || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		t, err = cal.ParseValue(v)
		return t, true, err
	}
	return time.Time{}, false, nil
}
