package analyzer

import (
	"sort"

	"github.com/Sternrassler/reportstream/pkg/calendar"
)

// Factory builds a fresh analyzer for one run.
type Factory func(cal *calendar.Calendar) Analyzer

// Registry maps report names to analyzer factories.
type Registry map[string]Factory

// DefaultRegistry returns the built-in report analyzers.
func DefaultRegistry() Registry {
	return Registry{
		ReportUserActivity:    func(cal *calendar.Calendar) Analyzer { return NewActivityAnalyzer(cal) },
		ReportOrderTurnaround: func(cal *calendar.Calendar) Analyzer { return NewTurnaroundAnalyzer(cal) },
		ReportItemUsage:       func(cal *calendar.Calendar) Analyzer { return NewUsageAnalyzer(cal) },
	}
}

// Names returns the registered report names, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
