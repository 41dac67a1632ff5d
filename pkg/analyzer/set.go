package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/reportstream/pkg/calendar"
	"github.com/Sternrassler/reportstream/pkg/logging"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownReport is returned for a report without a registered analyzer.
	ErrUnknownReport = errors.New("unknown report")

	// ErrClosed is returned by Ingest after Close.
	ErrClosed = errors.New("analyzer set closed")
)

// setEntry serializes all access to one analyzer.
type setEntry struct {
	mu       sync.Mutex
	analyzer Analyzer
}

// Set holds the analyzers of one run, one per report. Ingest for a given
// report is single-writer; different reports proceed independently.
type Set struct {
	entries map[string]*setEntry
	closed  atomic.Bool
	logger  zerolog.Logger
}

// NewSet builds analyzers for reports from reg, all sharing cal.
func NewSet(reg Registry, cal *calendar.Calendar, reports []string) (*Set, error) {
	if cal == nil {
		return nil, fmt.Errorf("calendar is required")
	}
	s := &Set{
		entries: make(map[string]*setEntry, len(reports)),
		logger:  logging.NewLogger("analyzer"),
	}
	for _, r := range reports {
		factory, ok := reg[r]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReport, r)
		}
		s.entries[r] = &setEntry{analyzer: factory(cal)}
	}
	return s, nil
}

// Reports returns the report names in the set, sorted.
func (s *Set) Reports() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ingest folds rows into the report's analyzer.
func (s *Set) Ingest(report string, rows []Row) error {
	e, ok := s.entries[report]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReport, report)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	for _, row := range rows {
		e.analyzer.Ingest(row)
	}
	return nil
}

// Snapshot finalizes one report's current state.
func (s *Set) Snapshot(report string, meta Meta) (Snapshot, error) {
	e, ok := s.entries[report]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownReport, report)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyzer.Finalize(meta), nil
}

// Snapshots finalizes every report, ordered by report name.
func (s *Set) Snapshots(meta Meta) []Snapshot {
	out := make([]Snapshot, 0, len(s.entries))
	for _, name := range s.Reports() {
		snap, _ := s.Snapshot(name, meta)
		out = append(out, snap)
	}
	return out
}

// Close makes the set read-only. Later Ingest calls return ErrClosed.
func (s *Set) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.logger.Debug().Strs("reports", s.Reports()).Msg("Analyzer set closed")
}
