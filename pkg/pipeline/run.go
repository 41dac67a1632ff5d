package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Sternrassler/reportstream/pkg/client"
	"github.com/Sternrassler/reportstream/pkg/scheduler"
	"github.com/google/uuid"
)

var (
	// ErrCancelled is matched by the error Run returns after cancellation.
	ErrCancelled = scheduler.ErrCancelled

	// ErrSuperseded is the cancellation cause of a run replaced by a newer one.
	ErrSuperseded = errors.New("run superseded")

	// errRunFinished releases a run's context once Run returns.
	errRunFinished = errors.New("run finished")
)

// RunSpec describes the work of one run.
type RunSpec struct {
	Reports    []string
	Facilities []string
	Range      client.DateRange
	Timezone   string
}

// Validate checks that the run names at least one pair and a valid range.
func (s RunSpec) Validate() error {
	if len(s.Reports) == 0 {
		return fmt.Errorf("at least one report is required")
	}
	if len(s.Facilities) == 0 {
		return fmt.Errorf("at least one facility is required")
	}
	for _, f := range s.Facilities {
		if f == "" {
			return fmt.Errorf("facility code must not be empty")
		}
	}
	return s.Range.Validate()
}

// Pairs returns every (report, facility) combination, reports first.
func (s RunSpec) Pairs() []Pair {
	reports := slices.Compact(slices.Sorted(slices.Values(s.Reports)))
	facilities := slices.Compact(slices.Sorted(slices.Values(s.Facilities)))
	out := make([]Pair, 0, len(reports)*len(facilities))
	for _, r := range reports {
		for _, f := range facilities {
			out = append(out, Pair{Report: r, Facility: f})
		}
	}
	return out
}

// Pair is one report for one facility.
type Pair struct {
	Report   string
	Facility string
}

// String formats the pair as report/facility.
func (p Pair) String() string {
	return p.Report + "/" + p.Facility
}

// RunContext is the identity and lifetime of one run.
type RunContext struct {
	ID      string
	Spec    RunSpec
	Started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newRunContext(parent context.Context, spec RunSpec) *RunContext {
	ctx, cancel := context.WithCancelCause(parent)
	return &RunContext{
		ID:      uuid.NewString(),
		Spec:    spec,
		Started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context returns the run's context.
func (rc *RunContext) Context() context.Context {
	return rc.ctx
}

// Err returns the run's cancellation cause, or nil while it is live.
func (rc *RunContext) Err() error {
	return context.Cause(rc.ctx)
}

func sortedStrings(s []string) []string {
	slices.Sort(s)
	return s
}
