package pipeline

import (
	"sort"
	"sync"
	"time"
)

// Status is the state of one (report, facility) pair.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Progress is reported for every status transition and every consumed page.
type Progress struct {
	RunID    string
	Report   string
	Facility string
	Status   Status
	Page     int // pages consumed so far
	LastPage int // effective last page, 0 until page 1 is known
	Rows     int64
	Err      error
}

// PairResult is the final state of one pair.
type PairResult struct {
	Report   string `json:"report"`
	Facility string `json:"facility"`
	Status   Status `json:"status"`
	Pages    int    `json:"pages"`
	LastPage int    `json:"last_page"`
	Rows     int64  `json:"rows"`
	Err      error  `json:"-"`
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Pairs    []PairResult
}

// Failed returns the pairs that ended in StatusError.
func (r *Result) Failed() []PairResult {
	var out []PairResult
	for _, p := range r.Pairs {
		if p.Status == StatusError {
			out = append(out, p)
		}
	}
	return out
}

// Rows returns the total number of rows consumed.
func (r *Result) Rows() int64 {
	var n int64
	for _, p := range r.Pairs {
		n += p.Rows
	}
	return n
}

// pairState tracks one pair during a run.
type pairState struct {
	mu       sync.Mutex
	pair     Pair
	status   Status
	pages    int
	lastPage int
	rows     int64
	err      error
}

func (p *pairState) progress(runID string) Progress {
	return Progress{
		RunID:    runID,
		Report:   p.pair.Report,
		Facility: p.pair.Facility,
		Status:   p.status,
		Page:     p.pages,
		LastPage: p.lastPage,
		Rows:     p.rows,
		Err:      p.err,
	}
}

func (p *pairState) result() PairResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PairResult{
		Report:   p.pair.Report,
		Facility: p.pair.Facility,
		Status:   p.status,
		Pages:    p.pages,
		LastPage: p.lastPage,
		Rows:     p.rows,
		Err:      p.err,
	}
}

func sortPairs(pairs []PairResult) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Report != pairs[j].Report {
			return pairs[i].Report < pairs[j].Report
		}
		return pairs[i].Facility < pairs[j].Facility
	})
}
