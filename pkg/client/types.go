package client

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of start_date and end_date.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Validate reports an error when either bound is missing or End is
// before Start.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range requires start and end")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s is before start %s",
			r.End.Format(DateLayout), r.Start.Format(DateLayout))
	}
	return nil
}

// String formats the range as "start..end".
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// PageRequest identifies one page of one report for one facility.
type PageRequest struct {
	Report   string
	Facility string
	Page     int
	Range    DateRange
}

// String identifies the request in logs and errors.
func (r PageRequest) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Report, r.Facility, r.Page)
}

// Page is one decoded page of a report.
type Page struct {
	CurrentPage int              `json:"current_page"`
	LastPage    int              `json:"last_page"`
	NextPageURL *string          `json:"next_page_url"`
	Data        []map[string]any `json:"data"`
}

// HasNext reports whether the server announced a following page.
func (p *Page) HasNext() bool {
	return p.NextPageURL != nil && *p.NextPageURL != ""
}

// EffectiveLastPage is the last page as far as this page knows: the
// declared last page, or the current page when no next page is announced.
func (p *Page) EffectiveLastPage() int {
	if !p.HasNext() {
		return p.CurrentPage
	}
	if p.LastPage < p.CurrentPage {
		return p.CurrentPage
	}
	return p.LastPage
}
