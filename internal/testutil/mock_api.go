// Package testutil provides an in-process mock of the report API.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse overrides the reply for one page.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration

	// Times limits the override to the first n requests; 0 means always.
	Times int
}

// Dataset is the content served for one report and facility.
type Dataset struct {
	Rows     []map[string]any
	PageSize int

	// DeclaredLastPage is reported as last_page when set; otherwise the
	// real page count is used.
	DeclaredLastPage int

	// EndAtPage makes that page answer next_page_url: null.
	EndAtPage int
}

// Request records one request seen by the mock.
type Request struct {
	Report    string
	Facility  string
	Page      int
	StartDate string
	EndDate   string
	Header    http.Header
}

type pageKey struct {
	report   string
	facility string
	page     int
}

type override struct {
	resp MockResponse
	used int
}

// MockAPI is a configurable mock report API server.
type MockAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	datasets  map[string]Dataset
	overrides map[pageKey]*override
	delays    map[pageKey]time.Duration
	requests  []Request
	inFlight  int
	peak      int
}

// NewMockAPI starts a mock report API server.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		datasets:  make(map[string]Dataset),
		overrides: make(map[pageKey]*override),
		delays:    make(map[pageKey]time.Duration),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

func datasetKey(report, facility string) string {
	return report + "\x00" + facility
}

// SetDataset serves ds for report and facility. An empty facility matches
// any facility without its own dataset.
func (m *MockAPI) SetDataset(report, facility string, ds Dataset) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[datasetKey(report, facility)] = ds
}

// SetPageResponse overrides the reply for one page.
func (m *MockAPI) SetPageResponse(report, facility string, page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[pageKey{report, facility, page}] = &override{resp: resp}
}

// SetPageDelay delays the normal reply for one page.
func (m *MockAPI) SetPageDelay(report, facility string, page int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[pageKey{report, facility, page}] = d
}

// Requests returns all requests seen so far.
func (m *MockAPI) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.requests)
}

// RequestCount returns the number of requests seen so far.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// PagesRequested returns the distinct pages requested for report and
// facility, sorted.
func (m *MockAPI) PagesRequested(report, facility string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pages []int
	for _, r := range m.requests {
		if r.Report == report && r.Facility == facility && !slices.Contains(pages, r.Page) {
			pages = append(pages, r.Page)
		}
	}
	slices.Sort(pages)
	return pages
}

// PeakInFlight returns the highest number of concurrently served requests.
func (m *MockAPI) PeakInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	report, ok := strings.CutPrefix(r.URL.Path, "/reports/")
	if !ok || report == "" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return
	}
	facility := q.Get("fac_code")
	key := pageKey{report, facility, page}

	m.mu.Lock()
	m.requests = append(m.requests, Request{
		Report:    report,
		Facility:  facility,
		Page:      page,
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		Header:    r.Header.Clone(),
	})
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)

	var resp *MockResponse
	if o, ok := m.overrides[key]; ok && (o.resp.Times == 0 || o.used < o.resp.Times) {
		o.used++
		resp = &o.resp
	}
	delay := m.delays[key]
	ds, found := m.datasets[datasetKey(report, facility)]
	if !found {
		ds, found = m.datasets[datasetKey(report, "")]
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if resp != nil {
		delay = resp.Delay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if resp != nil {
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		fmt.Fprint(w, resp.Body)
		return
	}
	if !found {
		http.Error(w, "unknown report", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ds.page(report, facility, page))
}

type pageBody struct {
	CurrentPage int              `json:"current_page"`
	LastPage    int              `json:"last_page"`
	NextPageURL *string          `json:"next_page_url"`
	Data        []map[string]any `json:"data"`
}

func (ds Dataset) page(report, facility string, page int) pageBody {
	size := ds.PageSize
	if size <= 0 {
		size = 100
	}
	pages := max(1, (len(ds.Rows)+size-1)/size)
	last := pages
	if ds.DeclaredLastPage > 0 {
		last = ds.DeclaredLastPage
	}

	body := pageBody{CurrentPage: page, LastPage: last, Data: []map[string]any{}}
	if lo := (page - 1) * size; lo < len(ds.Rows) {
		body.Data = ds.Rows[lo:min(lo+size, len(ds.Rows))]
	}
	ended := page >= last || (ds.EndAtPage > 0 && page >= ds.EndAtPage)
	if !ended {
		next := fmt.Sprintf("/reports/%s?fac_code=%s&page=%d", report, facility, page+1)
		body.NextPageURL = &next
	}
	return body
}

// Rows builds n rows with gen(i).
func Rows(n int, gen func(i int) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, gen(i))
	}
	return out
}

// Status returns a MockResponse with the given status and no body.
func Status(code int) MockResponse {
	return MockResponse{StatusCode: code, Body: http.StatusText(code)}
}
