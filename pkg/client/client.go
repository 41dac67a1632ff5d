// Package client fetches report pages from the report API and classifies
// failures for the scheduler.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/reportstream/pkg/logging"
	"github.com/Sternrassler/reportstream/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for report API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_requests_total",
		Help: "Total report API requests by report and status",
	}, []string{"report", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reportstream_request_duration_seconds",
		Help:    "Report API request duration in seconds by report",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"report"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportstream_request_errors_total",
		Help: "Total failed report API requests by error class",
	}, []string{"class"})
)

// maxErrorBody bounds how much of an error response is kept as message.
const maxErrorBody = 512

// TokenSource returns the current bearer token, or false when there is
// none. Tokens are read per request and never stored.
type TokenSource func() (string, bool)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root; pages are fetched from {BaseURL}/reports/{report}.
	BaseURL string

	// UserAgent is sent with every request (required).
	UserAgent string

	// Token supplies the Authorization bearer token. Optional.
	Token TokenSource

	// Timeout bounds a single request.
	Timeout time.Duration

	// SlowFirstPageTimeout replaces Timeout for page 1 of SlowFirstPageReports.
	SlowFirstPageTimeout time.Duration
	SlowFirstPageReports []string

	// RateLimiter gates requests on server rate-limit headers. Optional.
	RateLimiter *ratelimit.Tracker

	// HTTPClient overrides the default transport. Optional.
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration with default timeouts.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:              baseURL,
		UserAgent:            userAgent,
		Timeout:              30 * time.Second,
		SlowFirstPageTimeout: 120 * time.Second,
	}
}

// Client fetches pages from the report API. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %v)", cfg.Timeout)
	}
	if cfg.SlowFirstPageTimeout < cfg.Timeout {
		cfg.SlowFirstPageTimeout = cfg.Timeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		base:       base,
		config:     cfg,
		logger:     logging.NewLogger("client"),
	}, nil
}

// TimeoutFor returns the request timeout that applies to req.
func (c *Client) TimeoutFor(req PageRequest) time.Duration {
	if req.Page == 1 && slices.Contains(c.config.SlowFirstPageReports, req.Report) {
		return c.config.SlowFirstPageTimeout
	}
	return c.config.Timeout
}

// PageURL builds the request URL for req.
func (c *Client) PageURL(req PageRequest) string {
	u := c.base.JoinPath("reports", req.Report)
	q := u.Query()
	q.Set("fac_code", req.Facility)
	q.Set("start_date", req.Range.Start.Format(DateLayout))
	q.Set("end_date", req.Range.End.Format(DateLayout))
	q.Set("page", strconv.Itoa(req.Page))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage waits for rate-limit clearance and performs one attempt at
// fetching req.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	if err := c.WaitTurn(ctx); err != nil {
		return nil, err
	}
	return c.RoundTrip(ctx, req)
}

// WaitTurn blocks until the rate limiter lets a request through. Without a
// limiter it returns immediately.
func (c *Client) WaitTurn(ctx context.Context) error {
	if c.config.RateLimiter == nil {
		return nil
	}
	return c.config.RateLimiter.Wait(ctx)
}

// RoundTrip performs one attempt at fetching req without rate-limit gating.
// Failures are returned as *APIError carrying their ErrorClass; when ctx
// itself ends, the context's cause is returned instead.
func (c *Client) RoundTrip(ctx context.Context, req PageRequest) (*Page, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.TimeoutFor(req))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, c.PageURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != nil {
		if token, ok := c.config.Token(); ok && token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	requestDuration.WithLabelValues(req.Report).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		requestsTotal.WithLabelValues(req.Report, "network_error").Inc()
		return nil, c.fail(req, &APIError{Class: ErrorClassTransient, Message: "request failed", Err: err})
	}
	defer resp.Body.Close()

	if c.config.RateLimiter != nil {
		if err := c.config.RateLimiter.UpdateFromHeaders(resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}
	requestsTotal.WithLabelValues(req.Report, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		class := ClassifyStatus(resp.StatusCode)
		if class == "" {
			class = ErrorClassClient
		}
		return nil, c.fail(req, &APIError{StatusCode: resp.StatusCode, Class: class, Message: msg})
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		var cause error = ErrDecode
		if !errors.Is(err, io.EOF) {
			cause = fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return nil, c.fail(req, &APIError{StatusCode: resp.StatusCode, Class: ErrorClassTransient, Message: "decode page", Err: cause})
	}
	if page.CurrentPage == 0 {
		page.CurrentPage = req.Page
	}
	if page.LastPage < page.CurrentPage {
		page.LastPage = page.CurrentPage
	}

	c.logger.Debug().
		Str("report", req.Report).
		Str("facility", req.Facility).
		Int("page", page.CurrentPage).
		Int("last_page", page.LastPage).
		Int("rows", len(page.Data)).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")

	return &page, nil
}

func (c *Client) fail(req PageRequest, err *APIError) error {
	errorsTotal.WithLabelValues(string(err.Class)).Inc()
	c.logger.Debug().
		Str("report", req.Report).
		Str("facility", req.Facility).
		Int("page", req.Page).
		Int("status_code", err.StatusCode).
		Str("error_class", string(err.Class)).
		Msg("Page request failed")
	return err
}
