package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportstream_ratelimit_remaining",
		Help: "Requests remaining in the current server rate limit window",
	})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportstream_ratelimit_blocks_total",
		Help: "Total number of requests delayed by Retry-After or a critical budget",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportstream_ratelimit_throttles_total",
		Help: "Total number of requests throttled in the warning band",
	})
)

// Config holds tracker configuration.
type Config struct {
	// ThrottleInterval is the minimum spacing between requests in the
	// warning band.
	ThrottleInterval time.Duration

	// MaxWait caps a single block caused by Retry-After or a critical budget.
	MaxWait time.Duration

	// StaleAfter is how long a reported budget stays authoritative. Older
	// budgets no longer throttle or block; Retry-After always applies.
	StaleAfter time.Duration
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		ThrottleInterval: 500 * time.Millisecond,
		MaxWait:          60 * time.Second,
		StaleAfter:       5 * time.Minute,
	}
}

// Tracker holds the latest server rate-limit state and gates requests.
// It is safe for concurrent use.
type Tracker struct {
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewTracker creates a tracker. Zero config fields take their defaults.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	def := DefaultConfig()
	if cfg.ThrottleInterval <= 0 {
		cfg.ThrottleInterval = def.ThrottleInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	t := &Tracker{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.ThrottleInterval), 1),
		logger:  logger,
		now:     time.Now,
	}
	t.state.UpdateHealth()
	return t
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UpdateFromHeaders folds rate-limit headers of a response into the state.
// Responses without rate-limit headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(headers http.Header) error {
	remainStr := strings.TrimSpace(headers.Get(HeaderRemaining))
	resetStr := strings.TrimSpace(headers.Get(HeaderReset))
	retryStr := strings.TrimSpace(headers.Get(HeaderRetryAfter))
	if remainStr == "" && retryStr == "" {
		return nil
	}

	now := t.now()
	var (
		remain     int
		resetAt    time.Time
		retryAfter time.Time
		err        error
	)
	if remainStr != "" {
		if remain, err = strconv.Atoi(remainStr); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		if resetStr != "" {
			secs, err := strconv.Atoi(resetStr)
			if err != nil {
				return fmt.Errorf("parse %s header: %w", HeaderReset, err)
			}
			resetAt = now.Add(time.Duration(secs) * time.Second)
		}
	}
	if retryStr != "" {
		if retryAfter, err = parseRetryAfter(retryStr, now); err != nil {
			return err
		}
	}

	t.mu.Lock()
	if remainStr != "" {
		t.state.Remaining = remain
		t.state.Known = true
		t.state.ResetAt = resetAt
		rateLimitRemaining.Set(float64(remain))
	}
	if retryAfter.After(t.state.RetryAfter) {
		t.state.RetryAfter = retryAfter
	}
	t.state.LastUpdate = now
	t.state.UpdateHealth()
	state := t.state
	t.mu.Unlock()

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", state.Remaining).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit critical - requests will wait for reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("retry_after", state.RetryAfter).
			Msg("Rate limit state updated")
	}
	return nil
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) (time.Time, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return now.Add(time.Duration(secs) * time.Second), nil
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s header: %w", HeaderRetryAfter, err)
	}
	return at, nil
}

// Wait blocks until a request may be sent. It waits out Retry-After and
// critical budgets (capped at MaxWait) and spaces requests in the warning
// band. A budget older than StaleAfter is disregarded. It returns early with the context's cause when ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	state := t.State()
	now := t.now()
	if state.Known && state.IsStale(now, t.cfg.StaleAfter) {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("last_update", state.LastUpdate).
			Msg("Rate limit budget stale - ignoring")
		state.Known = false
	}

	if d := state.BlockedFor(now); d > 0 {
		if d > t.cfg.MaxWait {
			d = t.cfg.MaxWait
		}
		rateLimitBlocksTotal.Inc()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait", d).
			Msg("Rate limit block - delaying request")

		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-timer.C:
		}
	}

	if state.NeedsThrottling() {
		rateLimitThrottlesTotal.Inc()
		if err := t.limiter.Wait(ctx); err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return cause
			}
			return fmt.Errorf("throttle: %w", err)
		}
	}
	return nil
}
