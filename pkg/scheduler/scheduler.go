package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/reportstream/pkg/client"
	"github.com/Sternrassler/reportstream/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrClosed is the cancellation cause after Close.
var ErrClosed = errors.New("scheduler closed")

// Fetcher performs a single page request attempt.
type Fetcher interface {
	FetchPage(ctx context.Context, req client.PageRequest) (*client.Page, error)
}

// GatedFetcher is a Fetcher whose rate-limit wait can be separated from the
// request. Only RoundTrip is timed, so throttling never counts as latency.
type GatedFetcher interface {
	Fetcher
	WaitTurn(ctx context.Context) error
	RoundTrip(ctx context.Context, req client.PageRequest) (*client.Page, error)
}

// Config holds scheduler configuration.
type Config struct {
	// Global concurrency bounds and starting point.
	InitialConcurrency int
	MinConcurrency     int
	MaxConcurrency     int

	// RampUpAfter is the number of consecutive successes that raise the
	// global limit by one.
	RampUpAfter int

	// Retry is the retry policy for transient failures.
	Retry client.RetryConfig

	// LatencyWindow is the number of samples per lane used for the p90.
	LatencyWindow int

	// SpikeThreshold halves a lane cap when the p90 exceeds it.
	SpikeThreshold time.Duration

	// RecoverThreshold raises a lane cap by one when the p90 is below it.
	RecoverThreshold time.Duration

	// Lanes holds per-report lane presets; others use DefaultLane.
	Lanes       map[string]LaneConfig
	DefaultLane LaneConfig

	// OnEvent receives observability events. It is called outside the
	// scheduler lock, possibly from several goroutines at once.
	OnEvent func(Event)
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		InitialConcurrency: 8,
		MinConcurrency:     4,
		MaxConcurrency:     20,
		RampUpAfter:        10,
		Retry:              client.DefaultRetryConfig(),
		LatencyWindow:      20,
		SpikeThreshold:     4 * time.Second,
		RecoverThreshold:   1500 * time.Millisecond,
		Lanes:              Presets(),
		DefaultLane:        DefaultLaneConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinConcurrency < 1 {
		return fmt.Errorf("min_concurrency must be >= 1 (got %d)", c.MinConcurrency)
	}
	if c.MaxConcurrency < c.MinConcurrency {
		return fmt.Errorf("max_concurrency %d is below min_concurrency %d", c.MaxConcurrency, c.MinConcurrency)
	}
	if c.RampUpAfter < 1 {
		return fmt.Errorf("ramp_up_after must be >= 1 (got %d)", c.RampUpAfter)
	}
	if c.LatencyWindow < 1 {
		return fmt.Errorf("latency_window must be >= 1 (got %d)", c.LatencyWindow)
	}
	if c.RecoverThreshold >= c.SpikeThreshold {
		return fmt.Errorf("recover_threshold %v must be below spike_threshold %v", c.RecoverThreshold, c.SpikeThreshold)
	}
	for name, l := range c.Lanes {
		if l.Max < 1 || l.Min > l.Max {
			return fmt.Errorf("lane %s: invalid bounds [%d, %d]", name, l.Min, l.Max)
		}
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// job is one PageRequest moving through the scheduler.
type job struct {
	req      client.PageRequest
	ctx      context.Context
	attempts int
	result   chan result
}

type result struct {
	page *client.Page
	err  error
}

// deliver hands the final result to the waiting Do call. result is
// buffered and every job is delivered exactly once.
func (j *job) deliver(page *client.Page, err error) {
	j.result <- result{page: page, err: err}
}

// Scheduler runs page requests for one run. Create one per run and Close it
// when the run ends.
type Scheduler struct {
	cfg     Config
	fetcher Fetcher
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   func() bool

	mu     sync.Mutex
	queue  []*job
	lanes  map[string]*lane
	conc   concurrency
	active int
	done   bool

	wg sync.WaitGroup
}

// New creates a scheduler bound to ctx. Cancelling ctx cancels the
// scheduler.
func New(ctx context.Context, fetcher Fetcher, cfg Config) (*Scheduler, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	sctx, cancel := context.WithCancelCause(ctx)
	s := &Scheduler{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logging.NewLogger("scheduler"),
		ctx:     sctx,
		cancel:  cancel,
		lanes:   make(map[string]*lane),
		conc:    newConcurrency(cfg.InitialConcurrency, cfg.MinConcurrency, cfg.MaxConcurrency, cfg.RampUpAfter),
	}
	s.stop = context.AfterFunc(sctx, func() { s.Cancel(context.Cause(sctx)) })
	concurrencyLimit.Set(float64(s.conc.cur))
	return s, nil
}

// Do submits req and waits for its final outcome: a page, a *PageError,
// or an error matching ErrCancelled.
func (s *Scheduler) Do(ctx context.Context, req client.PageRequest) (*client.Page, error) {
	j := &job{req: req, ctx: ctx, result: make(chan result, 1)}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil, cancelledError(context.Cause(s.ctx))
	}
	s.queue = append(s.queue, j)
	s.dispatchLocked()
	s.mu.Unlock()

	select {
	case r := <-j.result:
		return r.page, r.err
	case <-ctx.Done():
		// an active attempt observes ctx itself; only a queued job is
		// withdrawn here
		s.withdraw(j)
		return nil, cancelledError(context.Cause(ctx))
	}
}

// Cancel rejects all queued jobs with an error matching ErrCancelled and
// cause, and aborts active attempts. Later calls are no-ops.
func (s *Scheduler) Cancel(cause error) {
	if cause == nil {
		cause = ErrCancelled
	}
	s.cancel(cause)

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	queued := s.queue
	s.queue = nil
	queueDepth.Set(0)
	s.mu.Unlock()

	err := cancelledError(context.Cause(s.ctx))
	for _, j := range queued {
		jobsTotal.WithLabelValues(j.req.Report, outcomeCancelled).Inc()
		j.deliver(nil, err)
	}

	if !errors.Is(cause, ErrClosed) {
		s.logger.Warn().
			Err(cause).
			Int("rejected", len(queued)).
			Msg("Scheduler cancelled")
	}
	s.emit([]Event{{Kind: EventCancelled, Time: time.Now(), Err: cause}})
}

// Close cancels the scheduler and waits for active attempts and pending
// backoffs to finish.
func (s *Scheduler) Close() {
	s.Cancel(ErrClosed)
	s.wg.Wait()
	s.stop()
}

// Err returns the cancellation cause, or nil while the scheduler is live.
func (s *Scheduler) Err() error {
	return context.Cause(s.ctx)
}

// Concurrency returns the current global limit.
func (s *Scheduler) Concurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conc.cur
}

// Active returns the number of attempts in flight.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Queued returns the number of queued jobs.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Lanes returns the state of every lane created so far.
func (s *Scheduler) Lanes() []LaneStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LaneStats, 0, len(s.lanes))
	for _, l := range s.lanes {
		out = append(out, l.stats(s.conc.cur))
	}
	return out
}

func (s *Scheduler) laneLocked(report string) *lane {
	l, ok := s.lanes[report]
	if !ok {
		cfg, ok := s.cfg.Lanes[report]
		if !ok {
			cfg = s.cfg.DefaultLane
		}
		l = newLane(report, cfg, s.cfg.MaxConcurrency, s.cfg.LatencyWindow)
		s.lanes[report] = l
		laneCap.WithLabelValues(report).Set(float64(l.cap))
	}
	return l
}

// dispatchLocked starts queued jobs while global and lane capacity allow.
// Jobs of saturated lanes are skipped and stay queued.
func (s *Scheduler) dispatchLocked() {
	for !s.done && s.active < s.conc.cur {
		idx := -1
		for i, j := range s.queue {
			if s.laneLocked(j.req.Report).available(s.conc.cur) {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}

		j := s.queue[idx]
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		if j.ctx.Err() != nil {
			jobsTotal.WithLabelValues(j.req.Report, outcomeCancelled).Inc()
			j.deliver(nil, cancelledError(context.Cause(j.ctx)))
			continue
		}

		l := s.laneLocked(j.req.Report)
		l.active++
		s.active++
		s.wg.Add(1)
		go s.attempt(j, l)
	}
	queueDepth.Set(float64(len(s.queue)))
}

// withdraw removes j from the queue if it is still queued.
func (s *Scheduler) withdraw(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q == j {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			queueDepth.Set(float64(len(s.queue)))
			return
		}
	}
}

// jobContext merges the job's context with the scheduler's.
func (s *Scheduler) jobContext(j *job) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(j.ctx)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

func (s *Scheduler) attempt(j *job, l *lane) {
	defer s.wg.Done()

	j.attempts++
	ctx, release := s.jobContext(j)
	page, elapsed, err := s.fetch(ctx, j.req)
	release()

	s.complete(j, l, page, err, elapsed)
}

// fetch runs one attempt and returns its latency, excluding any rate-limit
// wait. The latency is zero when the wait itself failed.
func (s *Scheduler) fetch(ctx context.Context, req client.PageRequest) (*client.Page, time.Duration, error) {
	g, ok := s.fetcher.(GatedFetcher)
	if !ok {
		start := time.Now()
		page, err := s.fetcher.FetchPage(ctx, req)
		return page, time.Since(start), err
	}
	if err := g.WaitTurn(ctx); err != nil {
		return nil, 0, err
	}
	start := time.Now()
	page, err := g.RoundTrip(ctx, req)
	return page, time.Since(start), err
}

// complete applies the outcome of one attempt and decides the job's next
// state.
func (s *Scheduler) complete(j *job, l *lane, page *client.Page, err error, elapsed time.Duration) {
	now := time.Now()
	events := []Event{{
		Kind:     EventRequestCompleted,
		Time:     now,
		Report:   j.req.Report,
		Facility: j.req.Facility,
		Page:     j.req.Page,
		Attempt:  j.attempts,
		Latency:  elapsed,
		Err:      err,
	}}

	var (
		final   error
		fatal   error
		retry   bool
		backoff time.Duration
		outcome string
	)

	s.mu.Lock()
	l.active--
	s.active--

	class := client.Classify(err)
	switch {
	case err == nil:
		outcome = outcomeSucceeded
		if s.conc.success() {
			events = append(events, s.concurrencyEventLocked(now))
		}
		if l.observe(elapsed, s.cfg.SpikeThreshold, s.cfg.RecoverThreshold) {
			events = append(events, s.laneEventLocked(l, now))
		}

	case s.ctx.Err() != nil:
		outcome = outcomeCancelled
		final = cancelledError(context.Cause(s.ctx))

	case j.ctx.Err() != nil:
		outcome = outcomeCancelled
		final = cancelledError(context.Cause(j.ctx))

	case class == client.ErrorClassAuth:
		outcome = outcomeFailed
		final = s.pageError(j, err)
		fatal = final

	case client.ShouldRetry(class):
		if s.conc.failure() {
			events = append(events, s.concurrencyEventLocked(now))
		}
		if elapsed > 0 && l.observe(elapsed, s.cfg.SpikeThreshold, s.cfg.RecoverThreshold) {
			events = append(events, s.laneEventLocked(l, now))
		}
		if j.attempts > s.cfg.Retry.RetryLimit {
			outcome = outcomeExhausted
			final = s.pageError(j, fmt.Errorf("%w: %w", ErrRetryExhausted, err))
			break
		}
		retry = true
		backoff = s.cfg.Retry.Backoff(j.attempts)
		s.wg.Add(1)
		events = append(events, Event{
			Kind:     EventRetrying,
			Time:     now,
			Report:   j.req.Report,
			Facility: j.req.Facility,
			Page:     j.req.Page,
			Attempt:  j.attempts,
			Backoff:  backoff,
			Err:      err,
		})

	default:
		outcome = outcomeFailed
		final = s.pageError(j, err)
	}

	s.dispatchLocked()
	s.mu.Unlock()

	if outcome != "" {
		jobsTotal.WithLabelValues(j.req.Report, outcome).Inc()
	}

	switch {
	case retry:
		retriesTotal.WithLabelValues(j.req.Report).Inc()
		retryBackoffSeconds.Observe(backoff.Seconds())
		s.logger.Warn().
			Err(err).
			Str("report", j.req.Report).
			Str("facility", j.req.Facility).
			Int("page", j.req.Page).
			Int("attempt", j.attempts).
			Dur("backoff", backoff).
			Msg("Retrying page request")
		go s.retryAfter(j, backoff)
	case err == nil:
		j.deliver(page, nil)
	default:
		j.deliver(nil, final)
	}

	if fatal != nil {
		s.logger.Error().Err(fatal).Msg("Authentication rejected, cancelling run")
		s.Cancel(fatal)
	}
	s.emit(events)
}

// retryAfter sleeps for the backoff and puts j back on the queue.
func (s *Scheduler) retryAfter(j *job, backoff time.Duration) {
	defer s.wg.Done()

	ctx, release := s.jobContext(j)
	err := client.Sleep(ctx, backoff)
	release()
	if err != nil {
		jobsTotal.WithLabelValues(j.req.Report, outcomeCancelled).Inc()
		j.deliver(nil, cancelledError(err))
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		jobsTotal.WithLabelValues(j.req.Report, outcomeCancelled).Inc()
		j.deliver(nil, cancelledError(context.Cause(s.ctx)))
		return
	}
	s.queue = append(s.queue, j)
	s.dispatchLocked()
	s.mu.Unlock()
}

func (s *Scheduler) pageError(j *job, err error) *PageError {
	return &PageError{
		Report:   j.req.Report,
		Facility: j.req.Facility,
		Page:     j.req.Page,
		Attempts: j.attempts,
		Err:      err,
	}
}

func (s *Scheduler) concurrencyEventLocked(now time.Time) Event {
	concurrencyLimit.Set(float64(s.conc.cur))
	return Event{Kind: EventConcurrencyChanged, Time: now, Concurrency: s.conc.cur}
}

func (s *Scheduler) laneEventLocked(l *lane, now time.Time) Event {
	laneCap.WithLabelValues(l.report).Set(float64(l.cap))
	return Event{Kind: EventLaneChanged, Time: now, Report: l.report, LaneCap: l.cap, Concurrency: s.conc.cur}
}

func (s *Scheduler) emit(events []Event) {
	for _, e := range events {
		switch e.Kind {
		case EventConcurrencyChanged:
			s.logger.Info().Int("concurrency", e.Concurrency).Msg("Global concurrency changed")
		case EventLaneChanged:
			s.logger.Debug().Str("report", e.Report).Int("lane_cap", e.LaneCap).Msg("Lane cap changed")
		}
		if s.cfg.OnEvent != nil {
			s.cfg.OnEvent(e)
		}
	}
}
