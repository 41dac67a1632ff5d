package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/reportstream/pkg/client"
	"github.com/Sternrassler/reportstream/pkg/logging"
	"github.com/Sternrassler/reportstream/pkg/scheduler"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config holds coordinator configuration.
type Config struct {
	// Window is the number of pages per pair that may be in flight or
	// awaiting consumption at once.
	Window int

	// YieldEvery yields the processor after this many consumed pages per pair.
	YieldEvery int

	// PairConcurrency limits the pairs processed at once; 0 means no limit.
	PairConcurrency int

	// Scheduler configures the per-run scheduler.
	Scheduler scheduler.Config

	// OnProgress receives pair status transitions and per-page progress of
	// the current run. It may be called from several goroutines at once.
	OnProgress func(Progress)

	// OnEvent receives scheduler events.
	OnEvent func(scheduler.Event)
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Window:     4,
		YieldEvery: 8,
		Scheduler:  scheduler.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window < 1 {
		return fmt.Errorf("window must be >= 1 (got %d)", c.Window)
	}
	if c.YieldEvery < 0 {
		return fmt.Errorf("yield_every must be >= 0 (got %d)", c.YieldEvery)
	}
	if c.PairConcurrency < 0 {
		return fmt.Errorf("pair_concurrency must be >= 0 (got %d)", c.PairConcurrency)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

// Coordinator runs report ingestion. Only one run is current at a time;
// starting a new run supersedes the previous one.
type Coordinator struct {
	fetcher scheduler.Fetcher
	cfg     Config
	logger  zerolog.Logger
	yield   func()

	mu      sync.Mutex
	current *RunContext
}

// NewCoordinator creates a coordinator fetching pages through fetcher.
func NewCoordinator(fetcher scheduler.Fetcher, cfg Config) (*Coordinator, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logging.NewLogger("pipeline"),
		yield:   runtime.Gosched,
	}, nil
}

// Current returns the current run, or nil.
func (c *Coordinator) Current() *RunContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Cancel cancels the current run. It reports whether a run was cancelled.
func (c *Coordinator) Cancel(reason string) bool {
	rc := c.Current()
	if rc == nil {
		return false
	}
	if reason == "" {
		rc.cancel(ErrCancelled)
	} else {
		rc.cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
	}
	return true
}

// Run processes every (report, facility) pair of spec and feeds the rows to
// consumer. Pair failures are reported in the Result. The returned error is
// non-nil only when an auth failure aborted the run or the run was
// cancelled; the latter matches ErrCancelled.
func (c *Coordinator) Run(ctx context.Context, spec RunSpec, consumer Consumer) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}

	rc := newRunContext(ctx, spec)
	c.mu.Lock()
	prev := c.current
	c.current = rc
	c.mu.Unlock()
	if prev != nil {
		prev.cancel(fmt.Errorf("%w: %w", ErrCancelled, ErrSuperseded))
	}
	defer func() {
		c.mu.Lock()
		if c.current == rc {
			c.current = nil
		}
		c.mu.Unlock()
		rc.cancel(errRunFinished)
	}()

	logger := logging.WithRun(c.logger, rc.ID)

	schedCfg := c.cfg.Scheduler
	schedCfg.OnEvent = c.cfg.OnEvent
	sched, err := scheduler.New(rc.ctx, c.fetcher, schedCfg)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	defer sched.Close()

	pairs := spec.Pairs()
	states := make([]*pairState, len(pairs))
	for i, p := range pairs {
		states[i] = &pairState{pair: p, status: StatusQueued}
		c.report(rc, states[i])
	}

	logger.Info().
		Strs("reports", spec.Reports).
		Strs("facilities", spec.Facilities).
		Str("range", spec.Range.String()).
		Int("pairs", len(pairs)).
		Msg("Run started")

	g, gctx := errgroup.WithContext(rc.ctx)
	if c.cfg.PairConcurrency > 0 {
		g.SetLimit(c.cfg.PairConcurrency)
	}
	for _, st := range states {
		g.Go(func() error {
			return c.runPair(gctx, rc, sched, st, consumer, logger)
		})
	}
	fatal := g.Wait()
	if cause := sched.Err(); fatal == nil && client.IsFatalToRun(cause) {
		fatal = cause
	}

	res := &Result{RunID: rc.ID, Started: rc.Started, Finished: time.Now()}
	for _, st := range states {
		pr := st.result()
		pairsTotal.WithLabelValues(string(pr.Status)).Inc()
		res.Pairs = append(res.Pairs, pr)
	}
	sortPairs(res.Pairs)

	duration := res.Finished.Sub(res.Started)
	switch {
	case fatal != nil:
		runsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(fatal).Dur("duration", duration).Msg("Run aborted")
		return res, fatal
	case rc.Err() != nil:
		runsTotal.WithLabelValues("cancelled").Inc()
		logger.Info().Err(rc.Err()).Dur("duration", duration).Msg("Run cancelled")
		return res, cancelled(rc.Err())
	}

	runsTotal.WithLabelValues("done").Inc()
	logger.Info().
		Int("pairs", len(res.Pairs)).
		Int("failed", len(res.Failed())).
		Int64("rows", res.Rows()).
		Dur("duration", duration).
		Msg("Run finished")
	return res, nil
}

// runPair fetches one pair. It returns an error only when the failure is
// fatal to the whole run.
func (c *Coordinator) runPair(ctx context.Context, rc *RunContext, sched *scheduler.Scheduler, st *pairState, consumer Consumer, logger zerolog.Logger) error {
	pair := st.pair
	request := func(page int) client.PageRequest {
		return client.PageRequest{Report: pair.Report, Facility: pair.Facility, Page: page, Range: rc.Spec.Range}
	}

	if !c.live(rc) {
		return c.endPair(rc, st, rc.Err(), logger)
	}
	c.transition(rc, st, StatusRunning, nil)

	first, err := sched.Do(ctx, request(1))
	if err != nil {
		return c.endPair(rc, st, err, logger)
	}
	st.mu.Lock()
	st.lastPage = first.EffectiveLastPage()
	st.mu.Unlock()
	if err := c.deliver(ctx, rc, st, 1, first, consumer); err != nil {
		return c.endPair(rc, st, err, logger)
	}

	var last atomic.Int64
	last.Store(int64(first.EffectiveLastPage()))
	inflight := newInflightPages()

	sem := semaphore.NewWeighted(int64(c.cfg.Window))
	pg, pctx := errgroup.WithContext(ctx)
	for page := 2; page <= int(last.Load()); page++ {
		if err := sem.Acquire(pctx, 1); err != nil {
			break
		}
		// a page completed while waiting may have lowered the last page
		if page > int(last.Load()) {
			sem.Release(1)
			break
		}
		pageCtx, done := inflight.track(pctx, page, &last)
		pg.Go(func() error {
			defer sem.Release(1)
			defer done()
			p, err := sched.Do(pageCtx, request(page))
			if page > int(last.Load()) {
				stalePagesTotal.Inc()
				logger.Debug().Str("pair", pair.String()).Int("page", page).Msg("Discarding page beyond last page")
				return nil
			}
			if err != nil {
				return err
			}
			if !p.HasNext() {
				c.lowerLastPage(&last, inflight, st, page, logger)
			}
			return c.deliver(pctx, rc, st, page, p, consumer)
		})
	}
	if err := pg.Wait(); err != nil {
		return c.endPair(rc, st, err, logger)
	}
	if err := ctx.Err(); err != nil {
		return c.endPair(rc, st, context.Cause(ctx), logger)
	}
	return c.endPair(rc, st, nil, logger)
}

// lowerLastPage revises the effective last page down to page and cancels
// requests for pages beyond it.
func (c *Coordinator) lowerLastPage(last *atomic.Int64, inflight *inflightPages, st *pairState, page int, logger zerolog.Logger) {
	for {
		cur := last.Load()
		if int64(page) >= cur {
			return
		}
		if last.CompareAndSwap(cur, int64(page)) {
			st.mu.Lock()
			st.lastPage = page
			st.mu.Unlock()
			aborted := inflight.cancelAbove(page)
			logger.Info().
				Str("pair", st.pair.String()).
				Int64("declared", cur).
				Int("effective", page).
				Int("aborted", aborted).
				Msg("Last page revised")
			return
		}
	}
}

// errBeyondLastPage cancels requests for pages past the effective last page.
var errBeyondLastPage = errors.New("page beyond effective last page")

// inflightPages holds the cancel functions of one pair's outstanding pages.
type inflightPages struct {
	mu      sync.Mutex
	cancels map[int]context.CancelCauseFunc
}

func newInflightPages() *inflightPages {
	return &inflightPages{cancels: make(map[int]context.CancelCauseFunc)}
}

// track derives a context for page. It is cancelled at once if last has
// already dropped below page; done must be called when the page is finished.
func (f *inflightPages) track(ctx context.Context, page int, last *atomic.Int64) (context.Context, func()) {
	pageCtx, cancel := context.WithCancelCause(ctx)
	f.mu.Lock()
	f.cancels[page] = cancel
	f.mu.Unlock()
	if int64(page) > last.Load() {
		cancel(errBeyondLastPage)
	}
	return pageCtx, func() {
		f.mu.Lock()
		delete(f.cancels, page)
		f.mu.Unlock()
		cancel(nil)
	}
}

// cancelAbove cancels every tracked page above last and returns how many
// were cancelled.
func (f *inflightPages) cancelAbove(last int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for page, cancel := range f.cancels {
		if page > last {
			cancel(errBeyondLastPage)
			n++
		}
	}
	return n
}

// deliver hands one page to the consumer if the run is still current.
func (c *Coordinator) deliver(ctx context.Context, rc *RunContext, st *pairState, page int, p *client.Page, consumer Consumer) error {
	if !c.live(rc) {
		stalePagesTotal.Inc()
		return nil
	}
	b := Batch{
		RunID:    rc.ID,
		Report:   st.pair.Report,
		Facility: st.pair.Facility,
		Page:     page,
		Rows:     toRows(p.Data),
	}
	if err := consumer.Consume(ctx, b); err != nil {
		return fmt.Errorf("consume %s page %d: %w", st.pair, page, err)
	}
	if !c.live(rc) {
		return nil
	}
	pagesTotal.WithLabelValues(b.Report).Inc()
	rowsTotal.WithLabelValues(b.Report).Add(float64(len(b.Rows)))

	st.mu.Lock()
	st.pages++
	st.rows += int64(len(b.Rows))
	pages := st.pages
	pr := st.progress(rc.ID)
	st.mu.Unlock()
	if c.cfg.OnProgress != nil {
		c.cfg.OnProgress(pr)
	}

	if c.cfg.YieldEvery > 0 && pages%c.cfg.YieldEvery == 0 {
		c.yield()
	}
	return nil
}

// endPair records the final status of a pair and decides whether err is
// fatal to the run.
func (c *Coordinator) endPair(rc *RunContext, st *pairState, err error, logger zerolog.Logger) error {
	log := logger.With().Str("pair", st.pair.String()).Logger()
	switch {
	case err == nil:
		c.transition(rc, st, StatusDone, nil)
		st.mu.Lock()
		pages, rows := st.pages, st.rows
		st.mu.Unlock()
		log.Info().Int("pages", pages).Int64("rows", rows).Msg("Pair done")
		return nil

	// cancellation errors caused by an auth failure elsewhere carry the
	// auth error too, so they are matched first
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || rc.Err() != nil:
		st.mu.Lock()
		st.status = StatusCancelled
		st.mu.Unlock()
		log.Debug().Err(err).Msg("Pair cancelled")
		return nil

	case client.IsFatalToRun(err):
		c.transition(rc, st, StatusError, err)
		log.Error().Err(err).Msg("Authorization failed, cancelling run")
		rc.cancel(err)
		return err

	default:
		c.transition(rc, st, StatusError, err)
		log.Error().Err(err).Msg("Pair failed")
		return nil
	}
}

// transition sets the status of st and reports it while the run is live.
func (c *Coordinator) transition(rc *RunContext, st *pairState, status Status, err error) {
	st.mu.Lock()
	st.status = status
	st.err = err
	st.mu.Unlock()
	c.report(rc, st)
}

func (c *Coordinator) report(rc *RunContext, st *pairState) {
	if c.cfg.OnProgress == nil || !c.live(rc) {
		return
	}
	st.mu.Lock()
	pr := st.progress(rc.ID)
	st.mu.Unlock()
	c.cfg.OnProgress(pr)
}

// live reports whether rc is the current run and not cancelled.
func (c *Coordinator) live(rc *RunContext) bool {
	if rc.ctx.Err() != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == rc
}

// cancelled wraps cause so that it matches ErrCancelled.
func cancelled(cause error) error {
	switch {
	case cause == nil:
		return ErrCancelled
	case errors.Is(cause, ErrCancelled):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}
