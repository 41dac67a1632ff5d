package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/reportstream/internal/config"
	"github.com/Sternrassler/reportstream/pkg/analyzer"
	"github.com/Sternrassler/reportstream/pkg/calendar"
	"github.com/Sternrassler/reportstream/pkg/client"
	"github.com/Sternrassler/reportstream/pkg/journal"
	"github.com/Sternrassler/reportstream/pkg/logging"
	"github.com/Sternrassler/reportstream/pkg/pipeline"
	"github.com/Sternrassler/reportstream/pkg/ratelimit"
	"github.com/Sternrassler/reportstream/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runOptions struct {
	reports    []string
	facilities []string
	from       string
	to         string
	timezone   string
	baseURL    string
	window     int
	output     string
	noStore    bool
	noJournal  bool
}

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch reports and compute snapshots",
		Long: `Fetch every report for every facility over the date range and print a
summary per (report, facility) pair. Snapshots are written to --output,
stored in Redis when redis_addr is set, and the run is recorded in the
journal.

Pressing Ctrl-C cancels the run; a cancelled run is not an error.`,
		Example: `  reportstream run -f F1,F2 --from 2024-01-01 --to 2024-03-31
  reportstream run -r user_activity -f F1 --from 2024-01-01 --to 2024-01-31 -o -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.reports, "reports", "r", analyzer.DefaultRegistry().Names(), "reports to fetch")
	f.StringSliceVarP(&opts.facilities, "facilities", "f", nil, "facility codes")
	f.StringVar(&opts.from, "from", "", "first day of the range ("+client.DateLayout+")")
	f.StringVar(&opts.to, "to", "", "last day of the range ("+client.DateLayout+")")
	f.StringVar(&opts.timezone, "timezone", "", "IANA timezone for bucketing (overrides config)")
	f.StringVar(&opts.baseURL, "base-url", "", "report API base URL (overrides config)")
	f.IntVar(&opts.window, "window", 0, "in-flight pages per pair (overrides config)")
	f.StringVarP(&opts.output, "output", "o", "", "write snapshots as JSON to this file, - for stdout")
	f.BoolVar(&opts.noStore, "no-store", false, "do not store snapshots in Redis")
	f.BoolVar(&opts.noJournal, "no-journal", false, "do not record the run in the journal")
	_ = cmd.MarkFlagRequired("facilities")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runRun(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if opts.timezone != "" {
		cfg.Timezone = opts.timezone
	}
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.window > 0 {
		cfg.Pipeline.Window = opts.window
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logging.Setup(cfg.LoggingConfig())
	logger := logging.NewLogger("cli")

	cal, err := calendar.New(cfg.Timezone)
	if err != nil {
		return err
	}
	rng, err := parseRange(opts.from, opts.to, cal)
	if err != nil {
		return err
	}
	spec := pipeline.RunSpec{
		Reports:    opts.reports,
		Facilities: opts.facilities,
		Range:      rng,
		Timezone:   cfg.Timezone,
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	set, err := analyzer.NewSet(analyzer.DefaultRegistry(), cal, spec.Reports)
	if err != nil {
		return err
	}
	defer set.Close()

	tracker := ratelimit.NewTracker(cfg.RateLimitConfig(), logging.NewLogger("ratelimit"))
	apiClient, err := client.New(cfg.ClientConfig(config.EnvToken, tracker))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var jr *journal.Journal
	if !opts.noJournal && cfg.JournalPath != "" {
		jr, err = journal.Open(cfg.JournalPath, journal.DefaultOptions())
		if err != nil {
			return err
		}
		defer jr.Close()
	}

	var snapshots *store.Manager
	if !opts.noStore && cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		snapshots = store.NewManager(rdb, cfg.SnapshotTTL())
	}

	rec := &progressRecorder{ctx: ctx, journal: jr, spec: spec, logger: logger}
	pcfg := cfg.PipelineConfig()
	pcfg.OnProgress = rec.record
	coord, err := pipeline.NewCoordinator(apiClient, pcfg)
	if err != nil {
		return err
	}

	var consumer pipeline.Consumer = pipeline.NewAnalyzerConsumer(set)
	var async *pipeline.AsyncConsumer
	if cfg.Pipeline.Async {
		acfg := cfg.AsyncConfig()
		acfg.OnEmit = func(reports []string) {
			logger.Debug().Strs("reports", reports).Msg("Snapshots updated")
		}
		async, err = pipeline.NewAsyncConsumer(consumer, acfg)
		if err != nil {
			return err
		}
		defer async.Close()
		consumer = async
	}

	if cfg.MetricsAddr != "" {
		srv := newServer(cfg.MetricsAddr, coord, async)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info().Msg("Received shutdown signal, cancelling run")
			if !coord.Cancel("interrupted") {
				cancel()
			}
		case <-ctx.Done():
		}
	}()

	res, runErr := coord.Run(ctx, spec, consumer)
	if async != nil {
		async.Close()
	}

	status := journal.RunDone
	switch {
	case runErr == nil:
	case client.IsFatalToRun(runErr):
		status = journal.RunFailed
	case errors.Is(runErr, pipeline.ErrCancelled):
		status = journal.RunCancelled
	default:
		status = journal.RunFailed
	}
	rec.finish(status, runErr)

	if status == journal.RunCancelled {
		fmt.Fprintln(cmd.ErrOrStderr(), "Run cancelled.")
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}

	meta := analyzer.Meta{
		RunID:       res.RunID,
		Facilities:  spec.Facilities,
		Start:       rng.Start,
		End:         rng.End,
		Timezone:    cfg.Timezone,
		GeneratedAt: time.Now(),
	}
	snaps := set.Snapshots(meta)
	if snapshots != nil {
		for _, snap := range snaps {
			if err := snapshots.Save(ctx, snap); err != nil {
				logger.Warn().Err(err).Str("report", snap.Report).Msg("Failed to store snapshot")
			}
		}
	}

	printSummary(cmd.OutOrStdout(), res)
	return writeSnapshots(opts.output, cmd.OutOrStdout(), snaps)
}

// parseRange parses two calendar days in the run's timezone.
func parseRange(from, to string, cal *calendar.Calendar) (client.DateRange, error) {
	start, err := time.ParseInLocation(client.DateLayout, from, cal.Location())
	if err != nil {
		return client.DateRange{}, fmt.Errorf("invalid --from %q: %w", from, err)
	}
	end, err := time.ParseInLocation(client.DateLayout, to, cal.Location())
	if err != nil {
		return client.DateRange{}, fmt.Errorf("invalid --to %q: %w", to, err)
	}
	rng := client.DateRange{Start: start, End: end}
	return rng, rng.Validate()
}

// progressRecorder logs pair transitions and mirrors them into the journal.
type progressRecorder struct {
	ctx     context.Context
	journal *journal.Journal
	spec    pipeline.RunSpec
	logger  zerolog.Logger

	once  sync.Once
	runID string
}

func (r *progressRecorder) record(p pipeline.Progress) {
	pair := p.Report + "/" + p.Facility
	switch {
	case p.Status == pipeline.StatusError:
		r.logger.Error().Err(p.Err).Str("pair", pair).Msg("Pair failed")
	case p.Status == pipeline.StatusRunning && p.Page > 0:
		r.logger.Debug().Str("pair", pair).Int("page", p.Page).Int("last_page", p.LastPage).Int64("rows", p.Rows).Msg("Progress")
	default:
		r.logger.Info().Str("pair", pair).Str("status", string(p.Status)).Msg("Pair status")
	}

	if r.journal == nil {
		return
	}
	r.once.Do(func() {
		r.runID = p.RunID
		err := r.journal.BeginRun(r.ctx, journal.RunRecord{
			ID:         p.RunID,
			Reports:    r.spec.Reports,
			Facilities: r.spec.Facilities,
			RangeStart: r.spec.Range.Start,
			RangeEnd:   r.spec.Range.End,
			Timezone:   r.spec.Timezone,
		})
		if err != nil {
			r.logger.Warn().Err(err).Msg("Failed to journal run start")
		}
	})

	ev := journal.PairEvent{
		RunID:    p.RunID,
		Report:   p.Report,
		Facility: p.Facility,
		Status:   string(p.Status),
		Pages:    p.Page,
		LastPage: p.LastPage,
		Rows:     p.Rows,
	}
	if p.Err != nil {
		ev.Error = p.Err.Error()
	}
	if err := r.journal.RecordPair(r.ctx, ev); err != nil {
		r.logger.Warn().Err(err).Str("pair", pair).Msg("Failed to journal pair")
	}
}

func (r *progressRecorder) finish(status string, runErr error) {
	if r.journal == nil || r.runID == "" {
		return
	}
	// the run context may already be cancelled
	if err := r.journal.FinishRun(context.Background(), r.runID, status, runErr); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to journal run end")
	}
}

func printSummary(w io.Writer, res *pipeline.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "REPORT\tFACILITY\tSTATUS\tPAGES\tROWS\tERROR\n")
	for _, p := range res.Pairs {
		msg := ""
		if p.Err != nil {
			msg = p.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n", p.Report, p.Facility, p.Status, p.Pages, p.LastPage, p.Rows, msg)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\nRun %s: %d rows in %s\n", res.RunID, res.Rows(), res.Finished.Sub(res.Started).Round(time.Millisecond))
}

func writeSnapshots(path string, stdout io.Writer, snaps []analyzer.Snapshot) error {
	if path == "" {
		return nil
	}
	w := stdout
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snaps); err != nil {
		return fmt.Errorf("write snapshots: %w", err)
	}
	return nil
}
