package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/reportstream/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by AsyncConsumer.Consume after Close.
var ErrClosed = errors.New("async consumer closed")

// AsyncConfig holds AsyncConsumer configuration.
type AsyncConfig struct {
	// QueueDepth is the number of batches that may wait for the worker.
	QueueDepth int

	Tuner TunerConfig

	// OnEmit is called from the worker with the reports that received rows
	// since the previous call, at the cadence given by the tuner and once
	// more on Close.
	OnEmit func(reports []string)
}

// DefaultAsyncConfig returns the default async consumer configuration.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		QueueDepth: 16,
		Tuner:      DefaultTunerConfig(),
	}
}

type asyncItem struct {
	ctx    context.Context
	batch  Batch
	result chan error
}

// AsyncConsumer moves row processing to a single worker goroutine. Batches
// are split into chunks sized by a ChunkTuner and passed to the next
// consumer. Consume returns once the worker has processed the batch, so the
// caller's window slot stays held until then.
type AsyncConsumer struct {
	next   Consumer
	cfg    AsyncConfig
	tuner  *ChunkTuner
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan asyncItem
	done   chan struct{}

	dirty    map[string]bool
	lastEmit time.Time
}

// NewAsyncConsumer starts a worker feeding next.
func NewAsyncConsumer(next Consumer, cfg AsyncConfig) (*AsyncConsumer, error) {
	if next == nil {
		return nil, fmt.Errorf("next consumer is required")
	}
	if cfg.QueueDepth < 1 {
		return nil, fmt.Errorf("queue depth must be >= 1 (got %d)", cfg.QueueDepth)
	}
	tuner, err := NewChunkTuner(cfg.Tuner)
	if err != nil {
		return nil, fmt.Errorf("chunk tuner: %w", err)
	}
	a := &AsyncConsumer{
		next:     next,
		cfg:      cfg,
		tuner:    tuner,
		logger:   logging.NewLogger("async-consumer"),
		queue:    make(chan asyncItem, cfg.QueueDepth),
		done:     make(chan struct{}),
		dirty:    make(map[string]bool),
		lastEmit: time.Now(),
	}
	go a.work()
	return a, nil
}

// Tuner returns the consumer's chunk tuner.
func (a *AsyncConsumer) Tuner() *ChunkTuner {
	return a.tuner
}

// Backlog returns the number of batches waiting for the worker.
func (a *AsyncConsumer) Backlog() int {
	return len(a.queue)
}

// Consume implements Consumer.
func (a *AsyncConsumer) Consume(ctx context.Context, b Batch) error {
	item := asyncItem{ctx: ctx, batch: b, result: make(chan error, 1)}

	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return ErrClosed
	}
	select {
	case a.queue <- item:
		asyncBacklog.Set(float64(len(a.queue)))
	case <-ctx.Done():
		a.mu.RUnlock()
		return context.Cause(ctx)
	}
	a.mu.RUnlock()

	select {
	case err := <-item.result:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Close stops accepting batches, drains the queue and performs a final
// emission. It is safe to call more than once.
func (a *AsyncConsumer) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *AsyncConsumer) work() {
	defer close(a.done)
	for item := range a.queue {
		asyncBacklog.Set(float64(len(a.queue)))
		item.result <- a.process(item)
		a.maybeEmit(false)
	}
	a.maybeEmit(true)
}

// process feeds one batch to the next consumer in chunks. Remaining chunks
// are dropped once the batch's context is done.
func (a *AsyncConsumer) process(item asyncItem) error {
	rows := item.batch.Rows
	for start := 0; start < len(rows); {
		if err := item.ctx.Err(); err != nil {
			return context.Cause(item.ctx)
		}
		end := min(len(rows), start+a.tuner.Size())
		chunk := item.batch
		chunk.Rows = rows[start:end]

		began := time.Now()
		if err := a.next.Consume(item.ctx, chunk); err != nil {
			return err
		}
		a.dirty[item.batch.Report] = true
		if a.tuner.Observe(time.Since(began), len(a.queue)) {
			a.logger.Debug().
				Int("chunk_size", a.tuner.Size()).
				Dur("ema", a.tuner.EMA()).
				Int("backlog", len(a.queue)).
				Msg("Chunk size changed")
		}
		start = end
	}
	return nil
}

func (a *AsyncConsumer) maybeEmit(final bool) {
	if a.cfg.OnEmit == nil || len(a.dirty) == 0 {
		return
	}
	now := time.Now()
	if !final && now.Sub(a.lastEmit) < a.tuner.EmitInterval(len(a.queue)) {
		return
	}
	reports := make([]string, 0, len(a.dirty))
	for r := range a.dirty {
		reports = append(reports, r)
	}
	clear(a.dirty)
	a.lastEmit = now
	a.cfg.OnEmit(sortedStrings(reports))
}
