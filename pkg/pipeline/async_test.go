package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/Sternrassler/reportstream/pkg/analyzer"
)

func batchOf(report string, n int) Batch {
	rows := make([]analyzer.Row, n)
	for i := range rows {
		rows[i] = analyzer.Row{"i": i}
	}
	return Batch{RunID: "run-1", Report: report, Facility: "F1", Page: 1, Rows: rows}
}

func asyncTestConfig() AsyncConfig {
	cfg := DefaultAsyncConfig()
	cfg.Tuner.Initial, cfg.Tuner.Min, cfg.Tuner.Max = 100, 100, 200
	cfg.Tuner.GrowAfter = 1000
	return cfg
}

func TestAsyncConsumer_ProcessesInChunks(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	next := ConsumerFunc(func(_ context.Context, b Batch) error {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(b.Rows))
		return nil
	})

	var emitted [][]string
	cfg := asyncTestConfig()
	cfg.OnEmit = func(reports []string) { emitted = append(emitted, reports) }

	a, err := NewAsyncConsumer(next, cfg)
	if err != nil {
		t.Fatalf("NewAsyncConsumer() error = %v", err)
	}
	if err := a.Consume(context.Background(), batchOf("user_activity", 250)); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if err := a.Consume(context.Background(), batchOf("item_usage", 0)); err != nil {
		t.Fatalf("Consume() empty batch error = %v", err)
	}
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	if want := []int{100, 100, 50}; !reflect.DeepEqual(sizes, want) {
		t.Errorf("chunk sizes = %v, want %v", sizes, want)
	}
	if len(emitted) == 0 || !reflect.DeepEqual(emitted[len(emitted)-1], []string{"user_activity"}) {
		t.Errorf("emitted = %v, want final [user_activity]", emitted)
	}
}

func TestAsyncConsumer_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	a, err := NewAsyncConsumer(ConsumerFunc(func(context.Context, Batch) error { return boom }), asyncTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Consume(context.Background(), batchOf("r", 10)); !errors.Is(err, boom) {
		t.Errorf("Consume() error = %v, want boom", err)
	}
}

func TestAsyncConsumer_CancelledContext(t *testing.T) {
	var calls int
	a, err := NewAsyncConsumer(ConsumerFunc(func(context.Context, Batch) error {
		calls++
		return nil
	}), asyncTestConfig())
	if err != nil {
		t.Fatal(err)
	}

	cause := errors.New("run superseded")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)
	if err := a.Consume(ctx, batchOf("r", 10)); !errors.Is(err, cause) {
		t.Errorf("Consume() error = %v, want cause", err)
	}
	a.Close()
	if calls != 0 {
		t.Errorf("next consumer calls = %d, want 0", calls)
	}
}

func TestAsyncConsumer_Closed(t *testing.T) {
	a, err := NewAsyncConsumer(ConsumerFunc(func(context.Context, Batch) error { return nil }), asyncTestConfig())
	if err != nil {
		t.Fatal(err)
	}
	a.Close()
	a.Close()
	if err := a.Consume(context.Background(), batchOf("r", 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Consume() after Close error = %v, want ErrClosed", err)
	}
}

func TestNewAsyncConsumer_Validation(t *testing.T) {
	if _, err := NewAsyncConsumer(nil, DefaultAsyncConfig()); err == nil {
		t.Error("nil next consumer should fail")
	}
	cfg := DefaultAsyncConfig()
	cfg.QueueDepth = 0
	if _, err := NewAsyncConsumer(ConsumerFunc(func(context.Context, Batch) error { return nil }), cfg); err == nil {
		t.Error("zero queue depth should fail")
	}
}
