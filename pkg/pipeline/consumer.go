package pipeline

import (
	"context"

	"github.com/Sternrassler/reportstream/pkg/analyzer"
)

// Batch is the rows of one page.
type Batch struct {
	RunID    string
	Report   string
	Facility string
	Page     int
	Rows     []analyzer.Row
}

// Consumer receives the rows of every page. Consume may block; the
// pipeline waits for it before reusing the page's window slot.
type Consumer interface {
	Consume(ctx context.Context, b Batch) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, b Batch) error

// Consume implements Consumer.
func (f ConsumerFunc) Consume(ctx context.Context, b Batch) error {
	return f(ctx, b)
}

// AnalyzerConsumer feeds batches into an analyzer set.
type AnalyzerConsumer struct {
	set *analyzer.Set
}

// NewAnalyzerConsumer creates a consumer for set.
func NewAnalyzerConsumer(set *analyzer.Set) *AnalyzerConsumer {
	return &AnalyzerConsumer{set: set}
}

// Consume implements Consumer.
func (a *AnalyzerConsumer) Consume(_ context.Context, b Batch) error {
	return a.set.Ingest(b.Report, b.Rows)
}

func toRows(data []map[string]any) []analyzer.Row {
	rows := make([]analyzer.Row, len(data))
	for i, d := range data {
		rows[i] = analyzer.Row(d)
	}
	return rows
}
