// Package pipeline coordinates a run: it fetches every (report, facility)
// pair through a run-scoped scheduler and hands rows to a consumer under
// bounded memory.
//
// For each pair:
//   - page 1 is fetched first and alone; it declares the last page
//   - pages 2..last are issued through a sliding window of Window slots
//   - a slot is released only after the consumer has returned for that
//     page, so at most Window pages of rows per pair exist at once
//   - a page answering next_page_url: null lowers the effective last page;
//     pages beyond it are never issued and late results beyond it are
//     dropped
//
// Every run has an identifier. Results that arrive for a run that is no
// longer current, or that has been cancelled, are discarded without
// reaching the consumer.
//
// Example usage:
//
//	coord, err := pipeline.NewCoordinator(apiClient, pipeline.DefaultConfig())
//	set, err := analyzer.NewSet(analyzer.DefaultRegistry(), cal, reports)
//	result, err := coord.Run(ctx, spec, pipeline.NewAnalyzerConsumer(set))
package pipeline
