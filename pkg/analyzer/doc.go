// Package analyzer reduces report row streams to immutable snapshots.
//
// Each report type has its own Analyzer implementation. All of them follow
// the same contract:
//
//   - Ingest(row) is single pass and streaming. It mutates only the
//     analyzer's own aggregate state and never keeps the row. Field parse
//     problems are recorded as warnings; ingestion never aborts.
//   - Finalize(meta) is a pure function of the current state and returns a
//     Snapshot whose maps and slices are owned by the caller.
//
// Analyzers are not safe for concurrent mutation. Set wraps one analyzer
// per report behind its own mutex so that several (report, facility)
// producers can feed the same report without racing.
//
// Shared pieces are composed rather than inherited: every analyzer embeds a
// fieldTracker (row count, field coverage, parse tally) and finishes with
// ScoreQuality and DetectTrend.
package analyzer
