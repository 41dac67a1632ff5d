// Package scheduler runs page requests under a global concurrency limit
// and one adaptive lane per report.
//
// Global concurrency follows additive increase, multiplicative decrease:
// it grows by one after a run of consecutive successes and halves on any
// transient failure. Each lane keeps a rolling window of request latencies
// and halves its cap when the window's p90 spikes, growing again once the
// p90 recovers.
//
// A job moves through Queued, Active and then Succeeded, Failed or
// Cancelled. Transient failures pass through Backoff and back to Queued
// until the retry limit is used up. Jobs whose lane is at its cap stay
// queued; the queue is rescanned whenever a job is submitted or completes.
//
// An authentication failure cancels the scheduler: queued jobs are rejected
// with ErrCancelled and active attempts are aborted.
package scheduler
