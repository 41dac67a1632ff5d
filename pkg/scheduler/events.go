package scheduler

import "time"

// EventKind names an observability event.
type EventKind string

const (
	// EventConcurrencyChanged is emitted when the global limit moves.
	EventConcurrencyChanged EventKind = "concurrency_changed"

	// EventLaneChanged is emitted when a lane cap moves.
	EventLaneChanged EventKind = "lane_changed"

	// EventRequestCompleted is emitted after every attempt.
	EventRequestCompleted EventKind = "request_completed"

	// EventRetrying is emitted when a failed attempt is scheduled for retry.
	EventRetrying EventKind = "retrying"

	// EventCancelled is emitted once when the scheduler is cancelled.
	EventCancelled EventKind = "cancelled"
)

// Event reports scheduler behaviour. Fields not relevant to Kind are zero.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Report   string
	Facility string
	Page     int
	Attempt  int

	// Concurrency is the global limit after the event.
	Concurrency int
	// LaneCap is the lane's cap after the event.
	LaneCap int

	Latency time.Duration
	Backoff time.Duration
	Err     error
}
