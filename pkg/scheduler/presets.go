package scheduler

// Presets returns the lane presets for the built-in reports.
// order_turnaround pages are expensive server-side and get a narrow lane.
func Presets() map[string]LaneConfig {
	return map[string]LaneConfig{
		"user_activity":    {Initial: 6, Min: 2, Max: 10},
		"order_turnaround": {Initial: 2, Min: 1, Max: 4},
		"item_usage":       {Initial: 4, Min: 1, Max: 8},
	}
}
