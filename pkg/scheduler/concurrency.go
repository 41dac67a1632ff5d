package scheduler

// concurrency is the global AIMD limit. Not safe for concurrent use; the
// Scheduler guards it with its mutex.
type concurrency struct {
	cur         int
	min         int
	max         int
	rampUpAfter int
	streak      int
}

func newConcurrency(initial, lo, hi, rampUpAfter int) concurrency {
	return concurrency{
		cur:         clamp(initial, lo, hi),
		min:         lo,
		max:         hi,
		rampUpAfter: rampUpAfter,
	}
}

// success records a successful request and reports whether the limit grew.
func (c *concurrency) success() bool {
	c.streak++
	if c.streak < c.rampUpAfter {
		return false
	}
	c.streak = 0
	if c.cur >= c.max {
		return false
	}
	c.cur++
	return true
}

// failure records a transient failure and reports whether the limit shrank.
func (c *concurrency) failure() bool {
	c.streak = 0
	next := c.cur / 2
	if next < c.min {
		next = c.min
	}
	if next == c.cur {
		return false
	}
	c.cur = next
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
