package stream

import "sort"

// Entry is a single key/count pair returned by CounterMap enumeration.
type Entry struct {
	Key   string `json:"key"`
	Value uint64 `json:"value"`
}

// CounterMap is an exact counter keyed by string. Key cardinality is
// unbounded; counts are monotonic.
type CounterMap struct {
	counts map[string]uint64
	total  uint64
}

// NewCounterMap creates an empty counter map.
func NewCounterMap() *CounterMap {
	return &CounterMap{counts: make(map[string]uint64)}
}

// Inc increments key by one.
func (c *CounterMap) Inc(key string) {
	c.Add(key, 1)
}

// Add increments key by n. Adding zero registers the key without
// changing any count.
func (c *CounterMap) Add(key string, n uint64) {
	c.counts[key] += n
	c.total += n
}

// Get returns the count for key (0 if never seen).
func (c *CounterMap) Get(key string) uint64 {
	return c.counts[key]
}

// Len returns the number of distinct keys.
func (c *CounterMap) Len() int {
	return len(c.counts)
}

// Total returns the sum of all counts.
func (c *CounterMap) Total() uint64 {
	return c.total
}

// Entries returns all entries ordered by count descending. Ties are
// broken by key ascending so the order is deterministic.
func (c *CounterMap) Entries() []Entry {
	entries := make([]Entry, 0, len(c.counts))
	for k, v := range c.counts {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			return entries[i].Value > entries[j].Value
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Top returns at most n entries with the highest counts.
func (c *CounterMap) Top(n int) []Entry {
	if n <= 0 {
		return []Entry{}
	}
	entries := c.Entries()
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Keys returns all keys in ascending lexical order. Used for time
// buckets whose keys sort chronologically ("2024-01-02", "2024-W05").
func (c *CounterMap) Keys() []string {
	keys := make([]string, 0, len(c.counts))
	for k := range c.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
