// Package stream provides bounded-memory estimators for summarizing
// unbounded row streams.
//
// Three primitives are available:
//
//   - CounterMap: exact key -> count map with ordered enumeration
//   - P2Quantile: Jain & Chlamtac P² quantile estimator (five markers)
//   - LinearCounter: bitset based approximate distinct counter
//
// None of the types are safe for concurrent mutation. Callers serialize
// writes (see analyzer.Set, which holds one mutex per report).
//
// Example usage:
//
//	median := stream.NewP2Quantile(0.5)
//	users := stream.NewLinearCounter(stream.DefaultLinearCounterBits)
//	for _, row := range rows {
//		median.Add(row.Minutes)
//		users.Add(row.UserID)
//	}
//	fmt.Println(median.Value(), users.Estimate())
//
// LinearCounter exists so that raw identifier sets never have to be kept:
// only hashed bit positions are stored, and bits are never cleared.
package stream
