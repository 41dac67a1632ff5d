package stream

import (
	"math"
	"sort"
)

// P2Quantile estimates a single quantile of a stream in O(1) memory
// using the P² algorithm (Jain & Chlamtac, 1985).
//
// Invariant: marker heights are non-decreasing after every Add.
type P2Quantile struct {
	p float64

	// heights, actual positions (1-based), desired positions and their increments
	q  [5]float64
	n  [5]int
	np [5]float64
	dn [5]float64

	// seed holds the first five observations until the markers are initialized
	seed  []float64
	count int
}

// NewP2Quantile creates an estimator for quantile p in (0, 1).
// Values outside the range are clamped.
func NewP2Quantile(p float64) *P2Quantile {
	if p <= 0 {
		p = 0.0001
	}
	if p >= 1 {
		p = 0.9999
	}
	return &P2Quantile{
		p:    p,
		dn:   [5]float64{0, p / 2, p, (1 + p) / 2, 1},
		seed: make([]float64, 0, 5),
	}
}

// Count returns the number of accepted observations.
func (e *P2Quantile) Count() int {
	return e.count
}

// Add records one observation. NaN and infinite values are ignored.
func (e *P2Quantile) Add(x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return
	}
	e.count++

	if e.count <= 5 {
		e.seed = append(e.seed, x)
		if e.count == 5 {
			e.initMarkers()
		}
		return
	}

	// locate the cell k such that q[k] <= x < q[k+1]
	var k int
	switch {
	case x < e.q[0]:
		e.q[0] = x
		k = 0
	case x >= e.q[4]:
		e.q[4] = x
		k = 3
	default:
		for k = 0; k < 3; k++ {
			if x < e.q[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.n[i]++
	}
	for i := range e.np {
		e.np[i] += e.dn[i]
	}

	for i := 1; i <= 3; i++ {
		d := e.np[i] - float64(e.n[i])
		if (d >= 1 && e.n[i+1]-e.n[i] > 1) || (d <= -1 && e.n[i-1]-e.n[i] < -1) {
			step := 1
			if d < 0 {
				step = -1
			}
			candidate := e.parabolic(i, float64(step))
			if e.q[i-1] < candidate && candidate < e.q[i+1] {
				e.q[i] = candidate
			} else {
				e.q[i] = e.linear(i, step)
			}
			e.n[i] += step
		}
	}
}

func (e *P2Quantile) initMarkers() {
	sort.Float64s(e.seed)
	for i := 0; i < 5; i++ {
		e.q[i] = e.seed[i]
		e.n[i] = i + 1
	}
	p := e.p
	e.np = [5]float64{1, 1 + 2*p, 1 + 4*p, 3 + 2*p, 5}
	e.seed = nil
}

func (e *P2Quantile) parabolic(i int, d float64) float64 {
	qi, qm, qp := e.q[i], e.q[i-1], e.q[i+1]
	ni, nm, np := float64(e.n[i]), float64(e.n[i-1]), float64(e.n[i+1])
	return qi + d/(np-nm)*((ni-nm+d)*(qp-qi)/(np-ni)+(np-ni-d)*(qi-qm)/(ni-nm))
}

func (e *P2Quantile) linear(i, step int) float64 {
	return e.q[i] + float64(step)*(e.q[i+step]-e.q[i])/float64(e.n[i+step]-e.n[i])
}

// Quantile returns the current estimate. ok is false when no
// observation has been recorded.
func (e *P2Quantile) Quantile() (value float64, ok bool) {
	switch {
	case e.count == 0:
		return math.NaN(), false
	case e.count < 5:
		sorted := append([]float64(nil), e.seed...)
		sort.Float64s(sorted)
		return orderStatistic(sorted, e.p), true
	case e.count == 5:
		// markers were just seeded from the full sample
		return orderStatistic(e.q[:], e.p), true
	default:
		return e.q[2], true
	}
}

// Value returns the current estimate, or NaN when empty.
func (e *P2Quantile) Value() float64 {
	v, _ := e.Quantile()
	return v
}

// Markers returns a copy of the five marker heights. Before five
// observations have been seen the sorted sample is returned instead.
func (e *P2Quantile) Markers() []float64 {
	if e.count < 5 {
		sorted := append([]float64(nil), e.seed...)
		sort.Float64s(sorted)
		return sorted
	}
	out := make([]float64, 5)
	copy(out, e.q[:])
	return out
}

// orderStatistic returns the nearest-rank p-quantile of an ascending slice.
func orderStatistic(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
