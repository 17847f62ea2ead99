package model

import (
	"math"
	"slices"
	"sort"

	"sisort/pkg/common"
)

// Boundaries 带哨兵的 V-list: b[0] = -Inf < b[1] < ... < b[m-1] < b[m] = +Inf.
// Interval k is the half-open range [b[k], b[k+1]).
type Boundaries []float64

// NewBoundaries wraps caller-supplied interior cut points with the sentinels.
func NewBoundaries(cuts []float64) (Boundaries, error) {
	b := make(Boundaries, 0, len(cuts)+2)
	b = append(b, math.Inf(-1))
	b = append(b, cuts...)
	b = append(b, math.Inf(1))
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// BuildBoundaries computes m-1 interior cuts over the pooled samples by
// linear-interpolation quantiles at k/m. Repeated cuts are dropped, so the
// result may describe fewer than m intervals.
func BuildBoundaries(pool []float64, m int) (Boundaries, error) {
	if m < 1 {
		return nil, common.DataErrorf("bucket count must be positive, got %d", m)
	}
	if len(pool) == 0 {
		return nil, common.DataErrorf("no pooled samples")
	}
	for i, v := range pool {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &common.SampleError{Instance: -1, Position: i, Value: v}
		}
	}

	sorted := slices.Clone(pool)
	slices.Sort(sorted)
	if sorted[0] == sorted[len(sorted)-1] {
		return nil, common.DataErrorf("pooled samples have fewer than 2 distinct values")
	}

	cuts := make([]float64, 0, m-1)
	for k := 1; k < m; k++ {
		q := quantile(sorted, float64(k)/float64(m))
		if len(cuts) > 0 && q <= cuts[len(cuts)-1] {
			continue
		}
		cuts = append(cuts, q)
	}

	b, err := NewBoundaries(cuts)
	if err != nil {
		// Deduplication leaves a strictly increasing list; anything else means
		// the data itself is unusable.
		return nil, common.DataErrorf("boundary estimation failed: %v", err)
	}
	return b, nil
}

// quantile 线性插值 (position h = (N-1)p)
func quantile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Pool flattens a training set into the pooled multiset of R*n values.
func Pool(ts common.TrainingSet) []float64 {
	pool := make([]float64, 0, ts.Rounds()*ts.Positions())
	for _, inst := range ts {
		pool = append(pool, inst...)
	}
	return pool
}

// Intervals returns m.
func (b Boundaries) Intervals() int {
	if len(b) < 2 {
		return 0
	}
	return len(b) - 1
}

// Cuts returns the interior boundaries without the sentinels.
func (b Boundaries) Cuts() []float64 {
	if len(b) < 2 {
		return nil
	}
	return b[1 : len(b)-1]
}

// Locate returns the k with b[k] <= v < b[k+1], clamped into [0, m-1].
func (b Boundaries) Locate(v float64) int {
	// 等价于 bisect_right(b, v) - 1
	k := sort.Search(len(b), func(i int) bool { return b[i] > v }) - 1
	if k < 0 {
		k = 0
	}
	if last := len(b) - 2; k > last {
		k = last
	}
	return k
}

// Validate checks the sentinels and strict monotonicity of the cuts.
func (b Boundaries) Validate() error {
	if len(b) < 2 {
		return common.BoundaryErrorf("boundary list has %d entries, want at least 2", len(b))
	}
	if !math.IsInf(b[0], -1) || !math.IsInf(b[len(b)-1], 1) {
		return common.BoundaryErrorf("boundary list must start at -Inf and end at +Inf")
	}
	for i := 1; i < len(b)-1; i++ {
		if math.IsNaN(b[i]) || math.IsInf(b[i], 0) {
			return common.BoundaryErrorf("cut %d is not finite", i)
		}
		if b[i] <= b[i-1] {
			return common.BoundaryErrorf("cut %d (%v) does not exceed cut %d (%v)", i, b[i], i-1, b[i-1])
		}
	}
	return nil
}
