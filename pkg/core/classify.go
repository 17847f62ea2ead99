package core

import (
	"sync/atomic"

	"sisort/pkg/common"
	"sisort/pkg/model"
	"sisort/pkg/parallel"
)

// Buckets holds an instance grouped by interval. Bucket k is
// Values[Offsets[k]:Offsets[k+1]], in position order.
type Buckets struct {
	Offsets []int
	Values  []float64
}

// Len returns the number of buckets, m.
func (b *Buckets) Len() int {
	return len(b.Offsets) - 1
}

func (b *Buckets) Bucket(k int) []float64 {
	return b.Values[b.Offsets[k]:b.Offsets[k+1]]
}

// occupancy returns the number of non-empty buckets and the largest size.
func (b *Buckets) occupancy() (nonEmpty, largest int) {
	for k := 0; k < b.Len(); k++ {
		size := b.Offsets[k+1] - b.Offsets[k]
		if size > 0 {
			nonEmpty++
		}
		largest = max(largest, size)
	}
	return nonEmpty, largest
}

// Classify places every value of inst into the bucket its position's tree
// selects.
func Classify(inst []float64, bounds model.Boundaries, trees []*model.Tree) (*Buckets, error) {
	buckets, _, err := classify(inst, bounds, trees, nil)
	return buckets, err
}

func checkModel(n int, bounds model.Boundaries, trees []*model.Tree) error {
	if err := bounds.Validate(); err != nil {
		return err
	}
	if len(trees) != n {
		return common.DataErrorf("instance has %d values, model has %d positions", n, len(trees))
	}
	m := bounds.Intervals()
	for i, t := range trees {
		if t == nil || t.Intervals() != m {
			return common.DataErrorf("tree %d does not cover the %d intervals", i, m)
		}
	}
	return nil
}

// classify returns the buckets and the number of boundary comparisons made.
func classify(inst []float64, bounds model.Boundaries, trees []*model.Tree, pool *parallel.Pool) (*Buckets, int64, error) {
	if err := checkModel(len(inst), bounds, trees); err != nil {
		return nil, 0, err
	}
	if err := common.CheckSamples(inst); err != nil {
		return nil, 0, err
	}

	n, m := len(inst), bounds.Intervals()
	labels := make([]int32, n)
	var comparisons atomic.Int64
	pool.ParallelFor(n, func(lo, hi int) {
		local := 0
		for i := lo; i < hi; i++ {
			k, c := trees[i].LocateCounted(inst[i])
			labels[i] = int32(k)
			local += c
		}
		comparisons.Add(int64(local))
	})

	offsets := make([]int, m+1)
	for _, k := range labels {
		offsets[k+1]++
	}
	for k := 0; k < m; k++ {
		offsets[k+1] += offsets[k]
	}
	next := make([]int, m)
	copy(next, offsets[:m])
	values := make([]float64, n)
	for i, k := range labels {
		values[next[k]] = inst[i]
		next[k]++
	}
	return &Buckets{Offsets: offsets, Values: values}, comparisons.Load(), nil
}

// Classify is the package-level Classify against the sorter's model, spread
// over its pool for large instances. Only the classification fields of
// Stats are set.
func (s *Sorter) Classify(inst []float64) (*Buckets, Stats, error) {
	var st Stats
	buckets, comparisons, err := classify(inst, s.bounds, s.trees, s.opts.poolFor(len(inst)))
	if err != nil {
		return nil, st, err
	}
	st.ClassifyComparisons = comparisons
	st.NonEmptyBuckets, st.MaxBucket = buckets.occupancy()
	return buckets, st, nil
}
