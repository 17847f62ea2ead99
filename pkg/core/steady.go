package core

import (
	"cmp"
	"slices"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"sisort/pkg/common"
	"sisort/pkg/model"
	"sisort/pkg/parallel"
)

// Stats describes the work behind one sorted instance.
type Stats struct {
	ClassifyComparisons int64
	BucketComparisons   int64
	NonEmptyBuckets     int
	MaxBucket           int
}

// Comparisons returns the total comparison count.
func (s Stats) Comparisons() int64 {
	return s.ClassifyComparisons + s.BucketComparisons
}

// SortInstance classifies inst against a trained model and returns its
// values in ascending order. inst is not modified.
func SortInstance(inst []float64, bounds model.Boundaries, trees []*model.Tree) ([]float64, error) {
	out, _, err := sortInstance(inst, bounds, trees, nil, DefaultInsertionLimit)
	return out, err
}

// Sort is SortInstance against the sorter's model.
func (s *Sorter) Sort(inst []float64) ([]float64, error) {
	out, _, err := s.SortStats(inst)
	return out, err
}

// SortStats sorts inst and reports the comparisons it took.
func (s *Sorter) SortStats(inst []float64) ([]float64, Stats, error) {
	out, st, err := sortInstance(inst, s.bounds, s.trees, s.opts.poolFor(len(inst)), s.opts.insertionLimit)
	if ws := s.opts.stats; ws != nil {
		switch {
		case err == nil:
			ws.RecordSort(len(inst), st.ClassifyComparisons)
		case errors.Is(err, common.ErrInvalidSample):
			ws.RecordReject()
		}
	}
	return out, st, err
}

func sortInstance(inst []float64, bounds model.Boundaries, trees []*model.Tree, pool *parallel.Pool, limit int) ([]float64, Stats, error) {
	var st Stats
	buckets, classified, err := classify(inst, bounds, trees, pool)
	if err != nil {
		return nil, st, err
	}
	st.ClassifyComparisons = classified
	st.NonEmptyBuckets, st.MaxBucket = buckets.occupancy()

	m := buckets.Len()

	// Buckets are contiguous and in interval order, so sorting each one in
	// place leaves Values fully sorted.
	var compared atomic.Int64
	pool.ParallelFor(m, func(lo, hi int) {
		local := int64(0)
		for k := lo; k < hi; k++ {
			local += sortBucket(buckets.Bucket(k), limit)
		}
		compared.Add(local)
	})
	st.BucketComparisons = compared.Load()
	return buckets.Values, st, nil
}

// sortBucket sorts v in place and returns the comparisons made. Buckets
// longer than limit use slices.SortFunc so a poor model cannot go quadratic.
func sortBucket(v []float64, limit int) int64 {
	var c int64
	if len(v) > limit {
		slices.SortFunc(v, func(a, b float64) int {
			c++
			return cmp.Compare(a, b)
		})
		return c
	}
	for i := 1; i < len(v); i++ {
		x := v[i]
		j := i
		for j > 0 {
			c++
			if v[j-1] <= x {
				break
			}
			v[j] = v[j-1]
			j--
		}
		v[j] = x
	}
	return c
}
