package model

import (
	"math"

	"github.com/google/btree"

	"sisort/pkg/common"
)

// countItem is one nonzero counter of a sparse row.
type countItem struct {
	Index int32
	Count uint32
}

func lessCount(a, b countItem) bool {
	return a.Index < b.Index
}

// SparseCounts keeps, per position, an ordered map from interval to count.
// Rows are created on first use; zero cells are never stored.
type SparseCounts struct {
	n, m     int
	rounds   int
	degree   int
	fallback Fallback
	rows     []*btree.BTreeG[countItem]
}

func NewSparseCounts(n, m int, fallback Fallback) *SparseCounts {
	return &SparseCounts{
		n:        n,
		m:        m,
		degree:   8,
		fallback: fallback,
		rows:     make([]*btree.BTreeG[countItem], n),
	}
}

func (s *SparseCounts) Positions() int { return s.n }
func (s *SparseCounts) Intervals() int { return s.m }
func (s *SparseCounts) Rounds() int    { return s.rounds }

func (s *SparseCounts) Count(i, k int) uint64 {
	row := s.rows[i]
	if row == nil {
		return 0
	}
	item, ok := row.Get(countItem{Index: int32(k)})
	if !ok {
		return 0
	}
	return uint64(item.Count)
}

func (s *SparseCounts) ObserveRange(inst []float64, b Boundaries, lo, hi int) {
	for i := lo; i < hi; i++ {
		row := s.rows[i]
		if row == nil {
			row = btree.NewG(s.degree, lessCount)
			s.rows[i] = row
		}
		key := countItem{Index: int32(b.Locate(inst[i]))}
		item, _ := row.Get(key)
		key.Count = item.Count + 1
		row.ReplaceOrInsert(key)
	}
}

func (s *SparseCounts) AddRounds(r int) error {
	if uint64(s.rounds+r) > math.MaxUint32 {
		return common.DataErrorf("%d rounds overflow sparse counters", s.rounds+r)
	}
	s.rounds += r
	return nil
}

func (s *SparseCounts) Cells(i int, dst []Cell) []Cell {
	if s.rounds == 0 {
		return fallbackCells(s.fallback, s.m, dst)
	}
	row := s.rows[i]
	if row == nil {
		return dst
	}
	r := float64(s.rounds)
	row.Ascend(func(item countItem) bool {
		dst = append(dst, Cell{Index: int(item.Index), P: float64(item.Count) / r})
		return true
	})
	return dst
}

// NonZero returns the number of stored cells of row i.
func (s *SparseCounts) NonZero(i int) int {
	if s.rows[i] == nil {
		return 0
	}
	return s.rows[i].Len()
}

func (s *SparseCounts) Bytes() int {
	total := 8 * len(s.rows)
	for _, row := range s.rows {
		if row != nil {
			total += 8 * row.Len()
		}
	}
	return total
}
