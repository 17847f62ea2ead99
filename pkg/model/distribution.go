package model

import (
	"golang.org/x/exp/constraints"

	"sisort/pkg/common"
	"sisort/pkg/parallel"
)

// Fallback decides the probability row of an accumulator that saw no rounds.
type Fallback int

const (
	FallbackUniform Fallback = iota
	FallbackZero
)

// Cell is one nonzero entry of a probability row.
type Cell struct {
	Index int
	P     float64
}

// Counts accumulates count(i, k): how often position i fell into interval k.
// Concurrent ObserveRange calls are safe when their position ranges are
// disjoint.
type Counts interface {
	Positions() int
	Intervals() int
	Rounds() int
	Count(i, k int) uint64
	// ObserveRange counts positions [lo, hi) of one instance. Values must
	// already be validated.
	ObserveRange(inst []float64, b Boundaries, lo, hi int)
	// AddRounds records r more instances; it fails if the counters would
	// no longer be able to hold a full row.
	AddRounds(r int) error
	// Cells appends the nonzero cells of row i, as probabilities, to dst.
	Cells(i int, dst []Cell) []Cell
	// Bytes estimates the memory held by the counters.
	Bytes() int
}

// DenseCounts stores a flat n*m matrix of counters of width C.
type DenseCounts[C constraints.Unsigned] struct {
	n, m     int
	rounds   int
	fallback Fallback
	freq     []C
}

func NewDenseCounts[C constraints.Unsigned](n, m int, fallback Fallback) *DenseCounts[C] {
	return &DenseCounts[C]{
		n:        n,
		m:        m,
		fallback: fallback,
		freq:     make([]C, n*m),
	}
}

func (d *DenseCounts[C]) Positions() int { return d.n }
func (d *DenseCounts[C]) Intervals() int { return d.m }
func (d *DenseCounts[C]) Rounds() int    { return d.rounds }

func (d *DenseCounts[C]) Count(i, k int) uint64 {
	return uint64(d.freq[i*d.m+k])
}

func (d *DenseCounts[C]) ObserveRange(inst []float64, b Boundaries, lo, hi int) {
	for i := lo; i < hi; i++ {
		d.freq[i*d.m+b.Locate(inst[i])]++
	}
}

func (d *DenseCounts[C]) AddRounds(r int) error {
	if limit := uint64(^C(0)); uint64(d.rounds+r) > limit {
		return common.DataErrorf("%d rounds overflow %d-bit counters", d.rounds+r, bitsOf[C]())
	}
	d.rounds += r
	return nil
}

func (d *DenseCounts[C]) Cells(i int, dst []Cell) []Cell {
	if d.rounds == 0 {
		return fallbackCells(d.fallback, d.m, dst)
	}
	row := d.freq[i*d.m : (i+1)*d.m]
	r := float64(d.rounds)
	for k, c := range row {
		if c != 0 {
			dst = append(dst, Cell{Index: k, P: float64(c) / r})
		}
	}
	return dst
}

func (d *DenseCounts[C]) Bytes() int {
	return len(d.freq) * (bitsOf[C]() / 8)
}

// Row returns the raw counters of position i.
func (d *DenseCounts[C]) Row(i int) []C {
	return d.freq[i*d.m : (i+1)*d.m]
}

func bitsOf[C constraints.Unsigned]() int {
	bits := 0
	for v := ^C(0); v != 0; v >>= 1 {
		bits++
	}
	return bits
}

func fallbackCells(f Fallback, m int, dst []Cell) []Cell {
	if f == FallbackZero || m == 0 {
		return dst
	}
	p := 1 / float64(m)
	for k := 0; k < m; k++ {
		dst = append(dst, Cell{Index: k, P: p})
	}
	return dst
}

// ProbMatrix is the dense n*m probability matrix at precision F.
type ProbMatrix[F constraints.Float] struct {
	N, M int
	Data []F
}

func (pm *ProbMatrix[F]) Row(i int) []F {
	return pm.Data[i*pm.M : (i+1)*pm.M]
}

func (pm *ProbMatrix[F]) At(i, k int) F {
	return pm.Data[i*pm.M+k]
}

// RowSum returns the sum of row i in float64.
func (pm *ProbMatrix[F]) RowSum(i int) float64 {
	s := 0.0
	for _, p := range pm.Row(i) {
		s += float64(p)
	}
	return s
}

// Normalize materializes prob[i][k] = count(i, k) / R.
func Normalize[F constraints.Float](c Counts) *ProbMatrix[F] {
	n, m := c.Positions(), c.Intervals()
	pm := &ProbMatrix[F]{N: n, M: m, Data: make([]F, n*m)}
	var cells []Cell
	for i := 0; i < n; i++ {
		cells = c.Cells(i, cells[:0])
		row := pm.Row(i)
		for _, cell := range cells {
			row[cell.Index] = F(cell.P)
		}
	}
	return pm
}

// Estimate accumulates every training instance into c. Validation happens
// before the first count, so a failed call leaves c untouched.
func Estimate(ts common.TrainingSet, b Boundaries, c Counts, pool *parallel.Pool) error {
	if err := ts.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if n := ts.Positions(); n != c.Positions() {
		return common.DataErrorf("instances have %d positions, accumulator has %d", n, c.Positions())
	}
	if b.Intervals() != c.Intervals() {
		return common.DataErrorf("boundaries describe %d intervals, accumulator has %d", b.Intervals(), c.Intervals())
	}
	if err := c.AddRounds(ts.Rounds()); err != nil {
		return err
	}
	pool.ParallelFor(c.Positions(), func(lo, hi int) {
		for _, inst := range ts {
			c.ObserveRange(inst, b, lo, hi)
		}
	})
	return nil
}

// Observe adds one instance to c.
func Observe(inst []float64, b Boundaries, c Counts) error {
	if len(inst) != c.Positions() {
		return common.DataErrorf("instance has %d values, accumulator has %d positions", len(inst), c.Positions())
	}
	if err := (common.TrainingSet{inst}).Validate(); err != nil {
		return err
	}
	if err := c.AddRounds(1); err != nil {
		return err
	}
	c.ObserveRange(inst, b, 0, len(inst))
	return nil
}

// Estimation bundles the raw counts with their normalized matrix.
type Estimation[F constraints.Float] struct {
	Counts        Counts
	Probabilities *ProbMatrix[F]
}

// EstimateDistributions is the one-shot form: counts at width C, probabilities
// at precision F.
func EstimateDistributions[C constraints.Unsigned, F constraints.Float](ts common.TrainingSet, b Boundaries, pool *parallel.Pool) (*Estimation[F], error) {
	c := NewDenseCounts[C](ts.Positions(), b.Intervals(), FallbackUniform)
	if err := Estimate(ts, b, c, pool); err != nil {
		return nil, err
	}
	return &Estimation[F]{Counts: c, Probabilities: Normalize[F](c)}, nil
}
