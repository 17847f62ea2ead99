package core

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"sisort/pkg/common"
	"sisort/pkg/logger"
	"sisort/pkg/model"
)

// Sorter is the trained state: one boundary sequence and one tree per
// position. It is immutable and safe for concurrent Sort calls.
type Sorter struct {
	bounds  model.Boundaries
	trees   []*model.Tree
	entropy []float64
	opts    options
}

// Train learns boundaries and classification trees from ts. m is the
// requested bucket count; repeated quantiles can make the effective count
// smaller. Nothing is returned unless every step succeeds.
func Train(ts common.TrainingSet, m int, opts ...Option) (*Sorter, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	n := ts.Positions()

	b, err := model.BuildBoundaries(model.Pool(ts), m)
	if err != nil {
		return nil, err
	}
	if b.Intervals() < m {
		logger.Info("repeated quantiles merged",
			zap.Int("requested", m), zap.Int("intervals", b.Intervals()))
	}

	counts := o.newCounts(n, b.Intervals())
	pool := o.poolFor(n)
	if err := model.Estimate(ts, b, counts, pool); err != nil {
		return nil, err
	}

	builder := model.NewBuilder(b, o.builder, o.exactLimit)
	trees := make([]*model.Tree, n)
	entropy := make([]float64, n)

	var mu sync.Mutex
	var firstErr error
	pool.ParallelFor(n, func(lo, hi int) {
		var cells []model.Cell
		for i := lo; i < hi; i++ {
			cells = counts.Cells(i, cells[:0])
			if o.probabilityBits == 32 {
				for k := range cells {
					cells[k].P = float64(float32(cells[k].P))
				}
			}
			tree, err := builder.BuildCells(cells)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			trees[i] = tree
			entropy[i] = model.EntropyCells(cells)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	elapsed := time.Since(start)
	if o.stats != nil {
		o.stats.RecordTrain(elapsed)
	}
	s := &Sorter{bounds: b, trees: trees, entropy: entropy, opts: o}
	logger.Info("training complete",
		zap.Int("positions", n),
		zap.Int("intervals", b.Intervals()),
		zap.Int("rounds", ts.Rounds()),
		zap.String("builder", o.builder.String()),
		zap.Int64("substitutions", builder.Substitutions()),
		zap.Float64("entropy_bits", s.TotalEntropy()),
		zap.Int("count_bytes", counts.Bytes()),
		zap.Duration("elapsed", elapsed))
	return s, nil
}

func (o *options) newCounts(n, m int) model.Counts {
	if o.sparse {
		return model.NewSparseCounts(n, m, o.fallback)
	}
	switch o.counterBits {
	case 8:
		return model.NewDenseCounts[uint8](n, m, o.fallback)
	case 16:
		return model.NewDenseCounts[uint16](n, m, o.fallback)
	}
	return model.NewDenseCounts[uint32](n, m, o.fallback)
}

// Boundaries returns the learned boundary sequence. Callers must not modify it.
func (s *Sorter) Boundaries() model.Boundaries { return s.bounds }

// Trees returns the per-position trees. Callers must not modify them.
func (s *Sorter) Trees() []*model.Tree { return s.trees }

// Entropy returns H_i per position, in bits.
func (s *Sorter) Entropy() []float64 { return s.entropy }

// Positions returns n.
func (s *Sorter) Positions() int { return len(s.trees) }

// TotalEntropy returns the sum of H_i, the lower bound on mean
// classification comparisons per instance.
func (s *Sorter) TotalEntropy() float64 {
	total := 0.0
	for _, h := range s.entropy {
		total += h
	}
	return total
}
