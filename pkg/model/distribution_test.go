package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sisort/pkg/common"
	"sisort/pkg/parallel"
)

func scenarioBoundaries(t *testing.T) Boundaries {
	t.Helper()
	b, err := NewBoundaries([]float64{0.275, 0.45, 0.65})
	require.NoError(t, err)
	return b
}

func TestEstimateDistributions_RowsSumToOne(t *testing.T) {
	pool, err := parallel.New(4)
	require.NoError(t, err)
	defer pool.Close()

	b := scenarioBoundaries(t)
	est, err := EstimateDistributions[uint32, float64](scenarioSet(), b, pool)
	require.NoError(t, err)

	pm := est.Probabilities
	require.Equal(t, 4, pm.N)
	require.Equal(t, 4, pm.M)
	for i := 0; i < pm.N; i++ {
		assert.InDelta(t, 1.0, pm.RowSum(i), 1e-12)
	}
	// position 0 saw 0.1 and 0.2, both in interval 0
	assert.Equal(t, 1.0, pm.At(0, 0))
	// position 2 saw 0.6 and 0.7
	assert.Equal(t, 0.5, pm.At(2, 2))
	assert.Equal(t, 0.5, pm.At(2, 3))
	assert.Equal(t, uint64(2), est.Counts.Count(0, 0))
}

func TestEstimate_Float32Precision(t *testing.T) {
	b := scenarioBoundaries(t)
	est, err := EstimateDistributions[uint16, float32](scenarioSet(), b, nil)
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), est.Probabilities.At(1, 1))
}

func TestDenseCounts_Overflow(t *testing.T) {
	b := scenarioBoundaries(t)
	c := NewDenseCounts[uint8](1, b.Intervals(), FallbackUniform)
	require.NoError(t, c.AddRounds(255))
	err := c.AddRounds(1)
	assert.ErrorIs(t, err, common.ErrData)
	assert.Equal(t, 255, c.Rounds())
	assert.Equal(t, 4, c.Bytes())
}

func TestCounts_Fallback(t *testing.T) {
	uniform := NewDenseCounts[uint32](2, 4, FallbackUniform)
	cells := uniform.Cells(0, nil)
	require.Len(t, cells, 4)
	for _, c := range cells {
		assert.Equal(t, 0.25, c.P)
	}

	zero := NewSparseCounts(2, 4, FallbackZero)
	assert.Empty(t, zero.Cells(1, nil))
}

func TestEstimate_RejectsBadInput(t *testing.T) {
	b := scenarioBoundaries(t)

	c := NewDenseCounts[uint32](3, b.Intervals(), FallbackUniform)
	err := Estimate(scenarioSet(), b, c, nil)
	assert.ErrorIs(t, err, common.ErrData)

	c = NewDenseCounts[uint32](4, b.Intervals(), FallbackUniform)
	ragged := common.TrainingSet{{0.1, 0.2, 0.3, 0.4}, {0.1, 0.2}}
	assert.ErrorIs(t, Estimate(ragged, b, c, nil), common.ErrData)
	assert.Equal(t, 0, c.Rounds())

	assert.ErrorIs(t, Estimate(scenarioSet(), Boundaries{0, 1}, c, nil), common.ErrBoundary)
}

func TestSparseCounts_MatchesDense(t *testing.T) {
	b := scenarioBoundaries(t)
	ts := common.TrainingSet{
		{0.1, 0.4, 0.6, 0.9},
		{0.2, 0.5, 0.7, 0.95},
		{0.3, 0.3, 0.3, 0.3},
	}
	dense := NewDenseCounts[uint32](4, 4, FallbackUniform)
	sparse := NewSparseCounts(4, 4, FallbackUniform)
	require.NoError(t, Estimate(ts, b, dense, nil))
	require.NoError(t, Estimate(ts, b, sparse, nil))

	for i := 0; i < 4; i++ {
		assert.Equal(t, dense.Cells(i, nil), sparse.Cells(i, nil), "row %d", i)
		for k := 0; k < 4; k++ {
			assert.Equal(t, dense.Count(i, k), sparse.Count(i, k))
		}
	}
	assert.Equal(t, 2, sparse.NonZero(3))
}

func TestObserve_Streaming(t *testing.T) {
	b := scenarioBoundaries(t)
	c := NewSparseCounts(4, 4, FallbackZero)
	for _, inst := range scenarioSet() {
		require.NoError(t, Observe(inst, b, c))
	}
	pm := Normalize[float64](c)
	assert.Equal(t, 1.0, pm.At(0, 0))
	assert.Equal(t, 1.0, pm.At(3, 3))
	assert.Equal(t, 0.5, pm.At(1, 1))

	assert.ErrorIs(t, Observe([]float64{1}, b, c), common.ErrData)
}
