package core

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sisort/pkg/common"
	"sisort/pkg/config"
	"sisort/pkg/logger"
	"sisort/pkg/model"
	"sisort/pkg/monitor"
	"sisort/pkg/parallel"
	"sisort/pkg/source"
)

func scenarioSet() common.TrainingSet {
	return common.TrainingSet{
		{0.1, 0.4, 0.6, 0.9},
		{0.2, 0.5, 0.7, 0.95},
	}
}

// scenarioModel trains trees over the fixed cuts 0.275, 0.45, 0.65.
func scenarioModel(t *testing.T) (model.Boundaries, []*model.Tree) {
	t.Helper()
	b, err := model.NewBoundaries([]float64{0.275, 0.45, 0.65})
	require.NoError(t, err)
	ts := scenarioSet()
	counts := model.NewDenseCounts[uint32](ts.Positions(), b.Intervals(), model.FallbackUniform)
	require.NoError(t, model.Estimate(ts, b, counts, nil))

	bd := model.NewBuilder(b, model.Optimal, 0)
	trees := make([]*model.Tree, ts.Positions())
	for i := range trees {
		trees[i], err = bd.BuildCells(counts.Cells(i, nil))
		require.NoError(t, err)
	}
	return b, trees
}

func TestClassify_Scenario(t *testing.T) {
	b, trees := scenarioModel(t)
	inst := []float64{0.3, 0.95, 0.05, 0.5}

	wantLabels := []int{1, 3, 0, 2}
	for i, v := range inst {
		assert.Equal(t, wantLabels[i], trees[i].Locate(v), "position %d", i)
	}

	buckets, err := Classify(inst, b, trees)
	require.NoError(t, err)
	require.Equal(t, 4, buckets.Len())
	assert.Equal(t, []float64{0.05}, buckets.Bucket(0))
	assert.Equal(t, []float64{0.3}, buckets.Bucket(1))
	assert.Equal(t, []float64{0.5}, buckets.Bucket(2))
	assert.Equal(t, []float64{0.95}, buckets.Bucket(3))

	sorted, err := SortInstance(inst, b, trees)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, 0.3, 0.5, 0.95}, sorted)
	assert.Equal(t, []float64{0.3, 0.95, 0.05, 0.5}, inst)
}

func TestClassify_BoundaryValueStartsInterval(t *testing.T) {
	b, trees := scenarioModel(t)
	inst := []float64{0.45, 0.45, 0.45, 0.45}
	buckets, err := Classify(inst, b, trees)
	require.NoError(t, err)
	assert.Len(t, buckets.Bucket(2), 4)

	counts := model.NewDenseCounts[uint32](4, 4, model.FallbackUniform)
	require.NoError(t, model.Observe(inst, b, counts))
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint64(1), counts.Count(i, 2))
	}
}

func TestTrain_Scenario(t *testing.T) {
	s, err := Train(scenarioSet(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Positions())
	assert.InDeltaSlice(t, []float64{0.35, 0.55, 0.75}, s.Boundaries().Cuts(), 1e-12)
	for _, tree := range s.Trees() {
		require.NoError(t, tree.Validate(s.Boundaries()))
	}

	sorted, err := s.Sort([]float64{0.3, 0.95, 0.05, 0.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, 0.3, 0.5, 0.95}, sorted)
}

func TestTrain_RejectsDegenerateData(t *testing.T) {
	_, err := Train(nil, 4)
	assert.ErrorIs(t, err, common.ErrData)

	_, err = Train(common.TrainingSet{{}, {}}, 4)
	assert.ErrorIs(t, err, common.ErrData)

	_, err = Train(common.TrainingSet{{1, 2}, {1}}, 4)
	assert.ErrorIs(t, err, common.ErrData)

	_, err = Train(common.TrainingSet{{5, 5}, {5, 5}}, 2)
	assert.ErrorIs(t, err, common.ErrData)

	_, err = Train(common.TrainingSet{{1, math.Inf(1)}}, 2)
	assert.ErrorIs(t, err, common.ErrInvalidSample)

	_, err = Train(scenarioSet(), 4, WithCounterBits(12))
	assert.ErrorIs(t, err, common.ErrData)
}

func TestTrain_CounterOverflow(t *testing.T) {
	s, err := source.New(source.Uniform, 3)
	require.NoError(t, err)
	ts := source.Collect(s, 4, 300)
	_, err = Train(ts, 4, WithCounterBits(8))
	assert.ErrorIs(t, err, common.ErrData)

	_, err = Train(ts, 4, WithCounterBits(16))
	assert.NoError(t, err)
}

func TestSort_NaNRejected(t *testing.T) {
	ws := monitor.NewWorkloadStats()
	s, err := Train(scenarioSet(), 4, WithStats(ws))
	require.NoError(t, err)

	_, err = s.Sort([]float64{0.1, math.NaN(), 0.2, 0.3})
	var se *common.SampleError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Position)
	assert.ErrorIs(t, err, common.ErrInvalidSample)
	assert.Equal(t, uint64(1), ws.RejectCount)

	// infinities are ordered, not rejected
	out, err := s.Sort([]float64{math.Inf(1), 0.5, math.Inf(-1), 0.2})
	require.NoError(t, err)
	assert.Equal(t, []float64{math.Inf(-1), 0.2, 0.5, math.Inf(1)}, out)
	assert.Equal(t, uint64(1), ws.SortCount)
	assert.Equal(t, uint64(1), ws.TrainCount)
}

func TestSort_LengthMismatch(t *testing.T) {
	s, err := Train(scenarioSet(), 4)
	require.NoError(t, err)
	_, err = s.Sort([]float64{0.1, 0.2})
	assert.ErrorIs(t, err, common.ErrData)

	_, err = Classify([]float64{0.1, 0.2, 0.3, 0.4}, model.Boundaries{0, 1}, s.Trees())
	assert.ErrorIs(t, err, common.ErrBoundary)
}

func trainFamily(t *testing.T, family source.Family, n, rounds int, opts ...Option) (*Sorter, source.Sampler) {
	t.Helper()
	src, err := source.New(family, 20240601)
	require.NoError(t, err)
	s, err := Train(source.Collect(src, n, rounds), n, opts...)
	require.NoError(t, err)
	return s, src
}

func TestSort_PartitionAndOracle(t *testing.T) {
	pool, err := parallel.New(4)
	require.NoError(t, err)
	defer pool.Close()

	configs := map[string][]Option{
		"dense":      nil,
		"sparse":     {WithSparse(true)},
		"bisection":  {WithBuilder(model.Bisection)},
		"auto":       {WithBuilder(model.Auto), WithExactLimit(8)},
		"float32":    {WithProbabilityBits(32), WithCounterBits(16)},
		"parallel":   {WithPool(pool), WithParallelThreshold(1)},
		"tiny limit": {WithInsertionLimit(1)},
	}
	for name, opts := range configs {
		t.Run(name, func(t *testing.T) {
			for _, family := range source.Families() {
				s, src := trainFamily(t, family, 48, 10, opts...)
				for trial := 0; trial < 20; trial++ {
					inst := []float64(source.Instance(src, 48))

					buckets, err := Classify(inst, s.Boundaries(), s.Trees())
					require.NoError(t, err)
					assert.Equal(t, len(inst), buckets.Offsets[buckets.Len()])
					got := slices.Clone(buckets.Values)
					slices.Sort(got)
					want := slices.Clone(inst)
					slices.Sort(want)
					assert.Equal(t, want, got)

					sorted, st, err := s.SortStats(inst)
					require.NoError(t, err)
					assert.Equal(t, want, sorted)
					assert.LessOrEqual(t, st.MaxBucket, 48)
					assert.GreaterOrEqual(t, st.NonEmptyBuckets, 1)

					again, err := s.Sort(sorted)
					require.NoError(t, err)
					assert.Equal(t, sorted, again)
				}
			}
		})
	}
}

func TestSort_ComparisonsApproachEntropy(t *testing.T) {
	const n, trials = 64, 100
	gaps := make(map[int]float64)
	for _, rounds := range []int{8, 32, 128} {
		s, src := trainFamily(t, source.Gaussian, n, rounds)
		total := int64(0)
		for i := 0; i < trials; i++ {
			_, st, err := s.SortStats(source.Instance(src, n))
			require.NoError(t, err)
			total += st.ClassifyComparisons
		}
		mean, h := float64(total)/trials, s.TotalEntropy()
		gaps[rounds] = mean - h
		if rounds >= 32 {
			assert.LessOrEqual(t, mean, h+2*n, "rounds=%d", rounds)
			assert.GreaterOrEqual(t, mean, 0.5*h, "rounds=%d", rounds)
		}
	}
	assert.Less(t, gaps[128], gaps[8])
}

func TestSort_PiecewiseIsNearlyFree(t *testing.T) {
	const n, trials = 32, 20
	s, src := trainFamily(t, source.Piecewise, n, 20)
	// every position owns its interval outright
	assert.InDelta(t, 0.0, s.TotalEntropy(), 1e-9)

	total := int64(0)
	for i := 0; i < trials; i++ {
		_, st, err := s.SortStats(source.Instance(src, n))
		require.NoError(t, err)
		total += st.ClassifyComparisons
	}
	assert.LessOrEqual(t, float64(total)/trials, float64(4*n))
}

func configWith(builder, storage, fallback string) *config.Config {
	cfg := config.Default()
	cfg.Tree.Builder = builder
	cfg.Training.Storage = storage
	cfg.Training.Fallback = fallback
	return cfg
}

func TestOptionsFromConfig(t *testing.T) {
	cfgOpts, err := OptionsFromConfig(configWith("auto", "sparse", "zero"))
	require.NoError(t, err)
	o := defaultOptions()
	for _, opt := range cfgOpts {
		opt(&o)
	}
	assert.Equal(t, model.Auto, o.builder)
	assert.True(t, o.sparse)
	assert.Equal(t, model.FallbackZero, o.fallback)

	_, err = OptionsFromConfig(configWith("greedy", "dense", "uniform"))
	assert.ErrorIs(t, err, common.ErrData)
}

func BenchmarkSort_Gaussian(b *testing.B) {
	src, _ := source.New(source.Gaussian, 1)
	s, err := Train(source.Collect(src, 1024, source.DefaultRounds(1024)*4), 1024)
	if err != nil {
		b.Fatal(err)
	}
	inst := source.Instance(src, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Sort(inst); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSort_Baseline(b *testing.B) {
	src, _ := source.New(source.Gaussian, 1)
	inst := source.Instance(src, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := slices.Clone(inst)
		slices.Sort(v)
	}
}

func TestTrain_LogsSummary(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	logger.Set(zap.New(obs))
	defer logger.Set(nil)

	_, _ = trainFamily(t, source.Uniform, 40, 6, WithBuilder(model.Auto), WithExactLimit(4))

	done := logs.FilterMessage("training complete").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	assert.Equal(t, int64(40), fields["positions"])
	assert.Equal(t, "auto", fields["builder"])
	assert.Positive(t, fields["substitutions"])
	assert.Equal(t, logs.FilterMessage("tree builder substituted bisection").Len(), int(fields["substitutions"].(int64)))
}

func TestSorter_ClassifyMatchesPackageLevel(t *testing.T) {
	pool, err := parallel.New(3)
	require.NoError(t, err)
	defer pool.Close()

	s, src := trainFamily(t, source.Gaussian, 100, 7, WithPool(pool), WithParallelThreshold(10))
	inst := source.Instance(src, 100)

	want, err := Classify(inst, s.Boundaries(), s.Trees())
	require.NoError(t, err)
	got, st, err := s.Classify(inst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Positive(t, st.ClassifyComparisons)
	assert.Zero(t, st.BucketComparisons)

	_, full, err := s.SortStats(inst)
	require.NoError(t, err)
	assert.Equal(t, st.ClassifyComparisons, full.ClassifyComparisons)
	assert.Equal(t, st.MaxBucket, full.MaxBucket)
	assert.Equal(t, full.ClassifyComparisons+full.BucketComparisons, full.Comparisons())
}
