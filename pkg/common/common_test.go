package common

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrainingSetValidate(t *testing.T) {
	require.ErrorIs(t, TrainingSet{}.Validate(), ErrData)
	require.ErrorIs(t, TrainingSet{{}}.Validate(), ErrData)
	require.ErrorIs(t, TrainingSet{{1, 2}, {1}}.Validate(), ErrData)

	err := TrainingSet{{1, 2}, {3, math.NaN()}}.Validate()
	require.ErrorIs(t, err, ErrInvalidSample)
	var se *SampleError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 1, se.Instance)
	require.Equal(t, 1, se.Position)

	require.ErrorIs(t, TrainingSet{{math.Inf(1), 2}}.Validate(), ErrInvalidSample)
	require.NoError(t, TrainingSet{{1, 2}, {3, 4}}.Validate())
}

func TestCheckSamples(t *testing.T) {
	require.NoError(t, CheckSamples([]float64{math.Inf(-1), 0, math.Inf(1)}))
	require.ErrorIs(t, CheckSamples([]float64{0, math.NaN()}), ErrInvalidSample)
}

func TestErrorKindsAreDistinct(t *testing.T) {
	err := DataErrorf("only %d distinct values", 1)
	require.ErrorIs(t, err, ErrData)
	require.False(t, errors.Is(err, ErrBoundary))
	require.Contains(t, err.Error(), "only 1 distinct values")
}
