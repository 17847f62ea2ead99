package common

import (
	"fmt"
	"math"
)

// Instance 一次输入：每个位置一个实数值
type Instance []float64

// TrainingSet R 轮训练实例，每轮长度相同
type TrainingSet []Instance

// Positions returns n, the length every instance must have.
func (ts TrainingSet) Positions() int {
	if len(ts) == 0 {
		return 0
	}
	return len(ts[0])
}

// Rounds returns R.
func (ts TrainingSet) Rounds() int {
	return len(ts)
}

// Validate checks that the set is non-empty, rectangular and finite.
func (ts TrainingSet) Validate() error {
	if len(ts) == 0 {
		return DataErrorf("training set has no rounds")
	}
	n := len(ts[0])
	if n == 0 {
		return DataErrorf("training instances are empty")
	}
	for r, inst := range ts {
		if len(inst) != n {
			return DataErrorf("instance %d has %d values, want %d", r, len(inst), n)
		}
		for i, v := range inst {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &SampleError{Instance: r, Position: i, Value: v}
			}
		}
	}
	return nil
}

// CheckSamples reports the first NaN in inst. Infinities are allowed: they
// compare correctly against finite boundaries.
func CheckSamples(inst []float64) error {
	for i, v := range inst {
		if math.IsNaN(v) {
			return &SampleError{Instance: -1, Position: i, Value: v}
		}
	}
	return nil
}

// String 方便调试打印
func (inst Instance) String() string {
	if len(inst) > 8 {
		return fmt.Sprintf("Instance{n: %d, head: %v}", len(inst), []float64(inst[:8]))
	}
	return fmt.Sprintf("Instance{n: %d, values: %v}", len(inst), []float64(inst))
}
