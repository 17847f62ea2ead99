// Package source generates training and steady-state instances from fixed
// per-position distributions.
package source

import (
	"math"
	"math/bits"
	"math/rand/v2"
	"strings"

	"sisort/pkg/common"
)

// Sampler draws the value at one position of an instance.
type Sampler interface {
	Sample(pos int) float64
}

// Family names a per-position distribution.
type Family string

const (
	// Uniform draws every position from [0, 1).
	Uniform Family = "uniform"
	// Piecewise draws position i from [i, i+1).
	Piecewise Family = "piecewise"
	// Gaussian draws position i from N(i, 1).
	Gaussian Family = "gaussian"
	// Beta draws every position from Beta(2, 5).
	Beta Family = "beta"
)

func Families() []Family {
	return []Family{Uniform, Piecewise, Gaussian, Beta}
}

func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(s))
	for _, known := range Families() {
		if f == known {
			return f, nil
		}
	}
	return "", common.DataErrorf("unknown source family %q", s)
}

type randSampler struct {
	family Family
	rng    *rand.Rand
}

// New returns a deterministic sampler for family. A sampler is not safe for
// concurrent use.
func New(family Family, seed uint64) (Sampler, error) {
	if _, err := ParseFamily(string(family)); err != nil {
		return nil, err
	}
	return &randSampler{
		family: family,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

func (s *randSampler) Sample(pos int) float64 {
	switch s.family {
	case Piecewise:
		return float64(pos) + s.rng.Float64()
	case Gaussian:
		return float64(pos) + s.rng.NormFloat64()
	case Beta:
		// Beta(2, 5) as the ratio of Gamma(2) to Gamma(2) + Gamma(5).
		num := s.rng.ExpFloat64() + s.rng.ExpFloat64()
		den := num
		for j := 0; j < 5; j++ {
			den += s.rng.ExpFloat64()
		}
		return num / den
	}
	return s.rng.Float64()
}

// Instance draws one instance of n positions.
func Instance(s Sampler, n int) common.Instance {
	inst := make(common.Instance, n)
	for i := range inst {
		inst[i] = s.Sample(i)
	}
	return inst
}

// Collect draws rounds instances of n positions.
func Collect(s Sampler, n, rounds int) common.TrainingSet {
	ts := make(common.TrainingSet, rounds)
	for r := range ts {
		ts[r] = Instance(s, n)
	}
	return ts
}

// DefaultRounds returns ceil(log2 n), at least 1.
func DefaultRounds(n int) int {
	if n <= 2 {
		return 1
	}
	return bits.Len(uint(n - 1))
}

// ExpectedMean is the mean of family at pos, for sanity checks.
func ExpectedMean(family Family, pos int) float64 {
	switch family {
	case Piecewise:
		return float64(pos) + 0.5
	case Gaussian:
		return float64(pos)
	case Beta:
		return 2.0 / 7.0
	case Uniform:
		return 0.5
	}
	return math.NaN()
}
