package common

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrData marks degenerate or insufficient training data.
	ErrData = errors.New("data error")
	// ErrBoundary marks a boundary sequence that is not strictly increasing.
	ErrBoundary = errors.New("boundary error")
	// ErrInvalidSample marks a value that cannot be compared against boundaries.
	ErrInvalidSample = errors.New("invalid sample")
)

func DataErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrData, format, args...)
}

func BoundaryErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrBoundary, format, args...)
}

// SampleError reports where a non-finite value was found. Instance is -1
// when the value came from a single steady-state instance.
type SampleError struct {
	Instance int
	Position int
	Value    float64
}

func (e *SampleError) Error() string {
	if e.Instance < 0 {
		return fmt.Sprintf("invalid sample: position %d holds %v", e.Position, e.Value)
	}
	return fmt.Sprintf("invalid sample: instance %d position %d holds %v", e.Instance, e.Position, e.Value)
}

func (e *SampleError) Unwrap() error {
	return ErrInvalidSample
}
