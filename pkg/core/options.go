package core

import (
	"sisort/pkg/common"
	"sisort/pkg/config"
	"sisort/pkg/model"
	"sisort/pkg/monitor"
	"sisort/pkg/parallel"
)

const (
	DefaultInsertionLimit    = 32
	DefaultParallelThreshold = 4096
)

type options struct {
	builder           model.BuilderKind
	exactLimit        int
	counterBits       int
	probabilityBits   int
	sparse            bool
	fallback          model.Fallback
	pool              *parallel.Pool
	stats             *monitor.WorkloadStats
	insertionLimit    int
	parallelThreshold int
}

func defaultOptions() options {
	return options{
		builder:           model.Optimal,
		exactLimit:        model.DefaultExactLimit,
		counterBits:       32,
		probabilityBits:   64,
		fallback:          model.FallbackUniform,
		insertionLimit:    DefaultInsertionLimit,
		parallelThreshold: DefaultParallelThreshold,
	}
}

// Option configures Train and Load.
type Option func(*options)

func WithBuilder(kind model.BuilderKind) Option {
	return func(o *options) { o.builder = kind }
}

// WithExactLimit sets the collapsed leaf count above which Auto switches to
// bisection.
func WithExactLimit(limit int) Option {
	return func(o *options) { o.exactLimit = limit }
}

// WithCounterBits selects 8, 16 or 32 bit dense counters. Narrow counters
// bound the number of training rounds.
func WithCounterBits(bits int) Option {
	return func(o *options) { o.counterBits = bits }
}

// WithProbabilityBits rounds probabilities to float32 (32) or keeps float64 (64).
func WithProbabilityBits(bits int) Option {
	return func(o *options) { o.probabilityBits = bits }
}

// WithSparse stores counts as per-position ordered maps instead of an n*m matrix.
func WithSparse(sparse bool) Option {
	return func(o *options) { o.sparse = sparse }
}

func WithFallback(f model.Fallback) Option {
	return func(o *options) { o.fallback = f }
}

// WithPool runs position ranges on pool. The caller owns and closes it.
func WithPool(p *parallel.Pool) Option {
	return func(o *options) { o.pool = p }
}

func WithStats(ws *monitor.WorkloadStats) Option {
	return func(o *options) { o.stats = ws }
}

// WithInsertionLimit sets the bucket length above which bucket sorting
// leaves insertion sort.
func WithInsertionLimit(limit int) Option {
	return func(o *options) { o.insertionLimit = limit }
}

// WithParallelThreshold sets the instance length below which work stays on
// the calling goroutine.
func WithParallelThreshold(n int) Option {
	return func(o *options) { o.parallelThreshold = n }
}

func (o *options) validate() error {
	switch o.counterBits {
	case 8, 16, 32:
	default:
		return common.DataErrorf("counter width must be 8, 16 or 32 bits, got %d", o.counterBits)
	}
	switch o.probabilityBits {
	case 32, 64:
	default:
		return common.DataErrorf("probability precision must be 32 or 64 bits, got %d", o.probabilityBits)
	}
	if o.insertionLimit < 1 {
		o.insertionLimit = DefaultInsertionLimit
	}
	if o.exactLimit < 1 {
		o.exactLimit = model.DefaultExactLimit
	}
	return nil
}

// poolFor returns the pool when n positions are worth spreading out.
func (o *options) poolFor(n int) *parallel.Pool {
	if n < o.parallelThreshold {
		return nil
	}
	return o.pool
}

// OptionsFromConfig maps the training, tree and sorter sections of cfg. The
// pool and stats are left to the caller.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	kind, err := model.ParseBuilderKind(cfg.Tree.Builder)
	if err != nil {
		return nil, err
	}
	fallback := model.FallbackUniform
	if cfg.Training.Fallback == "zero" {
		fallback = model.FallbackZero
	}
	return []Option{
		WithBuilder(kind),
		WithExactLimit(cfg.Tree.ExactLimit),
		WithCounterBits(cfg.Training.CounterBits),
		WithProbabilityBits(cfg.Training.ProbabilityBits),
		WithSparse(cfg.Training.Storage == "sparse"),
		WithFallback(fallback),
		WithInsertionLimit(cfg.Sorter.InsertionLimit),
		WithParallelThreshold(cfg.Sorter.ParallelThreshold),
	}, nil
}
