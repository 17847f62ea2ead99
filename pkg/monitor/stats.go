package monitor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkloadStats counts training and steady-state activity. The atomic
// counters are always kept; the Prometheus collectors are exported once
// Register is called.
type WorkloadStats struct {
	TrainCount      uint64
	SortCount       uint64
	RejectCount     uint64
	ComparisonCount uint64

	trains      prometheus.Counter
	sorts       prometheus.Counter
	rejects     prometheus.Counter
	comparisons prometheus.Counter
	perInstance prometheus.Histogram
	trainTime   prometheus.Histogram
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{
		trains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sisort",
			Name:      "train_runs_total",
			Help:      "Completed training runs.",
		}),
		sorts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sisort",
			Name:      "instances_sorted_total",
			Help:      "Instances sorted in steady state.",
		}),
		rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sisort",
			Name:      "instances_rejected_total",
			Help:      "Instances rejected for invalid samples.",
		}),
		comparisons: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sisort",
			Name:      "classification_comparisons_total",
			Help:      "Boundary comparisons made by the bucket classifier.",
		}),
		perInstance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sisort",
			Name:      "classification_comparisons_per_position",
			Help:      "Mean classification comparisons per position of a sorted instance.",
			Buckets:   prometheus.LinearBuckets(0, 1, 17),
		}),
		trainTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sisort",
			Name:      "train_duration_seconds",
			Help:      "Wall time of training runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

// Register exports the collectors on reg.
func (ws *WorkloadStats) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{ws.trains, ws.sorts, ws.rejects, ws.comparisons, ws.perInstance, ws.trainTime} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (ws *WorkloadStats) RecordTrain(d time.Duration) {
	atomic.AddUint64(&ws.TrainCount, 1)
	ws.trains.Inc()
	ws.trainTime.Observe(d.Seconds())
}

// RecordSort records one sorted instance of n positions.
func (ws *WorkloadStats) RecordSort(n int, comparisons int64) {
	atomic.AddUint64(&ws.SortCount, 1)
	atomic.AddUint64(&ws.ComparisonCount, uint64(comparisons))
	ws.sorts.Inc()
	ws.comparisons.Add(float64(comparisons))
	if n > 0 {
		ws.perInstance.Observe(float64(comparisons) / float64(n))
	}
}

func (ws *WorkloadStats) RecordReject() {
	atomic.AddUint64(&ws.RejectCount, 1)
	ws.rejects.Inc()
}

// MeanComparisons returns classification comparisons per sorted instance.
func (ws *WorkloadStats) MeanComparisons() float64 {
	sorts := atomic.LoadUint64(&ws.SortCount)
	if sorts == 0 {
		return 0.0
	}
	return float64(atomic.LoadUint64(&ws.ComparisonCount)) / float64(sorts)
}
