package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sisort/pkg/common"
	"sisort/pkg/config"
	"sisort/pkg/core"
	"sisort/pkg/logger"
	"sisort/pkg/monitor"
	"sisort/pkg/parallel"
	"sisort/pkg/source"
	"sisort/pkg/storage"
)

const usage = `sisort <command> [flags]

Commands:
  train   learn a model from a sample source or sample log
  sort    sort fresh instances with a stored model
  serve   sort continuously and export Prometheus metrics
  demo    train and sort in one process
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	var err error
	switch cmd := strings.ToLower(os.Args[1]); cmd {
	case "train":
		err = runTrain(os.Args[2:])
	case "sort":
		err = runSort(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "demo":
		err = runDemo(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Printf("Unknown command: '%s'.\n%s", cmd, usage)
		os.Exit(2)
	}
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every subcommand sets up from the config file.
type env struct {
	cfg   *config.Config
	pool  *parallel.Pool
	stats *monitor.WorkloadStats
}

func setup(configPath string) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	pool, err := parallel.New(cfg.Sorter.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "start worker pool")
	}
	return &env{cfg: cfg, pool: pool, stats: monitor.NewWorkloadStats()}, nil
}

func (e *env) close() {
	e.pool.Close()
}

func (e *env) options() ([]core.Option, error) {
	opts, err := core.OptionsFromConfig(e.cfg)
	if err != nil {
		return nil, err
	}
	return append(opts, core.WithPool(e.pool), core.WithStats(e.stats)), nil
}

func (e *env) openStore() (*storage.ModelStore, error) {
	if err := os.MkdirAll(e.cfg.Storage.Path, 0755); err != nil {
		return nil, err
	}
	return storage.OpenModelStore(filepath.Join(e.cfg.Storage.Path, e.cfg.Storage.ModelDB))
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (default: configs/sisort.yaml or sisort.yaml)")
	family := fs.String("family", "gaussian", "sample source: uniform, piecewise, gaussian, beta")
	n := fs.Int("n", 1024, "positions per instance")
	rounds := fs.Int("rounds", 0, "training rounds (default: training.rounds or ceil(log2 n))")
	m := fs.Int("m", 0, "bucket count (default: training.intervals or n)")
	seed := fs.Uint64("seed", uint64(time.Now().UnixNano()), "source seed")
	samples := fs.Bool("samples", false, "train on the sample log instead of drawing fresh rounds")
	record := fs.Bool("record", false, "append drawn rounds to the sample log")
	out := fs.String("out", "", "also write a snapshot file")
	name := fs.String("name", "", "model name in the store (default: family)")
	fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	ts, err := trainingSet(e, *family, *n, *rounds, *seed, *samples, *record)
	if err != nil {
		return err
	}
	buckets := *m
	if buckets == 0 {
		buckets = e.cfg.Training.Intervals
	}
	if buckets == 0 {
		buckets = ts.Positions()
	}

	opts, err := e.options()
	if err != nil {
		return err
	}
	start := time.Now()
	s, err := core.Train(ts, buckets, opts...)
	if err != nil {
		return err
	}
	fmt.Printf("Trained on %d x %d samples in %v: %d intervals, entropy %.1f bits\n",
		ts.Rounds(), ts.Positions(), time.Since(start), s.Boundaries().Intervals(), s.TotalEntropy())

	var snap bytes.Buffer
	if err := s.Save(&snap); err != nil {
		return err
	}
	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	modelName := *name
	if modelName == "" {
		modelName = *family
	}
	info, err := store.Put(storage.ModelInfo{
		Name:      modelName,
		Positions: s.Positions(),
		Intervals: s.Boundaries().Intervals(),
		Rounds:    ts.Rounds(),
		Builder:   e.cfg.Tree.Builder,
		Entropy:   s.TotalEntropy(),
	}, snap.Bytes())
	if err != nil {
		return err
	}
	fmt.Printf("Stored model %s (%s, %d bytes)\n", info.ID, info.Name, snap.Len())

	if *out != "" {
		if err := s.SaveFile(*out); err != nil {
			return err
		}
		fmt.Printf("Wrote snapshot %s\n", *out)
	}
	return nil
}

func trainingSet(e *env, family string, n, rounds int, seed uint64, fromLog, record bool) (common.TrainingSet, error) {
	logPath := filepath.Join(e.cfg.Storage.Path, e.cfg.Storage.SampleLog)
	if fromLog || record {
		if err := os.MkdirAll(e.cfg.Storage.Path, 0755); err != nil {
			return nil, err
		}
	}
	if fromLog {
		l, err := storage.OpenSampleLog(logPath)
		if err != nil {
			return nil, err
		}
		defer l.Close()
		ts, err := l.ReadAll()
		if err != nil {
			return nil, err
		}
		logger.Info("loaded sample log", zap.String("path", logPath), zap.Int("rounds", ts.Rounds()))
		return ts, nil
	}

	f, err := source.ParseFamily(family)
	if err != nil {
		return nil, err
	}
	src, err := source.New(f, seed)
	if err != nil {
		return nil, err
	}
	if rounds == 0 {
		rounds = e.cfg.Training.Rounds
	}
	if rounds == 0 {
		rounds = source.DefaultRounds(n)
	}
	ts := source.Collect(src, n, rounds)

	if record {
		l, err := storage.OpenSampleLog(logPath)
		if err != nil {
			return nil, err
		}
		defer l.Close()
		if err := l.AppendSet(ts); err != nil {
			return nil, err
		}
		size, _ := l.Size()
		logger.Info("recorded samples", zap.String("path", logPath), zap.Int64("bytes", size))
	}
	return ts, nil
}

// loadModel resolves a model from a snapshot file, a store id, or the
// latest model stored under name.
func loadModel(e *env, file, id, name string) (*core.Sorter, error) {
	opts, err := e.options()
	if err != nil {
		return nil, err
	}
	if file != "" {
		return core.LoadFile(file, opts...)
	}

	store, err := e.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	var (
		info storage.ModelInfo
		snap []byte
	)
	if id != "" {
		parsed, perr := uuid.Parse(id)
		if perr != nil {
			return nil, errors.Wrapf(perr, "model id %q", id)
		}
		info, snap, err = store.Get(parsed)
	} else {
		info, snap, err = store.Latest(name)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("loaded model", zap.String("id", info.ID.String()), zap.String("name", info.Name),
		zap.Int("positions", info.Positions), zap.Time("created", info.CreatedAt))
	return core.Load(bytes.NewReader(snap), opts...)
}

func runSort(args []string) error {
	fs := flag.NewFlagSet("sort", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	file := fs.String("model", "", "snapshot file (default: model store)")
	id := fs.String("id", "", "model id in the store")
	name := fs.String("name", "", "latest model with this name (default: latest of any name)")
	family := fs.String("family", "gaussian", "sample source for fresh instances")
	seed := fs.Uint64("seed", uint64(time.Now().UnixNano()), "source seed")
	count := fs.Int("count", 100, "instances to sort")
	verify := fs.Bool("verify", true, "cross-check every result against slices.Sort")
	fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()

	s, err := loadModel(e, *file, *id, *name)
	if err != nil {
		return err
	}
	f, err := source.ParseFamily(*family)
	if err != nil {
		return err
	}
	src, err := source.New(f, *seed)
	if err != nil {
		return err
	}

	var total core.Stats
	start := time.Now()
	for i := 0; i < *count; i++ {
		inst := []float64(source.Instance(src, s.Positions()))
		out, st, err := s.SortStats(inst)
		if err != nil {
			return err
		}
		if *verify {
			want := slices.Clone(inst)
			slices.Sort(want)
			if !slices.Equal(want, out) {
				return errors.Newf("instance %d: result differs from slices.Sort", i)
			}
		}
		total.ClassifyComparisons += st.ClassifyComparisons
		total.BucketComparisons += st.BucketComparisons
		total.MaxBucket = max(total.MaxBucket, st.MaxBucket)
	}
	elapsed := time.Since(start)

	c := float64(*count)
	fmt.Printf("Sorted %d instances of %d in %v (%v each)\n", *count, s.Positions(), elapsed, elapsed/time.Duration(max(*count, 1)))
	fmt.Printf("  classify comparisons  %.1f per instance (entropy bound %.1f)\n", float64(total.ClassifyComparisons)/c, s.TotalEntropy())
	fmt.Printf("  bucket comparisons    %.1f per instance, largest bucket %d\n", float64(total.BucketComparisons)/c, total.MaxBucket)
	fmt.Printf("  rejected              %d\n", e.stats.RejectCount)
	return nil
}

func runDemo(args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	n := fs.Int("n", 256, "positions per instance")
	seed := fs.Uint64("seed", 1, "source seed")
	fs.Parse(args)

	e, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer e.close()
	opts, err := e.options()
	if err != nil {
		return err
	}

	fmt.Println("family      rounds  entropy  classify  bucket")
	for _, f := range source.Families() {
		src, err := source.New(f, *seed)
		if err != nil {
			return err
		}
		rounds := source.DefaultRounds(*n) * 4
		s, err := core.Train(source.Collect(src, *n, rounds), *n, opts...)
		if err != nil {
			return err
		}
		const trials = 20
		var total core.Stats
		for i := 0; i < trials; i++ {
			_, st, err := s.SortStats(source.Instance(src, *n))
			if err != nil {
				return err
			}
			total.ClassifyComparisons += st.ClassifyComparisons
			total.BucketComparisons += st.BucketComparisons
		}
		fmt.Printf("%-10s  %6d  %7.1f  %8.1f  %6.1f\n", f, rounds, s.TotalEntropy(),
			float64(total.ClassifyComparisons)/trials, float64(total.BucketComparisons)/trials)
	}
	return nil
}
