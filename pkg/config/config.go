package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Training TrainingConfig `yaml:"training"`
	Tree     TreeConfig     `yaml:"tree"`
	Sorter   SorterConfig   `yaml:"sorter"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type TrainingConfig struct {
	Rounds          int    `yaml:"rounds"`           // 0 = ceil(log2 n)
	Intervals       int    `yaml:"intervals"`        // 0 = n
	CounterBits     int    `yaml:"counter_bits"`     // 8, 16 or 32
	ProbabilityBits int    `yaml:"probability_bits"` // 32 or 64
	Storage         string `yaml:"storage"`          // dense | sparse
	Fallback        string `yaml:"fallback"`         // uniform | zero
}

type TreeConfig struct {
	Builder    string `yaml:"builder"` // optimal | bisection | auto
	ExactLimit int    `yaml:"exact_limit"`
}

type SorterConfig struct {
	Workers           int `yaml:"workers"` // 0 = GOMAXPROCS
	ParallelThreshold int `yaml:"parallel_threshold"`
	InsertionLimit    int `yaml:"insertion_limit"`
}

type StorageConfig struct {
	Path      string `yaml:"path"`
	ModelDB   string `yaml:"model_db"`
	SampleLog string `yaml:"sample_log"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

func Default() *Config {
	return &Config{
		Training: TrainingConfig{
			CounterBits:     32,
			ProbabilityBits: 64,
			Storage:         "dense",
			Fallback:        "uniform",
		},
		Tree: TreeConfig{
			Builder:    "optimal",
			ExactLimit: 1024,
		},
		Sorter: SorterConfig{
			ParallelThreshold: 4096,
			InsertionLimit:    32,
		},
		Storage: StorageConfig{
			Path:      "sisort_data",
			ModelDB:   "models.db",
			SampleLog: "samples.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/sisort.yaml", "sisort.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, errors.Wrapf(err, "parse %s", p)
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", configPath)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Training.CounterBits == 0 {
		cfg.Training.CounterBits = 32
	}
	if cfg.Training.ProbabilityBits == 0 {
		cfg.Training.ProbabilityBits = 64
	}
	if cfg.Training.Storage == "" {
		cfg.Training.Storage = "dense"
	}
	if cfg.Training.Fallback == "" {
		cfg.Training.Fallback = "uniform"
	}
	if cfg.Tree.Builder == "" {
		cfg.Tree.Builder = "optimal"
	}
	if cfg.Tree.ExactLimit <= 0 {
		cfg.Tree.ExactLimit = 1024
	}
	if cfg.Sorter.ParallelThreshold <= 0 {
		cfg.Sorter.ParallelThreshold = 4096
	}
	if cfg.Sorter.InsertionLimit <= 0 {
		cfg.Sorter.InsertionLimit = 32
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "sisort_data"
	}
	if cfg.Storage.ModelDB == "" {
		cfg.Storage.ModelDB = "models.db"
	}
	if cfg.Storage.SampleLog == "" {
		cfg.Storage.SampleLog = "samples.log"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Training.CounterBits {
	case 8, 16, 32:
	default:
		return errors.Newf("training.counter_bits must be 8, 16 or 32, got %d", c.Training.CounterBits)
	}
	switch c.Training.ProbabilityBits {
	case 32, 64:
	default:
		return errors.Newf("training.probability_bits must be 32 or 64, got %d", c.Training.ProbabilityBits)
	}
	if c.Training.Storage != "dense" && c.Training.Storage != "sparse" {
		return errors.Newf("training.storage must be dense or sparse, got %q", c.Training.Storage)
	}
	if c.Training.Fallback != "uniform" && c.Training.Fallback != "zero" {
		return errors.Newf("training.fallback must be uniform or zero, got %q", c.Training.Fallback)
	}
	if c.Training.Rounds < 0 || c.Training.Intervals < 0 {
		return errors.New("training.rounds and training.intervals must not be negative")
	}
	switch c.Tree.Builder {
	case "optimal", "bisection", "auto":
	default:
		return errors.Newf("tree.builder must be optimal, bisection or auto, got %q", c.Tree.Builder)
	}
	if c.Sorter.Workers < 0 {
		return errors.Newf("sorter.workers must not be negative, got %d", c.Sorter.Workers)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return errors.Newf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
