// Package config loads arena, tree and builder settings from YAML with
// environment overrides.
package config

import (
	"os"
	"strconv"

	"github.com/Pam-La/mwtree/internal/builder"
	"github.com/Pam-La/mwtree/internal/mwtree"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Arena   mwtree.ArenaConfig `yaml:"arena"`
	Tree    TreeConfig         `yaml:"tree"`
	Builder BuilderConfig      `yaml:"builder"`
	Log     LogConfig          `yaml:"log"`
}

// TreeConfig mirrors mwtree.TreeConfig with a textual node kind.
type TreeConfig struct {
	Dim           int              `yaml:"dim"`
	Order         int              `yaml:"order"`
	MaxDepth      int              `yaml:"max_depth"`
	Kind          string           `yaml:"kind"`
	NormPrecision float64          `yaml:"norm_precision"`
	Box           mwtree.BoxConfig `yaml:"box"`
}

type BuilderConfig struct {
	// MaxIter caps split passes; negative means until converged.
	MaxIter int `yaml:"max_iter"`
	// Workers for the parallel compute phase; zero means GOMAXPROCS.
	Workers     int     `yaml:"workers"`
	Precision   float64 `yaml:"precision"`
	SplitFactor float64 `yaml:"split_factor"`
	AbsPrec     bool    `yaml:"absolute_precision"`
	MaxScale    int     `yaml:"max_scale"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a three-dimensional order-5 setup refined to 1e-5
// relative precision.
func Default() Config {
	return Config{
		Tree: TreeConfig{
			Dim:      3,
			Order:    5,
			MaxDepth: mwtree.MaxDepth,
			Kind:     "function",
		},
		Builder: BuilderConfig{
			MaxIter:   -1,
			Precision: 1e-5,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path on top of the defaults and applies MWTREE_* environment
// overrides. An empty path or a missing file leaves the defaults in place;
// a malformed override is reported as ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, errors.Wrapf(err, "parse %s", path)
			}
		case !os.IsNotExist(err):
			return cfg, errors.Wrapf(err, "read %s", path)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without consulting the
// environment.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"MWTREE_MAX_NODES", &cfg.Arena.MaxNodes},
		{"MWTREE_MAX_GEN_NODES", &cfg.Arena.MaxGenNodes},
		{"MWTREE_WORKERS", &cfg.Builder.Workers},
	}
	for _, e := range ints {
		v := os.Getenv(e.name)
		if v == "" {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(mwtree.ErrInvalidConfig, "%s=%q is not an integer", e.name, v)
		}
		*e.dst = i
	}
	if v := os.Getenv("MWTREE_PRECISION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(mwtree.ErrInvalidConfig, "MWTREE_PRECISION=%q is not a number", v)
		}
		cfg.Builder.Precision = f
	}
	if v := os.Getenv("MWTREE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate reports the first setting that no tree or builder would accept.
func (c Config) Validate() error {
	t := c.Tree
	if t.Dim < 1 || t.Dim > mwtree.MaxDim {
		return errors.Wrapf(mwtree.ErrInvalidDimension, "tree.dim %d not in [1, %d]", t.Dim, mwtree.MaxDim)
	}
	if t.Order < 0 || t.Order > mwtree.MaxOrder {
		return errors.Wrapf(mwtree.ErrInvalidOrder, "tree.order %d not in [0, %d]", t.Order, mwtree.MaxOrder)
	}
	if t.MaxDepth > mwtree.MaxDepth {
		return errors.Wrapf(mwtree.ErrInvalidDepth, "tree.max_depth %d exceeds %d", t.MaxDepth, mwtree.MaxDepth)
	}
	if _, err := mwtree.ParseNodeKind(t.Kind); err != nil {
		return err
	}
	if n := len(t.Box.NBoxes); n != 0 && n != t.Dim {
		return errors.Wrapf(mwtree.ErrInvalidConfig, "tree.box.boxes has %d entries for dimension %d", n, t.Dim)
	}
	if c.Arena.MaxNodes < 0 || c.Arena.ChunkNodes < 0 || c.Arena.MaxGenNodes < 0 || c.Arena.GenChunkNodes < 0 {
		return errors.Wrap(mwtree.ErrInvalidConfig, "arena sizes must not be negative")
	}
	if c.Builder.Precision < 0 {
		return errors.Wrapf(mwtree.ErrInvalidConfig, "builder.precision %g is negative", c.Builder.Precision)
	}
	if c.Builder.Workers < 0 {
		return errors.Wrapf(mwtree.ErrInvalidConfig, "builder.workers %d is negative", c.Builder.Workers)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(mwtree.ErrInvalidConfig, "log.level: %v", err)
	}
	return nil
}

// TreeConfig converts the tree and arena sections.
func (c Config) TreeConfig() mwtree.TreeConfig {
	kind, _ := mwtree.ParseNodeKind(c.Tree.Kind)
	return mwtree.TreeConfig{
		Dim:           c.Tree.Dim,
		Order:         c.Tree.Order,
		MaxDepth:      c.Tree.MaxDepth,
		Kind:          kind,
		NormPrecision: c.Tree.NormPrecision,
		Box:           c.Tree.Box,
		Arena:         c.Arena,
	}
}

// BuilderOptions returns the options shared by builders and cleaners.
func (c Config) BuilderOptions(log *zap.Logger, m *builder.Metrics) []builder.Option {
	opts := []builder.Option{builder.WithMaxIter(c.Builder.MaxIter)}
	if log != nil {
		opts = append(opts, builder.WithLogger(log))
	}
	if m != nil {
		opts = append(opts, builder.WithMetrics(m))
	}
	return opts
}

// WaveletAdaptor builds the adaptor described by the builder section.
func WaveletAdaptor[T mwtree.Scalar](c Config) builder.WaveletAdaptor[T] {
	return builder.WaveletAdaptor[T]{
		Prec:     c.Builder.Precision,
		SplitFac: c.Builder.SplitFactor,
		AbsPrec:  c.Builder.AbsPrec,
		MaxScale: c.Builder.MaxScale,
	}
}

// ParallelCalculator wraps a per-node function with the configured worker
// count.
func ParallelCalculator[T mwtree.Scalar](c Config, f func(mwtree.Node[T])) *builder.ParallelCalculator[T] {
	return &builder.ParallelCalculator[T]{Func: f, Workers: c.Builder.Workers}
}

// Logger builds a zap logger at the configured level.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrapf(mwtree.ErrInvalidConfig, "log.level: %v", err)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	l, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return l, nil
}
