package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/Pam-La/mwtree/internal/mwtree"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

type settings struct {
	maxIter int
	logger  *zap.Logger
	metrics *Metrics
}

type Option func(*settings)

// WithMaxIter caps the number of split passes of a build. Negative values
// mean no cap; zero computes the current grid once without refining.
func WithMaxIter(n int) Option {
	return func(s *settings) { s.maxIter = n }
}

// WithLogger overrides the tree's own logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

func newSettings(opts []Option) settings {
	s := settings{maxIter: -1}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s *settings) loggerFor(id fmt.Stringer, fallback *zap.Logger) *zap.Logger {
	if s.logger == nil {
		return fallback
	}
	return s.logger.With(zap.Stringer("tree", id))
}

// BuildStats summarises one Build call.
type BuildStats struct {
	Iterations int
	Splits     int
	Computed   int
	Duration   time.Duration
}

// TreeBuilder grows a tree until the adaptor is satisfied. Each pass
// computes the work set, folds its norms into the tree norm, and splits the
// accepted nodes; their children form the next work set.
type TreeBuilder[T mwtree.Scalar] struct {
	calc    Calculator[T]
	adaptor Adaptor[T]
	opts    settings
}

func NewTreeBuilder[T mwtree.Scalar](calc Calculator[T], adaptor Adaptor[T], opts ...Option) *TreeBuilder[T] {
	return &TreeBuilder[T]{calc: calc, adaptor: adaptor, opts: newSettings(opts)}
}

// Build runs passes until nothing is split or the iteration cap is hit.
// A failed split leaves the nodes split so far in place and returns the
// error; the tree stays structurally valid.
func (b *TreeBuilder[T]) Build(ctx context.Context, tree *mwtree.Tree[T]) (BuildStats, error) {
	var st BuildStats
	if b.calc == nil {
		return st, errors.WithStack(ErrNoCalculator)
	}
	if b.adaptor == nil {
		return st, errors.WithStack(ErrNoAdaptor)
	}
	log := b.opts.loggerFor(tree.ID(), tree.Logger())
	start := time.Now()

	work := tree.CopyEndNodeTable()
	var accepted []mwtree.Node[T]
	sNorm, wNorm := 0.0, 0.0
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return st, errors.Wrapf(err, "build pass %d", st.Iterations)
		}
		t0 := time.Now()
		if err := b.calc.CalcNodeVector(ctx, work); err != nil {
			return st, errors.Wrapf(err, "compute pass %d", st.Iterations)
		}
		b.opts.metrics.observe("compute", time.Since(t0))
		computed := len(work)
		st.Computed += computed

		if st.Iterations == 0 {
			sNorm = sumNorms(work, mwtree.Node[T].ScalingNorm)
		}
		wNorm = addNorms(wNorm, sumNorms(work, mwtree.Node[T].WaveletNorm))
		if sNorm < 0 || wNorm < 0 {
			tree.ClearSquareNorm()
		} else {
			tree.SetSquareNorm(sNorm + wNorm)
		}

		var next []mwtree.Node[T]
		nSplit := 0
		if b.opts.maxIter < 0 || st.Iterations < b.opts.maxIter {
			if err := ctx.Err(); err != nil {
				return st, errors.Wrapf(err, "build pass %d", st.Iterations)
			}
			t1 := time.Now()
			accepted = b.adaptor.SplitNodeVector(accepted[:0], work)
			var err error
			next, nSplit, err = splitAll(tree, accepted, work[:0])
			st.Splits += nSplit
			b.opts.metrics.observe("split", time.Since(t1))
			if err != nil {
				log.Warn("build split failed",
					zap.Int("pass", st.Iterations),
					zap.Int("split", nSplit),
					zap.Int("accepted", len(accepted)),
					zap.Error(err))
				return st, errors.Wrapf(err, "split pass %d", st.Iterations)
			}
		}
		b.opts.metrics.pass("build", nSplit, computed)
		log.Debug("build pass",
			zap.Int("pass", st.Iterations),
			zap.Int("computed", computed),
			zap.Int("split", nSplit),
			zap.Duration("elapsed", time.Since(t0)))
		st.Iterations++
		work = next
	}

	tree.ResetEndNodeTable()
	st.Duration = time.Since(start)
	log.Info("tree built",
		zap.Int("passes", st.Iterations),
		zap.Int("splits", st.Splits),
		zap.Int("nodes", tree.NNodes()),
		zap.Int("end_nodes", tree.NEndNodes()),
		zap.Duration("elapsed", st.Duration))
	return st, nil
}

// GridCleaner runs a single pass: it splits what the adaptor asks for and
// then hands every node of the tree to the calculator. With the default
// calculator and no adaptor this empties the tree without changing its grid.
type GridCleaner[T mwtree.Scalar] struct {
	calc    Calculator[T]
	adaptor Adaptor[T]
	opts    settings
}

// NewGridCleaner returns a cleaner. A nil adaptor splits nothing.
func NewGridCleaner[T mwtree.Scalar](calc Calculator[T], adaptor Adaptor[T], opts ...Option) *GridCleaner[T] {
	if adaptor == nil {
		adaptor = TreeAdaptor[T]{}
	}
	return &GridCleaner[T]{calc: calc, adaptor: adaptor, opts: newSettings(opts)}
}

// Clean returns the number of nodes split in the split phase.
func (c *GridCleaner[T]) Clean(ctx context.Context, tree *mwtree.Tree[T]) (int, error) {
	if c.calc == nil {
		return 0, errors.WithStack(ErrNoCalculator)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	log := c.opts.loggerFor(tree.ID(), tree.Logger())
	tree.DeleteGenerated()

	t0 := time.Now()
	accepted := c.adaptor.SplitNodeVector(nil, tree.CopyEndNodeTable())
	_, nSplit, err := splitAll(tree, accepted, nil)
	c.opts.metrics.observe("split", time.Since(t0))
	if err != nil {
		return nSplit, errors.Wrap(err, "clean split")
	}
	if err := ctx.Err(); err != nil {
		return nSplit, err
	}

	t1 := time.Now()
	table := tree.MakeNodeTable()
	if err := c.calc.CalcNodeVector(ctx, table); err != nil {
		return nSplit, errors.Wrap(err, "clean compute")
	}
	c.opts.metrics.observe("compute", time.Since(t1))

	tree.ResetEndNodeTable()
	tree.ClearSquareNorm()
	c.opts.metrics.pass("clean", nSplit, len(table))
	log.Debug("grid cleaned",
		zap.Int("split", nSplit),
		zap.Int("nodes", len(table)),
		zap.Duration("elapsed", time.Since(t0)))
	return nSplit, nil
}

// splitAll splits the accepted nodes in order and appends their children to
// next. On failure it reports how many nodes were split before the error.
func splitAll[T mwtree.Scalar](tree *mwtree.Tree[T], accepted, next []mwtree.Node[T]) ([]mwtree.Node[T], int, error) {
	for i, n := range accepted {
		if err := tree.Split(n); err != nil {
			return next, i, err
		}
		for c := 0; c < tree.NChildren(); c++ {
			next = append(next, n.Child(c))
		}
	}
	return next, len(accepted), nil
}

// sumNorms adds up a per-node squared norm. Any stale norm makes the sum
// stale (-1).
func sumNorms[T mwtree.Scalar](nodes []mwtree.Node[T], norm func(mwtree.Node[T]) float64) float64 {
	sum := 0.0
	for _, n := range nodes {
		v := norm(n)
		if v < 0 {
			return -1
		}
		sum += v
	}
	return sum
}

func addNorms(a, b float64) float64 {
	if a < 0 || b < 0 {
		return -1
	}
	return a + b
}
