package builder

import (
	"context"
	"runtime"

	"github.com/Pam-La/mwtree/internal/mwtree"
	"golang.org/x/sync/errgroup"
)

// Calculator computes or clears the payload of nodes. CalcNode touches only
// the node it is given, so disjoint nodes may be handled concurrently.
type Calculator[T mwtree.Scalar] interface {
	CalcNode(n mwtree.Node[T])
	CalcNodeVector(ctx context.Context, nodes []mwtree.Node[T]) error
}

// CalculatorFunc adapts a per-node function. Vectors run serially.
type CalculatorFunc[T mwtree.Scalar] func(n mwtree.Node[T])

func (f CalculatorFunc[T]) CalcNode(n mwtree.Node[T]) { f(n) }

func (f CalculatorFunc[T]) CalcNodeVector(ctx context.Context, nodes []mwtree.Node[T]) error {
	return calcSerial(ctx, f, nodes)
}

// checkEvery is how many nodes a worker handles between cancellation checks.
const checkEvery = 256

func calcSerial[T mwtree.Scalar](ctx context.Context, f func(mwtree.Node[T]), nodes []mwtree.Node[T]) error {
	for i, n := range nodes {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		f(n)
	}
	return nil
}

// DefaultCalculator clears coefficients and norms. Cleaning uses it to reset
// a tree to an empty function on its current grid.
type DefaultCalculator[T mwtree.Scalar] struct{}

func (DefaultCalculator[T]) CalcNode(n mwtree.Node[T]) { n.ZeroCoefs() }

func (c DefaultCalculator[T]) CalcNodeVector(ctx context.Context, nodes []mwtree.Node[T]) error {
	return calcSerial(ctx, c.CalcNode, nodes)
}

// ParallelCalculator runs a per-node function over contiguous sub-ranges of
// the vector, one goroutine per range.
type ParallelCalculator[T mwtree.Scalar] struct {
	Func func(n mwtree.Node[T])
	// Workers caps the number of ranges. Non-positive means GOMAXPROCS.
	Workers int
	// MinRange is the smallest range worth a goroutine. Non-positive
	// means 64.
	MinRange int
}

func (c *ParallelCalculator[T]) CalcNode(n mwtree.Node[T]) { c.Func(n) }

func (c *ParallelCalculator[T]) CalcNodeVector(ctx context.Context, nodes []mwtree.Node[T]) error {
	workers := c.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	minRange := c.MinRange
	if minRange <= 0 {
		minRange = 64
	}
	if n := (len(nodes) + minRange - 1) / minRange; n < workers {
		workers = n
	}
	if workers <= 1 {
		return calcSerial(ctx, c.Func, nodes)
	}

	step := (len(nodes) + workers - 1) / workers
	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(nodes); lo += step {
		part := nodes[lo:min(lo+step, len(nodes))]
		g.Go(func() error {
			return calcSerial(gctx, c.Func, part)
		})
	}
	return g.Wait()
}
