package builder

import (
	"context"

	"github.com/Pam-La/mwtree/internal/mwtree"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// BuildGrid refines out until it covers the union of the reference grids.
// Coefficients of out are cleared. It returns the number of split nodes.
func BuildGrid[T mwtree.Scalar](ctx context.Context, out *mwtree.Tree[T], refs ...*mwtree.Tree[T]) (int, error) {
	for _, ref := range refs {
		if !sameRootBox(out, ref) {
			return 0, errors.Wrapf(ErrIncompatibleTrees, "tree %s and %s", out.ID(), ref.ID())
		}
	}
	b := NewTreeBuilder[T](DefaultCalculator[T]{}, CopyAdaptor[T]{Refs: refs})
	st, err := b.Build(ctx, out)
	return st.Splits, err
}

func sameRootBox[T mwtree.Scalar](a, b *mwtree.Tree[T]) bool {
	if a.Dim() != b.Dim() || a.NRoots() != b.NRoots() {
		return false
	}
	for i := 0; i < a.NRoots(); i++ {
		if a.Root(i).Index() != b.Root(i).Index() {
			return false
		}
	}
	return true
}

// RefineGrid splits every end node scales times. Children of nodes that
// hold coefficients get their scaling block from the tree's reconstructor.
func RefineGrid[T mwtree.Scalar](ctx context.Context, tree *mwtree.Tree[T], scales int) (int, error) {
	total := 0
	defer func() {
		tree.ResetEndNodeTable()
		tree.ClearSquareNorm()
	}()
	for s := 0; s < scales; s++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		accepted := UniformAdaptor[T]{}.SplitNodeVector(nil, tree.CopyEndNodeTable())
		if len(accepted) == 0 {
			break
		}
		for _, n := range accepted {
			if err := tree.Split(n); err != nil {
				return total, errors.Wrapf(err, "refine scale %d", s)
			}
			total++
			if !n.HasCoefs() {
				continue
			}
			for i := 0; i < tree.NChildren(); i++ {
				c := n.Child(i)
				tree.Reconstruct(n, i, c.CoefBlock(0))
				c.SetHasCoefs()
				c.CalcNorms()
			}
		}
	}
	return total, nil
}

// ClearGrid empties the tree without changing its grid.
func ClearGrid[T mwtree.Scalar](ctx context.Context, tree *mwtree.Tree[T]) error {
	_, err := NewGridCleaner[T](DefaultCalculator[T]{}, nil).Clean(ctx, tree)
	return err
}

// Crop merges branch nodes whose children are all end nodes and whose
// wavelet norm is below the threshold NeedsSplit uses. Deep branches
// collapse in one call since nodes are visited bottom-up. It returns the
// number of merged nodes.
func Crop[T mwtree.Scalar](tree *mwtree.Tree[T], prec, splitFac float64, absPrec bool) int {
	treeNorm := tree.SquareNorm()

	var branches []mwtree.Node[T]
	it := mwtree.NewIterator(tree, mwtree.WithTraverse(mwtree.BottomUp))
	for it.Next() {
		if n := it.Node(); n.IsBranchNode() && !n.HasGenChildren() {
			branches = append(branches, n)
		}
	}

	merged := 0
	for _, n := range branches {
		if !childrenAreEndNodes(n) || n.WaveletNorm() < 0 {
			continue
		}
		if NeedsSplit(n, treeNorm, prec, splitFac, absPrec) {
			continue
		}
		tree.Merge(n)
		merged++
	}
	if merged > 0 {
		tree.ResetEndNodeTable()
		tree.Logger().Debug("tree cropped", zap.Int("merged", merged), zap.Int("nodes", tree.NNodes()))
	}
	return merged
}

func childrenAreEndNodes[T mwtree.Scalar](n mwtree.Node[T]) bool {
	for i := 0; i < n.NChildren(); i++ {
		if !n.Child(i).IsEndNode() {
			return false
		}
	}
	return true
}
