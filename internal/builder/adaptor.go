package builder

import (
	"math"

	"github.com/Pam-La/mwtree/internal/mwtree"
)

// Adaptor decides which candidate nodes must be refined. SplitNodeVector
// appends the accepted candidates to out and returns it; it never mutates
// the tree.
type Adaptor[T mwtree.Scalar] interface {
	SplitNodeVector(out, candidates []mwtree.Node[T]) []mwtree.Node[T]
}

// splitVector applies the structural guards shared by every adaptor before
// asking check. Generated and branch nodes are never accepted, nor are nodes
// whose children would pass the tree depth or maxScale.
func splitVector[T mwtree.Scalar](out, candidates []mwtree.Node[T], maxScale int, check func(mwtree.Node[T]) bool) []mwtree.Node[T] {
	if maxScale == 0 || maxScale > mwtree.MaxScale {
		maxScale = mwtree.MaxScale
	}
	for _, n := range candidates {
		if n.IsGenerated() || n.IsBranchNode() {
			continue
		}
		if n.Scale()+1 > maxScale || n.Depth()+1 > n.Tree().MaxDepth() {
			continue
		}
		if check(n) {
			out = append(out, n)
		}
	}
	return out
}

// TreeAdaptor splits the nodes accepted by SplitNode. A nil SplitNode
// accepts nothing, which is what cleaning wants. MaxScale of zero means
// mwtree.MaxScale.
type TreeAdaptor[T mwtree.Scalar] struct {
	MaxScale  int
	SplitNode func(n mwtree.Node[T]) bool
}

func (a TreeAdaptor[T]) SplitNodeVector(out, candidates []mwtree.Node[T]) []mwtree.Node[T] {
	if a.SplitNode == nil {
		return out
	}
	return splitVector(out, candidates, a.MaxScale, a.SplitNode)
}

// UniformAdaptor accepts every candidate.
type UniformAdaptor[T mwtree.Scalar] struct {
	MaxScale int
}

func (a UniformAdaptor[T]) SplitNodeVector(out, candidates []mwtree.Node[T]) []mwtree.Node[T] {
	return splitVector(out, candidates, a.MaxScale, func(mwtree.Node[T]) bool { return true })
}

// WaveletAdaptor splits nodes whose wavelet norm is above the local error
// budget.
//
// With AbsPrec unset the budget is relative to the tree norm. SplitFac makes
// the budget shrink with scale as 2^(-SplitFac*(scale+1)/2); values at or
// below MachinePrec disable this.
type WaveletAdaptor[T mwtree.Scalar] struct {
	Prec     float64
	SplitFac float64
	AbsPrec  bool
	MaxScale int
}

func (a WaveletAdaptor[T]) SplitNodeVector(out, candidates []mwtree.Node[T]) []mwtree.Node[T] {
	if len(candidates) == 0 {
		return out
	}
	treeNorm := candidates[0].Tree().SquareNorm()
	return splitVector(out, candidates, a.MaxScale, func(n mwtree.Node[T]) bool {
		return NeedsSplit(n, treeNorm, a.Prec, a.SplitFac, a.AbsPrec)
	})
}

// NeedsSplit reports whether the wavelet norm of n exceeds the threshold
// derived from prec. treeSqNorm is the squared norm of the whole tree.
// Nodes without computed norms never need a split.
func NeedsSplit[T mwtree.Scalar](n mwtree.Node[T], treeSqNorm, prec, splitFac float64, absPrec bool) bool {
	if n.IsGenerated() {
		return false
	}
	w := n.WaveletNorm()
	if w < 0 {
		return false
	}
	return math.Sqrt(w) > waveletThreshold(n.Scale(), treeSqNorm, prec, splitFac, absPrec)
}

func waveletThreshold(scale int, treeSqNorm, prec, splitFac float64, absPrec bool) float64 {
	tNorm := 1.0
	if !absPrec && treeSqNorm > 0 {
		tNorm = math.Sqrt(treeSqNorm)
	}
	scaleFac := 1.0
	if splitFac > mwtree.MachinePrec {
		scaleFac = math.Pow(2.0, -0.5*splitFac*float64(scale+1))
	}
	return math.Max(2.0*mwtree.MachinePrec, prec*tNorm*scaleFac)
}

// CopyAdaptor splits nodes that are refined in any of the reference trees,
// reproducing the union of their grids.
type CopyAdaptor[T mwtree.Scalar] struct {
	Refs     []*mwtree.Tree[T]
	MaxScale int
}

func (a CopyAdaptor[T]) SplitNodeVector(out, candidates []mwtree.Node[T]) []mwtree.Node[T] {
	return splitVector(out, candidates, a.MaxScale, func(n mwtree.Node[T]) bool {
		idx := n.Index()
		for _, ref := range a.Refs {
			m, ok := ref.FindNode(idx)
			if ok && m.IsBranchNode() && !m.HasGenChildren() {
				return true
			}
		}
		return false
	})
}
