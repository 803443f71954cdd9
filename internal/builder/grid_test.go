package builder

import (
	"context"
	"math"
	"testing"

	"github.com/Pam-La/mwtree/internal/mwtree"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGridCopiesUnionOfReferences(t *testing.T) {
	cfg := mwtree.TreeConfig{Dim: 2, Order: 1}
	a := newTree(t, cfg)
	require.NoError(t, a.Split(a.Root(0)))
	require.NoError(t, a.Split(a.Root(0).Child(3)))
	b := newTree(t, cfg)
	require.NoError(t, b.Split(b.Root(0)))
	require.NoError(t, b.Split(b.Root(0).Child(1)))
	require.NoError(t, b.Split(b.Root(0).Child(1).Child(0)))

	out := newTree(t, cfg)
	n, err := BuildGrid(context.Background(), out, a)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, out.SameGrid(a))

	n, err = BuildGrid(context.Background(), out, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1+4+4+4+4, out.NNodes())
	for _, ref := range []*mwtree.Tree[float64]{a, b} {
		for _, m := range ref.MakeNodeTable() {
			got, ok := out.FindNode(m.Index())
			require.True(t, ok, "%s missing", m.Index())
			if m.IsBranchNode() {
				assert.True(t, got.IsBranchNode())
			}
		}
	}
}

func TestBuildGridRejectsDifferentBoxes(t *testing.T) {
	out := newTree(t, mwtree.TreeConfig{Dim: 1})
	ref := newTree(t, mwtree.TreeConfig{Dim: 1, Box: mwtree.BoxConfig{NBoxes: []int{2}}})
	_, err := BuildGrid(context.Background(), out, ref)
	assert.True(t, errors.Is(err, ErrIncompatibleTrees))
}

func TestRefineGridKeepsNorm(t *testing.T) {
	tree := newTree(t, mwtree.TreeConfig{Dim: 1, Order: 0})
	root := tree.Root(0)
	root.SetCoefs([]float64{2, 0})
	root.CalcNorms()

	n, err := RefineGrid(context.Background(), tree, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Equal(t, 4, tree.NEndNodes())
	for _, leaf := range tree.CopyEndNodeTable() {
		assert.True(t, leaf.HasCoefs())
		assert.InDelta(t, 1.0, leaf.Coefs()[0], 1e-12)
	}
	assert.InDelta(t, root.SquareNorm(), tree.SquareNorm(), 1e-12)
}

func TestCropMergesQuietBranches(t *testing.T) {
	tree := newTree(t, mwtree.TreeConfig{Dim: 1, Order: 0})
	_, err := RefineGrid(context.Background(), tree, 2)
	require.NoError(t, err)

	root := tree.Root(0)
	set := func(n mwtree.Node[float64], w float64) {
		n.SetCoefs([]float64{1, w})
		n.CalcNorms()
	}
	set(root, 1)
	set(root.Child(0), 1e-6)
	set(root.Child(1), 1)
	for _, leaf := range tree.CopyEndNodeTable() {
		set(leaf, 0)
	}

	merged := Crop(tree, 1e-3, 0, true)
	assert.Equal(t, 1, merged)
	assert.Equal(t, 5, tree.NNodes())
	assert.Equal(t, 3, tree.NEndNodes())
	assert.True(t, root.Child(0).IsEndNode())
	assert.True(t, root.Child(1).IsBranchNode())

	assert.Equal(t, 0, Crop(tree, 1e-3, 0, true), "second crop has nothing left to merge")
}

func TestCropCollapsesWholeSubtrees(t *testing.T) {
	tree := newTree(t, mwtree.TreeConfig{Dim: 2, Order: 0})
	_, err := RefineGrid(context.Background(), tree, 2)
	require.NoError(t, err)
	for _, n := range tree.MakeNodeTable() {
		c := n.Coefs()
		c[0] = 1
		n.SetHasCoefs()
		n.CalcNorms()
	}

	assert.Equal(t, 5, Crop(tree, 1e-6, 0, true))
	assert.Equal(t, 1, tree.NNodes())
	assert.Equal(t, 1, tree.NEndNodes())
}

func TestAdaptorGuards(t *testing.T) {
	tree := newTree(t, mwtree.TreeConfig{Dim: 1, MaxDepth: 1})
	require.NoError(t, tree.Split(tree.Root(0)))
	require.NoError(t, tree.EndNode(0).GenChildren())

	root := tree.Root(0)
	gen := tree.EndNode(0).Child(0)
	require.True(t, gen.IsGenerated())

	candidates := []mwtree.Node[float64]{root, tree.EndNode(0), tree.EndNode(1), gen}
	assert.Empty(t, UniformAdaptor[float64]{}.SplitNodeVector(nil, candidates),
		"branch, generated and depth-capped nodes are never accepted")

	shallow := newTree(t, mwtree.TreeConfig{Dim: 1})
	require.NoError(t, shallow.Split(shallow.Root(0)))
	leaves := shallow.CopyEndNodeTable()
	assert.Len(t, UniformAdaptor[float64]{}.SplitNodeVector(nil, leaves), 2)
	assert.Empty(t, UniformAdaptor[float64]{MaxScale: 1}.SplitNodeVector(nil, leaves))
	assert.Empty(t, TreeAdaptor[float64]{}.SplitNodeVector(nil, leaves))

	odd := TreeAdaptor[float64]{SplitNode: func(n mwtree.Node[float64]) bool { return n.ChildNum() == 1 }}
	got := odd.SplitNodeVector(nil, leaves)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ChildNum())
}

func TestWaveletThreshold(t *testing.T) {
	assert.InDelta(t, 0.1, waveletThreshold(3, 4, 0.1, 0, true), 1e-15)
	assert.InDelta(t, 0.2, waveletThreshold(3, 4, 0.1, 0, false), 1e-15)
	assert.InDelta(t, 0.1, waveletThreshold(3, 0, 0.1, 0, false), 1e-15, "empty tree falls back to absolute")
	assert.InDelta(t, 0.1*math.Pow(2, -2), waveletThreshold(3, 0, 0.1, 1, true), 1e-15)
	assert.Equal(t, 2*mwtree.MachinePrec, waveletThreshold(0, 1, 0, 0, true))
}

func TestNeedsSplitIgnoresStaleNorms(t *testing.T) {
	tree := newTree(t, mwtree.TreeConfig{Dim: 1, Order: 0})
	root := tree.Root(0)
	assert.False(t, NeedsSplit(root, 1, 1e-3, 0, false))

	root.SetCoefs([]float64{0, 1})
	root.CalcNorms()
	assert.True(t, NeedsSplit(root, 1, 1e-3, 0, false))
	assert.False(t, NeedsSplit(root, 1, 2, 0, false))
}
