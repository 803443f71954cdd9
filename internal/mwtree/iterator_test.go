package mwtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRaggedTree builds a 2-D tree with two roots and uneven refinement.
func newRaggedTree(t *testing.T) *Tree[float64] {
	t.Helper()
	tree, err := NewTree[float64](TreeConfig{Dim: 2, Box: BoxConfig{NBoxes: []int{2, 1}}})
	require.NoError(t, err)
	r0, r1 := tree.Root(0), tree.Root(1)
	require.NoError(t, tree.Split(r0))
	require.NoError(t, tree.Split(r1))
	require.NoError(t, tree.Split(r0.Child(2)))
	require.NoError(t, tree.Split(r0.Child(2).Child(1)))
	require.NoError(t, tree.Split(r1.Child(3)))
	return tree
}

func collect[T Scalar](it *Iterator[T]) []Node[T] {
	var out []Node[T]
	for it.Next() {
		out = append(out, it.Node())
	}
	return out
}

func TestTopDownVisitsEveryNodeOnce(t *testing.T) {
	tree := newRaggedTree(t)
	for _, seq := range []Sequence{Lebesgue, Hilbert} {
		nodes := collect(NewIterator(tree, WithSequence(seq)))
		require.Len(t, nodes, tree.NNodes())

		pos := make(map[Slot]int, len(nodes))
		for i, n := range nodes {
			_, dup := pos[n.Slot()]
			require.False(t, dup, "node %s visited twice", n)
			pos[n.Slot()] = i
		}
		for _, n := range nodes {
			if p := n.Parent(); p.Valid() {
				assert.Less(t, pos[p.Slot()], pos[n.Slot()], "parent of %s must come first", n)
			}
		}
	}
}

func TestBottomUpVisitsChildrenFirst(t *testing.T) {
	tree := newRaggedTree(t)
	for _, seq := range []Sequence{Lebesgue, Hilbert} {
		nodes := collect(NewIterator(tree, WithTraverse(BottomUp), WithSequence(seq)))
		require.Len(t, nodes, tree.NNodes())

		pos := make(map[Slot]int, len(nodes))
		for i, n := range nodes {
			pos[n.Slot()] = i
		}
		require.Len(t, pos, tree.NNodes())
		for _, n := range nodes {
			for i := 0; i < n.NChildren(); i++ {
				assert.Less(t, pos[n.Child(i).Slot()], pos[n.Slot()], "child of %s must come first", n)
			}
		}
	}
}

func TestTopDownLebesgueOrder(t *testing.T) {
	tree := newTestTree(t, 1, 0)
	require.NoError(t, tree.Split(tree.Root(0)))
	require.NoError(t, tree.Split(tree.Root(0).Child(0)))

	var got []NodeIndex
	for _, n := range collect(NewIterator(tree)) {
		got = append(got, n.Index())
	}
	want := []NodeIndex{
		MakeNodeIndex(0, 0),
		MakeNodeIndex(1, 0),
		MakeNodeIndex(2, 0),
		MakeNodeIndex(2, 1),
		MakeNodeIndex(1, 1),
	}
	assert.Equal(t, want, got)
}

func TestMaxDepthLimitsDescent(t *testing.T) {
	tree := newTestTree(t, 3, 0)
	splitUniform(t, tree, 2)
	require.Equal(t, 1+8+64, tree.NNodes())

	for _, tr := range []Traverse{TopDown, BottomUp} {
		nodes := collect(NewIterator(tree, WithTraverse(tr), WithMaxDepth(1)))
		assert.Len(t, nodes, 9)
		for _, n := range nodes {
			assert.LessOrEqual(t, n.Depth(), 1)
		}
	}
	assert.Len(t, collect(NewIterator(tree, WithMaxDepth(0))), 1)
	assert.Len(t, collect(NewIterator(tree, WithMaxDepth(-1))), 73)
}

func TestHilbertAndLebesgueVisitSameSet(t *testing.T) {
	tree := newRaggedTree(t)
	set := func(seq Sequence) map[NodeIndex]int {
		m := make(map[NodeIndex]int)
		for _, n := range collect(NewIterator(tree, WithSequence(seq))) {
			m[n.Index()]++
		}
		return m
	}
	lebesgue, hilbert := set(Lebesgue), set(Hilbert)
	assert.Equal(t, lebesgue, hilbert)

	var lOrder, hOrder []NodeIndex
	for _, n := range collect(NewIterator(tree, WithSequence(Lebesgue))) {
		lOrder = append(lOrder, n.Index())
	}
	for _, n := range collect(NewIterator(tree, WithSequence(Hilbert))) {
		hOrder = append(hOrder, n.Index())
	}
	assert.NotEqual(t, lOrder, hOrder)
}

func TestHilbertFirstLevelOrder(t *testing.T) {
	cases := map[int][]int{
		1: {0, 1},
		2: {0, 2, 3, 1},
		3: {0, 2, 6, 4, 5, 7, 3, 1},
	}
	for dim, want := range cases {
		tree := newTestTree(t, dim, 0)
		require.NoError(t, tree.Split(tree.Root(0)))

		var got []int
		for _, n := range collect(NewIterator(tree, WithSequence(Hilbert))) {
			if n.Depth() == 1 {
				got = append(got, n.ChildNum())
			}
		}
		assert.Equal(t, want, got, "dim %d", dim)
	}
}

func TestHilbertLeavesAreAdjacent(t *testing.T) {
	want2D := [][2]int32{
		{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 2}, {0, 3}, {1, 3}, {1, 2},
		{2, 2}, {2, 3}, {3, 3}, {3, 2}, {3, 1}, {2, 1}, {2, 0}, {3, 0},
	}
	for _, dim := range []int{2, 3, 4} {
		tree := newTestTree(t, dim, 0)
		splitUniform(t, tree, 2)

		var leaves []NodeIndex
		for _, n := range collect(NewIterator(tree, WithSequence(Hilbert))) {
			if n.IsEndNode() {
				leaves = append(leaves, n.Index())
			}
		}
		require.Len(t, leaves, 1<<(2*dim))
		for i := 1; i < len(leaves); i++ {
			dist := int32(0)
			for d := 0; d < dim; d++ {
				diff := leaves[i].L[d] - leaves[i-1].L[d]
				if diff < 0 {
					diff = -diff
				}
				dist += diff
			}
			assert.Equal(t, int32(1), dist, "dim %d: %s -> %s", dim, leaves[i-1], leaves[i])
		}
		if dim == 2 {
			for i, l := range leaves {
				assert.Equal(t, want2D[i], [2]int32{l.L[0], l.L[1]})
			}
		}
	}
}

func TestGeneratedNodesOnlyOnRequest(t *testing.T) {
	tree := newTestTree(t, 2, 0)
	require.NoError(t, tree.Split(tree.Root(0)))
	require.NoError(t, tree.EndNode(1).GenChildren())
	require.NoError(t, tree.EndNode(1).Child(0).GenChildren())

	plain := collect(NewIterator(tree))
	assert.Len(t, plain, tree.NNodes())
	for _, n := range plain {
		assert.False(t, n.IsGenerated())
	}

	all := collect(NewIterator(tree, WithReturnGenNodes(true)))
	assert.Len(t, all, tree.NNodes()+tree.NGenNodes())
}

func TestNextParentWalksAncestors(t *testing.T) {
	tree := newTestTree(t, 1, 0)
	splitUniform(t, tree, 2)
	leaf := tree.EndNode(3)

	walk := func(tr Traverse) []NodeIndex {
		it := NewAncestorIterator(leaf, WithTraverse(tr))
		var out []NodeIndex
		for it.NextParent() {
			out = append(out, it.Node().Index())
		}
		return out
	}
	assert.Equal(t, []NodeIndex{MakeNodeIndex(0, 0), MakeNodeIndex(1, 1), MakeNodeIndex(2, 3)}, walk(TopDown))
	assert.Equal(t, []NodeIndex{MakeNodeIndex(2, 3), MakeNodeIndex(1, 1), MakeNodeIndex(0, 0)}, walk(BottomUp))
}

func TestNextParentVisitsRemainingRoots(t *testing.T) {
	tree, err := NewTree[float64](TreeConfig{Dim: 1, Box: BoxConfig{NBoxes: []int{3}}})
	require.NoError(t, err)

	it := NewIterator(tree, WithTraverse(BottomUp))
	var got []NodeIndex
	for it.NextParent() {
		got = append(got, it.Node().Index())
	}
	assert.Equal(t, []NodeIndex{MakeNodeIndex(0, 0), MakeNodeIndex(0, 1), MakeNodeIndex(0, 2)}, got)
}

func TestAbandonedIteratorLeavesTreeUsable(t *testing.T) {
	tree := newRaggedTree(t)
	it := NewIterator(tree)
	require.True(t, it.Next())
	require.True(t, it.Next())

	require.NoError(t, tree.Split(tree.EndNode(0)))
	assert.Len(t, collect(NewIterator(tree)), tree.NNodes())
	assert.False(t, NewIterator(tree).Node().Valid())
}
