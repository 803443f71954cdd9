package mwtree

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Evaluator computes the value represented by a node at a coordinate inside
// its box.
type Evaluator[T Scalar] interface {
	EvalNode(n Node[T], r []float64) T
}

// Integrator computes the integral contributed by one end node.
type Integrator[T Scalar] interface {
	IntegrateNode(n Node[T]) T
}

type EvaluatorFunc[T Scalar] func(n Node[T], r []float64) T

func (f EvaluatorFunc[T]) EvalNode(n Node[T], r []float64) T { return f(n, r) }

type IntegratorFunc[T Scalar] func(n Node[T]) T

func (f IntegratorFunc[T]) IntegrateNode(n Node[T]) T { return f(n) }

// FindNode returns the persisted node with the given index. It does not
// generate nodes and must not run concurrently with generation.
func (t *Tree[T]) FindNode(idx NodeIndex) (Node[T], bool) {
	n, ok := t.rootOf(idx)
	if !ok {
		return Node[T]{}, false
	}
	for n.Scale() < int(idx.Scale) {
		h := n.hdr()
		if h.children == NoSlot || h.has(flagGenChildren) {
			return Node[T]{}, false
		}
		n = n.Child(idx.Ancestor(int32(n.Scale()+1), t.dim).ChildIndex(t.dim))
	}
	return n, n.Index() == idx
}

// GetNode returns the node with the given index, generating transient nodes
// below the persisted frontier as needed. Generated nodes stay until
// DeleteGenerated.
func (t *Tree[T]) GetNode(idx NodeIndex) (Node[T], error) {
	if idx.Scale > MaxScale {
		return Node[T]{}, errors.Wrapf(ErrInvalidDepth, "scale %d exceeds %d", idx.Scale, MaxScale)
	}
	n, ok := t.rootOf(idx)
	if !ok {
		return Node[T]{}, errors.Wrapf(ErrOutOfBounds, "%s", idx.format(t.dim))
	}
	t.genMu.Lock()
	defer t.genMu.Unlock()
	for n.Scale() < int(idx.Scale) {
		if n.IsLeafNode() {
			if err := t.genChildrenLocked(n); err != nil {
				return Node[T]{}, err
			}
		}
		n = n.Child(idx.Ancestor(int32(n.Scale()+1), t.dim).ChildIndex(t.dim))
	}
	return n, nil
}

// NodeAt returns the node at the given depth below the root box containing
// r, generating it if necessary.
func (t *Tree[T]) NodeAt(r []float64, depth int) (Node[T], error) {
	idx, err := t.indexAt(r, depth)
	if err != nil {
		return Node[T]{}, err
	}
	return t.GetNode(idx)
}

// NodeOrEndNode returns the persisted node containing r at the given depth,
// or the end node containing r if the tree is not refined that far.
// Negative depths return the end node.
func (t *Tree[T]) NodeOrEndNode(r []float64, depth int) (Node[T], error) {
	if deepest := t.Depth() - 1; depth < 0 || depth > deepest {
		depth = deepest
	}
	idx, err := t.indexAt(r, depth)
	if err != nil {
		return Node[T]{}, err
	}
	n, _ := t.rootOf(idx)
	for n.Scale() < int(idx.Scale) && n.IsBranchNode() && !n.HasGenChildren() {
		n = n.Child(idx.Ancestor(int32(n.Scale()+1), t.dim).ChildIndex(t.dim))
	}
	return n, nil
}

// Evaluate evaluates the tree at r. With a negative depth the deepest
// persisted node is used; otherwise the node at that depth, generated if the
// tree is coarser there.
func (t *Tree[T]) Evaluate(r []float64, depth int, ev Evaluator[T]) (T, error) {
	var zero T
	var n Node[T]
	var err error
	if depth < 0 {
		n, err = t.NodeOrEndNode(r, depth)
	} else {
		n, err = t.NodeAt(r, depth)
	}
	if err != nil {
		return zero, err
	}
	if t.box.IsPeriodic() {
		r = t.box.periodicWrap(r)
	}
	return ev.EvalNode(n, r), nil
}

// Integrate sums the per-node integrals over the end nodes.
func (t *Tree[T]) Integrate(in Integrator[T]) T {
	var sum T
	for _, s := range t.endNodeTable() {
		sum += in.IntegrateNode(Node[T]{tree: t, slot: s})
	}
	return sum
}

func (t *Tree[T]) rootOf(idx NodeIndex) (Node[T], bool) {
	if len(t.roots) == 0 {
		return Node[T]{}, false
	}
	bIdx := t.box.BoxIndexOf(idx)
	if bIdx < 0 {
		return Node[T]{}, false
	}
	return t.Root(bIdx), true
}

func (t *Tree[T]) indexAt(r []float64, depth int) (NodeIndex, error) {
	if len(r) < t.dim {
		return NodeIndex{}, errors.Wrapf(ErrOutOfBounds, "coordinate has %d components, tree is %d-dimensional", len(r), t.dim)
	}
	if depth < 0 || int(t.box.Scale())+depth > MaxScale {
		return NodeIndex{}, errors.Wrapf(ErrInvalidDepth, "depth %d", depth)
	}
	if t.box.IsPeriodic() {
		r = t.box.periodicWrap(r)
	}
	if t.box.BoxIndex(r) < 0 {
		return NodeIndex{}, errors.Wrapf(ErrOutOfBounds, "%v", r[:t.dim])
	}
	idx := NodeIndex{Scale: t.box.Scale() + int32(depth)}
	f := math.Ldexp(1, depth)
	for d := 0; d < t.dim; d++ {
		idx.L[d] = int32(math.Floor(r[d] / t.box.UnitLength(d) * f))
	}
	return idx, nil
}
