package mwtree

import (
	"math"

	"github.com/cockroachdb/errors"
)

// NodeKind selects the payload shape and norm rule of a tree's nodes.
type NodeKind uint8

const (
	// KindFunction nodes hold function coefficients; component norms are
	// plain vector norms.
	KindFunction NodeKind = iota
	// KindOperator nodes hold a (k+1)x(k+1) matrix per component (D = 2).
	KindOperator
)

func (k NodeKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindOperator:
		return "operator"
	}
	return "unknown"
}

// ParseNodeKind is the inverse of NodeKind.String.
func ParseNodeKind(s string) (NodeKind, error) {
	switch s {
	case "", "function":
		return KindFunction, nil
	case "operator":
		return KindOperator, nil
	}
	return 0, errors.Wrapf(ErrInvalidConfig, "unknown node kind %q", s)
}

// Node는 arena slot을 가리키는 handle이다. 값으로 복사해도 되며, 가리키는
// slot이 해제되기 전까지 유효하다.
type Node[T Scalar] struct {
	tree *Tree[T]
	slot Slot
	gen  bool
}

// Valid reports whether n refers to a node. The zero Node is invalid.
func (n Node[T]) Valid() bool { return n.tree != nil && n.slot != NoSlot }

func (n Node[T]) Slot() Slot      { return n.slot }
func (n Node[T]) Tree() *Tree[T]  { return n.tree }
func (n Node[T]) hdr() *nodeHeader { return n.tree.arena.header(n.gen, n.slot) }

func (n Node[T]) Index() NodeIndex { return n.hdr().index }

// Depth is the number of scales below the root box.
func (n Node[T]) Depth() int { return n.hdr().index.Depth(n.tree.box.Scale()) }

func (n Node[T]) Scale() int { return int(n.hdr().index.Scale) }

// Coefs returns the coefficient buffer of the node. Persisted nodes hold all
// 2^D components; generated nodes hold only the scaling block.
func (n Node[T]) Coefs() []T { return n.tree.arena.coefs(n.gen, n.slot) }

// CoefBlock returns component i of the coefficient buffer.
func (n Node[T]) CoefBlock(i int) []T {
	k := n.tree.kSize
	c := n.Coefs()
	assertf((i+1)*k <= len(c), "component %d not stored on %s", i, n)
	return c[i*k : (i+1)*k : (i+1)*k]
}

// NComponents is the number of coefficient blocks stored on the node.
func (n Node[T]) NComponents() int {
	if n.gen {
		return 1
	}
	return n.tree.nChildren
}

func (n Node[T]) Parent() Node[T] {
	h := n.hdr()
	if h.parent == NoSlot {
		return Node[T]{}
	}
	return Node[T]{tree: n.tree, slot: h.parent, gen: h.has(flagParentGen)}
}

// Child returns child i, or the zero Node when n is a leaf.
func (n Node[T]) Child(i int) Node[T] {
	h := n.hdr()
	if h.children == NoSlot {
		return Node[T]{}
	}
	assertf(i >= 0 && i < n.tree.nChildren, "child %d out of range on %s", i, n)
	return Node[T]{tree: n.tree, slot: h.children + Slot(i), gen: h.has(flagGenChildren)}
}

// NChildren is 0 for a leaf and 2^D otherwise.
func (n Node[T]) NChildren() int {
	if n.hdr().children == NoSlot {
		return 0
	}
	return n.tree.nChildren
}

// ChildNum is the quadrant of n inside its parent.
func (n Node[T]) ChildNum() int { return int(n.hdr().childNum) }

func (n Node[T]) IsLeafNode() bool   { return n.hdr().children == NoSlot }
func (n Node[T]) IsBranchNode() bool { return n.hdr().children != NoSlot }
func (n Node[T]) IsRootNode() bool   { return n.hdr().has(flagRoot) }
func (n Node[T]) IsEndNode() bool    { return n.hdr().has(flagEndNode) }
func (n Node[T]) IsGenerated() bool  { return n.gen }
func (n Node[T]) HasCoefs() bool     { return n.hdr().has(flagHasCoefs) }

// HasGenChildren reports whether the children of n are transient.
func (n Node[T]) HasGenChildren() bool { return n.hdr().has(flagGenChildren) }

func (n Node[T]) SetHasCoefs()   { n.hdr().set(flagHasCoefs) }
func (n Node[T]) ClearHasCoefs() { n.hdr().clear(flagHasCoefs) }

// SetCoefs copies values into the coefficient buffer, marks the node as
// holding coefficients and invalidates its norms.
func (n Node[T]) SetCoefs(values []T) {
	c := n.Coefs()
	assertf(len(values) <= len(c), "%d coefficients do not fit %d on %s", len(values), len(c), n)
	copy(c, values)
	n.SetHasCoefs()
	n.ClearNorms()
}

// ZeroCoefs clears the coefficient buffer and the norm cache.
func (n Node[T]) ZeroCoefs() {
	var zero T
	c := n.Coefs()
	for i := range c {
		c[i] = zero
	}
	n.ClearHasCoefs()
	n.ClearNorms()
}

// CalcNorms refreshes the component norm cache and the node's squared norm.
func (n Node[T]) CalcNorms() {
	norms := n.tree.arena.norms(n.gen, n.slot)
	sq := 0.0
	nComp := n.NComponents()
	for i := range norms {
		if i >= nComp {
			norms[i] = 0
			continue
		}
		v := n.CalcComponentNorm(i)
		norms[i] = v
		sq += v * v
	}
	n.hdr().squareNorm = sq
}

// ClearNorms marks every cached norm as stale.
func (n Node[T]) ClearNorms() {
	norms := n.tree.arena.norms(n.gen, n.slot)
	for i := range norms {
		norms[i] = invalidNorm
	}
	n.hdr().squareNorm = invalidNorm
}

// ComponentNorm returns the cached norm of component i, or -1 when stale.
func (n Node[T]) ComponentNorm(i int) float64 {
	return n.tree.arena.norms(n.gen, n.slot)[i]
}

// SquareNorm returns the cached squared norm of the node, or -1 when stale.
func (n Node[T]) SquareNorm() float64 { return n.hdr().squareNorm }

// ScalingNorm returns the squared norm of the scaling component.
func (n Node[T]) ScalingNorm() float64 {
	s := n.ComponentNorm(0)
	if s < 0 {
		return invalidNorm
	}
	return s * s
}

// WaveletNorm returns the squared norm of all wavelet components.
func (n Node[T]) WaveletNorm() float64 {
	if n.gen {
		return 0
	}
	w := 0.0
	for i := 1; i < n.tree.nChildren; i++ {
		c := n.ComponentNorm(i)
		if c < 0 {
			return invalidNorm
		}
		w += c * c
	}
	return w
}

// CalcComponentNorm computes the norm of component i from the coefficients.
func (n Node[T]) CalcComponentNorm(i int) float64 {
	if i >= n.NComponents() {
		return 0
	}
	block := n.CoefBlock(i)
	if n.tree.kind == KindOperator {
		return operatorComponentNorm(block, n.tree.order+1, n.Depth(), n.tree.normPrec)
	}
	return math.Sqrt(vectorSquareNorm(block))
}

// GenChildren materialises the 2^D transient children of a leaf. It is a
// no-op when the children already exist.
func (n Node[T]) GenChildren() error { return n.tree.genChildren(n) }

func (n Node[T]) String() string {
	if !n.Valid() {
		return "<nil node>"
	}
	s := n.hdr().index.format(n.tree.dim)
	if n.gen {
		s += " gen"
	}
	return s
}
