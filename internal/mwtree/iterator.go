package mwtree

// Traverse selects when a node is reported relative to its children.
type Traverse uint8

const (
	TopDown Traverse = iota
	BottomUp
)

// Sequence selects the order in which the children of a node are visited.
type Sequence uint8

const (
	Lebesgue Sequence = iota
	Hilbert
)

type iteratorOptions struct {
	traverse  Traverse
	sequence  Sequence
	maxDepth  int
	returnGen bool
}

type IteratorOption func(*iteratorOptions)

func WithTraverse(t Traverse) IteratorOption {
	return func(o *iteratorOptions) { o.traverse = t }
}

func WithSequence(s Sequence) IteratorOption {
	return func(o *iteratorOptions) { o.sequence = s }
}

// WithMaxDepth stops descent at the given depth below the root box. Negative
// depths mean unlimited.
func WithMaxDepth(depth int) IteratorOption {
	return func(o *iteratorOptions) { o.maxDepth = depth }
}

// WithReturnGenNodes makes the iterator descend into generated children of
// end nodes.
func WithReturnGenNodes(v bool) IteratorOption {
	return func(o *iteratorOptions) { o.returnGen = v }
}

type iterFrame[T Scalar] struct {
	node       Node[T]
	doneSelf   bool
	doneParent bool
	doneChild  uint64
	hs         hilbertState
}

// Iterator는 재귀 없이 명시적 frame stack으로 tree를 한 단계씩 순회한다.
// 한 iterator는 한 goroutine에서만 사용한다. 순회 도중 버려도 정리할 것이 없다.
type Iterator[T Scalar] struct {
	tree   *Tree[T]
	opts   iteratorOptions
	root   int
	nRoots int
	stack  []iterFrame[T]
	cur    Node[T]
}

// NewIterator starts a traversal at the first root of t.
func NewIterator[T Scalar](t *Tree[T], opts ...IteratorOption) *Iterator[T] {
	it := newIterator(t, opts)
	if it.nRoots > 0 {
		it.push(t.Root(0), hilbertState{})
	}
	return it
}

// NewAncestorIterator starts a traversal at n, for use with NextParent.
func NewAncestorIterator[T Scalar](n Node[T], opts ...IteratorOption) *Iterator[T] {
	it := newIterator(n.tree, opts)
	if bIdx := n.tree.box.BoxIndexOf(n.Index()); bIdx > 0 {
		it.root = bIdx
	}
	it.push(n, hilbertState{})
	return it
}

func newIterator[T Scalar](t *Tree[T], opts []IteratorOption) *Iterator[T] {
	o := iteratorOptions{maxDepth: -1}
	for _, opt := range opts {
		opt(&o)
	}
	return &Iterator[T]{
		tree:   t,
		opts:   o,
		nRoots: t.NRoots(),
		stack:  make([]iterFrame[T], 0, 16),
	}
}

// Node returns the node reported by the last successful step.
func (it *Iterator[T]) Node() Node[T] { return it.cur }

// Next advances one step of the traversal and reports whether a node is
// available.
func (it *Iterator[T]) Next() bool {
	for len(it.stack) > 0 {
		f := &it.stack[len(it.stack)-1]
		if it.opts.traverse == TopDown && it.tryNode(f) {
			return true
		}
		if it.checkDepth(f.node) && it.checkGenerated(f.node) && it.tryChildren(f) {
			continue
		}
		if it.tryNextRoot(f) {
			continue
		}
		if it.opts.traverse == BottomUp && it.tryNode(f) {
			return true
		}
		it.pop()
	}
	it.cur = Node[T]{}
	return false
}

// NextParent walks from the current node toward the roots, then on to the
// remaining roots.
func (it *Iterator[T]) NextParent() bool {
	for len(it.stack) > 0 {
		f := &it.stack[len(it.stack)-1]
		if it.opts.traverse == BottomUp && it.tryNode(f) {
			return true
		}
		if it.tryNextRoot(f) {
			continue
		}
		if it.checkDepth(f.node) && it.tryParent(f) {
			continue
		}
		if it.opts.traverse == TopDown && it.tryNode(f) {
			return true
		}
		it.pop()
	}
	it.cur = Node[T]{}
	return false
}

func (it *Iterator[T]) push(n Node[T], hs hilbertState) {
	it.stack = append(it.stack, iterFrame[T]{node: n, hs: hs})
}

func (it *Iterator[T]) pop() {
	it.stack[len(it.stack)-1] = iterFrame[T]{}
	it.stack = it.stack[:len(it.stack)-1]
}

func (it *Iterator[T]) tryNode(f *iterFrame[T]) bool {
	if f.doneSelf {
		return false
	}
	f.doneSelf = true
	it.cur = f.node
	return true
}

// tryChildren pushes the first unvisited child in the configured order.
func (it *Iterator[T]) tryChildren(f *iterFrame[T]) bool {
	if f.node.IsLeafNode() {
		return false
	}
	nChildren := it.tree.nChildren
	for i := 0; i < nChildren; i++ {
		cIdx, hs := i, hilbertState{}
		if it.opts.sequence == Hilbert {
			cIdx, hs = hilbertChild(f.hs, i, it.tree.dim)
		}
		bit := uint64(1) << uint(cIdx)
		if f.doneChild&bit != 0 {
			continue
		}
		f.doneChild |= bit
		it.push(f.node.Child(cIdx), hs)
		return true
	}
	return false
}

func (it *Iterator[T]) tryParent(f *iterFrame[T]) bool {
	if f.doneParent {
		return false
	}
	f.doneParent = true
	p := f.node.Parent()
	if !p.Valid() {
		return false
	}
	it.push(p, hilbertState{})
	return true
}

func (it *Iterator[T]) tryNextRoot(f *iterFrame[T]) bool {
	if f.node.gen || !f.node.IsRootNode() {
		return false
	}
	it.root++
	if it.root >= it.nRoots {
		return false
	}
	it.push(it.tree.Root(it.root), hilbertState{})
	return true
}

func (it *Iterator[T]) checkDepth(n Node[T]) bool {
	return it.opts.maxDepth < 0 || n.Depth() < it.opts.maxDepth
}

func (it *Iterator[T]) checkGenerated(n Node[T]) bool {
	return !n.IsEndNode() || it.opts.returnGen
}
