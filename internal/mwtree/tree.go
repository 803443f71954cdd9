package mwtree

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TreeConfig describes the spatial and numerical layout of a tree.
type TreeConfig struct {
	Dim   int `yaml:"dim"`
	Order int `yaml:"order"`
	// MaxDepth bounds refinement below the root box. Non-positive values
	// take MaxDepth.
	MaxDepth int      `yaml:"max_depth"`
	Kind     NodeKind `yaml:"-"`
	// NormPrecision scales the threshold below which operator blocks are
	// treated as zero.
	NormPrecision float64     `yaml:"norm_precision"`
	Box           BoxConfig   `yaml:"box"`
	Arena         ArenaConfig `yaml:"arena"`
}

// Reconstructor fills the scaling block of a generated child from its
// parent. dst has (order+1)^D entries.
type Reconstructor[T Scalar] func(parent Node[T], childNum int, dst []T)

type treeOptions struct {
	logger *zap.Logger
	id     uuid.UUID
	arena  any
	recon  any
}

type TreeOption func(*treeOptions)

// WithArena places the tree in a shared arena instead of a private one.
func WithArena[T Scalar](a *Arena[T]) TreeOption {
	return func(o *treeOptions) { o.arena = a }
}

func WithLogger(l *zap.Logger) TreeOption {
	return func(o *treeOptions) { o.logger = l }
}

func WithID(id uuid.UUID) TreeOption {
	return func(o *treeOptions) { o.id = id }
}

func WithReconstructor[T Scalar](r Reconstructor[T]) TreeOption {
	return func(o *treeOptions) { o.recon = r }
}

// Tree는 root box와 그 아래 모든 persisted node를 소유한다.
// 구조 변경(split, merge, rebuild)과 읽기는 같은 tree 위에서 겹치면 안 된다.
type Tree[T Scalar] struct {
	id  uuid.UUID
	log *zap.Logger
	cfg TreeConfig

	dim       int
	order     int
	kSize     int
	nChildren int
	maxDepth  int
	kind      NodeKind
	normPrec  float64

	box   BoundingBox
	arena *Arena[T]
	roots []Slot
	recon Reconstructor[T]

	nNodes int

	tableMu  sync.Mutex
	endNodes []Slot
	endStale bool

	squareNorm atomic.Uint64

	genMu     sync.Mutex
	genOwners map[Slot]struct{}
	nGenNodes atomic.Int64
}

func NewTree[T Scalar](cfg TreeConfig, opts ...TreeOption) (*Tree[T], error) {
	if cfg.Dim < 1 || cfg.Dim > MaxDim {
		return nil, errors.Wrapf(ErrInvalidDimension, "dimension %d not in [1, %d]", cfg.Dim, MaxDim)
	}
	if cfg.Order < 0 || cfg.Order > MaxOrder {
		return nil, errors.Wrapf(ErrInvalidOrder, "order %d not in [0, %d]", cfg.Order, MaxOrder)
	}
	if cfg.MaxDepth > MaxDepth {
		return nil, errors.Wrapf(ErrInvalidDepth, "max depth %d exceeds %d", cfg.MaxDepth, MaxDepth)
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = MaxDepth
	}
	if cfg.Kind == KindOperator && cfg.Dim != 2 {
		return nil, errors.Wrapf(ErrInvalidDimension, "operator trees are two-dimensional, got %d", cfg.Dim)
	}
	box, err := NewBoundingBox(cfg.Dim, cfg.Box)
	if err != nil {
		return nil, err
	}
	if int(box.Scale())+cfg.MaxDepth > MaxScale {
		return nil, errors.Wrapf(ErrInvalidDepth, "root scale %d with depth %d exceeds scale %d", box.Scale(), cfg.MaxDepth, MaxScale)
	}

	o := treeOptions{logger: zap.NewNop(), id: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Tree[T]{
		id:        o.id,
		log:       o.logger,
		cfg:       cfg,
		dim:       cfg.Dim,
		order:     cfg.Order,
		kSize:     ipow(cfg.Order+1, cfg.Dim),
		nChildren: 1 << cfg.Dim,
		maxDepth:  cfg.MaxDepth,
		kind:      cfg.Kind,
		normPrec:  cfg.NormPrecision,
		box:       box,
		genOwners: make(map[Slot]struct{}),
		recon:     scalingReconstructor[T],
	}
	t.squareNorm.Store(math.Float64bits(invalidNorm))

	if o.recon != nil {
		r, ok := o.recon.(Reconstructor[T])
		if !ok {
			return nil, errors.Wrapf(ErrInvalidConfig, "reconstructor of type %T does not match tree scalar", o.recon)
		}
		t.recon = r
	}

	want := t.arenaConfig(cfg.Arena)
	if o.arena != nil {
		a, ok := o.arena.(*Arena[T])
		if !ok {
			return nil, errors.Wrapf(ErrInvalidConfig, "arena of type %T does not match tree scalar", o.arena)
		}
		got := a.Config()
		if got.CoefStride != want.CoefStride || got.GenCoefStride != want.GenCoefStride ||
			got.NormStride != want.NormStride || got.GenRunNodes != want.GenRunNodes {
			return nil, errors.Wrapf(ErrInvalidConfig, "shared arena strides %d/%d do not fit tree strides %d/%d",
				got.CoefStride, got.GenCoefStride, want.CoefStride, want.GenCoefStride)
		}
		t.arena = a
	} else {
		t.arena, err = NewArena[T](want)
		if err != nil {
			return nil, err
		}
	}

	if err := t.allocRoots(); err != nil {
		return nil, err
	}
	t.log = t.log.With(zap.Stringer("tree", t.id))
	t.log.Debug("tree created",
		zap.Int("dim", t.dim),
		zap.Int("order", t.order),
		zap.Int("roots", len(t.roots)),
		zap.Stringer("kind", t.kind))
	return t, nil
}

func (t *Tree[T]) arenaConfig(base ArenaConfig) ArenaConfig {
	base.CoefStride = t.nChildren * t.kSize
	base.GenCoefStride = t.kSize
	base.NormStride = t.nChildren
	base.GenRunNodes = t.nChildren
	return base
}

func (t *Tree[T]) allocRoots() error {
	t.roots = make([]Slot, t.box.Size())
	for i := range t.roots {
		s, _, err := t.arena.Allocate(1)
		if err != nil {
			return err
		}
		t.roots[i] = s
		n := Node[T]{tree: t, slot: s}
		h := n.hdr()
		h.index = t.box.NodeIndex(i)
		h.flags = flagRoot | flagEndNode
		n.ClearNorms()
		t.nNodes++
	}
	t.endStale = true
	return nil
}

func ipow(base, exp int) int {
	r := 1
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

func (t *Tree[T]) ID() uuid.UUID          { return t.id }
func (t *Tree[T]) Logger() *zap.Logger    { return t.log }
func (t *Tree[T]) Dim() int               { return t.dim }
func (t *Tree[T]) Order() int             { return t.order }
func (t *Tree[T]) KSize() int             { return t.kSize }
func (t *Tree[T]) NChildren() int         { return t.nChildren }
func (t *Tree[T]) MaxDepth() int          { return t.maxDepth }
func (t *Tree[T]) Kind() NodeKind         { return t.kind }
func (t *Tree[T]) NormPrecision() float64 { return t.normPrec }
func (t *Tree[T]) Box() *BoundingBox      { return &t.box }
func (t *Tree[T]) Arena() *Arena[T]       { return t.arena }
func (t *Tree[T]) RootScale() int         { return int(t.box.Scale()) }
func (t *Tree[T]) NRoots() int            { return len(t.roots) }

func (t *Tree[T]) Root(i int) Node[T] {
	return Node[T]{tree: t, slot: t.roots[i]}
}

// NNodes counts persisted nodes, roots included.
func (t *Tree[T]) NNodes() int { return t.nNodes }

func (t *Tree[T]) NGenNodes() int { return int(t.nGenNodes.Load()) }

// Split creates the 2^D persisted children of an end node. Transient
// children of the node are released first.
func (t *Tree[T]) Split(n Node[T]) error {
	assertf(n.tree == t && !n.gen, "split of foreign or generated node %s", n)
	if n.hdr().has(flagGenChildren) {
		t.genMu.Lock()
		t.releaseGenChildren(n)
		delete(t.genOwners, n.slot)
		t.genMu.Unlock()
	}
	assertf(n.hdr().children == NoSlot, "split of branch node %s", n)
	if n.Depth()+1 > t.maxDepth {
		return errors.Wrapf(ErrInvalidDepth, "splitting %s exceeds max depth %d", n, t.maxDepth)
	}

	first, _, err := t.arena.Allocate(t.nChildren)
	if err != nil {
		return err
	}
	for i := 0; i < t.nChildren; i++ {
		t.createChild(n, i, first+Slot(i))
	}
	n.hdr().children = first
	t.unregisterEndNode(n)
	t.nNodes += t.nChildren
	t.ClearSquareNorm()
	return nil
}

func (t *Tree[T]) createChild(parent Node[T], i int, s Slot) {
	c := Node[T]{tree: t, slot: s}
	h := c.hdr()
	assertf(h.parent == NoSlot && h.flags == 0, "child %d of %s already exists", i, parent)
	h.index = parent.Index().Child(i, t.dim)
	h.parent = parent.slot
	h.childNum = uint8(i)
	c.ClearNorms()
	t.registerEndNode(c)
}

func (t *Tree[T]) registerEndNode(n Node[T]) {
	n.hdr().set(flagEndNode)
	t.markEndTableStale()
}

func (t *Tree[T]) unregisterEndNode(n Node[T]) {
	n.hdr().clear(flagEndNode)
	t.markEndTableStale()
}

func (t *Tree[T]) markEndTableStale() {
	t.tableMu.Lock()
	t.endStale = true
	t.tableMu.Unlock()
}

// Merge removes every descendant of n and makes it an end node again.
func (t *Tree[T]) Merge(n Node[T]) {
	assertf(n.tree == t && !n.gen, "merge of foreign or generated node %s", n)
	h := n.hdr()
	if h.children == NoSlot {
		return
	}
	if h.has(flagGenChildren) {
		t.genMu.Lock()
		t.releaseGenChildren(n)
		delete(t.genOwners, n.slot)
		t.genMu.Unlock()
		return
	}
	t.freeDescendants(h.children)
	h.children = NoSlot
	t.registerEndNode(n)
	t.ClearSquareNorm()
}

func (t *Tree[T]) freeDescendants(first Slot) {
	stack := []Slot{first}
	for len(stack) > 0 {
		run := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := 0; i < t.nChildren; i++ {
			c := Node[T]{tree: t, slot: run + Slot(i)}
			ch := c.hdr()
			switch {
			case ch.has(flagGenChildren):
				t.genMu.Lock()
				t.releaseGenChildren(c)
				delete(t.genOwners, c.slot)
				t.genMu.Unlock()
			case ch.children != NoSlot:
				stack = append(stack, ch.children)
			}
		}
		t.arena.DeallocateRun(run, t.nChildren)
		t.nNodes -= t.nChildren
	}
}

// Free returns every slot of the tree to the arena. The tree is unusable
// afterwards; this matters only for arenas shared between trees.
func (t *Tree[T]) Free() {
	for _, r := range t.roots {
		root := Node[T]{tree: t, slot: r}
		t.Merge(root)
		t.arena.Deallocate(r)
		t.nNodes--
	}
	t.roots = nil
	t.tableMu.Lock()
	t.endNodes = nil
	t.endStale = false
	t.tableMu.Unlock()
}

func (t *Tree[T]) genChildren(n Node[T]) error {
	t.genMu.Lock()
	defer t.genMu.Unlock()
	return t.genChildrenLocked(n)
}

func (t *Tree[T]) genChildrenLocked(n Node[T]) error {
	h := n.hdr()
	if h.children != NoSlot {
		return nil
	}
	if n.Scale()+1 > MaxScale {
		return errors.Wrapf(ErrInvalidDepth, "generating below %s exceeds scale %d", n, MaxScale)
	}
	first, _, err := t.arena.AllocateGen(t.nChildren)
	if err != nil {
		return err
	}
	idx := h.index
	for i := 0; i < t.nChildren; i++ {
		c := Node[T]{tree: t, slot: first + Slot(i), gen: true}
		ch := c.hdr()
		ch.index = idx.Child(i, t.dim)
		ch.parent = n.slot
		ch.childNum = uint8(i)
		if n.gen {
			ch.set(flagParentGen)
		}
		t.recon(n, i, c.Coefs())
		ch.set(flagHasCoefs)
		c.CalcNorms()
	}
	h.children = first
	h.set(flagGenChildren)
	if !n.gen {
		t.genOwners[n.slot] = struct{}{}
	}
	t.nGenNodes.Add(int64(t.nChildren))
	return nil
}

// releaseGenChildren frees the transient subtree below n. Caller holds genMu.
func (t *Tree[T]) releaseGenChildren(n Node[T]) {
	h := n.hdr()
	if !h.has(flagGenChildren) {
		return
	}
	stack := []Slot{h.children}
	for len(stack) > 0 {
		run := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := 0; i < t.nChildren; i++ {
			if ch := t.arena.header(true, run+Slot(i)); ch.children != NoSlot {
				stack = append(stack, ch.children)
			}
		}
		t.arena.DeallocateGen(run, t.nChildren)
		t.nGenNodes.Add(-int64(t.nChildren))
	}
	h.children = NoSlot
	h.clear(flagGenChildren)
}

// DeleteGenerated releases every generated node of the tree.
func (t *Tree[T]) DeleteGenerated() {
	t.genMu.Lock()
	defer t.genMu.Unlock()
	for s := range t.genOwners {
		t.releaseGenChildren(Node[T]{tree: t, slot: s})
	}
	clear(t.genOwners)
}

// scalingReconstructor propagates the parent's scaling block unchanged up to
// the 2^(-D/2) refinement factor, which keeps the squared norm of a constant
// function stable across scales.
func scalingReconstructor[T Scalar](parent Node[T], childNum int, dst []T) {
	src := parent.CoefBlock(0)
	f := fromFloat[T](math.Pow(2.0, -0.5*float64(parent.tree.dim)))
	for i := range dst {
		dst[i] = src[i] * f
	}
}

// Reconstruct fills dst with the scaling block of child childNum of parent,
// using the same rule as generated nodes.
func (t *Tree[T]) Reconstruct(parent Node[T], childNum int, dst []T) {
	t.recon(parent, childNum, dst)
}

// CopyEndNodeTable returns a snapshot of the end-node table.
func (t *Tree[T]) CopyEndNodeTable() []Node[T] {
	slots := t.endNodeTable()
	out := make([]Node[T], len(slots))
	for i, s := range slots {
		out[i] = Node[T]{tree: t, slot: s}
	}
	return out
}

func (t *Tree[T]) NEndNodes() int { return len(t.endNodeTable()) }

func (t *Tree[T]) EndNode(i int) Node[T] {
	return Node[T]{tree: t, slot: t.endNodeTable()[i]}
}

func (t *Tree[T]) endNodeTable() []Slot {
	t.tableMu.Lock()
	defer t.tableMu.Unlock()
	if t.endStale {
		t.rebuildEndNodeTable()
	}
	return t.endNodes
}

// ResetEndNodeTable rebuilds the end-node table from the tree structure in
// top-down Lebesgue order.
func (t *Tree[T]) ResetEndNodeTable() {
	t.tableMu.Lock()
	t.rebuildEndNodeTable()
	t.tableMu.Unlock()
}

func (t *Tree[T]) rebuildEndNodeTable() {
	table := t.endNodes[:0]
	it := NewIterator(t)
	for it.Next() {
		if n := it.Node(); n.IsEndNode() {
			table = append(table, n.slot)
		}
	}
	t.endNodes = table
	t.endStale = false
}

// MakeNodeTable lists every persisted node top-down.
func (t *Tree[T]) MakeNodeTable() []Node[T] {
	table := make([]Node[T], 0, t.nNodes)
	it := NewIterator(t)
	for it.Next() {
		table = append(table, it.Node())
	}
	return table
}

// Depth is the number of populated levels of persisted nodes.
func (t *Tree[T]) Depth() int {
	depth := 0
	for _, s := range t.endNodeTable() {
		if d := (Node[T]{tree: t, slot: s}).Depth() + 1; d > depth {
			depth = d
		}
	}
	return depth
}

// SquareNorm returns the cached squared norm, recomputing it from the end
// nodes when stale.
func (t *Tree[T]) SquareNorm() float64 {
	sq := math.Float64frombits(t.squareNorm.Load())
	if sq < 0 {
		sq = t.CalcSquareNorm()
	}
	return sq
}

func (t *Tree[T]) SetSquareNorm(sq float64) { t.squareNorm.Store(math.Float64bits(sq)) }

func (t *Tree[T]) ClearSquareNorm() { t.squareNorm.Store(math.Float64bits(invalidNorm)) }

// CalcSquareNorm sums the squared norms of the end nodes. Nodes without
// computed norms contribute nothing.
func (t *Tree[T]) CalcSquareNorm() float64 {
	sq := 0.0
	for _, s := range t.endNodeTable() {
		if v := (Node[T]{tree: t, slot: s}).SquareNorm(); v > 0 {
			sq += v
		}
	}
	t.SetSquareNorm(sq)
	return sq
}
