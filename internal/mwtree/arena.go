package mwtree

import (
	"sync"
	"sync/atomic"

	"github.com/Pam-La/mwtree/internal/async"
	"github.com/cockroachdb/errors"
)

// ArenaConfig sizes an arena. Non-positive capacities take the defaults;
// strides are required.
type ArenaConfig struct {
	MaxNodes      int `yaml:"max_nodes"`
	ChunkNodes    int `yaml:"chunk_nodes"`
	MaxGenNodes   int `yaml:"max_gen_nodes"`
	GenChunkNodes int `yaml:"gen_chunk_nodes"`

	// CoefStride and GenCoefStride are the number of coefficients stored per
	// persisted and per generated node.
	CoefStride    int `yaml:"-"`
	GenCoefStride int `yaml:"-"`
	// NormStride is the number of cached component norms per node.
	NormStride int `yaml:"-"`
	// GenRunNodes is the run length recycled through the lock-free free
	// list, normally 2^D.
	GenRunNodes int `yaml:"-"`
}

func (c ArenaConfig) withDefaults() ArenaConfig {
	if c.MaxNodes <= 0 {
		c.MaxNodes = defaultMaxNodes
	}
	if c.ChunkNodes <= 0 {
		c.ChunkNodes = defaultChunkNodes
	}
	if c.ChunkNodes > c.MaxNodes {
		c.ChunkNodes = c.MaxNodes
	}
	if c.MaxGenNodes <= 0 {
		c.MaxGenNodes = defaultMaxGenNodes
	}
	if c.GenChunkNodes <= 0 {
		c.GenChunkNodes = defaultGenChunkNodes
	}
	if c.GenChunkNodes > c.MaxGenNodes {
		c.GenChunkNodes = c.MaxGenNodes
	}
	return c
}

// ArenaStats is a point-in-time view of arena usage.
type ArenaStats struct {
	Nodes          int
	GenNodes       int
	Chunks         int
	GenChunks      int
	ChunkNodes     int
	MaxNodes       int
	MaxGenNodes    int
	Allocations    uint64
	GenAllocations uint64
}

// Arena owns the memory of every node of the trees that reference it. Nodes
// are packed into fixed-size chunks and handed out as slot indices.
//
// Persisted nodes and generated nodes come from separate pools. Reservation
// in either pool is serialised by a lock held only while slots are claimed;
// coefficient buffers of distinct slots are disjoint and may be written
// concurrently afterwards.
type Arena[T Scalar] struct {
	cfg ArenaConfig

	mu    sync.Mutex
	nodes pool[T]

	genMu   sync.Mutex
	gen     pool[T]
	genRing *async.Ring[Slot]

	allocs    atomic.Uint64
	genAllocs atomic.Uint64
}

type pool[T Scalar] struct {
	kind       slotStatus
	chunkNodes int
	maxNodes   int
	coefStride int
	normStride int

	// coalesce allows free runs to be rebuilt from slot status. It is off for
	// the generated pool, whose recycled runs change status outside the lock.
	coalesce bool

	dir *chunkDir[T]
	// cur is the chunk being bump-filled and curBase its first slot. Both are
	// derived from next and must be rewritten after the directory is rebuilt.
	cur      *chunk[T]
	curBase  Slot
	next     Slot
	inUse    atomic.Int64
	freeRuns map[int][]Slot
	loose    int  // slots held in freeRuns
	dirty    bool // slots were released since freeRuns was last rebuilt
}

func NewArena[T Scalar](cfg ArenaConfig) (*Arena[T], error) {
	cfg = cfg.withDefaults()
	if cfg.CoefStride <= 0 || cfg.NormStride <= 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "arena strides must be positive (coef=%d norm=%d)", cfg.CoefStride, cfg.NormStride)
	}
	if cfg.GenCoefStride <= 0 {
		cfg.GenCoefStride = cfg.CoefStride
	}
	if cfg.GenRunNodes <= 0 {
		cfg.GenRunNodes = 1
	}
	if cfg.GenRunNodes > cfg.GenChunkNodes || cfg.GenRunNodes > cfg.ChunkNodes {
		return nil, errors.Wrapf(ErrInvalidConfig, "chunks of %d/%d nodes cannot hold a run of %d", cfg.ChunkNodes, cfg.GenChunkNodes, cfg.GenRunNodes)
	}
	ring, err := async.NewRing[Slot](genRingCapacity)
	if err != nil {
		return nil, err
	}
	a := &Arena[T]{cfg: cfg, genRing: ring}
	a.nodes.init(slotAllocated, cfg.ChunkNodes, cfg.MaxNodes, cfg.CoefStride, cfg.NormStride)
	a.nodes.coalesce = true
	a.gen.init(slotGenerated, cfg.GenChunkNodes, cfg.MaxGenNodes, cfg.GenCoefStride, cfg.NormStride)
	return a, nil
}

func (p *pool[T]) init(kind slotStatus, chunkNodes, maxNodes, coefStride, normStride int) {
	p.kind = kind
	p.chunkNodes = chunkNodes
	p.maxNodes = maxNodes
	p.coefStride = coefStride
	p.normStride = normStride
	// A chunk is only opened when no earlier chunk holds a free run of the
	// requested length, so every opened chunk keeps at least one slot in use
	// and maxNodes chunks always suffice.
	p.dir = newChunkDir[T](maxNodes)
	p.next = 1
	p.freeRuns = make(map[int][]Slot)
}

func (a *Arena[T]) Config() ArenaConfig { return a.cfg }

// Allocate reserves count contiguous persisted slots and returns the first
// one together with the coefficient storage of the whole run. A new chunk is
// opened when the current one cannot hold the run.
func (a *Arena[T]) Allocate(count int) (Slot, []T, error) {
	a.mu.Lock()
	first, err := a.nodes.reserve(count)
	a.mu.Unlock()
	if err != nil {
		return NoSlot, nil, errors.Wrapf(ErrArenaFull, "allocating %d nodes (%d/%d in use): %v",
			count, a.nodes.inUse.Load(), a.nodes.maxNodes, err)
	}
	a.allocs.Add(uint64(count))
	return first, a.nodes.runCoefs(first, count), nil
}

// Deallocate returns a single persisted slot to the free list.
func (a *Arena[T]) Deallocate(s Slot) {
	a.DeallocateRun(s, 1)
}

// DeallocateRun returns count contiguous persisted slots starting at first.
// Chunk memory is kept for reuse.
func (a *Arena[T]) DeallocateRun(first Slot, count int) {
	a.mu.Lock()
	a.nodes.wipe(first, count)
	a.nodes.release(first, count)
	a.mu.Unlock()
}

// AllocateGen reserves count contiguous generated slots. Runs of the
// configured run length are recycled through a lock-free ring first.
func (a *Arena[T]) AllocateGen(count int) (Slot, []T, error) {
	if count == a.cfg.GenRunNodes {
		if first, ok := a.genRing.TryPop(); ok {
			a.gen.mark(first, count)
			a.genAllocs.Add(uint64(count))
			return first, a.gen.runCoefs(first, count), nil
		}
	}
	a.genMu.Lock()
	first, err := a.gen.reserve(count)
	a.genMu.Unlock()
	if err != nil {
		return NoSlot, nil, errors.Wrapf(ErrGenArenaFull, "allocating %d generated nodes (%d/%d in use): %v",
			count, a.gen.inUse.Load(), a.gen.maxNodes, err)
	}
	a.genAllocs.Add(uint64(count))
	return first, a.gen.runCoefs(first, count), nil
}

// DeallocateGen releases a run of generated slots.
func (a *Arena[T]) DeallocateGen(first Slot, count int) {
	a.gen.wipe(first, count)
	if count == a.cfg.GenRunNodes && a.genRing.TryPush(first) {
		return
	}
	a.genMu.Lock()
	a.gen.release(first, count)
	a.genMu.Unlock()
}

func (a *Arena[T]) Stats() ArenaStats {
	a.mu.Lock()
	chunks := a.nodes.dir.count()
	a.mu.Unlock()
	a.genMu.Lock()
	genChunks := a.gen.dir.count()
	a.genMu.Unlock()
	return ArenaStats{
		Nodes:          int(a.nodes.inUse.Load()),
		GenNodes:       int(a.gen.inUse.Load()),
		Chunks:         chunks,
		GenChunks:      genChunks,
		ChunkNodes:     a.cfg.ChunkNodes,
		MaxNodes:       a.cfg.MaxNodes,
		MaxGenNodes:    a.cfg.MaxGenNodes,
		Allocations:    a.allocs.Load(),
		GenAllocations: a.genAllocs.Load(),
	}
}

func (a *Arena[T]) pool(generated bool) *pool[T] {
	if generated {
		return &a.gen
	}
	return &a.nodes
}

func (a *Arena[T]) header(generated bool, s Slot) *nodeHeader {
	c, off := a.pool(generated).locate(s)
	return &c.headers[off]
}

func (a *Arena[T]) coefs(generated bool, s Slot) []T {
	return a.pool(generated).runCoefs(s, 1)
}

func (a *Arena[T]) norms(generated bool, s Slot) []float64 {
	p := a.pool(generated)
	c, off := p.locate(s)
	return c.norms[off*p.normStride : (off+1)*p.normStride : (off+1)*p.normStride]
}

// status reports the allocation status of a slot; invalid slots read as free.
func (a *Arena[T]) status(generated bool, s Slot) slotStatus {
	p := a.pool(generated)
	if s == NoSlot {
		return slotFree
	}
	pos := int(s) - 1
	c := p.dir.load(pos / p.chunkNodes)
	if c == nil {
		return slotFree
	}
	return c.status[pos%p.chunkNodes]
}

// rewritePointers re-derives the bump chunk of each pool from its fill
// position. It runs after the directory has been rebuilt from a snapshot;
// without it the partially filled last chunk is abandoned.
func (a *Arena[T]) rewritePointers() {
	for _, p := range []*pool[T]{&a.nodes, &a.gen} {
		p.cur, p.curBase = nil, NoSlot
		if p.next <= 1 {
			continue
		}
		ci := (int(p.next) - 2) / p.chunkNodes
		if c := p.dir.load(ci); c != nil {
			p.cur, p.curBase = c, Slot(ci*p.chunkNodes+1)
		}
	}
}

func (p *pool[T]) locate(s Slot) (*chunk[T], int) {
	assertf(s != NoSlot, "nil slot dereferenced")
	pos := int(s) - 1
	c := p.dir.load(pos / p.chunkNodes)
	assertf(c != nil, "slot %d resolves to an unallocated chunk", s)
	return c, pos % p.chunkNodes
}

func (p *pool[T]) runCoefs(first Slot, count int) []T {
	c, off := p.locate(first)
	lo, hi := off*p.coefStride, (off+count)*p.coefStride
	return c.coefs[lo:hi:hi]
}

// reserve claims count contiguous slots. Caller holds the pool lock.
//
// Order: an exact free run, the bump chunk, the smallest larger free run,
// free runs rebuilt from slot status, and only then a new chunk.
func (p *pool[T]) reserve(count int) (Slot, error) {
	if count <= 0 || count > p.chunkNodes {
		return NoSlot, errors.Newf("run of %d does not fit a chunk of %d", count, p.chunkNodes)
	}
	if int(p.inUse.Load())+count > p.maxNodes {
		return NoSlot, errors.Newf("capacity %d reached", p.maxNodes)
	}
	if first, ok := p.takeExact(count); ok {
		return first, nil
	}
	if first, ok := p.bump(count); ok {
		return first, nil
	}
	if first, ok := p.carve(count); ok {
		return first, nil
	}
	if p.coalesce && p.dirty && p.loose+p.tailLen() >= count {
		p.closeCur()
		p.rebuildFreeRuns()
		if first, ok := p.carve(count); ok {
			return first, nil
		}
	}

	c := newChunk[T](p.chunkNodes, p.coefStride, p.normStride)
	ci, err := p.dir.install(c)
	if err != nil {
		return NoSlot, err
	}
	// Runs never straddle chunks; the tail stays available for shorter runs.
	p.closeCur()
	p.cur, p.curBase = c, Slot(ci*p.chunkNodes+1)
	p.next = p.curBase
	first, _ := p.bump(count)
	return first, nil
}

func (p *pool[T]) bump(count int) (Slot, bool) {
	if p.cur == nil {
		return NoSlot, false
	}
	off := int(p.next - p.curBase)
	if off+count > p.chunkNodes {
		return NoSlot, false
	}
	first := p.next
	p.next += Slot(count)
	p.markAt(p.cur, off, first, count)
	return first, true
}

func (p *pool[T]) tailLen() int {
	if p.cur == nil {
		return 0
	}
	return p.chunkNodes - int(p.next-p.curBase)
}

// closeCur hands the unfilled tail of the bump chunk to the free runs.
func (p *pool[T]) closeCur() {
	if p.cur == nil {
		return
	}
	if tail := p.tailLen(); tail > 0 {
		p.pushRun(p.next, tail)
	}
	p.next = p.curBase + Slot(p.chunkNodes)
	p.cur = nil
}

func (p *pool[T]) pushRun(first Slot, size int) {
	p.freeRuns[size] = append(p.freeRuns[size], first)
	p.loose += size
}

func (p *pool[T]) popRun(size int) Slot {
	runs := p.freeRuns[size]
	first := runs[len(runs)-1]
	if len(runs) == 1 {
		delete(p.freeRuns, size)
	} else {
		p.freeRuns[size] = runs[:len(runs)-1]
	}
	p.loose -= size
	return first
}

// release records a wiped run. Caller holds the pool lock.
func (p *pool[T]) release(first Slot, count int) {
	p.pushRun(first, count)
	p.dirty = true
}

func (p *pool[T]) takeExact(count int) (Slot, bool) {
	if len(p.freeRuns[count]) == 0 {
		return NoSlot, false
	}
	first := p.popRun(count)
	p.mark(first, count)
	return first, true
}

// carve serves count from the smallest free run that can hold it and keeps
// the remainder.
func (p *pool[T]) carve(count int) (Slot, bool) {
	best := 0
	for size, runs := range p.freeRuns {
		if size >= count && len(runs) > 0 && (best == 0 || size < best) {
			best = size
		}
	}
	if best == 0 {
		return NoSlot, false
	}
	first := p.popRun(best)
	if best > count {
		p.pushRun(first+Slot(count), best-count)
	}
	p.mark(first, count)
	return first, true
}

// rebuildFreeRuns replaces the free runs with the maximal free runs found in
// the chunks, merging neighbours that were released separately. The bump
// chunk must be closed.
func (p *pool[T]) rebuildFreeRuns() {
	assertf(p.cur == nil, "free runs rebuilt while a chunk is being filled")
	clear(p.freeRuns)
	p.loose, p.dirty = 0, false
	for ci := 0; ci < p.dir.count(); ci++ {
		c := p.dir.load(ci)
		start := -1
		for i := 0; i <= p.chunkNodes; i++ {
			free := i < p.chunkNodes && c.status[i] == slotFree
			switch {
			case free && start < 0:
				start = i
			case !free && start >= 0:
				p.pushRun(Slot(ci*p.chunkNodes+start+1), i-start)
				start = -1
			}
		}
	}
}

func (p *pool[T]) mark(first Slot, count int) {
	c, off := p.locate(first)
	p.markAt(c, off, first, count)
}

func (p *pool[T]) markAt(c *chunk[T], off int, first Slot, count int) {
	assertf(off+count <= p.chunkNodes, "run at slot %d crosses a chunk", first)
	for i := off; i < off+count; i++ {
		assertf(c.status[i] == slotFree, "slot %d handed out twice", int(first)+i-off)
		c.status[i] = p.kind
	}
	p.inUse.Add(int64(count))
}

func (p *pool[T]) wipe(first Slot, count int) {
	c, off := p.locate(first)
	var zero T
	for i := off; i < off+count; i++ {
		assertf(c.status[i] == p.kind, "slot %d released while not allocated", int(first)+i-off)
		c.status[i] = slotFree
		c.headers[i] = nodeHeader{}
	}
	coefs := c.coefs[off*p.coefStride : (off+count)*p.coefStride]
	for i := range coefs {
		coefs[i] = zero
	}
	norms := c.norms[off*p.normStride : (off+count)*p.normStride]
	for i := range norms {
		norms[i] = 0
	}
	p.inUse.Add(-int64(count))
}
