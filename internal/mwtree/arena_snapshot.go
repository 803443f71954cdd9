package mwtree

import (
	"github.com/cockroachdb/errors"
)

type headerRecord struct {
	_          struct{} `cbor:",toarray"`
	Scale      int32
	L          [MaxDim]int32
	Parent     uint32
	Children   uint32
	SquareNorm float64
	ChildNum   uint8
	Flags      uint8
}

type chunkRecord struct {
	_       struct{} `cbor:",toarray"`
	Headers []headerRecord
	Status  []uint8
	Coefs   []float64
	Norms   []float64
}

type arenaSnapshot struct {
	Version  int              `cbor:"1,keyasint"`
	Config   ArenaConfig      `cbor:"2,keyasint"`
	Complex  bool             `cbor:"3,keyasint"`
	Next     uint32           `cbor:"4,keyasint"`
	FreeRuns map[int][]uint32 `cbor:"5,keyasint"`
	Chunks   []chunkRecord    `cbor:"6,keyasint"`
}

// MarshalBinary dumps the persisted pool chunk by chunk. The generated pool
// is transient and is not part of the dump; links to generated children are
// cut in the encoded headers.
func (a *Arena[T]) MarshalBinary() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := &a.nodes
	snap := arenaSnapshot{
		Version:  snapshotVersion,
		Config:   a.cfg,
		Complex:  isComplex[T](),
		Next:     uint32(p.next),
		FreeRuns: make(map[int][]uint32, len(p.freeRuns)),
	}
	for size, runs := range p.freeRuns {
		out := make([]uint32, len(runs))
		for i, s := range runs {
			out[i] = uint32(s)
		}
		snap.FreeRuns[size] = out
	}
	for ci := 0; ci < p.dir.count(); ci++ {
		c := p.dir.load(ci)
		rec := chunkRecord{
			Headers: make([]headerRecord, len(c.headers)),
			Status:  make([]uint8, len(c.status)),
			Coefs:   scalarsToFloats(c.coefs),
			Norms:   append([]float64(nil), c.norms...),
		}
		for i := range c.headers {
			h := c.headers[i]
			if h.has(flagGenChildren) {
				h.children = NoSlot
				h.clear(flagGenChildren)
			}
			rec.Headers[i] = headerRecord{
				Scale:      h.index.Scale,
				L:          h.index.L,
				Parent:     uint32(h.parent),
				Children:   uint32(h.children),
				SquareNorm: h.squareNorm,
				ChildNum:   h.childNum,
				Flags:      uint8(h.flags),
			}
			rec.Status[i] = uint8(c.status[i])
		}
		snap.Chunks = append(snap.Chunks, rec)
	}
	return snapEncMode.Marshal(&snap)
}

// UnmarshalArena reloads a dump produced by MarshalBinary. Slot numbers,
// free runs and the fill position are preserved, so a slot recorded before
// the dump addresses the same header and coefficients afterwards. Trees are
// restored separately with UnmarshalTree.
func UnmarshalArena[T Scalar](data []byte) (*Arena[T], error) {
	var snap arenaSnapshot
	if err := snapDecMode.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(ErrSnapshotCorrupt, err.Error())
	}
	if snap.Version != snapshotVersion || snap.Complex != isComplex[T]() {
		return nil, errors.Wrapf(ErrSnapshotMismatch, "arena dump version %d complex=%t", snap.Version, snap.Complex)
	}
	a, err := NewArena[T](snap.Config)
	if err != nil {
		return nil, err
	}
	p := &a.nodes
	if len(snap.Chunks) > p.dir.limit {
		return nil, errors.Wrapf(ErrSnapshotCorrupt, "%d chunks exceed directory of %d", len(snap.Chunks), p.dir.limit)
	}
	if int(snap.Next) > len(snap.Chunks)*p.chunkNodes+1 {
		return nil, errors.Wrapf(ErrSnapshotCorrupt, "fill position %d past %d chunks", snap.Next, len(snap.Chunks))
	}

	inUse := 0
	for ci := range snap.Chunks {
		rec := &snap.Chunks[ci]
		c := newChunk[T](p.chunkNodes, p.coefStride, p.normStride)
		if len(rec.Headers) != p.chunkNodes || len(rec.Status) != p.chunkNodes ||
			len(rec.Norms) != len(c.norms) || !floatsToScalars(c.coefs, rec.Coefs) {
			return nil, errors.Wrapf(ErrSnapshotCorrupt, "chunk %d has the wrong shape", ci)
		}
		for i, h := range rec.Headers {
			c.headers[i] = nodeHeader{
				index:      NodeIndex{Scale: h.Scale, L: h.L},
				parent:     Slot(h.Parent),
				children:   Slot(h.Children),
				squareNorm: h.SquareNorm,
				childNum:   h.ChildNum,
				flags:      nodeFlags(h.Flags),
			}
			c.status[i] = slotStatus(rec.Status[i])
			if c.status[i] == slotAllocated {
				inUse++
			}
		}
		copy(c.norms, rec.Norms)
		if _, err := p.dir.install(c); err != nil {
			return nil, errors.Wrap(ErrSnapshotCorrupt, err.Error())
		}
	}
	p.next = Slot(snap.Next)
	p.inUse.Store(int64(inUse))
	for size, runs := range snap.FreeRuns {
		for _, s := range runs {
			p.pushRun(Slot(s), size)
		}
	}
	p.dirty = len(snap.FreeRuns) > 0
	a.RewritePointers()
	return a, nil
}

// RewritePointers re-resolves every cached chunk reference from the chunk
// directory. It must run after the directory is rebuilt from a dump.
func (a *Arena[T]) RewritePointers() {
	a.mu.Lock()
	a.genMu.Lock()
	a.rewritePointers()
	a.genMu.Unlock()
	a.mu.Unlock()
}
