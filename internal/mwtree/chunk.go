package mwtree

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Slot is a stable handle on a node inside one arena pool. Slot 0 is nil.
type Slot uint32

type slotStatus uint8

const (
	slotFree slotStatus = iota
	slotAllocated
	slotGenerated
)

type nodeFlags uint8

const (
	flagHasCoefs nodeFlags = 1 << iota
	flagEndNode
	flagGenChildren // children live in the generated pool
	flagParentGen   // parent lives in the generated pool
	flagRoot
)

// nodeHeader is the pointer-free part of a node. Structure is expressed with
// slots so chunks can be copied, persisted and scanned without touching the
// garbage collector.
type nodeHeader struct {
	index      NodeIndex
	parent     Slot
	children   Slot
	childNum   uint8
	flags      nodeFlags
	squareNorm float64
}

func (h *nodeHeader) has(f nodeFlags) bool { return h.flags&f != 0 }
func (h *nodeHeader) set(f nodeFlags)      { h.flags |= f }
func (h *nodeHeader) clear(f nodeFlags)    { h.flags &^= f }

// chunk is a fixed-capacity block of node headers with their coefficient and
// norm storage. Chunks are never resized, so views into them stay valid for
// as long as the arena lives.
type chunk[T Scalar] struct {
	headers []nodeHeader
	status  []slotStatus
	coefs   []T
	norms   []float64
}

func newChunk[T Scalar](nodes, coefStride, normStride int) *chunk[T] {
	return &chunk[T]{
		headers: make([]nodeHeader, nodes),
		status:  make([]slotStatus, nodes),
		coefs:   make([]T, nodes*coefStride),
		norms:   make([]float64, nodes*normStride),
	}
}

// chunkDir is the chunk directory of a pool. Readers resolve slots through
// an atomically published table without taking the arena lock; the writer
// appends under the lock, so a published prefix is never modified.
type chunkDir[T Scalar] struct {
	table atomic.Pointer[[]*chunk[T]]
	limit int
}

func newChunkDir[T Scalar](limit int) *chunkDir[T] {
	d := &chunkDir[T]{limit: limit}
	d.table.Store(new([]*chunk[T]))
	return d
}

func (d *chunkDir[T]) load(i int) *chunk[T] {
	t := *d.table.Load()
	if i < 0 || i >= len(t) {
		return nil
	}
	return t[i]
}

func (d *chunkDir[T]) count() int { return len(*d.table.Load()) }

// install appends c and returns its directory index. Caller holds the pool
// lock.
func (d *chunkDir[T]) install(c *chunk[T]) (int, error) {
	t := *d.table.Load()
	if len(t) >= d.limit {
		return -1, errors.Newf("chunk directory of %d exhausted", d.limit)
	}
	grown := append(t, c)
	d.table.Store(&grown)
	return len(grown) - 1, nil
}
