// Package async holds lock-free building blocks shared by the tree arena.
package async

import (
	"runtime"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

var ErrInvalidCapacity = errors.New("async: ring capacity must be a power of two and >= 2")

const cacheLinePad = 56

type cell[T any] struct {
	seq   atomic.Uint64
	value T
}

// Ring is a bounded multi-producer multi-consumer queue. Each cell carries a
// sequence number; a producer may claim cell pos once seq == pos and a
// consumer once seq == pos+1, so neither side ever takes a lock.
//
// The arena uses it to recycle freed generated-node runs, which are released
// and reclaimed far more often than persisted nodes.
type Ring[T any] struct {
	mask uint64
	size uint64

	_    [cacheLinePad]byte
	head atomic.Uint64
	_    [cacheLinePad]byte
	tail atomic.Uint64
	_    [cacheLinePad]byte

	cells []cell[T]
}

func NewRing[T any](capacity uint64) (*Ring[T], error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidCapacity
	}
	r := &Ring[T]{
		mask:  capacity - 1,
		size:  capacity,
		cells: make([]cell[T], capacity),
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	return r, nil
}

// TryPush appends v, returning false when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	for {
		pos := r.tail.Load()
		c := &r.cells[pos&r.mask]
		switch diff := int64(c.seq.Load()) - int64(pos); {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				c.value = v
				c.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// TryPop removes the oldest value, returning false when the ring is empty.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	for {
		pos := r.head.Load()
		c := &r.cells[pos&r.mask]
		switch diff := int64(c.seq.Load()) - int64(pos+1); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				v := c.value
				c.value = zero
				c.seq.Store(pos + r.size)
				return v, true
			}
		case diff < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}

// Len is a racy estimate of the number of queued values.
func (r *Ring[T]) Len() int {
	n := int64(r.tail.Load()) - int64(r.head.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}

func (r *Ring[T]) Cap() int { return int(r.size) }

// Drain pops every queued value into dst.
func (r *Ring[T]) Drain(dst []T) []T {
	for {
		v, ok := r.TryPop()
		if !ok {
			return dst
		}
		dst = append(dst, v)
	}
}
