package mwtree

import "math/bits"

// hilbertState is the orientation of one Hilbert sub-cube: the entry corner
// and the axis the curve leaves along. Children visited in Hilbert order
// inherit a state derived from their parent's, which keeps consecutive
// cells of equal depth face-adjacent.
type hilbertState struct {
	entry uint8
	dir   uint8
}

// hilbertChild returns the child index (bit d = upper half along axis d) of
// the i-th cell in Hilbert order under state s, and the state of that cell.
func hilbertChild(s hilbertState, i, dim int) (int, hilbertState) {
	n := uint(dim)
	ui := uint(i)
	d := uint(s.dir)
	z := rotl(grayCode(ui), d+1, n) ^ uint(s.entry)
	next := hilbertState{
		entry: uint8(uint(s.entry) ^ rotl(hilbertEntry(ui), d+1, n)),
		dir:   uint8((d + hilbertDirection(ui, n) + 1) % n),
	}
	return int(z), next
}

func grayCode(i uint) uint { return i ^ (i >> 1) }

func rotl(x, r, n uint) uint {
	r %= n
	if r == 0 {
		return x
	}
	mask := uint(1)<<n - 1
	return ((x << r) | (x >> (n - r))) & mask
}

func hilbertEntry(i uint) uint {
	if i == 0 {
		return 0
	}
	return grayCode(2 * ((i - 1) / 2))
}

func hilbertDirection(i, n uint) uint {
	switch {
	case i == 0:
		return 0
	case i%2 == 0:
		return uint(bits.TrailingZeros(^(i - 1))) % n
	default:
		return uint(bits.TrailingZeros(^i)) % n
	}
}
