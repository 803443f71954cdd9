package mwtree

import (
	"fmt"
	"strings"
)

// NodeIndex identifies a node by scale and translation. Only the first D
// translation entries are meaningful; the rest stay zero so that two indices
// of the same tree compare equal with ==.
type NodeIndex struct {
	Scale int32
	L     [MaxDim]int32
}

// MakeNodeIndex builds an index from a scale and a translation tuple.
func MakeNodeIndex(scale int, l ...int) NodeIndex {
	idx := NodeIndex{Scale: int32(scale)}
	for d := 0; d < len(l) && d < MaxDim; d++ {
		idx.L[d] = int32(l[d])
	}
	return idx
}

// Child returns the index of child cIdx. Bit d of cIdx selects the upper half
// along axis d.
func (n NodeIndex) Child(cIdx, dim int) NodeIndex {
	c := NodeIndex{Scale: n.Scale + 1}
	for d := 0; d < dim; d++ {
		c.L[d] = 2*n.L[d] + int32((cIdx>>d)&1)
	}
	return c
}

// Parent returns the index of the enclosing node one scale up.
func (n NodeIndex) Parent(dim int) NodeIndex {
	p := NodeIndex{Scale: n.Scale - 1}
	for d := 0; d < dim; d++ {
		p.L[d] = n.L[d] >> 1
	}
	return p
}

// ChildIndex returns which quadrant of its parent this index occupies.
func (n NodeIndex) ChildIndex(dim int) int {
	cIdx := 0
	for d := 0; d < dim; d++ {
		cIdx |= int(n.L[d]&1) << d
	}
	return cIdx
}

// Ancestor returns the index of the ancestor at the given coarser scale.
func (n NodeIndex) Ancestor(scale int32, dim int) NodeIndex {
	if scale >= n.Scale {
		return n
	}
	shift := uint(n.Scale - scale)
	a := NodeIndex{Scale: scale}
	for d := 0; d < dim; d++ {
		a.L[d] = n.L[d] >> shift
	}
	return a
}

// IsAncestorOf reports whether other lies inside the box of n.
func (n NodeIndex) IsAncestorOf(other NodeIndex, dim int) bool {
	if other.Scale < n.Scale {
		return false
	}
	return other.Ancestor(n.Scale, dim) == n
}

func (n NodeIndex) Translation(dim int) []int {
	l := make([]int, dim)
	for d := range l {
		l[d] = int(n.L[d])
	}
	return l
}

func (n NodeIndex) format(dim int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%3d] (", n.Scale)
	for d := 0; d < dim; d++ {
		if d != 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", n.L[d])
	}
	b.WriteString(")")
	return b.String()
}

func (n NodeIndex) String() string {
	dim := MaxDim
	for dim > 1 && n.L[dim-1] == 0 {
		dim--
	}
	return n.format(dim)
}

// Depth returns the number of scales between n and a root at rootScale.
func (n NodeIndex) Depth(rootScale int32) int {
	return int(n.Scale - rootScale)
}
