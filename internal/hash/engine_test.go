package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainSeparation(t *testing.T) {
	e := NewEngine([32]byte{7})
	index := []byte{0, 0, 0, 1}

	leaf := e.HashLeaf(index)
	parent := e.HashParent(index, nil)
	require.NotEqual(t, leaf, parent, "leaf and parent hashes must differ for equal payloads")

	other := NewEngine([32]byte{8})
	assert.NotEqual(t, leaf, other.HashLeaf(index), "key must separate engines")
	assert.Equal(t, leaf, e.HashLeaf(index))
}

func TestHashParentOrderSensitive(t *testing.T) {
	e := NewEngine([32]byte{})
	a := e.HashLeaf([]byte{1})
	b := e.HashLeaf([]byte{2})

	ab := e.HashParent([]byte{0}, []Digest{a, b})
	ba := e.HashParent([]byte{0}, []Digest{b, a})
	assert.NotEqual(t, ab, ba)
}

func TestHashRootsEmpty(t *testing.T) {
	e := NewEngine([32]byte{1})
	assert.Equal(t, e.Empty(), e.HashRoots(nil))
	assert.NotEqual(t, e.Empty(), e.HashRoots([]Digest{e.HashLeaf(nil)}))
}

func TestStats(t *testing.T) {
	e := NewEngine([32]byte{})
	l := e.HashLeaf([]byte{1})
	e.HashParent([]byte{0}, []Digest{l, l, l, l})
	e.HashRoots([]Digest{l})

	s := e.Stats()
	assert.Equal(t, uint64(1), s.LeafCalls)
	assert.Equal(t, uint64(1), s.ParentCalls)
	assert.Equal(t, uint64(1), s.RootCalls)
	assert.InDelta(t, 4.0, s.MeanFanout(), 1e-12)

	e.ResetStats()
	assert.Zero(t, e.Stats().MeanFanout())
}
