package hash

import (
	stdhash "hash"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// Digest is the 32-byte output of every hash in the engine.
type Digest [32]byte

type Stats struct {
	LeafCalls    uint64
	ParentCalls  uint64
	RootCalls    uint64
	ChildDigests uint64
}

// MeanFanout returns ChildDigests / ParentCalls.
// Returns 0 when no parent was hashed.
func (s Stats) MeanFanout() float64 {
	if s.ParentCalls == 0 {
		return 0
	}
	return float64(s.ChildDigests) / float64(s.ParentCalls)
}

// Engine는 grid 모양을 Merkle 방식으로 요약하는 해시 엔진이다.
// keyed BLAKE2b-256 위에 leaf/parent/root 도메인 분리를 두고, key로 용도를 구분한다.
type Engine struct {
	key          [32]byte
	empty        Digest
	leafCalls    atomic.Uint64
	parentCalls  atomic.Uint64
	rootCalls    atomic.Uint64
	childDigests atomic.Uint64
}

func NewEngine(key [32]byte) *Engine {
	e := &Engine{key: key}
	e.newHash('Z').Sum(e.empty[:0])
	return e
}

// newHash starts a keyed digest in the given domain. Keys of 32 bytes are
// always accepted by blake2b.
func (e *Engine) newHash(domain byte) stdhash.Hash {
	h, err := blake2b.New256(e.key[:])
	if err != nil {
		panic(err)
	}
	h.Write([]byte{domain})
	return h
}

// Empty is the digest of a grid without roots.
func (e *Engine) Empty() Digest { return e.empty }

// HashLeaf hashes the encoded index of a node without children.
func (e *Engine) HashLeaf(index []byte) Digest {
	h := e.newHash('L')
	h.Write(index)

	e.leafCalls.Add(1)
	var out Digest
	h.Sum(out[:0])
	return out
}

// HashParent hashes a branch from its encoded index and its children's
// digests in child order.
func (e *Engine) HashParent(index []byte, children []Digest) Digest {
	h := e.newHash('P')
	h.Write(index)
	for i := range children {
		h.Write(children[i][:])
	}

	e.parentCalls.Add(1)
	e.childDigests.Add(uint64(len(children)))
	var out Digest
	h.Sum(out[:0])
	return out
}

// HashRoots folds the digests of every root box into one.
func (e *Engine) HashRoots(roots []Digest) Digest {
	if len(roots) == 0 {
		return e.empty
	}
	h := e.newHash('R')
	for i := range roots {
		h.Write(roots[i][:])
	}

	e.rootCalls.Add(1)
	var out Digest
	h.Sum(out[:0])
	return out
}

func (e *Engine) Stats() Stats {
	return Stats{
		LeafCalls:    e.leafCalls.Load(),
		ParentCalls:  e.parentCalls.Load(),
		RootCalls:    e.rootCalls.Load(),
		ChildDigests: e.childDigests.Load(),
	}
}

func (e *Engine) ResetStats() {
	e.leafCalls.Store(0)
	e.parentCalls.Store(0)
	e.rootCalls.Store(0)
	e.childDigests.Store(0)
}
