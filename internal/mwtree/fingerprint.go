package mwtree

import (
	"encoding/binary"

	"github.com/Pam-La/mwtree/internal/hash"
	"github.com/Pam-La/mwtree/internal/proof"
	"github.com/cockroachdb/errors"
)

var gridHasher = hash.NewEngine([32]byte{'m', 'w', 't', 'r', 'e', 'e', '/', 'g', 'r', 'i', 'd'})

// GridHasher is the engine behind Fingerprint and ProveEndNode.
func GridHasher() *hash.Engine { return gridHasher }

// GridHashStats reports the work done by grid fingerprints so far.
func GridHashStats() hash.Stats { return gridHasher.Stats() }

// Fingerprint hashes the shape of the persisted grid. Coefficients and
// generated nodes do not contribute, so two trees with the same refinement
// share a fingerprint.
func (t *Tree[T]) Fingerprint() hash.Digest {
	digests := t.gridDigests(false)
	return gridHasher.HashRoots(t.rootDigests(digests))
}

// gridDigests hashes every persisted node bottom-up. Unless keep is set,
// child digests are dropped once their parent is hashed.
func (t *Tree[T]) gridDigests(keep bool) map[Slot]hash.Digest {
	digests := make(map[Slot]hash.Digest, t.nNodes)
	children := make([]hash.Digest, t.nChildren)
	buf := make([]byte, 4*(1+t.dim))

	it := NewIterator(t, WithTraverse(BottomUp))
	for it.Next() {
		n := it.Node()
		index := encodeIndex(buf, n.Index(), t.dim)
		if n.IsEndNode() {
			digests[n.slot] = gridHasher.HashLeaf(index)
			continue
		}
		first := n.hdr().children
		for i := range children {
			children[i] = digests[first+Slot(i)]
			if !keep {
				delete(digests, first+Slot(i))
			}
		}
		digests[n.slot] = gridHasher.HashParent(index, children)
	}
	return digests
}

func (t *Tree[T]) rootDigests(digests map[Slot]hash.Digest) []hash.Digest {
	roots := make([]hash.Digest, len(t.roots))
	for i, s := range t.roots {
		roots[i] = digests[s]
	}
	return roots
}

// ProveEndNode returns a proof that idx is an end node of the current grid.
// proof.Verify accepts it against Fingerprint until the grid changes.
func (t *Tree[T]) ProveEndNode(idx NodeIndex) (proof.GridProof, error) {
	n, ok := t.FindNode(idx)
	if !ok || !n.IsEndNode() {
		return proof.GridProof{}, errors.Wrapf(ErrNodeNotFound, "no end node %s", idx.format(t.dim))
	}
	digests := t.gridDigests(true)
	p := proof.GridProof{
		Leaf:  encodeIndex(make([]byte, 4*(1+t.dim)), idx, t.dim),
		Roots: t.rootDigests(digests),
	}
	for !n.IsRootNode() {
		parent := n.Parent()
		first := parent.hdr().children
		step := proof.Step{
			Index:    encodeIndex(make([]byte, 4*(1+t.dim)), parent.Index(), t.dim),
			ChildNum: n.ChildNum(),
			Siblings: make([]hash.Digest, 0, t.nChildren-1),
		}
		for i := 0; i < t.nChildren; i++ {
			if i != step.ChildNum {
				step.Siblings = append(step.Siblings, digests[first+Slot(i)])
			}
		}
		p.Steps = append(p.Steps, step)
		n = parent
	}
	for i, s := range t.roots {
		if s == n.slot {
			p.RootPos = i
		}
	}
	return p, nil
}

// SameGrid reports whether both trees have identical persisted refinement.
func (t *Tree[T]) SameGrid(other *Tree[T]) bool {
	if t.dim != other.dim || t.nNodes != other.nNodes || len(t.roots) != len(other.roots) {
		return false
	}
	return t.Fingerprint() == other.Fingerprint()
}

func encodeIndex(buf []byte, idx NodeIndex, dim int) []byte {
	binary.BigEndian.PutUint32(buf[0:4], uint32(idx.Scale))
	for d := 0; d < dim; d++ {
		binary.BigEndian.PutUint32(buf[4+4*d:8+4*d], uint32(idx.L[d]))
	}
	return buf[:4*(1+dim)]
}
