package proof

import "github.com/Pam-La/mwtree/internal/hash"

// Step is one level of a grid proof: the encoded index of the parent, the
// quadrant the proven node occupies and the digests of its siblings in
// child order, with the proven node's own slot left out.
type Step struct {
	Index    []byte
	ChildNum int
	Siblings []hash.Digest
}

// GridProof shows that an end node belongs to a grid with a known
// fingerprint. Steps run from the end node up to its root box.
type GridProof struct {
	Leaf    []byte
	Steps   []Step
	RootPos int
	Roots   []hash.Digest
}
