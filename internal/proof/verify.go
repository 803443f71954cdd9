package proof

import "github.com/Pam-La/mwtree/internal/hash"

// Verify recomputes the fingerprint from the proof and compares it with
// expected.
func Verify(engine *hash.Engine, p GridProof, expected hash.Digest) bool {
	return VerifyLeafHash(engine, engine.HashLeaf(p.Leaf), p, expected)
}

// VerifyLeafHash is Verify for a caller that already holds the leaf digest.
func VerifyLeafHash(engine *hash.Engine, leafHash hash.Digest, p GridProof, expected hash.Digest) bool {
	if p.RootPos < 0 || p.RootPos >= len(p.Roots) {
		return false
	}
	current := leafHash
	var children []hash.Digest
	for _, step := range p.Steps {
		if step.ChildNum < 0 || step.ChildNum > len(step.Siblings) {
			return false
		}
		children = children[:0]
		children = append(children, step.Siblings[:step.ChildNum]...)
		children = append(children, current)
		children = append(children, step.Siblings[step.ChildNum:]...)
		current = engine.HashParent(step.Index, children)
	}
	if current != p.Roots[p.RootPos] {
		return false
	}
	return engine.HashRoots(p.Roots) == expected
}
