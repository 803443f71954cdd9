package mwtree

import (
	"testing"

	"github.com/Pam-La/mwtree/internal/proof"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProveEndNode(t *testing.T) {
	tree := newRaggedTree(t)
	fp := tree.Fingerprint()

	for _, n := range tree.CopyEndNodeTable() {
		p, err := tree.ProveEndNode(n.Index())
		require.NoError(t, err)
		assert.Len(t, p.Steps, n.Depth())
		assert.True(t, proof.Verify(GridHasher(), p, fp), "%s", n)
	}

	leaf := tree.EndNode(0)
	p, err := tree.ProveEndNode(leaf.Index())
	require.NoError(t, err)
	require.NoError(t, tree.Split(leaf))
	assert.False(t, proof.Verify(GridHasher(), p, tree.Fingerprint()), "proof must not survive a refinement")

	_, err = tree.ProveEndNode(leaf.Index())
	assert.True(t, errors.Is(err, ErrNodeNotFound))
	_, err = tree.ProveEndNode(MakeNodeIndex(9, 0, 0))
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}
