package mwtree

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, maxNodes, chunkNodes int) *Arena[float64] {
	t.Helper()
	a, err := NewArena[float64](ArenaConfig{
		MaxNodes:      maxNodes,
		ChunkNodes:    chunkNodes,
		MaxGenNodes:   64,
		GenChunkNodes: 16,
		CoefStride:    4,
		GenCoefStride: 1,
		NormStride:    4,
		GenRunNodes:   4,
	})
	require.NoError(t, err)
	return a
}

func TestArenaOpensSecondChunk(t *testing.T) {
	const chunkNodes = 8
	a := newTestArena(t, 64, chunkNodes)

	seen := make(map[Slot]struct{})
	for i := 0; i < chunkNodes; i++ {
		s, coefs, err := a.Allocate(1)
		require.NoError(t, err)
		require.Len(t, coefs, 4)
		seen[s] = struct{}{}
	}
	require.Equal(t, 1, a.Stats().Chunks)

	s, coefs, err := a.Allocate(1)
	require.NoError(t, err)
	seen[s] = struct{}{}
	coefs[0] = 42

	st := a.Stats()
	assert.Equal(t, 2, st.Chunks)
	assert.Equal(t, chunkNodes+1, st.Nodes)
	assert.Len(t, seen, chunkNodes+1, "slots must be distinct")
	for slot := range seen {
		assert.NotEqual(t, NoSlot, slot)
		assert.Equal(t, slotAllocated, a.status(false, slot))
	}
	assert.Equal(t, 42.0, a.coefs(false, s)[0])
}

func TestArenaRunsStayInsideChunk(t *testing.T) {
	a := newTestArena(t, 64, 8)

	first, _, err := a.Allocate(3)
	require.NoError(t, err)
	second, coefs, err := a.Allocate(6)
	require.NoError(t, err)
	require.Len(t, coefs, 24)

	assert.Equal(t, Slot(1), first)
	assert.Equal(t, Slot(9), second, "run must start a fresh chunk")

	// The skipped tail of chunk 0 serves a later run of its length.
	tail, _, err := a.Allocate(5)
	require.NoError(t, err)
	assert.Equal(t, Slot(4), tail)
}

func TestArenaReusesFreedRuns(t *testing.T) {
	a := newTestArena(t, 64, 8)

	first, coefs, err := a.Allocate(4)
	require.NoError(t, err)
	for i := range coefs {
		coefs[i] = float64(i + 1)
	}
	a.DeallocateRun(first, 4)
	assert.Equal(t, 0, a.Stats().Nodes)
	assert.Equal(t, slotFree, a.status(false, first))

	again, coefs, err := a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	for _, v := range coefs {
		assert.Zero(t, v, "freed coefficients must be wiped")
	}
}

func TestArenaFull(t *testing.T) {
	a := newTestArena(t, 8, 4)
	_, _, err := a.Allocate(4)
	require.NoError(t, err)
	_, _, err = a.Allocate(4)
	require.NoError(t, err)

	_, _, err = a.Allocate(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrArenaFull))
}

// requireFreeRunsConsistent checks that the free runs account for loose and
// only name free slots, each at most once.
func requireFreeRunsConsistent(t *testing.T, p *pool[float64]) {
	t.Helper()
	seen := make(map[Slot]struct{})
	total := 0
	for size, runs := range p.freeRuns {
		for _, first := range runs {
			c, off := p.locate(first)
			require.LessOrEqual(t, off+size, p.chunkNodes)
			for i := 0; i < size; i++ {
				s := first + Slot(i)
				_, dup := seen[s]
				require.False(t, dup, "slot %d listed twice", s)
				seen[s] = struct{}{}
				require.Equal(t, slotFree, c.status[off+i], "slot %d listed while in use", s)
			}
			total += size
		}
	}
	require.Equal(t, p.loose, total)
}

func TestArenaFillsToMaxNodesAroundTails(t *testing.T) {
	a := newTestArena(t, 16, 8)

	seen := make(map[Slot]struct{})
	take := func(count int) {
		t.Helper()
		s, _, err := a.Allocate(count)
		require.NoError(t, err)
		for i := 0; i < count; i++ {
			_, dup := seen[s+Slot(i)]
			require.False(t, dup, "slot %d handed out twice", s+Slot(i))
			seen[s+Slot(i)] = struct{}{}
		}
	}
	for i := 0; i < 5; i++ {
		take(3)
	}
	requireFreeRunsConsistent(t, &a.nodes)

	for i := 0; i < 2; i++ {
		_, _, err := a.Allocate(3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrArenaFull))
		requireFreeRunsConsistent(t, &a.nodes)
	}

	take(1)
	assert.Equal(t, 16, a.Stats().Nodes)
	_, _, err := a.Allocate(1)
	assert.True(t, errors.Is(err, ErrArenaFull), "only the configured maximum stops allocation")
}

func TestArenaFailedChunkInstallLeavesFreeRunsAlone(t *testing.T) {
	a := newTestArena(t, 16, 8)
	a.nodes.dir.limit = 2

	for i := 0; i < 4; i++ {
		_, _, err := a.Allocate(3)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, _, err := a.Allocate(3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrArenaFull))
	}
	requireFreeRunsConsistent(t, &a.nodes)

	x, _, err := a.Allocate(2)
	require.NoError(t, err)
	y, _, err := a.Allocate(2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Slot{7, 15}, []Slot{x, y})
}

func TestArenaMergesReleasedNeighbours(t *testing.T) {
	a := newTestArena(t, 16, 8)
	var slots []Slot
	for i := 0; i < 16; i++ {
		s, _, err := a.Allocate(1)
		require.NoError(t, err)
		slots = append(slots, s)
	}
	for _, s := range slots[:8] {
		a.Deallocate(s)
	}

	first, _, err := a.Allocate(8)
	require.NoError(t, err)
	assert.Equal(t, slots[0], first)
	assert.Equal(t, 2, a.Stats().Chunks, "released singles serve a whole-chunk run")
	requireFreeRunsConsistent(t, &a.nodes)
}

func TestArenaCarvesLargerRuns(t *testing.T) {
	a := newTestArena(t, 64, 8)
	first, _, err := a.Allocate(6)
	require.NoError(t, err)
	_, _, err = a.Allocate(2)
	require.NoError(t, err)
	a.DeallocateRun(first, 6)

	s, _, err := a.Allocate(4)
	require.NoError(t, err)
	assert.Equal(t, first, s)
	s, _, err = a.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, first+4, s)
	assert.Equal(t, 1, a.Stats().Chunks)
	requireFreeRunsConsistent(t, &a.nodes)
}

func TestArenaRejectsMissingStrides(t *testing.T) {
	_, err := NewArena[float64](ArenaConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestArenaGenRingRecycles(t *testing.T) {
	a := newTestArena(t, 64, 8)

	first, coefs, err := a.AllocateGen(4)
	require.NoError(t, err)
	require.Len(t, coefs, 4)
	assert.Equal(t, slotGenerated, a.status(true, first))

	a.DeallocateGen(first, 4)
	assert.Equal(t, 1, a.genRing.Len())

	again, _, err := a.AllocateGen(4)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 0, a.genRing.Len())
	assert.Equal(t, 4, a.Stats().GenNodes)
	assert.Equal(t, uint64(8), a.Stats().GenAllocations)
}

func TestArenaGenFull(t *testing.T) {
	a := newTestArena(t, 64, 8)
	for i := 0; i < 16; i++ {
		_, _, err := a.AllocateGen(4)
		require.NoError(t, err)
	}
	_, _, err := a.AllocateGen(4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGenArenaFull))
}

func TestArenaConcurrentAllocate(t *testing.T) {
	a := newTestArena(t, 4096, 64)

	const workers = 8
	const perWorker = 64
	slots := make([][]Slot, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s, coefs, err := a.Allocate(4)
				if err != nil {
					t.Errorf("allocate: %v", err)
					return
				}
				for j := range coefs {
					coefs[j] = float64(w)
				}
				slots[w] = append(slots[w], s)
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[Slot]int)
	for w, ws := range slots {
		for _, s := range ws {
			for j := Slot(0); j < 4; j++ {
				_, dup := seen[s+j]
				require.False(t, dup, "slot %d handed out twice", s+j)
				seen[s+j] = w
			}
			assert.Equal(t, float64(w), a.coefs(false, s)[0])
		}
	}
	assert.Equal(t, workers*perWorker*4, a.Stats().Nodes)
}

func TestArenaDumpRoundTrip(t *testing.T) {
	a := newTestArena(t, 64, 8)
	first, coefs, err := a.Allocate(4)
	require.NoError(t, err)
	for i := range coefs {
		coefs[i] = float64(i) * 0.5
	}
	h := a.header(false, first+1)
	h.index = MakeNodeIndex(2, 1, 3)
	h.parent = first
	h.set(flagEndNode)

	gen, _, err := a.AllocateGen(4)
	require.NoError(t, err)
	a.header(false, first+2).children = gen
	a.header(false, first+2).set(flagGenChildren)

	spare, _, err := a.Allocate(2)
	require.NoError(t, err)
	a.DeallocateRun(spare, 2)

	data, err := a.MarshalBinary()
	require.NoError(t, err)

	b, err := UnmarshalArena[float64](data)
	require.NoError(t, err)
	assert.Equal(t, a.Stats().Nodes, b.Stats().Nodes)
	assert.Equal(t, a.Stats().Chunks, b.Stats().Chunks)
	assert.Equal(t, 0, b.Stats().GenNodes)
	assert.Equal(t, a.nodes.runCoefs(first, 4), b.nodes.runCoefs(first, 4))
	assert.Equal(t, *a.header(false, first+1), *b.header(false, first+1))

	cut := b.header(false, first+2)
	assert.Equal(t, NoSlot, cut.children)
	assert.False(t, cut.has(flagGenChildren))

	again, _, err := b.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, spare, again, "free runs survive the dump")

	// The partially filled chunk keeps being filled after the reload.
	next, _, err := b.Allocate(2)
	require.NoError(t, err)
	assert.Equal(t, spare+2, next)
	assert.Equal(t, 1, b.Stats().Chunks)
}

func TestArenaDumpRejectsScalarMismatch(t *testing.T) {
	a := newTestArena(t, 64, 8)
	data, err := a.MarshalBinary()
	require.NoError(t, err)

	_, err = UnmarshalArena[complex128](data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSnapshotMismatch))
}

func TestArenaCollector(t *testing.T) {
	a := newTestArena(t, 64, 8)
	_, _, err := a.Allocate(3)
	require.NoError(t, err)

	c := NewArenaCollector("test", a)
	assert.Equal(t, 8, testutil.CollectAndCount(c))
}
