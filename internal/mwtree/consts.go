package mwtree

// Numerical limits shared by every tree.
const (
	MachinePrec = 1.0e-15
	MachineZero = 1.0e-14

	MaxOrder = 41
	MaxDepth = 30
	MaxScale = 31
	MinScale = -31
)

// Tree topology.
const (
	MaxDim      = 6
	MaxChildren = 1 << MaxDim
)

// Arena sizing defaults.
const (
	defaultMaxNodes      = 1 << 22
	defaultChunkNodes    = 1 << 9
	defaultMaxGenNodes   = 1 << 20
	defaultGenChunkNodes = 1 << 8

	// genRingCapacity bounds the number of recycled generated runs kept in
	// the lock-free free list. Must be a power of two.
	genRingCapacity = 1 << 12

	// NoSlot is the nil slot. Slot 0 of every pool is never handed out.
	NoSlot Slot = 0
)

// invalidNorm marks a cached norm as stale.
const invalidNorm = -1.0
