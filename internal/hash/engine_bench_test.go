package hash

import "testing"

func BenchmarkHashLeaf(b *testing.B) {
	engine := NewEngine([32]byte{1, 2, 3})
	index := seededWord(0x31)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.HashLeaf(index[:])
	}
}

func BenchmarkHashParent8(b *testing.B) {
	engine := NewEngine([32]byte{1, 2, 3})
	index := seededWord(0x71)
	children := make([]Digest, 8)
	for i := range children {
		children[i] = Digest(seededWord(byte(i + 9)))
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.HashParent(index[:], children)
	}
}

func seededWord(seed byte) [32]byte {
	var out [32]byte
	for i := 0; i < 32; i++ {
		out[i] = seed + byte(i)
	}
	return out
}
