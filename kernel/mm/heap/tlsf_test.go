package heap

import (
	"testing"

	"nyx/kernel"
)

func newTestArena(t *testing.T, size int) *Allocator {
	t.Helper()
	return New(make([]byte, size))
}

func TestMallocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	a := newTestArena(t, 64*1024)

	p1, err := a.Malloc(128)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	p2, err := a.Malloc(256)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if p1 == p2 {
		t.Fatal("two live allocations returned the same offset")
	}

	// Writing through one pointer must not corrupt the other.
	for i := range a.arena[p1 : p1+128] {
		a.arena[p1+uint32(i)] = 0xAA
	}
	for i := range a.arena[p2 : p2+256] {
		a.arena[p2+uint32(i)] = 0xBB
	}
	for _, b := range a.arena[p1 : p1+128] {
		if b != 0xAA {
			t.Fatal("first block corrupted by second allocation")
		}
	}
}

func TestFreeThenMallocReusesSpace(t *testing.T) {
	a := newTestArena(t, 64*1024)
	before := a.Stats()

	p, err := a.Malloc(512)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	a.Free(p)

	after := a.Stats()
	if after.FreeBytes != before.FreeBytes {
		t.Fatalf("FreeBytes after free = %d, want %d (fully reclaimed)", after.FreeBytes, before.FreeBytes)
	}

	again, err := a.Malloc(512)
	if err != nil {
		t.Fatalf("Malloc after free: %v", err)
	}
	if again != p {
		t.Fatalf("again = %d, want %d (reused freed block)", again, p)
	}
}

func TestFreeingAdjacentBlocksCoalesces(t *testing.T) {
	a := newTestArena(t, 64*1024)

	p1, _ := a.Malloc(256)
	p2, _ := a.Malloc(256)
	p3, _ := a.Malloc(256)

	a.Free(p1)
	a.Free(p3)
	a.Free(p2)

	// All three should have merged back into (close to) the original
	// single free block; a subsequent large allocation should succeed
	// using the reclaimed, coalesced space.
	big, err := a.Malloc(700)
	if err != nil {
		t.Fatalf("Malloc(700) after coalescing frees: %v", err)
	}
	_ = big
}

func TestDoubleFreeHalts(t *testing.T) {
	halted := false
	kernel.SetHaltFuncForTest(func() { halted = true })
	defer kernel.SetHaltFuncForTest(nil)

	a := newTestArena(t, 16*1024)
	p, _ := a.Malloc(64)
	a.Free(p)
	a.Free(p)

	if !halted {
		t.Fatal("expected double free to halt via kernel.Assert")
	}
}

func TestAlignedAllocHonorsAlignment(t *testing.T) {
	a := newTestArena(t, 64*1024)

	p, err := a.AlignedAlloc(4096, 128)
	if err != nil {
		t.Fatalf("AlignedAlloc: %v", err)
	}
	if p%4096 != 0 {
		t.Fatalf("p = %#x, not 4096-byte aligned", p)
	}

	for i := range a.arena[p : p+128] {
		a.arena[p+uint32(i)] = byte(i)
	}
	a.Free(p)
}

func TestReallocGrowPreservesContent(t *testing.T) {
	a := newTestArena(t, 64*1024)

	p, err := a.Malloc(64)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	for i := range a.arena[p : p+64] {
		a.arena[p+uint32(i)] = byte(i)
	}

	grown, err := a.Realloc(p, 4096)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	for i := 0; i < 64; i++ {
		if a.arena[grown+uint32(i)] != byte(i) {
			t.Fatalf("byte %d = %d after grow, want %d", i, a.arena[grown+uint32(i)], byte(i))
		}
	}
}

func TestReallocShrinkTruncatesContent(t *testing.T) {
	a := newTestArena(t, 64*1024)

	p, err := a.Malloc(4096)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	for i := range a.arena[p : p+4096] {
		a.arena[p+uint32(i)] = byte(i)
	}

	shrunk, err := a.Realloc(p, 32)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}
	for i := 0; i < 32; i++ {
		if a.arena[shrunk+uint32(i)] != byte(i) {
			t.Fatalf("byte %d = %d after shrink, want %d", i, a.arena[shrunk+uint32(i)], byte(i))
		}
	}
}

func TestOutOfMemoryReturnsError(t *testing.T) {
	a := newTestArena(t, 512)
	if _, err := a.Malloc(4096); err == nil {
		t.Fatal("expected out-of-memory error allocating more than the arena holds")
	}
}

func TestStatsAccountsForFreeAndAllocatedBytes(t *testing.T) {
	a := newTestArena(t, 8*1024)
	initial := a.Stats()

	p, err := a.Malloc(256)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	mid := a.Stats()
	if mid.FreeBytes >= initial.FreeBytes {
		t.Fatal("FreeBytes did not decrease after allocation")
	}

	a.Free(p)
	final := a.Stats()
	if final.FreeBytes != initial.FreeBytes {
		t.Fatalf("FreeBytes after free = %d, want %d", final.FreeBytes, initial.FreeBytes)
	}
}
