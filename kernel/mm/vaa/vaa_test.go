package vaa

import (
	"testing"

	"nyx/kernel/mem"
)

func TestAlloc4kFirstFit(t *testing.T) {
	a := New(Range{Front: 0x1000, Back: 0x5000})

	r, err := a.Alloc4k(1, 0)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if r != (Range{0x1000, 0x2000}) {
		t.Fatalf("r = %+v, want {0x1000 0x2000}", r)
	}

	r2, err := a.Alloc4k(1, 0)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if r2 != (Range{0x2000, 0x3000}) {
		t.Fatalf("r2 = %+v, want {0x2000 0x3000}", r2)
	}
}

func TestAlloc4kOutOfSpace(t *testing.T) {
	a := New(Range{Front: 0, Back: 0x1000})
	if _, err := a.Alloc4k(1, 0); err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if _, err := a.Alloc4k(1, 0); err == nil {
		t.Fatal("expected out-of-address-space error")
	}
}

func TestAlloc4kPrefersHintWhenFreeAndAligned(t *testing.T) {
	a := New(Range{Front: 0, Back: 0x10000})

	r, err := a.Alloc4k(1, 0x4000)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if r != (Range{0x4000, 0x5000}) {
		t.Fatalf("r = %+v, want {0x4000 0x5000}, hint should have been honored", r)
	}

	// The two remainders on either side of the hinted range must still be
	// individually allocatable.
	if got := a.Free(); got != 0x10000-0x1000 {
		t.Fatalf("Free() = %#x, want %#x", got, 0x10000-0x1000)
	}
}

func TestAlloc4kFallsBackWhenHintIsNotFree(t *testing.T) {
	a := New(Range{Front: 0, Back: 0x3000})
	a.MarkUsed(Range{Front: 0x1000, Back: 0x2000})

	r, err := a.Alloc4k(1, 0x1000)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if r == (Range{0x1000, 0x2000}) {
		t.Fatal("hint names an already-used range and should not have been honored")
	}
	if r != (Range{0, 0x1000}) {
		t.Fatalf("r = %+v, want {0 0x1000} (first-fit fallback)", r)
	}
}

func TestAlloc4kFallsBackWhenHintIsMisaligned(t *testing.T) {
	a := New(Range{Front: 0, Back: 0x2000})

	r, err := a.Alloc4k(1, 0x123)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if r != (Range{0, 0x1000}) {
		t.Fatalf("r = %+v, want {0 0x1000} (first-fit fallback)", r)
	}
}

func TestAlloc2mReservesLargePageAlignedRange(t *testing.T) {
	a := New(Range{Front: 0, Back: VirtAddr(4 * mem.LargePageSize)})

	r, err := a.Alloc2m(1, 0)
	if err != nil {
		t.Fatalf("Alloc2m: %v", err)
	}
	if r.Size() != mem.LargePageSize {
		t.Fatalf("r.Size() = %#x, want %#x", r.Size(), mem.LargePageSize)
	}
	if uintptr(r.Front)%mem.LargePageSize != 0 {
		t.Fatalf("r.Front = %#x, not 2 MiB aligned", r.Front)
	}
}

func TestAlloc2mPrefersHintWhenFreeAndAligned(t *testing.T) {
	a := New(Range{Front: 0, Back: VirtAddr(4 * mem.LargePageSize)})
	hint := VirtAddr(2 * mem.LargePageSize)

	r, err := a.Alloc2m(1, hint)
	if err != nil {
		t.Fatalf("Alloc2m: %v", err)
	}
	if r.Front != hint {
		t.Fatalf("r.Front = %#x, want hint %#x honored", r.Front, hint)
	}
}

func TestAlloc2mSkipsMisalignedHint(t *testing.T) {
	a := New(Range{Front: 0, Back: VirtAddr(4 * mem.LargePageSize)})
	hint := VirtAddr(mem.LargePageSize + mem.PageSize) // not 2 MiB aligned

	r, err := a.Alloc2m(1, hint)
	if err != nil {
		t.Fatalf("Alloc2m: %v", err)
	}
	if r.Front == hint {
		t.Fatal("a misaligned hint should not have been honored")
	}
	if uintptr(r.Front)%mem.LargePageSize != 0 {
		t.Fatalf("r.Front = %#x, not 2 MiB aligned", r.Front)
	}
}

func TestMarkUsedSplitsContainingRange(t *testing.T) {
	a := New(Range{Front: 0, Back: 0x10000})
	a.MarkUsed(Range{Front: 0x4000, Back: 0x6000})

	if got := a.Free(); got != 0x10000-0x2000 {
		t.Fatalf("Free() = %#x, want %#x", got, 0x10000-0x2000)
	}

	// Both the front remainder and the back remainder must still be
	// individually allocatable.
	front, err := a.Alloc4k(4, 0)
	if err != nil {
		t.Fatalf("Alloc4k front remainder: %v", err)
	}
	if front != (Range{0, 0x4000}) {
		t.Fatalf("front = %+v, want {0 0x4000}", front)
	}

	back, err := a.Alloc4k(10, 0)
	if err != nil {
		t.Fatalf("Alloc4k back remainder: %v", err)
	}
	if back != (Range{0x6000, 0x10000}) {
		t.Fatalf("back = %+v, want {0x6000 0x10000}", back)
	}
}

func TestMarkUsedTrimsOverlappingRange(t *testing.T) {
	a := New(Range{Front: 0x1000, Back: 0x3000})
	// Overlaps the front of the only free range without being fully
	// contained in it.
	a.MarkUsed(Range{Front: 0, Back: 0x2000})

	r, err := a.Alloc4k(1, 0)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if r != (Range{0x2000, 0x3000}) {
		t.Fatalf("r = %+v, want {0x2000 0x3000}", r)
	}
}

func TestMarkUsedAcrossMultipleFreeRanges(t *testing.T) {
	a := New(Range{Front: 0, Back: 0x1000})
	a.Release(Range{Front: 0x2000, Back: 0x3000})
	// Spans both free ranges and the gap between them.
	a.MarkUsed(Range{Front: 0x800, Back: 0x2800})

	if got := a.Free(); got != 0x800+0x800 {
		t.Fatalf("Free() = %#x, want %#x", got, 0x800+0x800)
	}
}

func TestReleaseAddsRangeBackWithoutCoalescing(t *testing.T) {
	a := New(Range{Front: 0, Back: 0x1000})
	r, err := a.Alloc4k(1, 0)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if a.Free() != 0 {
		t.Fatalf("Free() = %#x, want 0", a.Free())
	}

	a.Release(r)
	if a.Free() != 0x1000 {
		t.Fatalf("Free() after release = %#x, want 0x1000", a.Free())
	}

	again, err := a.Alloc4k(1, 0)
	if err != nil {
		t.Fatalf("Alloc4k after release: %v", err)
	}
	if again != r {
		t.Fatalf("again = %+v, want %+v", again, r)
	}
}

// available is not kept sorted by address: Release appends to the end
// without merging or re-sorting, matching original_source's own
// range_allocator behavior. A later Alloc4k after a Release of a
// lower-addressed range can therefore return that lower range ahead of
// ranges that were already free before it, rather than always returning
// the lowest free address in the allocator.
func TestAvailableIsNotKeptSortedAfterRelease(t *testing.T) {
	a := New(Range{Front: 0x2000, Back: 0x3000})
	a.Release(Range{Front: 0, Back: 0x1000})

	r, err := a.Alloc4k(1, 0)
	if err != nil {
		t.Fatalf("Alloc4k: %v", err)
	}
	if r != (Range{0x2000, 0x3000}) {
		t.Fatalf("r = %+v, want {0x2000 0x3000}: first-fit scans available in insertion order, not address order", r)
	}
}
