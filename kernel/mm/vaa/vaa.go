// Package vaa implements the virtual address allocator: a generic
// disjoint-interval allocator used both for the kernel's own address space
// and, one instance per process, for user address space layout. It never
// maps anything — it only reserves ranges of virtual address space for the
// caller to later back with page-table entries via kernel/mm/vmm.
package vaa

import (
	"nyx/kernel"
	"nyx/kernel/mem"
)

// VirtAddr is a virtual address.
type VirtAddr uintptr

// Range is a half-open virtual address range [Front, Back).
type Range struct {
	Front, Back VirtAddr
}

// Size returns the number of bytes spanned by r.
func (r Range) Size() uintptr { return uintptr(r.Back - r.Front) }

func (r Range) isEmpty() bool { return r.Back <= r.Front }

// contains reports whether r fully encloses other.
func (r Range) contains(other Range) bool {
	return r.Front <= other.Front && other.Back <= r.Back
}

// overlaps reports whether r and other share any address.
func (r Range) overlaps(other Range) bool {
	return r.Front < other.Back && other.Front < r.Back
}

var errOutOfAddressSpace = &kernel.Error{Module: "vaa", Message: "no free range large enough", Status: kernel.StatusOutOfMemory}

// Allocator is a first-fit allocator over a set of disjoint free address
// ranges. The zero value is empty; use New to seed it with an initial span.
type Allocator struct {
	available []Range
}

// New returns an Allocator whose entire free space is initially span.
func New(span Range) *Allocator {
	a := &Allocator{}
	if !span.isEmpty() {
		a.available = append(a.available, span)
	}
	return a
}

// Alloc4k reserves n 4 KiB-aligned pages (n*mem.PageSize bytes) and returns
// the range. If hint names a free, page-aligned range of sufficient size
// it is granted directly; otherwise Alloc4k falls back to ordinary
// first-fit.
func (a *Allocator) Alloc4k(n uintptr, hint VirtAddr) (Range, *kernel.Error) {
	return a.allocAligned(n*mem.PageSize, mem.PageSize, hint)
}

// Alloc2m reserves n 2 MiB-aligned large pages (n*mem.LargePageSize bytes)
// and returns the range, preferring hint when it names a free, large-page
// aligned range of sufficient size.
func (a *Allocator) Alloc2m(n uintptr, hint VirtAddr) (Range, *kernel.Error) {
	return a.allocAligned(n*mem.LargePageSize, mem.LargePageSize, hint)
}

// allocAligned reserves size bytes, aligned to align, preferring hint when
// it names a free range that starts aligned and is large enough; otherwise
// it falls back to the first free range whose aligned-up front still
// leaves room for size bytes before the range's back.
func (a *Allocator) allocAligned(size, align uintptr, hint VirtAddr) (Range, *kernel.Error) {
	if hint != 0 {
		if rng, ok := a.takeAligned(size, align, hint); ok {
			return rng, nil
		}
	}
	for i := range a.available {
		free := a.available[i]
		front := VirtAddr(mem.AlignUp(uintptr(free.Front), align))
		if front >= free.Back || free.Back-front < VirtAddr(size) {
			continue
		}
		if rng, ok := a.takeAligned(size, align, front); ok {
			return rng, nil
		}
	}
	return Range{}, errOutOfAddressSpace
}

// takeAligned reserves [front, front+size) from whichever free range
// contains it, splitting front-only or back-only remainders back into
// available, or reports false if front does not name a large-enough free
// range aligned to align.
func (a *Allocator) takeAligned(size, align uintptr, front VirtAddr) (Range, bool) {
	if uintptr(front)%align != 0 {
		return Range{}, false
	}
	want := Range{Front: front, Back: front + VirtAddr(size)}
	for i := range a.available {
		free := a.available[i]
		if !free.contains(want) {
			continue
		}
		a.available = append(a.available[:i], a.available[i+1:]...)
		if rem := (Range{free.Front, want.Front}); !rem.isEmpty() {
			a.available = append(a.available, rem)
		}
		if rem := (Range{want.Back, free.Back}); !rem.isEmpty() {
			a.available = append(a.available, rem)
		}
		return want, true
	}
	return Range{}, false
}

// MarkUsed removes rng from the free set, splitting or trimming any free
// range that overlaps it. It is used to reserve a fixed-address range (e.g.
// the kernel image, or a fixed user mapping) before any first-fit
// allocation runs.
func (a *Allocator) MarkUsed(rng Range) {
	for i := 0; i < len(a.available); i++ {
		free := a.available[i]
		if free.isEmpty() {
			a.available = append(a.available[:i], a.available[i+1:]...)
			i--
			continue
		}

		if free.contains(rng) {
			front := Range{free.Front, rng.Front}
			back := Range{rng.Back, free.Back}
			a.available = append(a.available[:i], a.available[i+1:]...)
			a.available = append(a.available, front, back)
			break
		} else if free.overlaps(rng) {
			if free.Front < rng.Front {
				a.available[i].Back = rng.Front
			} else {
				a.available[i].Front = rng.Back
			}
			// Multiple free ranges can overlap rng (if it spans more than
			// one), so scanning continues rather than stopping here.
		}
	}
}

// Release returns rng to the free set. It does not attempt to coalesce
// adjacent free ranges, matching the allocator this is grounded on: a
// later Alloc4k/Alloc2m pass may still see rng as its own entry.
func (a *Allocator) Release(rng Range) {
	a.available = append(a.available, rng)
}

// Free returns the total number of bytes across every free range.
func (a *Allocator) Free() uintptr {
	var total uintptr
	for _, r := range a.available {
		total += r.Size()
	}
	return total
}
