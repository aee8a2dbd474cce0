// Package heap implements a two-level segregated fit (TLSF) allocator: the
// kernel's general-purpose heap, sitting on top of virtual memory reserved
// by kernel/mm/vaa and backed by pages mapped through kernel/mm/vmm. TLSF
// gives O(1) malloc/free/realloc with bounded fragmentation, which matters
// because the allocator itself must never block or recurse into the
// scheduler.
//
// original_source's mem::TlsfAllocator only wraps an external C `tlsf_t`
// handle and contributes no algorithm detail to ground against; the
// segregated-free-list design here follows the public two-level segregated
// fit allocator (Masmano et al.) that library implements, expressed over a
// Go byte-slice arena rather than a raw pointer.
package heap

import (
	"math/bits"
	"unsafe"

	"nyx/kernel"
)

const (
	// alignment is the minimum and granularity alignment for every block.
	alignment = 16

	// flIndexMax bounds the first-level index: size classes run from
	// 2^minFLIndex up to 2^(minFLIndex+flIndexMax-1).
	minFLIndex = 6 // 2^6 = 64 bytes: smallest non-trivial size class
	flIndexMax = 26
	// slIndexCountLog2 is log2 of the number of second-level subdivisions
	// per first-level class.
	slIndexCountLog2 = 4
	slIndexCount     = 1 << slIndexCountLog2

	// minBlockSize is the smallest payload size a free block can hold
	// besides its header (it must fit the free-list link fields).
	minBlockSize = unsafe.Sizeof(freeLinks{})

	freeBit     = uintptr(1) << 0
	prevFreeBit = uintptr(1) << 1
	sizeMask    = ^(freeBit | prevFreeBit)
)

// freeLinks is the layout of a free block's body: intrusive doubly linked
// list pointers within its segregated free list, stored as byte offsets
// into the arena (0 means "none"; the arena's own offset 0 is reserved by
// the sentinel null block so it is never a valid link target).
type freeLinks struct {
	nextFree, prevFree uint32
}

// blockHeader precedes every block, free or allocated, in the arena.
type blockHeader struct {
	prevPhysSize uintptr // size of the physically preceding block, 0 if none
	sizeAndFlags uintptr // size of this block's payload, plus freeBit/prevFreeBit
}

func (h *blockHeader) size() uintptr   { return h.sizeAndFlags & sizeMask }
func (h *blockHeader) isFree() bool    { return h.sizeAndFlags&freeBit != 0 }
func (h *blockHeader) prevFree() bool  { return h.sizeAndFlags&prevFreeBit != 0 }
func (h *blockHeader) setSize(s uintptr) {
	h.sizeAndFlags = s | (h.sizeAndFlags & ^sizeMask)
}
func (h *blockHeader) setFree(free bool) {
	if free {
		h.sizeAndFlags |= freeBit
	} else {
		h.sizeAndFlags &^= freeBit
	}
}
func (h *blockHeader) setPrevFree(free bool) {
	if free {
		h.sizeAndFlags |= prevFreeBit
	} else {
		h.sizeAndFlags &^= prevFreeBit
	}
}

const headerSize = unsafe.Sizeof(blockHeader{})

var (
	errInvalidSize = &kernel.Error{Module: "heap", Message: "requested size is zero or exceeds the arena", Status: kernel.StatusInvalidInput}
	errOutOfMemory = &kernel.Error{Module: "heap", Message: "no free block large enough", Status: kernel.StatusOutOfMemory}
)

// Allocator is a TLSF heap over a single contiguous arena supplied at
// construction. It is not safe for concurrent use without an external lock;
// kernel/sched's allocator-owning thread (or a kernel/sync.Spinlock wrapper)
// serializes access.
type Allocator struct {
	arena []byte

	flBitmap uintptr
	slBitmap [flIndexMax]uint32

	// free[fl][sl] is the offset (into arena) of the head of that size
	// class's free list, or 0 if empty.
	free [flIndexMax][slIndexCount]uint32
}

// New constructs an Allocator over arena, which must be at least large
// enough to hold two headers and minBlockSize of payload. Offset 0 holds a
// zero-size sentinel header that is never free; the rest of the arena
// starts as a single free block.
func New(arena []byte) *Allocator {
	kernel.Assert(uintptr(len(arena)) > 2*headerSize+minBlockSize, "heap: arena too small", "tlsf.go", 0)

	a := &Allocator{arena: arena}
	sentinel := a.headerAt(0)
	sentinel.prevPhysSize = 0
	sentinel.sizeAndFlags = 0

	first := uint32(headerSize)
	payload := uintptr(len(arena)) - 2*headerSize
	payload &^= (alignment - 1)

	h := a.headerAt(first)
	h.prevPhysSize = 0
	h.sizeAndFlags = 0
	h.setSize(payload)
	h.setFree(true)
	a.insertFree(first, h)
	return a
}

func (a *Allocator) headerAt(off uint32) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(&a.arena[off]))
}

func (a *Allocator) linksAt(off uint32) *freeLinks {
	return (*freeLinks)(unsafe.Pointer(&a.arena[uintptr(off)+headerSize]))
}

func (a *Allocator) payloadOffset(off uint32) uint32 { return off + uint32(headerSize) }

// mapping computes the (first-level, second-level) indices TLSF uses to
// pick a segregated free list for size.
func mapping(size uintptr) (fl, sl int) {
	if size < 1<<minFLIndex {
		size = 1 << minFLIndex
	}
	fl = bits.Len(uint(size)) - 1
	sl = int((size>>(uint(fl)-slIndexCountLog2))&(slIndexCount-1))
	fl -= minFLIndex
	if fl < 0 {
		fl = 0
	}
	if fl >= flIndexMax {
		fl = flIndexMax - 1
	}
	return fl, sl
}

// mappingRoundUp is like mapping but rounds size up to the next size class
// boundary first, used when searching for a free block (any block in the
// chosen class is guaranteed big enough).
func mappingRoundUp(size uintptr) (fl, sl int) {
	if size < 1<<minFLIndex {
		return mapping(size)
	}
	round := uintptr(1) << uint(bits.Len(uint(size))-1)
	if size != round {
		size = round << 1
	}
	return mapping(size)
}

func (a *Allocator) insertFree(off uint32, h *blockHeader) {
	fl, sl := mapping(h.size())
	head := a.free[fl][sl]
	links := a.linksAt(off)
	links.nextFree = head
	links.prevFree = 0
	if head != 0 {
		a.linksAt(head).prevFree = off
	}
	a.free[fl][sl] = off
	a.flBitmap |= 1 << uint(fl)
	a.slBitmap[fl] |= 1 << uint(sl)
}

func (a *Allocator) removeFree(off uint32, h *blockHeader) {
	fl, sl := mapping(h.size())
	links := a.linksAt(off)
	if links.prevFree != 0 {
		a.linksAt(links.prevFree).nextFree = links.nextFree
	} else {
		a.free[fl][sl] = links.nextFree
	}
	if links.nextFree != 0 {
		a.linksAt(links.nextFree).prevFree = links.prevFree
	}
	if a.free[fl][sl] == 0 {
		a.slBitmap[fl] &^= 1 << uint(sl)
		if a.slBitmap[fl] == 0 {
			a.flBitmap &^= 1 << uint(fl)
		}
	}
}

// findFit searches the free lists for the smallest block at least size
// bytes, starting at the size class size rounds up into and scanning
// forward through larger classes if that class is empty.
func (a *Allocator) findFit(size uintptr) (uint32, bool) {
	fl, sl := mappingRoundUp(size)

	slMap := a.slBitmap[fl] & (^uint32(0) << uint(sl))
	if slMap == 0 {
		flMap := a.flBitmap & (^uintptr(0) << uint(fl+1))
		if flMap == 0 {
			return 0, false
		}
		fl = bits.TrailingZeros(uint(flMap))
		slMap = a.slBitmap[fl]
	}
	sl = bits.TrailingZeros32(slMap)
	return a.free[fl][sl], true
}

func (a *Allocator) nextPhys(off uint32, h *blockHeader) (uint32, *blockHeader) {
	next := off + uint32(headerSize) + uint32(h.size())
	if uintptr(next) >= uintptr(len(a.arena)) {
		return 0, nil
	}
	return next, a.headerAt(next)
}

func (a *Allocator) prevPhys(off uint32, h *blockHeader) (uint32, *blockHeader) {
	if h.prevPhysSize == 0 {
		return 0, nil
	}
	prevOff := off - uint32(headerSize) - uint32(h.prevPhysSize)
	return prevOff, a.headerAt(prevOff)
}

// splitBlock splits h (at off, free, of size >= needed+header+min) into a
// used block of exactly needed bytes and a new free remainder block.
func (a *Allocator) splitBlock(off uint32, h *blockHeader, needed uintptr) {
	remaining := h.size() - needed
	if remaining < uintptr(headerSize)+minBlockSize {
		return
	}
	remaining -= uintptr(headerSize)

	h.setSize(needed)

	newOff := off + uint32(headerSize) + uint32(needed)
	newHdr := a.headerAt(newOff)
	newHdr.prevPhysSize = needed
	newHdr.sizeAndFlags = 0
	newHdr.setSize(remaining)
	newHdr.setFree(true)
	a.insertFree(newOff, newHdr)

	if _, nextHdr := a.nextPhys(newOff, newHdr); nextHdr != nil {
		nextHdr.prevPhysSize = remaining
		nextHdr.setPrevFree(true)
	}
}

// Malloc allocates size bytes, 16-byte aligned, and returns the byte offset
// into the arena at which the payload begins. Callers translate this
// offset to a virtual address via the arena's own base address.
func (a *Allocator) Malloc(size uintptr) (uint32, *kernel.Error) {
	return a.AlignedAlloc(alignment, size)
}

// alignStashSize is the width of the hidden field every allocation stashes
// immediately before its returned pointer, holding the offset of the
// block's real header. Using a fixed stash for every allocation (instead
// of only over-aligned ones) means Free/Realloc never have to guess
// whether a given pointer was shifted.
const alignStashSize = 4

// AlignedAlloc allocates size bytes aligned to align, which must be a
// power of two multiple of the allocator's base alignment. The returned
// pointer is always shifted forward from the block's true payload start by
// at least alignStashSize bytes, and the block's header offset is stashed
// immediately before it so Free and Realloc can recover it.
func (a *Allocator) AlignedAlloc(align, size uintptr) (uint32, *kernel.Error) {
	if size == 0 || align == 0 || align&(align-1) != 0 {
		return 0, errInvalidSize
	}
	adjusted := (size + alignment - 1) &^ (alignment - 1)
	if adjusted < minBlockSize {
		adjusted = minBlockSize
	}
	// Reserve room both for the stash field and to shift the pointer up
	// to an align-byte boundary.
	adjusted += align + alignStashSize

	off, ok := a.findFit(adjusted)
	if !ok {
		return 0, errOutOfMemory
	}
	h := a.headerAt(off)
	a.removeFree(off, h)
	a.splitBlock(off, h, adjusted)
	h.setFree(false)
	if _, nextHdr := a.nextPhys(off, h); nextHdr != nil {
		nextHdr.setPrevFree(false)
	}

	base := a.payloadOffset(off)
	shifted := (uintptr(base) + alignStashSize + align - 1) &^ (align - 1)
	*(*uint32)(unsafe.Pointer(&a.arena[shifted-alignStashSize])) = off
	return uint32(shifted), nil
}

// realOffset resolves payloadOff, as returned by AlignedAlloc, back to the
// offset of its block header via the stashed value immediately preceding
// it.
func (a *Allocator) realOffset(payloadOff uint32) uint32 {
	return *(*uint32)(unsafe.Pointer(&a.arena[payloadOff-alignStashSize]))
}

// Free releases the block whose payload begins at payloadOff, coalescing
// with physically adjacent free blocks.
func (a *Allocator) Free(payloadOff uint32) {
	off := a.realOffset(payloadOff)
	h := a.headerAt(off)
	kernel.Assert(!h.isFree(), "heap: double free", "tlsf.go", 0)

	if prevOff, prevHdr := a.prevPhys(off, h); prevHdr != nil && prevHdr.isFree() {
		a.removeFree(prevOff, prevHdr)
		prevHdr.setSize(prevHdr.size() + uintptr(headerSize) + h.size())
		off, h = prevOff, prevHdr
	}

	if nextOff, nextHdr := a.nextPhys(off, h); nextHdr != nil {
		if nextHdr.isFree() {
			a.removeFree(nextOff, nextHdr)
			h.setSize(h.size() + uintptr(headerSize) + nextHdr.size())
		}
		if _, finalNextHdr := a.nextPhys(off, h); finalNextHdr != nil {
			finalNextHdr.prevPhysSize = h.size()
			finalNextHdr.setPrevFree(true)
		}
	}

	h.setFree(true)
	a.insertFree(off, h)
}

// Realloc resizes the block at payloadOff to newSize, always by allocating
// a new block, copying the lesser of the old and new sizes, and freeing
// the original. The stash/shift layout AlignedAlloc uses to support
// over-alignment makes an in-place grow-or-shrink unsound to express
// safely, so Realloc trades that optimization for simplicity.
func (a *Allocator) Realloc(payloadOff uint32, newSize uintptr) (uint32, *kernel.Error) {
	off := a.realOffset(payloadOff)
	h := a.headerAt(off)
	available := (uintptr(off) + uintptr(headerSize) + h.size()) - uintptr(payloadOff)

	newOff, err := a.Malloc(newSize)
	if err != nil {
		return 0, err
	}
	copyLen := available
	if newSize < copyLen {
		copyLen = newSize
	}
	copy(a.arena[newOff:uintptr(newOff)+copyLen], a.arena[payloadOff:uintptr(payloadOff)+copyLen])
	a.Free(payloadOff)
	return newOff, nil
}

// Base returns the arena's backing slice, so callers can translate a
// payload offset into a real pointer (e.g. via unsafe.Pointer(&Base()[0])).
func (a *Allocator) Base() []byte { return a.arena }

// Stats reports the bytes currently free across every size class, used for
// the heap diagnostic banner.
type Stats struct {
	FreeBytes, TotalBytes uintptr
}

// Stats walks the physical block chain once and sums free/total bytes.
func (a *Allocator) Stats() Stats {
	var s Stats
	off := uint32(0)
	for uintptr(off) < uintptr(len(a.arena)) {
		h := a.headerAt(off)
		s.TotalBytes += h.size() + uintptr(headerSize)
		if h.isFree() {
			s.FreeBytes += h.size()
		}
		next, nextHdr := a.nextPhys(off, h)
		if nextHdr == nil {
			break
		}
		off = next
	}
	return s
}
