package vmm

import (
	"unsafe"

	"nyx/kernel"
	"nyx/kernel/cpu"
	"nyx/kernel/mem"
	"nyx/kernel/mm/pmm"
)

var (
	errNotMapped     = &kernel.Error{Module: "vmm", Message: "virtual address is not mapped", Status: kernel.StatusInvalidAddress}
	errAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped", Status: kernel.StatusAlreadyExists}
)

// FrameAllocFn allocates one physical page to back a new page table level.
// AddressSpace never allocates frames itself; every new table comes from
// this caller-supplied seam, which in production is kernel/mm/pmm's
// Allocator and in tests is a fake over a byte-slice arena.
type FrameAllocFn func() (pmm.PhysAddr, *kernel.Error)

// AddressSpace is one 4-level page table hierarchy, rooted at a PML4
// table. It is reached entirely through the higher-half direct map: every
// physical address this package touches — the root, every intermediate
// table, every mapped frame's metadata — is accessed at hhdmOffset+phys,
// never through a recursive mapping trick.
type AddressSpace struct {
	root       pmm.PhysAddr
	hhdmOffset uintptr
	allocFrame FrameAllocFn
	pat        PageAttributeTable
}

// New creates an address space whose PML4 occupies the frame at root,
// which must already be zeroed. hhdmOffset is the virtual offset at which
// physical address 0 appears (LaunchInfo.hhdmOffset at boot).
func New(root pmm.PhysAddr, hhdmOffset uintptr, allocFrame FrameAllocFn, pat PageAttributeTable) *AddressSpace {
	return &AddressSpace{root: root, hhdmOffset: hhdmOffset, allocFrame: allocFrame, pat: pat}
}

// Root returns the physical address of the PML4, for loading into CR3.
func (a *AddressSpace) Root() pmm.PhysAddr { return a.root }

// HHDMOffset returns the virtual offset at which physical address 0
// appears, for callers (the user-memory bridge) that need to turn a
// physical frame into a kernel-accessible pointer the same way this
// package's own tableAt does.
func (a *AddressSpace) HHDMOffset() uintptr { return a.hhdmOffset }

func (a *AddressSpace) tableAt(phys pmm.PhysAddr) *Table {
	return (*Table)(unsafe.Pointer(a.hhdmOffset + uintptr(phys)))
}

// walkResult is what walkCreate/walkLookup found at the final level.
type walkResult struct {
	table *Table
	index uintptr
}

// walkLookup descends from the root through levels 0-2 (PML4, PDPT, PD),
// returning the level-3 (PT) table and the index within it for virt. It
// does not create missing tables; ok is false and large reports whether
// the walk stopped early at a large-page leaf.
func (a *AddressSpace) walkLookup(virt uintptr) (res walkResult, large bool, ok bool) {
	table := a.tableAt(a.root)
	for level := 0; level < 3; level++ {
		idx := levelIndex(virt, level)
		entry := table[idx]
		if !entry.HasFlags(FlagPresent) {
			return walkResult{}, false, false
		}
		if level > 0 && entry.HasFlags(FlagLargePage) {
			return walkResult{table: table, index: idx}, true, true
		}
		table = a.tableAt(entry.Frame())
	}
	return walkResult{table: table, index: levelIndex(virt, 3)}, false, true
}

// PageTableEntry is the exported view of one level's raw entry, as
// recorded by Walk.
type PageTableEntry = PTE

// PageWalk records every page table entry visited while resolving a
// virtual address, from the PML4 down to wherever the walk stopped: a
// 4 KiB leaf, a 2 MiB large-page leaf, or the first missing level. depth
// is the number of populated entries in entries (1-4); Entries returns
// exactly that prefix.
type PageWalk struct {
	entries [4]PageTableEntry
	depth   int
}

// Entries returns the populated prefix of the walk, PML4 first.
func (w PageWalk) Entries() []PageTableEntry { return w.entries[:w.depth] }

// Depth returns how many levels the walk traversed before stopping.
func (w PageWalk) Depth() int { return w.depth }

// Walk resolves virt one level at a time without creating any missing
// table, recording every entry it passes through. Diagnostics and the
// user-memory bridge use it to inspect a mapping's full path rather than
// only its final leaf, the way GetBackingAddress and GetMemoryFlags do.
func (a *AddressSpace) Walk(virt uintptr) PageWalk {
	var pw PageWalk
	table := a.tableAt(a.root)
	for level := 0; level < 4; level++ {
		idx := levelIndex(virt, level)
		entry := table[idx]
		pw.entries[level] = entry
		pw.depth = level + 1

		if !entry.HasFlags(FlagPresent) {
			return pw
		}
		if level > 0 && level < 3 && entry.HasFlags(FlagLargePage) {
			return pw
		}
		if level == 3 {
			return pw
		}
		table = a.tableAt(entry.Frame())
	}
	return pw
}

// walkCreate is walkLookup but allocates and zeroes any missing
// intermediate table along the way, descending depth levels (3 for an
// ordinary 4 KiB leaf in the PT, 2 to stop one level early and leave the
// leaf entry in the PD itself for a 2 MiB large page).
func (a *AddressSpace) walkCreate(virt uintptr, depth int) (walkResult, *kernel.Error) {
	table := a.tableAt(a.root)
	for level := 0; level < depth; level++ {
		idx := levelIndex(virt, level)
		entry := &table[idx]
		if !entry.HasFlags(FlagPresent) {
			frame, err := a.allocFrame()
			if err != nil {
				return walkResult{}, err
			}
			next := a.tableAt(frame)
			*next = Table{}
			entry.SetFrame(frame)
			entry.SetFlags(FlagPresent | FlagWrite | FlagUser)
		}
		table = a.tableAt(entry.Frame())
	}
	return walkResult{table: table, index: levelIndex(virt, depth)}, nil
}

// MapFlags describes the permissions and memory type requested for a
// mapping, independent of the hardware PTE bit layout.
type MapFlags struct {
	Write     bool
	User      bool
	NoExecute bool
	Type      MemoryType

	// Size is the mapping's span: 0 (the default) and mem.PageSize both
	// request an ordinary 4 KiB leaf. mem.LargePageSize requests a 2 MiB
	// leaf, installed one level higher (in the PD itself) when virt and
	// phys both qualify per IsLargePageEligible; otherwise Map falls
	// back to a 4 KiB leaf rather than failing.
	Size uintptr
}

// Map installs a mapping from virt to phys with the given flags, sized
// per flags.Size. It returns errAlreadyMapped if virt is already mapped.
func (a *AddressSpace) Map(virt uintptr, phys pmm.PhysAddr, flags MapFlags) *kernel.Error {
	kernel.Assert(mem.IsAligned(virt, mem.PageSize), "vmm: Map requires a page-aligned address", "vmm.go", 0)

	size := flags.Size
	if size == 0 {
		size = mem.PageSize
	}
	large := size >= mem.LargePageSize && IsLargePageEligible(virt, phys, size)

	depth := 3
	if large {
		depth = 2
	}

	res, err := a.walkCreate(virt, depth)
	if err != nil {
		return err
	}
	entry := &res.table[res.index]
	if entry.HasFlags(FlagPresent) {
		return errAlreadyMapped
	}

	entry.SetFrame(phys)
	entry.SetFlags(FlagPresent)
	if large {
		entry.SetFlags(FlagLargePage)
	}
	if flags.Write {
		entry.SetFlags(FlagWrite)
	}
	if flags.User {
		entry.SetFlags(FlagUser)
	}
	if flags.NoExecute {
		entry.SetFlags(FlagNoExecute)
	}
	if idx, ok := a.pat.IndexForType(flags.Type); ok {
		entry.setPatIndex(idx, large)
	}
	return nil
}

// Unmap clears the mapping at virt. Unmapping an address that is not
// mapped is a no-op, matching spec.md's idempotent-release convention for
// the allocators this package sits above.
func (a *AddressSpace) Unmap(virt uintptr) {
	res, _, ok := a.walkLookup(virt)
	if !ok {
		return
	}
	res.table[res.index] = 0
	cpu.FlushTLBEntry(virt)
}

// GetBackingAddress translates virt to its backing physical address, or
// errNotMapped if virt is not currently mapped.
func (a *AddressSpace) GetBackingAddress(virt uintptr) (pmm.PhysAddr, *kernel.Error) {
	res, large, ok := a.walkLookup(virt)
	if !ok {
		return 0, errNotMapped
	}
	if !res.table[res.index].HasFlags(FlagPresent) {
		return 0, errNotMapped
	}
	frame := res.table[res.index].Frame()
	if large {
		offset := virt & (mem.LargePageSize - 1)
		return frame + pmm.PhysAddr(offset), nil
	}
	offset := virt & (mem.PageSize - 1)
	return frame + pmm.PhysAddr(offset), nil
}

// GetMemoryFlags returns the MapFlags currently installed at virt, or
// errNotMapped if it is not mapped.
func (a *AddressSpace) GetMemoryFlags(virt uintptr) (MapFlags, *kernel.Error) {
	res, large, ok := a.walkLookup(virt)
	if !ok {
		return MapFlags{}, errNotMapped
	}
	entry := res.table[res.index]
	if !entry.HasFlags(FlagPresent) {
		return MapFlags{}, errNotMapped
	}
	return MapFlags{
		Write:     entry.HasFlags(FlagWrite),
		User:      entry.HasFlags(FlagUser),
		NoExecute: entry.HasFlags(FlagNoExecute),
		Type:      a.pat.Entry(entry.patIndex(large)),
	}, nil
}

// IsLargePageEligible reports whether a mapping request for the range
// [virt, virt+size) could use a single 2 MiB large page instead of 512
// individual 4 KiB entries: virt, phys and size must each be a multiple of
// 2 MiB, and size must span at least one large page. Callers
// mapping a range spanning several size classes are expected to call this
// once per candidate 2 MiB-aligned chunk, each with uniform flags and
// memory type already guaranteed by construction (e.g. one ELF segment,
// one contiguous device BAR) — this resolves spec.md §9's open question in
// favor of the simplest sufficient rule: alignment plus size, with no
// attempt to pack a partially-aligned tail into a large page.
func IsLargePageEligible(virt uintptr, phys pmm.PhysAddr, size uintptr) bool {
	if size < mem.LargePageSize {
		return false
	}
	if !mem.IsAligned(size, mem.LargePageSize) {
		return false
	}
	if !mem.IsAligned(virt, mem.LargePageSize) {
		return false
	}
	if !mem.IsAligned(uintptr(phys), mem.LargePageSize) {
		return false
	}
	return true
}
