// Package kmain is the kernel's single entry point after the boot shim
// hands off control. It brings up the page frame allocator, the virtual
// address space, the kernel heap, the root filesystem, and the scheduler,
// in that order, and is not expected to return.
package kmain

import (
	"unsafe"

	"nyx/kernel"
	"nyx/kernel/boot"
	"nyx/kernel/cpu"
	"nyx/kernel/kfmt"
	"nyx/kernel/mem"
	"nyx/kernel/mm/heap"
	"nyx/kernel/mm/pmm"
	"nyx/kernel/mm/vaa"
	"nyx/kernel/mm/vmm"
	"nyx/kernel/sched"
	"nyx/kernel/trap"
	"nyx/kernel/vfs"
	"nyx/kernel/vfs/ramfs"
)

// kernelHeapSize is the number of bytes reserved for the TLSF-backed
// kernel heap. Every kernel allocation (every interface value boxed after
// boot, every Node, every Thread) ultimately comes from this arena.
const kernelHeapSize = 16 * uint64(mem.Mb)

// scheduleVector is the interrupt vector the local APIC timer raises to
// drive preemption; Dispatch routes it to the scheduler's Tick.
const scheduleVector = 0x20

// userBase and userLimit bound the virtual address range ProcessCreate
// hands each new process's own VAA, well below usercopy's canonical-
// address ceiling and clear of any kernel-side mapping.
const (
	userBase  = uintptr(0x0000_1000_0000)
	userLimit = uintptr(0x0000_7000_0000)
)

// Heap and RootFS are the kernel heap and root filesystem built during
// Kmain, exposed the same way hal.ActiveTerminal is in the terminal
// package this tree's boot sequence is modeled on: a single instance set
// once at boot and read by whichever subsystem needs it afterward.
var (
	Heap   *heap.Allocator
	RootFS *vfs.FS
)

// Kmain is the only symbol the boot shim calls. li describes the machine
// as the shim found it; everything afterward is derived from it rather
// than probed again.
//
//go:noinline
func Kmain(li *boot.LaunchInfo) {
	kfmt.Printf("booting: hhdm=0x%x memmap entries=%d\n", li.HHDMOffset, len(li.Memmap))

	if err := li.Validate(); err != nil {
		kernel.Panic(err.Message, "kmain.go", 0)
	}

	frames := pmm.New(li.Memmap)

	pat := vmm.LoadDefault()
	root := pmm.PhysAddr(cpu.ActiveAddressSpace())
	as := vmm.New(root, li.HHDMOffset, func() (pmm.PhysAddr, *kernel.Error) {
		return frames.Alloc4k(1)
	}, pat)

	space := vaa.New(vaa.Range{Front: vaa.VirtAddr(li.KernelVirtualBase), Back: vaa.VirtAddr(li.KernelVirtualBase) + vaa.VirtAddr(1)<<40})

	kernelHeap, err := mapHeap(as, space, frames, kernelHeapSize)
	if err != nil {
		kernel.Panic(err.Message, "kmain.go", 0)
	}
	Heap = heap.New(kernelHeap)

	RootFS = vfs.New()
	if _, err := RootFS.AddMount(ramfs.Driver{}, "mnt"); err != nil {
		kernel.Panic(err.Message, "kmain.go", 0)
	}

	trap.InitLocalISRTable()
	scheduler := sched.InitScheduler(scheduleVector)

	trap.RegisterDefaultHandlers(trap.Dependencies{
		RootFS:     RootFS,
		Frames:     frames,
		HHDMOffset: li.HHDMOffset,
		PAT:        pat,
		UserBase:   userBase,
		UserLimit:  userLimit,
	})

	// Every syscall handler resolves "the calling process" through the
	// scheduler's current thread; the boot CPU is already executing this
	// very function before any Tick has run, so it needs a Process/Thread
	// of its own to be resolvable from the very first syscall onward.
	bootProcess := sched.NewProcess(0, "kernel", sched.PrivilegeSupervisor)
	bootProcess.AddressSpace = as
	bootThread := sched.NewThread(0, "boot", bootProcess)
	bootProcess.AddThread(bootThread)
	scheduler.SetCurrentThread(bootThread)

	cpu.EnableInterrupts()
	for {
		cpu.Halt()
	}
}

// mapHeap reserves size bytes of kernel virtual address space and backs it
// with freshly allocated physical frames, returning a slice viewing the
// mapped region directly (not through the HHDM: this memory is meant to be
// addressed the same way every other kernel-mode pointer is).
func mapHeap(as *vmm.AddressSpace, space *vaa.Allocator, frames *pmm.Allocator, size uint64) ([]byte, *kernel.Error) {
	pageCount := mem.AlignUp(uintptr(size), mem.PageSize) / mem.PageSize
	rng, err := space.Alloc4k(pageCount, 0)
	if err != nil {
		return nil, err
	}

	flags := vmm.MapFlags{Write: true, NoExecute: true}
	for page := uintptr(0); page < pageCount; page++ {
		virt := uintptr(rng.Front) + page*mem.PageSize
		phys, ferr := frames.Alloc4k(1)
		if ferr != nil {
			return nil, ferr
		}
		if merr := as.Map(virt, phys, flags); merr != nil {
			return nil, merr
		}
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(rng.Front))), pageCount*mem.PageSize), nil
}
