// Package cpu wraps the handful of x86-64 primitives the rest of the
// kernel needs to touch directly: enabling/disabling interrupts, halting,
// flushing TLB entries, reading CPUID, and switching the active page
// table root. Every primitive is a function variable rather than a direct
// asm stub, following the hardware-seam pattern used throughout this tree
// (kernel.panicSink, vmm's msrReadFn/msrWriteFn): production code points
// them at real CLI/STI/HLT/INVLPG/CPUID instructions at boot; tests
// substitute an in-memory fake.
package cpu

var (
	enableInterruptsFn   = func() {}
	disableInterruptsFn  = func() {}
	haltFn               = func() {}
	flushTLBEntryFn      = func(virtAddr uintptr) {}
	switchAddressSpaceFn = func(rootPhysAddr uintptr) {}
	activeAddressSpaceFn = func() uintptr { return 0 }
	cpuidFn              = func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32) { return 0, 0, 0, 0 }
)

// EnableInterrupts unmasks interrupts on the calling CPU (STI).
func EnableInterrupts() { enableInterruptsFn() }

// DisableInterrupts masks interrupts on the calling CPU (CLI).
func DisableInterrupts() { disableInterruptsFn() }

// Halt stops instruction execution until the next interrupt (HLT).
func Halt() { haltFn() }

// FlushTLBEntry invalidates the TLB entry for a single virtual address
// (INVLPG), used after Unmap instead of a full TLB flush.
func FlushTLBEntry(virtAddr uintptr) { flushTLBEntryFn(virtAddr) }

// SwitchAddressSpace loads rootPhysAddr into CR3, making it the active
// page table hierarchy and implicitly flushing the entire TLB.
func SwitchAddressSpace(rootPhysAddr uintptr) { switchAddressSpaceFn(rootPhysAddr) }

// ActiveAddressSpace returns the physical address currently loaded in CR3.
func ActiveAddressSpace() uintptr { return activeAddressSpaceFn() }

// ID executes CPUID with the given leaf and subleaf (ECX) and returns the
// four result registers.
func ID(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32) { return cpuidFn(leaf, subleaf) }

// IsIntel reports whether CPUID leaf 0's vendor string reads "GenuineIntel".
func IsIntel() bool {
	_, ebx, ecx, edx := ID(0, 0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HardwareSeams bundles every overridable hardware primitive for
// SetHardwareFuncsForTest. A nil field leaves that seam unchanged.
type HardwareSeams struct {
	EnableInterrupts   func()
	DisableInterrupts  func()
	Halt               func()
	FlushTLBEntry      func(virtAddr uintptr)
	SwitchAddressSpace func(rootPhysAddr uintptr)
	ActiveAddressSpace func() uintptr
	CPUID              func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)
}

// SetHardwareFuncsForTest overrides every hardware seam at once, returning
// a restore function. Passing a nil field leaves that seam unchanged.
func SetHardwareFuncsForTest(t HardwareSeams) func() {
	prevEnable, prevDisable, prevHalt, prevFlush, prevSwitch, prevActive, prevCPUID :=
		enableInterruptsFn, disableInterruptsFn, haltFn, flushTLBEntryFn,
		switchAddressSpaceFn, activeAddressSpaceFn, cpuidFn

	if t.EnableInterrupts != nil {
		enableInterruptsFn = t.EnableInterrupts
	}
	if t.DisableInterrupts != nil {
		disableInterruptsFn = t.DisableInterrupts
	}
	if t.Halt != nil {
		haltFn = t.Halt
	}
	if t.FlushTLBEntry != nil {
		flushTLBEntryFn = t.FlushTLBEntry
	}
	if t.SwitchAddressSpace != nil {
		switchAddressSpaceFn = t.SwitchAddressSpace
	}
	if t.ActiveAddressSpace != nil {
		activeAddressSpaceFn = t.ActiveAddressSpace
	}
	if t.CPUID != nil {
		cpuidFn = t.CPUID
	}

	return func() {
		enableInterruptsFn, disableInterruptsFn, haltFn, flushTLBEntryFn,
			switchAddressSpaceFn, activeAddressSpaceFn, cpuidFn =
			prevEnable, prevDisable, prevHalt, prevFlush,
			prevSwitch, prevActive, prevCPUID
	}
}
