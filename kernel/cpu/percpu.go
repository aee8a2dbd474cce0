package cpu

import "nyx/kernel"

// MaxCPUs bounds the number of logical CPUs PerCpu can address. A fixed
// array rather than a slice keeps per-CPU access allocation-free and
// avoids any bounds-check surprise once SMP bring-up is wired in.
const MaxCPUs = 256

// id reports the calling CPU's index. Production code points this at a
// GS-relative read of the per-CPU block set up during CPU bring-up; it
// defaults to CPU 0 so single-CPU tests need no setup.
var id = func() int { return 0 }

// CurrentCPU returns the calling CPU's index, for callers (kernel/trap's
// Dispatch) that need to look up a specific PerCpu slot without going
// through Get/Set's own Init-required assertion.
func CurrentCPU() int { return id() }

// SetCurrentCPUFuncForTest overrides the calling-CPU lookup used by every
// PerCpu[T] access, returning a restore function. Passing nil restores the
// single-CPU default.
func SetCurrentCPUFuncForTest(fn func() int) func() {
	prev := id
	if fn == nil {
		id = func() int { return 0 }
	} else {
		id = fn
	}
	return func() { id = prev }
}

// PerCpu holds one T per logical CPU, indexed by the calling CPU's own
// id — the only global mutable state the kernel carries outside the IDT,
// the shared ISR table, and the RCU domain (spec.md's design note on
// global state). Each CPU only ever reads and writes its own slot once
// initialized, so no locking is needed.
type PerCpu[T any] struct {
	slots [MaxCPUs]T
	init  [MaxCPUs]bool
}

// Init installs value as the calling CPU's slot. It must be called once
// per CPU during bring-up before Get/Set are used from that CPU.
func (p *PerCpu[T]) Init(value T) {
	p.slots[id()] = value
	p.init[id()] = true
}

// Get returns the calling CPU's slot, halting via kernel.Assert if Init
// was never called for this CPU.
func (p *PerCpu[T]) Get() T {
	cpu := id()
	kernel.Assert(p.init[cpu], "cpu: PerCpu.Get before Init on this CPU", "percpu.go", 0)
	return p.slots[cpu]
}

// Set updates the calling CPU's slot.
func (p *PerCpu[T]) Set(value T) {
	cpu := id()
	kernel.Assert(p.init[cpu], "cpu: PerCpu.Set before Init on this CPU", "percpu.go", 0)
	p.slots[cpu] = value
}

// GetOther reads another CPU's slot, for the scheduler's cross-CPU wake
// path; it does not assert initialization since the target CPU's
// bring-up may race the reader.
func (p *PerCpu[T]) GetOther(cpuID int) (value T, ok bool) {
	return p.slots[cpuID], p.init[cpuID]
}
