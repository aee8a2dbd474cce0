// Package trap is the IDT, the shared and per-CPU ISR tables, and the
// syscall dispatch table: the demultiplexer a hardware interrupt
// trampoline or the syscall gate calls into once it has saved a
// cpu.Context. Everything here is ordinary Go, directly unit-testable,
// matching gopher-os's irq package design (the Go-callable dispatch
// entry a .s trampoline invokes).
package trap

import (
	"nyx/kernel"
	"nyx/kernel/cpu"
)

// ExceptionCount is the number of CPU-reserved exception vectors
// (0-31), routed through the shared ISR table rather than the per-CPU
// one, per spec.md §4.5.
const ExceptionCount = 32

// VectorCount is the IDT's full 256-entry size.
const VectorCount = 256

// Common exception vectors, named the way gopher-os's irq package names
// them (irq.DoubleFault, irq.GPFException, irq.PageFaultException).
const (
	VectorDivideError        = 0
	VectorDebug              = 1
	VectorNMI                = 2
	VectorBreakpoint         = 3
	VectorOverflow           = 4
	VectorBoundRange         = 5
	VectorInvalidOpcode      = 6
	VectorDeviceNotAvailable = 7
	VectorDoubleFault        = 8
	VectorInvalidTSS         = 10
	VectorSegmentNotPresent  = 11
	VectorStackFault         = 12
	VectorGeneralProtection  = 13
	VectorPageFault          = 14
	VectorSyscall            = 0x80
)

// Handler processes one trap, given the saved register frame. It may
// mutate ctx (e.g. to resume at an adjusted RIP after emulating an
// instruction); the returned context is the one that gets restored, per
// spec.md §4.5 and gopheros/kernel/irq's ExceptionHandler contract.
type Handler func(ctx *cpu.Context) *cpu.Context

// SharedTable routes the 32 CPU exception vectors: installed once at
// boot, shared by every CPU. A panic is the default behavior for any
// vector without a registered handler — an exception nothing handles
// indicates either a kernel bug or an unrecoverable user fault.
type SharedTable struct {
	handlers [ExceptionCount]Handler
}

// Register installs handler for vector, which must be < ExceptionCount.
func (t *SharedTable) Register(vector uint8, handler Handler) {
	kernel.Assert(vector < ExceptionCount, "trap: shared ISR vector out of range", "isr.go", 0)
	if vector >= ExceptionCount {
		return
	}
	t.handlers[vector] = handler
}

// Invoke dispatches ctx to the handler registered for its vector, or to
// onUnhandled if none is registered.
func (t *SharedTable) Invoke(ctx *cpu.Context, onUnhandled Handler) *cpu.Context {
	vector := uint8(ctx.Vector)
	if vector < ExceptionCount && t.handlers[vector] != nil {
		return t.handlers[vector](ctx)
	}
	return onUnhandled(ctx)
}

// LocalTable routes the device-IRQ, timer, and IPI vectors (32-255): one
// instance per CPU, since two CPUs may use the same vector number for
// unrelated devices.
type LocalTable struct {
	handlers [VectorCount]Handler
}

// Register installs handler for vector, which must be >= ExceptionCount.
func (t *LocalTable) Register(vector uint8, handler Handler) {
	kernel.Assert(vector >= ExceptionCount, "trap: local ISR vector collides with shared exception range", "isr.go", 0)
	t.handlers[vector] = handler
}

// Invoke dispatches ctx to the handler registered for its vector, or to
// onUnhandled if none is registered.
func (t *LocalTable) Invoke(ctx *cpu.Context, onUnhandled Handler) *cpu.Context {
	vector := uint8(ctx.Vector)
	if t.handlers[vector] != nil {
		return t.handlers[vector](ctx)
	}
	return onUnhandled(ctx)
}

// sharedTable is the one instance installed at boot and shared by every
// CPU (spec.md §9's note that the IDT, the shared ISR table, and the RCU
// domain are the only truly global state).
var sharedTable SharedTable

// localTables holds one LocalTable per CPU.
var localTables cpu.PerCpu[*LocalTable]

// RegisterSharedISR installs handler for one of the 32 CPU exception
// vectors, shared across every CPU.
func RegisterSharedISR(vector uint8, handler Handler) {
	sharedTable.Register(vector, handler)
}

// RegisterLocalISR installs handler for a device/timer/IPI vector on a
// specific CPU's local table. InitLocalISRTable must have been called for
// that CPU first.
func RegisterLocalISR(cpuID int, vector uint8, handler Handler) {
	t, ok := localTables.GetOther(cpuID)
	kernel.Assert(ok && t != nil, "trap: RegisterLocalISR before InitLocalISRTable for this CPU", "isr.go", 0)
	if !ok || t == nil {
		return
	}
	t.Register(vector, handler)
}

// InitLocalISRTable installs a fresh, empty LocalTable for the calling
// CPU. Called once per CPU during bring-up.
func InitLocalISRTable() {
	localTables.Init(&LocalTable{})
}

// Dispatch is the single entry point the trampoline calls after saving
// ctx: exceptions (vector < ExceptionCount) go to the shared table,
// everything else to the calling CPU's local table. An unhandled vector
// halts via formatFault (fault.go), matching spec.md §7's rule that a
// panic is the only response to a condition the kernel cannot itself
// recover from.
func Dispatch(ctx *cpu.Context) *cpu.Context {
	if ctx.Vector < ExceptionCount {
		return sharedTable.Invoke(ctx, panicOnUnhandled)
	}
	local, ok := localTables.GetOther(cpu.CurrentCPU())
	if !ok || local == nil {
		return panicOnUnhandled(ctx)
	}
	return local.Invoke(ctx, panicOnUnhandled)
}

func panicOnUnhandled(ctx *cpu.Context) *cpu.Context {
	kernel.Panic(formatFault(ctx), "isr.go", 0)
	return ctx
}
