package cpu

// Context is the saved CPU register frame for one trap: a hardware
// exception, a device IRQ, or a syscall entry. It mirrors
// original_source's km::IsrContext, laid out in the order the interrupt
// trampoline pushes registers (general purpose, then the exception's
// error code, vector, and the hardware-pushed iret frame). Syscall entry
// reuses the same struct with Vector set to the syscall gate and Rax plus
// Rdi/Rsi/Rdx/Rcx holding the function ID and the four arguments, per
// spec.md's syscall ABI.
type Context struct {
	// General-purpose registers, saved by the trampoline before it calls
	// into Go.
	Rax, Rbx, Rcx, Rdx uint64
	Rsi, Rdi, Rbp      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64

	// Vector is the interrupt/exception vector number; for a syscall gate
	// this is the fixed syscall vector rather than a CPU exception.
	Vector uint64
	// Error is the hardware-pushed error code; zero for vectors that do
	// not push one.
	Error uint64

	// The CPU-pushed iret frame.
	Rip    uint64
	CS     uint64
	Rflags uint64
	Rsp    uint64
	SS     uint64
}

// FromUserMode reports whether this trap was taken from ring 3, read off
// the bottom two bits of the saved code segment selector — the same test
// the trampoline uses to decide whether to swap GS_BASE around the
// handler call.
func (c *Context) FromUserMode() bool { return c.CS&0b11 != 0 }

// SyscallArgs returns the syscall function ID and its first four argument
// registers, per spec.md's syscall ABI (function in Rax, args in
// Rdi/Rsi/Rdx/Rcx).
func (c *Context) SyscallArgs() (function uint64, arg0, arg1, arg2, arg3 uint64) {
	return c.Rax, c.Rdi, c.Rsi, c.Rdx, c.Rcx
}
