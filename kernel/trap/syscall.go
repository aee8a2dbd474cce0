package trap

import (
	"nyx/abi"
	"nyx/kernel"
	"nyx/kernel/cpu"
)

// SyscallHandler services one syscall function, given the four argument
// registers already pulled out of the trap context by DispatchSyscall.
type SyscallHandler func(arg0, arg1, arg2, arg3 uint64) abi.CallResult

// syscallTable is the dispatch table keyed by function ID, from spec.md
// §4.5 ("a dispatch table keyed by a one-byte function ID"). Like the
// shared ISR table, it is installed once at boot and shared by every CPU.
var syscallTable [256]SyscallHandler

// RegisterSyscall installs handler for fn, overwriting any previous
// registration — used both at boot wiring time and by tests.
func RegisterSyscall(fn abi.Function, handler SyscallHandler) {
	syscallTable[fn] = handler
}

// DispatchSyscall pulls the function ID and argument registers out of
// ctx, invokes the registered handler, and reports the result. An
// unregistered function ID returns StatusInvalidFunction rather than
// panicking: a bad function ID is a user-mode error, not a kernel
// invariant violation, per spec.md §7's error-kind split.
func DispatchSyscall(ctx *cpu.Context) abi.CallResult {
	function, arg0, arg1, arg2, arg3 := ctx.SyscallArgs()

	if function >= uint64(len(syscallTable)) {
		return abi.CallResult{Status: kernel.StatusInvalidFunction}
	}
	handler := syscallTable[function]
	if handler == nil {
		return abi.CallResult{Status: kernel.StatusInvalidFunction}
	}

	before := function
	result := handler(arg0, arg1, arg2, arg3)
	kernel.Assert(function == before, "trap: syscall handler mutated the function ID mid-call", "syscall.go", 0)
	return result
}
