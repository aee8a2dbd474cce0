package trap

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"nyx/kernel/cpu"
	"nyx/kernel/kfmt"
)

// maxInstructionLength is the longest an x86-64 instruction can legally
// encode to; formatFault reads this many bytes at RIP before decoding.
const maxInstructionLength = 15

// readInstructionBytesFn reads up to maxInstructionLength bytes starting
// at rip for disassembly. Production wires this through the HHDM the way
// vmm reaches page table pages; tests substitute a fake over a byte
// slice. A nil or error result degrades the panic banner to omitting the
// disassembly line rather than failing the panic path itself.
var readInstructionBytesFn = func(rip uint64) []byte { return nil }

// formatFault renders the panic-banner line for an unhandled trap: the
// vector, the hardware error code, and — when the bytes at the saved RIP
// are available and decode cleanly — the one-instruction disassembly.
// This mirrors a serial-console kernel panic banner; see DESIGN.md for
// why this is the one third-party dependency the core domain admits.
func formatFault(ctx *cpu.Context) string {
	var sb strings.Builder
	kfmt.Fprintf(&sb, "%s (vector %d, error %x)", faultName(uint8(ctx.Vector)), ctx.Vector, ctx.Error)
	msg := sb.String()

	raw := readInstructionBytesFn(ctx.Rip)
	if len(raw) == 0 {
		return msg
	}
	if len(raw) > maxInstructionLength {
		raw = raw[:maxInstructionLength]
	}
	inst, err := x86asm.Decode(raw, 64)
	if err != nil {
		return msg
	}
	return msg + ": " + x86asm.GNUSyntax(inst, ctx.Rip, nil)
}

// faultName gives the conventional x86 name for the low, architecturally
// defined exception vectors; anything else (IRQs, IPIs, a vector with no
// registered handler) is reported by number only.
func faultName(vector uint8) string {
	switch vector {
	case VectorDivideError:
		return "divide error"
	case VectorDebug:
		return "debug exception"
	case VectorNMI:
		return "non-maskable interrupt"
	case VectorBreakpoint:
		return "breakpoint"
	case VectorOverflow:
		return "overflow"
	case VectorBoundRange:
		return "bound range exceeded"
	case VectorInvalidOpcode:
		return "invalid opcode"
	case VectorDeviceNotAvailable:
		return "device not available"
	case VectorDoubleFault:
		return "double fault"
	case VectorInvalidTSS:
		return "invalid TSS"
	case VectorSegmentNotPresent:
		return "segment not present"
	case VectorStackFault:
		return "stack fault"
	case VectorGeneralProtection:
		return "general protection fault"
	case VectorPageFault:
		return "page fault"
	default:
		return "unhandled interrupt"
	}
}
