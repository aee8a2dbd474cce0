package kfmt

import "nyx/kernel"

func init() {
	kernel.SetPanicSink(renderPanicBanner)
}

// renderPanicBanner formats the panic banner kernel.Panic prints before
// halting the CPU. It is kept in kfmt (rather than package kernel) so that
// kernel itself never needs an io.Writer or a formatter dependency.
func renderPanicBanner(reason, file string, line int) {
	Printf("\n-----------------------------------\n")
	Printf("*** kernel panic: %s\n", reason)
	if file != "" {
		Printf("    at %s:%d\n", file, line)
	}
	Printf("*** system halted ***\n")
	Printf("-----------------------------------\n")
}
