// Command kernel is the entry point linked into the final kernel image.
// It exists only to call kmain.Kmain; the boot shim's assembly stub jumps
// here after setting up a minimal stack, well before the Go runtime would
// otherwise consider itself initialized.
package main

import (
	"nyx/kernel/boot"
	"nyx/kernel/kmain"
)

// launchInfoPtr is populated by the boot shim before main runs. It is a
// package variable, rather than a parameter read off the stack directly,
// so the compiler cannot prove main's body is side-effect-free and elide
// the call the way it could with a literal zero value.
var launchInfoPtr *boot.LaunchInfo

// main makes the one call into the real kernel entry point. A global
// variable is threaded through the call to prevent the compiler from
// inlining it away and dropping kmain.Kmain from the generated image.
func main() {
	kmain.Kmain(launchInfoPtr)
}
