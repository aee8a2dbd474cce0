package kernel

// PanicSink receives the formatted panic banner before the CPU halts. It is
// set by kfmt so that this package does not need to depend on the formatter
// (which in turn depends on kernel for Memset/Memcopy), avoiding an import
// cycle.
var panicSink func(reason string, file string, line int)

// SetPanicSink installs the function used to render a panic banner.
func SetPanicSink(fn func(reason, file string, line int)) {
	panicSink = fn
}

// haltFn halts the current CPU. Tests override it so that Panic can be
// exercised without actually stopping the test binary.
var haltFn = func() {
	select {}
}

// Panic reports an invariant violation that indicates a kernel bug (as
// opposed to a user error, which is reported as a Status). It prints a
// message and halts the CPU; no recovery is attempted, matching spec.md's
// failure model: aborts are reserved for invariants the kernel detects on
// itself.
func Panic(reason string, file string, line int) {
	if panicSink != nil {
		panicSink(reason, file, line)
	}
	haltFn()
}

// SetHaltFuncForTest overrides the CPU halt function used by Panic/Assert.
// It exists so that packages outside kernel can test invariant violations
// without hanging the test binary; passing nil restores the default halt
// loop. Production code never calls this.
func SetHaltFuncForTest(fn func()) {
	if fn == nil {
		haltFn = func() { select {} }
		return
	}
	haltFn = fn
}

// Assert panics with reason if cond is false. It is used to express the
// invariants named throughout the core (IPL misuse, RCU double-free, page
// table corruption, ...).
func Assert(cond bool, reason string, file string, line int) {
	if !cond {
		Panic(reason, file, line)
	}
}
