package sched

import (
	"sync/atomic"

	"nyx/abi"
	"nyx/kernel"
	"nyx/kernel/cpu"
)

// ThreadState is one of the states a Thread moves through over its
// lifetime, per spec.md's thread object definition.
type ThreadState uint32

const (
	ThreadRunning ThreadState = iota
	ThreadQueued
	ThreadWaiting
	ThreadSuspended
	ThreadFinished
	ThreadOrphaned
)

// Thread is a schedulable unit of execution: one register-frame snapshot,
// one owning process, one runnable-queue membership at a time.
//
// The original holds the parent process by a weak pointer so a thread
// never keeps its process alive; Go's GC makes that concern moot; the
// behavior this package preserves instead is the orphan rule itself
// (spec.md §4.9: an orphaned thread is dropped on its next tick), not the
// reference-counting trick that motivated the weak pointer.
type Thread struct {
	ID      uint64
	Name    string
	process *Process

	context cpu.Context
	state   atomic.Uint32
}

// NewThread creates a thread owned by process, in the Queued state.
func NewThread(id uint64, name string, process *Process) *Thread {
	t := &Thread{ID: id, Name: name, process: process}
	t.state.Store(uint32(ThreadQueued))
	return t
}

// State returns the thread's current lifecycle state.
func (t *Thread) State() ThreadState { return ThreadState(t.state.Load()) }

// Process returns the process that owns t.
func (t *Thread) Process() *Process { return t.process }

// Suspend implements ThreadControl's suspend operation: the thread is
// taken out of consideration by getWorkItem until a matching Resume,
// without losing its place in whichever process owns it.
func (t *Thread) Suspend() { t.state.Store(uint32(ThreadSuspended)) }

// Resume reverses Suspend. The caller is responsible for re-enqueuing t
// on a Scheduler — Resume only updates the thread's own state.
func (t *Thread) Resume() { t.state.Store(uint32(ThreadQueued)) }

// Finish transitions t to ThreadFinished, the terminal state ProcessExit
// and ThreadDestroy drive t to once nothing will schedule it again.
func (t *Thread) Finish() { t.state.Store(uint32(ThreadFinished)) }

// Context returns the thread's saved register frame, valid while the
// thread is not the one currently executing.
func (t *Thread) Context() *cpu.Context { return &t.context }

// Kind implements handle.Object.
func (t *Thread) Kind() abi.HandleType { return abi.HandleThread }

// Release implements handle.Object. A thread carries no resources beyond
// its own struct once finished, so there is nothing to do here — the
// process it belonged to (and that process's page tables, handle table)
// is released independently, through the process's own handle.
func (t *Thread) Release() {}

// Signaled implements handle.Object, resolving spec.md §9's open
// question: OsHandleWait on a thread that has finished reports
// StatusProcessOrphaned rather than StatusSuccess if the thread's owning
// process had already exited — the thread's own exit status is
// meaningless once nothing will ever observe it through that process.
func (t *Thread) Signaled() (done bool, status kernel.Status) {
	switch t.State() {
	case ThreadFinished, ThreadOrphaned:
	default:
		return false, kernel.StatusSuccess
	}
	if t.process != nil && t.process.Finished() {
		return true, kernel.StatusProcessOrphaned
	}
	return true, kernel.StatusSuccess
}
