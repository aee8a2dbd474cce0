package sched

import (
	"sync/atomic"

	"nyx/abi"
	"nyx/kernel"
	"nyx/kernel/handle"
	"nyx/kernel/mm/vmm"
	"nyx/kernel/sync"
)

// Privilege distinguishes a user process from the kernel's own
// supervisor-mode bookkeeping process.
type Privilege uint8

const (
	PrivilegeUser Privilege = iota
	PrivilegeSupervisor
)

// ProcessState tracks whether a process still has live threads.
type ProcessState uint32

const (
	ProcessRunning ProcessState = iota
	ProcessFinished
)

// Process owns a handle table, a set of threads, and (once kernel/vmm's
// address-space lifecycle is wired to it) its page tables. Per spec.md
// §4.11: closing the last thread handle of a non-exited process does not
// destroy the process object — only RemoveThread emptying the thread set
// transitions state to Finished, and even then the object itself survives
// until its own handle is closed (handle.Table's ref counting, not this
// struct, owns that decision).
type Process struct {
	ID        uint64
	Name      string
	Privilege Privilege
	Handles   *handle.Table

	// AddressSpace is the process's page table hierarchy, set once at
	// creation (ProcessCreate's loader builds a fresh one per process;
	// the boot thread's process reuses the address space Kmain already
	// has loaded in CR3).
	AddressSpace *vmm.AddressSpace

	lock    sync.Spinlock
	threads map[uint64]*Thread
	state   atomic.Uint32
}

// NewProcess creates a process with an empty thread set and a fresh
// handle table.
func NewProcess(id uint64, name string, privilege Privilege) *Process {
	return &Process{
		ID:        id,
		Name:      name,
		Privilege: privilege,
		Handles:   handle.NewTable(),
		threads:   make(map[uint64]*Thread),
	}
}

// Kind implements handle.Object.
func (p *Process) Kind() abi.HandleType { return abi.HandleProcess }

// Release implements handle.Object; the process's own handle table and
// any address-space resources are torn down by the caller that held the
// last handle (ProcessExit's syscall handler), not here — Release only
// fires once that teardown has already dropped every reference.
func (p *Process) Release() {}

// Signaled implements handle.Object: a process signals once every thread
// it owned has finished.
func (p *Process) Signaled() (done bool, status kernel.Status) {
	return p.Finished(), kernel.StatusSuccess
}

// Finished reports whether the process's thread set has emptied.
func (p *Process) Finished() bool {
	return ProcessState(p.state.Load()) == ProcessFinished
}

// AddThread registers t as belonging to this process.
func (p *Process) AddThread(t *Thread) {
	p.lock.Acquire()
	p.threads[t.ID] = t
	p.lock.Release()
}

// RemoveThread drops t from the process's thread set. When the set empties,
// the process transitions to Finished.
func (p *Process) RemoveThread(id uint64) {
	p.lock.Acquire()
	delete(p.threads, id)
	empty := len(p.threads) == 0
	p.lock.Release()
	if empty {
		p.state.Store(uint32(ProcessFinished))
	}
}

// ThreadCount reports how many threads the process currently owns.
func (p *Process) ThreadCount() int {
	p.lock.Acquire()
	defer p.lock.Release()
	return len(p.threads)
}

// Threads returns a snapshot of the process's current thread set. The
// caller is free to range over it and mutate the process's thread set
// (e.g. via RemoveThread) concurrently without disturbing the snapshot.
func (p *Process) Threads() []*Thread {
	p.lock.Acquire()
	defer p.lock.Release()
	out := make([]*Thread, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t)
	}
	return out
}
