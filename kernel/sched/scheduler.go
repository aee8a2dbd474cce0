// Package sched implements the per-CPU, tick-driven round-robin
// scheduler from spec.md §4.9, plus the Process/Thread kernel objects
// (process.go, thread.go) it schedules. Threads are FIFO within a CPU;
// there is no priority inheritance and no work stealing between CPUs.
package sched

import (
	"nyx/abi"
	"nyx/kernel/cpu"
	"nyx/kernel/sync"
)

// sendSelfIPIFn issues a self-directed interrupt on the scheduling
// vector, the hardware primitive YieldCurrentThread rides on. Production
// code points this at a local APIC self-IPI; tests substitute a fake that
// just records the call, since this package's own Tick is what actually
// performs a context switch once that interrupt is delivered.
var sendSelfIPIFn = func(vector uint8) {}

// SetSelfIPIFuncForTest overrides sendSelfIPIFn, returning a restore
// function.
func SetSelfIPIFuncForTest(fn func(vector uint8)) func() {
	prev := sendSelfIPIFn
	sendSelfIPIFn = fn
	return func() { sendSelfIPIFn = prev }
}

// nowFn reports the current Instant; overridden in tests to control
// Sleep/sweepSleepers deadlines without a real timer subsystem.
var nowFn = func() abi.Instant { return 0 }

// SetClockFuncForTest overrides nowFn, returning a restore function.
func SetClockFuncForTest(fn func() abi.Instant) func() {
	prev := nowFn
	nowFn = fn
	return func() { nowFn = prev }
}

type sleeper struct {
	thread *Thread
	wake   abi.Instant
}

// Scheduler is one CPU's runnable queue plus its currently-executing
// thread. Every CPU owns exactly one, reached through the package-level
// cpu.PerCpu slot below — never shared across CPUs, per spec.md §5's
// "CPU-local data is never shared" rule.
type Scheduler struct {
	lock           sync.Spinlock
	queue          []*Thread
	sleeping       []sleeper
	current        *Thread
	scheduleVector uint8
}

var schedulers cpu.PerCpu[*Scheduler]

// InitScheduler installs a fresh Scheduler for the calling CPU, armed to
// self-IPI on scheduleVector when YieldCurrentThread is called.
func InitScheduler(scheduleVector uint8) *Scheduler {
	s := &Scheduler{scheduleVector: scheduleVector}
	schedulers.Init(s)
	return s
}

// CurrentScheduler returns the calling CPU's Scheduler. InitScheduler
// must have been called for this CPU first.
func CurrentScheduler() *Scheduler {
	return schedulers.Get()
}

// AddWorkItem enqueues thread as runnable on s.
func (s *Scheduler) AddWorkItem(thread *Thread) {
	if thread == nil {
		return
	}
	s.lock.Acquire()
	s.queue = append(s.queue, thread)
	s.lock.Release()
}

// getWorkItem dequeues the next runnable thread, dropping (never
// returning) any thread whose owning process has already exited —
// spec.md §4.9's "an orphaned thread is dropped on its next tick".
func (s *Scheduler) getWorkItem() (*Thread, bool) {
	for {
		s.lock.Acquire()
		if len(s.queue) == 0 {
			s.lock.Release()
			return nil, false
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.lock.Release()

		if next.process != nil && next.process.Finished() {
			next.state.Store(uint32(ThreadOrphaned))
			continue
		}
		if next.State() == ThreadSuspended {
			// Dropped from the queue, not re-enqueued: Resume's caller
			// is responsible for calling AddWorkItem again.
			continue
		}
		return next, true
	}
}

// CurrentThread returns the thread currently executing on this CPU, or
// nil before the first Tick.
func (s *Scheduler) CurrentThread() *Thread {
	s.lock.Acquire()
	defer s.lock.Release()
	return s.current
}

// SetCurrentThread installs thread as the one currently executing,
// without going through Tick. Every CPU is already running some thread
// of execution before its first scheduling interrupt ever fires — Kmain
// uses this to give the boot CPU's initial execution context a Thread
// object syscall handlers can resolve via CurrentThread before anything
// has been preempted into it the ordinary way.
func (s *Scheduler) SetCurrentThread(thread *Thread) {
	s.lock.Acquire()
	s.current = thread
	s.lock.Release()
}

// Tick is the scheduling-vector ISR body: it sweeps expired sleepers back
// onto the runnable queue, then — if another thread is runnable —
// snapshots ctx into the outgoing thread, re-enqueues it, and returns the
// incoming thread's saved context for the trampoline to resume. If
// nothing else is runnable, ctx is returned unchanged and the current
// thread keeps running.
func (s *Scheduler) Tick(ctx *cpu.Context) *cpu.Context {
	s.sweepSleepers()

	next, ok := s.getWorkItem()
	if !ok {
		return ctx
	}

	s.lock.Acquire()
	outgoing := s.current
	s.current = next
	s.lock.Release()

	if outgoing != nil {
		*outgoing.Context() = *ctx
		outgoing.state.Store(uint32(ThreadQueued))
		s.AddWorkItem(outgoing)
	}

	next.state.Store(uint32(ThreadRunning))
	return next.Context()
}

// YieldCurrentThread issues a self-IPI on the scheduling vector: the
// calling thread keeps running until that interrupt is delivered and
// Tick runs, at which point it is treated exactly like any other
// currently-running thread being preempted.
func (s *Scheduler) YieldCurrentThread() {
	sendSelfIPIFn(s.scheduleVector)
}

// Sleep transitions the calling CPU's current thread to Waiting and
// arms a wake deadline d ticks from now; sweepSleepers re-enqueues it
// once that deadline has passed. It then yields, the same as
// YieldCurrentThread, so the scheduling interrupt can actually perform
// the switch away from this thread.
func (s *Scheduler) Sleep(d abi.Instant) {
	s.lock.Acquire()
	current := s.current
	s.lock.Release()
	if current == nil {
		return
	}

	current.state.Store(uint32(ThreadWaiting))
	s.lock.Acquire()
	s.sleeping = append(s.sleeping, sleeper{thread: current, wake: nowFn() + d})
	s.lock.Release()

	s.YieldCurrentThread()
}

// sweepSleepers re-enqueues every sleeping thread whose wake deadline has
// passed.
func (s *Scheduler) sweepSleepers() {
	now := nowFn()
	s.lock.Acquire()
	remaining := s.sleeping[:0]
	var woken []*Thread
	for _, sl := range s.sleeping {
		if now >= sl.wake {
			woken = append(woken, sl.thread)
		} else {
			remaining = append(remaining, sl)
		}
	}
	s.sleeping = remaining
	s.lock.Release()

	for _, t := range woken {
		t.state.Store(uint32(ThreadQueued))
		s.AddWorkItem(t)
	}
}
