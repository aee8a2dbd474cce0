// Package sync provides the synchronization primitives used by the
// subsystems that must not suspend: the page frame allocator, the virtual
// address allocator, the TLSF heap, and the page-table mutators all guard
// their state with a Spinlock or RWSpinlock rather than a blocking mutex.
package sync

import (
	"runtime"
	"sync/atomic"
)

// yieldFn is called between failed acquire attempts. Tests substitute a
// no-op; on real hardware this would issue a `pause` instruction before
// eventually calling the scheduler's YieldCurrentThread.
var yieldFn = runtime.Gosched

// Spinlock is a mutual-exclusion lock where a blocked caller busy-waits
// rather than suspending. It is not reentrant: re-acquiring a lock
// already held by the current thread deadlocks.
type Spinlock struct {
	state atomic.Uint32
}

// Acquire blocks until the lock is held by the caller.
func (l *Spinlock) Acquire() {
	for !l.TryAcquire() {
		yieldFn()
	}
}

// TryAcquire attempts to acquire the lock without blocking and reports
// whether it succeeded.
func (l *Spinlock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release relinquishes a held lock. Calling Release on a free lock has no
// effect.
func (l *Spinlock) Release() {
	l.state.Store(0)
}

// RWSpinlock is a shared/exclusive spinlock used to guard the folder maps
// and the mount table: lookups take the shared path, structural mutation
// takes the exclusive path.
type RWSpinlock struct {
	// state is 0 when free, -1 while held exclusively, and the number of
	// concurrent shared holders otherwise.
	state atomic.Int32
}

const exclusiveHeld = int32(-1)

// RLock acquires a shared hold, blocking while the lock is held
// exclusively.
func (l *RWSpinlock) RLock() {
	for {
		cur := l.state.Load()
		if cur == exclusiveHeld {
			yieldFn()
			continue
		}
		if l.state.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

// RUnlock releases one shared hold.
func (l *RWSpinlock) RUnlock() {
	l.state.Add(-1)
}

// Lock acquires the lock exclusively, blocking until there are no shared
// or exclusive holders.
func (l *RWSpinlock) Lock() {
	for !l.state.CompareAndSwap(0, exclusiveHeld) {
		yieldFn()
	}
}

// Unlock releases an exclusive hold.
func (l *RWSpinlock) Unlock() {
	l.state.Store(0)
}
