// Package handle implements the kernel's object model and per-process
// handle table: every process, thread, mutex, event, and vnode reference
// a syscall handler sees is a Handle minted and resolved here. Lookups
// run inside an RCU read section (kernel/rcu) so a concurrent Close never
// frees an object a reader is still dereferencing; structural changes to
// the table itself (insert/remove) take a short RWSpinlock hold.
package handle

import (
	"sync/atomic"

	"nyx/abi"
	"nyx/kernel"
	"nyx/kernel/rcu"
	"nyx/kernel/sync"
)

var (
	errInvalidHandle = &kernel.Error{Module: "handle", Message: "handle does not resolve to a live object", Status: kernel.StatusInvalidHandle}
	errAccessDenied  = &kernel.Error{Module: "handle", Message: "requested access exceeds the source handle's rights", Status: kernel.StatusAccessDenied}
	errTimeout       = &kernel.Error{Module: "handle", Message: "wait deadline elapsed before the object signaled", Status: kernel.StatusTimeout}
)

// Object is the interface every kernel object (process, thread, mutex,
// event, vnode) implements so a Table can hold, wait on, and eventually
// destroy it without knowing its concrete type.
type Object interface {
	// Kind identifies the HandleType a handle to this object is minted
	// with.
	Kind() abi.HandleType

	// Signaled reports whether the object's wait condition currently
	// holds: a thread or process that has exited, a mutex that has been
	// released, an event that has been set. done is false while the
	// condition is still pending. When done is true, status explains why
	// — ordinarily StatusSuccess, but a thread that has finished (or been
	// orphaned) after its owning process exited reports
	// StatusProcessOrphaned instead; a thread still running or queued is
	// not done, whatever its process's state.
	Signaled() (done bool, status kernel.Status)

	// Release is invoked exactly once, when the last strong handle to
	// this object is closed.
	Release()
}

// yieldFn is called between failed poll attempts in Wait; tests override
// it with a no-op, matching kernel/sync's Spinlock seam.
var yieldFn = func() {}

// nowFn reports the current Instant; production code points this at the
// timer subsystem once it exists. Defaulting to a clock stuck at zero
// means a positive deadline never elapses in a test that never overrides
// nowFn (Wait keeps polling until the object signals) — tests that need a
// deadline to pass override it explicitly.
var nowFn = func() abi.Instant { return 0 }

// SetClockFuncForTest overrides nowFn, returning a restore function.
func SetClockFuncForTest(fn func() abi.Instant) func() {
	prev := nowFn
	nowFn = fn
	return func() { nowFn = prev }
}

// ref is the strong-counted holder behind every handle to the same
// object: cloning a handle adds a reference to the same ref rather than
// wrapping the object a second time.
type ref struct {
	obj      Object
	strong   atomic.Int64
	retireOn rcu.Object
}

func newRef(obj Object) *ref {
	r := &ref{obj: obj}
	r.strong.Store(1)
	r.retireOn.SetRetireFunc(obj.Release)
	return r
}

func (r *ref) addRef() { r.strong.Add(1) }

// drop decrements the strong count. When it reaches zero, the object is
// retired into d rather than released immediately: a concurrent Resolve
// that already read this ref out of the table must still see a live
// object until RCU proves no such reader remains.
func (r *ref) drop(d *rcu.Domain) {
	if r.strong.Add(-1) == 0 {
		d.Append(&r.retireOn)
	}
}

type entry struct {
	ref    *ref
	access abi.Access
}

// Table is one process's handle table: newHandleId, clone, close, and
// wait exactly as spec.md §4.11 describes.
type Table struct {
	domain  rcu.Domain
	lock    sync.RWSpinlock
	nextID  [abi.HandleTypeCount]atomic.Uint64
	entries map[abi.Handle]entry
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	return &Table{entries: make(map[abi.Handle]entry)}
}

// newHandleID mints the next id for kind, monotonically increasing
// within this table, per spec.md's newHandleId(type) contract.
func (t *Table) newHandleID(kind abi.HandleType) abi.Handle {
	id := t.nextID[kind].Add(1)
	return abi.NewHandle(kind, id)
}

// Insert mints a fresh handle for obj with access and installs it in the
// table, taking the object's first strong reference.
func (t *Table) Insert(obj Object, access abi.Access) abi.Handle {
	h := t.newHandleID(obj.Kind())
	r := newRef(obj)
	t.lock.Lock()
	t.entries[h] = entry{ref: r, access: access}
	t.lock.Unlock()
	return h
}

// Resolve looks up h under an RCU read section and returns the object it
// refers to along with its access rights. Callers that only need to wait
// on or close a handle should prefer Wait/Close; Resolve is for syscall
// handlers (FileRead, ThreadControl, ...) that operate on the object
// itself.
func (t *Table) Resolve(h abi.Handle) (Object, abi.Access, *kernel.Error) {
	g := rcu.NewGuard(&t.domain)
	defer g.Close()

	t.lock.RLock()
	e, ok := t.entries[h]
	t.lock.RUnlock()
	if !ok {
		return nil, 0, errInvalidHandle
	}
	return e.ref.obj, e.access, nil
}

// Clone creates a new handle with a subset of src's rights, installing it
// in target (the same table, when target is nil). access must be a
// non-empty subset of the source handle's own access, per spec.md's
// OsHandleClone contract; a caller cloning into a different process's
// table is responsible for having already checked
// ProcessAccessIoControl on its handle to that process, since Table has
// no notion of "which process owns this table".
func (t *Table) Clone(src abi.Handle, access abi.Access, target *Table) (abi.Handle, *kernel.Error) {
	if target == nil {
		target = t
	}

	t.lock.RLock()
	e, ok := t.entries[src]
	t.lock.RUnlock()
	if !ok {
		return abi.InvalidHandle, errInvalidHandle
	}
	if access == 0 || !e.access.Has(access) {
		return abi.InvalidHandle, errAccessDenied
	}

	e.ref.addRef()
	newHandle := target.newHandleID(e.ref.obj.Kind())
	target.lock.Lock()
	target.entries[newHandle] = entry{ref: e.ref, access: access}
	target.lock.Unlock()
	return newHandle, nil
}

// Close drops h's strong reference, destroying the underlying object's
// Release once the last handle to it is closed. Closing the last thread
// handle of a non-exited process does not by itself destroy the process
// object — that invariant lives in the Process object's own Signaled/
// Release implementation (kernel/sched), not here: Table only ever counts
// handles to one object, and a process and its threads are distinct
// objects with independent ref counts.
func (t *Table) Close(h abi.Handle) *kernel.Error {
	t.lock.Lock()
	e, ok := t.entries[h]
	if ok {
		delete(t.entries, h)
	}
	t.lock.Unlock()
	if !ok {
		return errInvalidHandle
	}
	e.ref.drop(&t.domain)
	return nil
}

// Wait blocks until h's object signals or timeout elapses.
// abi.TimeoutInstant polls once without blocking; abi.TimeoutInfinite
// blocks until the object signals, however long that takes.
func (t *Table) Wait(h abi.Handle, timeout abi.Instant) *kernel.Error {
	obj, _, err := t.Resolve(h)
	if err != nil {
		return err
	}

	if done, status := obj.Signaled(); done {
		return statusError(status)
	}
	if timeout == abi.TimeoutInstant {
		return errTimeout
	}
	for {
		if done, status := obj.Signaled(); done {
			return statusError(status)
		}
		if timeout != abi.TimeoutInfinite && nowFn() >= timeout {
			return errTimeout
		}
		yieldFn()
	}
}

func statusError(status kernel.Status) *kernel.Error {
	if status == kernel.StatusSuccess {
		return nil
	}
	return &kernel.Error{Module: "handle", Message: "object signaled with a non-success status", Status: status}
}
