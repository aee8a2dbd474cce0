// Package rcu implements the two-generation read-copy-update domain that
// backs every read-mostly structure in the kernel: the VFS node graph and
// the handle table. Readers never take a lock; writers retire objects into
// the current generation and defer their destruction until a synchronize
// pass proves no reader can still observe them.
package rcu

import (
	"runtime"
	"sync/atomic"
)

// Object is retired into a Domain by a Guard. The retire callback runs at
// most once, after the generation it was retired into has drained.
//
// The intrusive next pointer avoids a per-retirement allocation on the hot
// path, matching the design note in spec.md §9 ("retired objects form a
// per-generation intrusive list; the retirement node lives in the object
// itself").
type Object struct {
	next   atomic.Pointer[Object]
	retire func()
}

// SetRetireFunc installs the callback that Domain invokes when this object's
// generation drains. Must be called before the object is appended to a
// Guard.
func (o *Object) SetRetireFunc(fn func()) { o.retire = fn }

type generation struct {
	guard atomic.Int32
	head  atomic.Pointer[Object]
}

func (g *generation) append(obj *Object) {
	for {
		head := g.head.Load()
		obj.next.Store(head)
		if g.head.CompareAndSwap(head, obj) {
			return
		}
	}
}

func (g *generation) drain() {
	head := g.head.Load()
	for head != nil {
		next := head.next.Load()
		if head.retire != nil {
			head.retire()
		}
		head = next
	}
	g.head.Store(nil)
}

const currentGenerationBit = uint32(1) << 31

// Domain is a two-generation RCU domain. The zero value is ready to use.
type Domain struct {
	state       atomic.Uint32
	generations [2]generation
}

// Guard represents an active RCU read section. It must be released exactly
// once, typically via defer.
type Guard struct {
	gen *generation
}

// acquire pins the domain's current generation and increments its reader
// count: the generation index is read once, in the same atomic add that
// marks this reader as in transit, and that in-transit count keeps a
// concurrent Synchronize from swapping generations until the reader-count
// bump is done.
func (d *Domain) acquire() *generation {
	state := d.state.Add(1) - 1
	gen := &d.generations[boolToIndex(state&currentGenerationBit != 0)]
	gen.guard.Add(1)
	d.state.Add(^uint32(0)) // fetch_sub(1)
	return gen
}

func boolToIndex(b bool) int {
	if b {
		return 1
	}
	return 0
}

// NewGuard opens a read section against d. Readers performing a VFS lookup
// or a handle-table resolution hold a Guard for the duration of the lookup.
func NewGuard(d *Domain) Guard {
	return Guard{gen: d.acquire()}
}

// Close ends the read section. A Guard must not be used after Close.
func (g *Guard) Close() {
	if g.gen != nil {
		g.gen.guard.Add(-1)
		g.gen = nil
	}
}

// Append retires obj into the generation this guard is pinning. obj's
// retire callback runs once this generation later drains via Synchronize.
// append() from inside a guard is how every VFS/handle-table writer retires
// the object it replaced.
func (g *Guard) Append(obj *Object) {
	g.gen.append(obj)
}

// Append opens a short-lived guard against d and retires obj into the
// domain's current generation.
func (d *Domain) Append(obj *Object) {
	g := NewGuard(d)
	defer g.Close()
	g.Append(obj)
}

// Call retires a (data, fn) pair without requiring the caller to embed an
// Object. It mirrors RcuDomain::call: the retirement node is allocated here
// (the only point where RCU allocates) with an ordinary Go allocation, and
// Call always returns nil; it has no out-of-memory result.
func (d *Domain) Call(data interface{}, fn func(interface{})) error {
	obj := &Object{}
	obj.SetRetireFunc(func() { fn(data) })
	d.Append(obj)
	return nil
}

// Synchronize blocks until every reader that was active when Synchronize
// was called has released its guard, then runs the retirement callbacks
// for that generation. It flips the domain's "current" generation first so
// that new readers start landing in the other generation immediately,
// matching exchange() in the original: concurrent generation flips are
// serialized via a compare-and-swap loop on the top state bit.
func (d *Domain) Synchronize() {
	gen := d.exchange()
	for gen.guard.Load() > 0 {
		runtime.Gosched()
	}
	gen.drain()
}

func (d *Domain) exchange() *generation {
	for {
		state := d.state.Load()
		bit := state & currentGenerationBit
		if d.state.CompareAndSwap(bit, bit^currentGenerationBit) {
			return &d.generations[boolToIndex(bit != 0)]
		}
		runtime.Gosched()
	}
}
