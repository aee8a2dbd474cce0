package vfs

import (
	"nyx/kernel/rcu"
	"nyx/kernel/sync"
)

// folder is the mixin embedded by every folder-kind Node. Lookups take the
// RWSpinlock's shared path; Mkdir/Create/Remove take its exclusive path.
// generation increments on every structural change so a long-lived
// directory iterator can detect it has raced a concurrent mutation — the
// VFS analogue of kernel/handle's Table generation-free RCU approach,
// except here readers need to notice staleness rather than merely be kept
// safe from a freed object, so a plain counter does that job more simply
// than the RCU guard it also carries for retiring removed nodes.
type folder struct {
	lock       sync.RWSpinlock
	generation uint64
	children   map[string]*Node
	domain     rcu.Domain
}

func newFolder() *folder {
	return &folder{children: make(map[string]*Node)}
}

// Generation returns the folder's current mutation counter.
func (f *folder) Generation() uint64 {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.generation
}

// Lookup resolves name among f's direct children.
func (f *folder) Lookup(name string) (*Node, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	n, ok := f.children[name]
	return n, ok
}

// Entries returns a snapshot of f's direct children.
func (f *folder) Entries() []*Node {
	f.lock.RLock()
	defer f.lock.RUnlock()
	out := make([]*Node, 0, len(f.children))
	for _, n := range f.children {
		out = append(out, n)
	}
	return out
}

// insert adds child under name, reporting false if the name is already
// taken.
func (f *folder) insert(name string, child *Node) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	if _, exists := f.children[name]; exists {
		return false
	}
	f.children[name] = child
	f.generation++
	return true
}

// remove deletes name from f and retires the removed node's RCU object
// into f's domain. Lookups read the map under the shared lock and take no
// guard on that domain.
func (f *folder) remove(name string) (*Node, bool) {
	f.lock.Lock()
	removed, ok := f.children[name]
	if !ok {
		f.lock.Unlock()
		return nil, false
	}
	delete(f.children, name)
	f.generation++
	f.lock.Unlock()

	f.domain.Append(&removed.retireOn)
	return removed, true
}
