package handle

import (
	"sync/atomic"
	"testing"

	"nyx/abi"
	"nyx/kernel"
)

type fakeObject struct {
	kind     abi.HandleType
	signaled atomic.Bool
	status   kernel.Status
	released atomic.Bool
}

func newFakeObject(kind abi.HandleType) *fakeObject {
	f := &fakeObject{kind: kind, status: kernel.StatusSuccess}
	return f
}

func (f *fakeObject) Kind() abi.HandleType { return f.kind }
func (f *fakeObject) Signaled() (bool, kernel.Status) {
	return f.signaled.Load(), f.status
}
func (f *fakeObject) Release() { f.released.Store(true) }

func TestInsertAndResolveRoundTrips(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleMutex)
	h := tbl.Insert(obj, abi.AccessStat|abi.AccessWait)

	got, access, err := tbl.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != obj {
		t.Fatal("Resolve returned a different object")
	}
	if !access.Has(abi.AccessStat) || !access.Has(abi.AccessWait) {
		t.Fatalf("access = %v, want Stat|Wait", access)
	}
	if h.Type() != abi.HandleMutex {
		t.Fatalf("h.Type() = %v, want HandleMutex", h.Type())
	}
}

func TestResolveUnknownHandleReturnsInvalidHandle(t *testing.T) {
	tbl := NewTable()
	_, _, err := tbl.Resolve(abi.Handle(0xDEAD))
	if err == nil || err.Status != kernel.StatusInvalidHandle {
		t.Fatalf("err = %v, want StatusInvalidHandle", err)
	}
}

func TestNewHandleIDsAreMonotonicWithinType(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleEvent)
	h1 := tbl.Insert(obj, abi.AccessStat)
	h2 := tbl.Insert(obj, abi.AccessStat)
	if h2.ID() <= h1.ID() {
		t.Fatalf("h2.ID() = %d, want > h1.ID() = %d", h2.ID(), h1.ID())
	}
}

func TestCloneNarrowsAccess(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleNode)
	h := tbl.Insert(obj, abi.AccessStat|abi.AccessWait|abi.AccessClone)

	cloned, err := tbl.Clone(h, abi.AccessStat, nil)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	_, access, err := tbl.Resolve(cloned)
	if err != nil {
		t.Fatalf("Resolve(cloned): %v", err)
	}
	if !access.Has(abi.AccessStat) || access.Has(abi.AccessWait) {
		t.Fatalf("cloned access = %v, want Stat only", access)
	}
}

func TestCloneRejectsWideningAccess(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleNode)
	h := tbl.Insert(obj, abi.AccessStat)

	_, err := tbl.Clone(h, abi.AccessStat|abi.AccessWait, nil)
	if err == nil || err.Status != kernel.StatusAccessDenied {
		t.Fatalf("err = %v, want StatusAccessDenied", err)
	}
}

func TestCloneRejectsZeroAccess(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleNode)
	h := tbl.Insert(obj, abi.AccessStat)

	_, err := tbl.Clone(h, 0, nil)
	if err == nil || err.Status != kernel.StatusAccessDenied {
		t.Fatalf("err = %v, want StatusAccessDenied", err)
	}
}

func TestCloneIntoAnotherTableSharesTheSameObject(t *testing.T) {
	src := NewTable()
	dst := NewTable()
	obj := newFakeObject(abi.HandleProcess)
	h := src.Insert(obj, abi.AccessStat|abi.AccessClone)

	cloned, err := src.Clone(h, abi.AccessStat, dst)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	got, _, err := dst.Resolve(cloned)
	if err != nil {
		t.Fatalf("Resolve on dst: %v", err)
	}
	if got != obj {
		t.Fatal("cloned handle in dst resolved to a different object")
	}
}

func TestCloseUnknownHandleReturnsInvalidHandle(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Close(abi.Handle(0xBEEF)); err == nil || err.Status != kernel.StatusInvalidHandle {
		t.Fatalf("err = %v, want StatusInvalidHandle", err)
	}
}

func TestCloseReleasesObjectOnlyAfterLastHandle(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleMutex)
	h1 := tbl.Insert(obj, abi.AccessStat|abi.AccessClone)
	h2, err := tbl.Clone(h1, abi.AccessStat, nil)
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}

	if err := tbl.Close(h1); err != nil {
		t.Fatalf("Close(h1): %v", err)
	}
	tbl.domain.Synchronize()
	tbl.domain.Synchronize()
	if obj.released.Load() {
		t.Fatal("object released while a second handle is still open")
	}

	if err := tbl.Close(h2); err != nil {
		t.Fatalf("Close(h2): %v", err)
	}
	tbl.domain.Synchronize()
	tbl.domain.Synchronize()
	if !obj.released.Load() {
		t.Fatal("object not released after its last handle closed and RCU drained")
	}
}

func TestWaitReturnsImmediatelyWhenAlreadySignaled(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleEvent)
	obj.signaled.Store(true)
	h := tbl.Insert(obj, abi.AccessWait)

	if err := tbl.Wait(h, abi.TimeoutInstant); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitInstantTimesOutWhenNotSignaled(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleEvent)
	h := tbl.Insert(obj, abi.AccessWait)

	err := tbl.Wait(h, abi.TimeoutInstant)
	if err == nil || err.Status != kernel.StatusTimeout {
		t.Fatalf("err = %v, want StatusTimeout", err)
	}
}

func TestWaitInfinitePollsUntilSignaled(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleEvent)
	h := tbl.Insert(obj, abi.AccessWait)

	go func() {
		obj.signaled.Store(true)
	}()

	if err := tbl.Wait(h, abi.TimeoutInfinite); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWaitWithDeadlineTimesOutWhenClockPassesIt(t *testing.T) {
	restore := SetClockFuncForTest(func() abi.Instant { return 100 })
	defer restore()

	tbl := NewTable()
	obj := newFakeObject(abi.HandleEvent)
	h := tbl.Insert(obj, abi.AccessWait)

	err := tbl.Wait(h, abi.Instant(50))
	if err == nil || err.Status != kernel.StatusTimeout {
		t.Fatalf("err = %v, want StatusTimeout", err)
	}
}

func TestWaitPropagatesOrphanedStatus(t *testing.T) {
	tbl := NewTable()
	obj := newFakeObject(abi.HandleThread)
	obj.signaled.Store(true)
	obj.status = kernel.StatusProcessOrphaned
	h := tbl.Insert(obj, abi.AccessWait)

	err := tbl.Wait(h, abi.TimeoutInstant)
	if err == nil || err.Status != kernel.StatusProcessOrphaned {
		t.Fatalf("err = %v, want StatusProcessOrphaned", err)
	}
}
