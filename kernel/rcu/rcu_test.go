package rcu

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRetireRunsAfterGuardReleasedAndSynchronized(t *testing.T) {
	var d Domain
	var freed atomic.Bool

	g := NewGuard(&d)
	obj := &Object{}
	obj.SetRetireFunc(func() { freed.Store(true) })
	g.Append(obj)

	// While the guard that retired obj is still open, a synchronize pass
	// must not free it: synchronize() never frees work submitted during
	// its own call.
	done := make(chan struct{})
	go func() {
		d.Synchronize()
		close(done)
	}()
	// Give the synchronize goroutine a chance to spin on the open guard.
	if freed.Load() {
		t.Fatal("object freed while its retiring guard is still open")
	}

	g.Close()
	<-done

	if !freed.Load() {
		t.Fatal("object not freed after guard closed and synchronize completed")
	}
}

func TestTwoSynchronizeCallsDrainEverythingRetiredBeforeTheFirst(t *testing.T) {
	var d Domain
	var freedCount atomic.Int32

	const n = 20
	for i := 0; i < n; i++ {
		g := NewGuard(&d)
		obj := &Object{}
		obj.SetRetireFunc(func() { freedCount.Add(1) })
		g.Append(obj)
		g.Close()
	}

	d.Synchronize()
	d.Synchronize()

	if got := freedCount.Load(); got != n {
		t.Fatalf("freed %d objects, want %d", got, n)
	}
}

func TestSynchronizeDrainsWorkRetiredBeforeItsCall(t *testing.T) {
	var d Domain
	var freed atomic.Int32

	// Retire one object before synchronize begins.
	before := &Object{}
	before.SetRetireFunc(func() { freed.Add(1) })
	d.Append(before)

	d.Synchronize()
	if freed.Load() != 1 {
		t.Fatalf("freed = %d after first synchronize, want 1", freed.Load())
	}

	// Retire a second object and require two more synchronize calls to
	// guarantee it drains (it may land in either generation).
	after := &Object{}
	after.SetRetireFunc(func() { freed.Add(1) })
	d.Append(after)

	d.Synchronize()
	d.Synchronize()
	if freed.Load() != 2 {
		t.Fatalf("freed = %d after draining both generations, want 2", freed.Load())
	}
}

func TestConcurrentReadersWritersDrainer(t *testing.T) {
	var d Domain
	var retiredCount, freedCount atomic.Int32

	var wg, readers sync.WaitGroup
	stop := make(chan struct{})

	// Readers continuously open and close guards until stop is closed.
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					g := NewGuard(&d)
					g.Close()
				}
			}
		}()
	}

	// A writer retires objects.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			obj := &Object{}
			obj.SetRetireFunc(func() { freedCount.Add(1) })
			d.Append(obj)
			retiredCount.Add(1)
		}
	}()

	// A drainer calls Synchronize repeatedly.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			d.Synchronize()
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	// Two final synchronize calls must drain everything retired so far.
	d.Synchronize()
	d.Synchronize()

	if freedCount.Load() != retiredCount.Load() {
		t.Fatalf("freed %d of %d retired objects", freedCount.Load(), retiredCount.Load())
	}
}

func TestCallRetiresDataWithoutEmbeddingObject(t *testing.T) {
	var d Domain
	var got interface{}

	err := d.Call("payload", func(data interface{}) { got = data })
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	d.Synchronize()
	d.Synchronize()

	if got != "payload" {
		t.Fatalf("got %v, want %q", got, "payload")
	}
}
