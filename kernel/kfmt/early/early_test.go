package early

import (
	"sync"
	"testing"
)

func TestLoggerAppendDrainOrder(t *testing.T) {
	var l Logger
	l.Append("first")
	l.Append("second")
	l.Append("third")

	var got []string
	l.Drain(func(msg string) { got = append(got, msg) })

	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoggerDrainIsIdempotentOnEmpty(t *testing.T) {
	var l Logger
	l.Append("only")
	var first []string
	l.Drain(func(msg string) { first = append(first, msg) })

	var second []string
	l.Drain(func(msg string) { second = append(second, msg) })

	if len(first) != 1 || len(second) != 0 {
		t.Fatalf("first=%v second=%v, want one line then none", first, second)
	}
}

func TestLoggerTruncatesLongLines(t *testing.T) {
	var l Logger
	long := make([]byte, lineSize*2)
	for i := range long {
		long[i] = 'x'
	}
	l.Append(string(long))

	var got string
	l.Drain(func(msg string) { got = msg })
	if len(got) != lineSize {
		t.Fatalf("len(got) = %d, want %d", len(got), lineSize)
	}
}

func TestLoggerConcurrentAppend(t *testing.T) {
	var l Logger
	var wg sync.WaitGroup
	const producers = 8
	const perProducer = 50
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				l.Append("line")
			}
		}()
	}
	wg.Wait()

	// The ring retains only the newest ringLines lines; older ones are
	// overwritten before Drain runs.
	want := producers * perProducer
	if want > ringLines {
		want = ringLines
	}
	count := 0
	l.Drain(func(string) { count++ })
	if count != want {
		t.Fatalf("drained %d lines, want %d", count, want)
	}
}

func TestLoggerPending(t *testing.T) {
	var l Logger
	if l.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0", l.Pending())
	}
	l.Append("a")
	l.Append("b")
	if l.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", l.Pending())
	}
	l.Drain(func(string) {})
	if l.Pending() != 0 {
		t.Fatalf("Pending() after drain = %d, want 0", l.Pending())
	}
}
