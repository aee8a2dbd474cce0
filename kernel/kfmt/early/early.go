// Package early implements the kernel's lock-free logger: a ring buffer
// that multiple CPUs can append formatted diagnostic lines to from
// interrupt context (where acquiring kfmt's output sink lock would be
// unsafe) with the actual console write deferred to a later, safe point.
package early

import "sync/atomic"

// lineSize bounds a single logged line; longer lines are truncated.
const lineSize = 120

// ringLines is the number of lines the logger retains before the oldest
// line is overwritten. Must be a power of two.
const ringLines = 256

type line struct {
	seq uint64
	len int32
	buf [lineSize]byte
}

// Logger is a lock-free, multi-producer single-consumer ring of log lines.
// Producers (any CPU, any IPL) call Append; a single deferred-flush
// consumer calls Drain to copy newly appended lines out in order.
type Logger struct {
	next  uint64 // atomically incremented cursor handed out to producers
	lines [ringLines]line
	read  uint64 // next sequence number Drain has not yet consumed
}

// Append records msg as the next log line. It never blocks and never
// allocates: msg is copied byte-by-byte into a pre-sized slot.
func (l *Logger) Append(msg string) {
	seq := atomic.AddUint64(&l.next, 1) - 1
	slot := &l.lines[seq&(ringLines-1)]

	n := len(msg)
	if n > lineSize {
		n = lineSize
	}
	copy(slot.buf[:n], msg[:n])
	slot.len = int32(n)

	// Publish the slot only after its contents are written so a
	// concurrent Drain never observes a torn write.
	atomic.StoreUint64(&slot.seq, seq+1)
}

// Drain invokes fn once for every line appended since the last Drain call,
// in order, skipping any line that has already been overwritten (the
// producer outran the consumer by a full ring rotation).
func (l *Logger) Drain(fn func(msg string)) {
	for {
		next := atomic.LoadUint64(&l.next)
		if l.read >= next {
			return
		}

		slot := &l.lines[l.read&(ringLines-1)]
		if atomic.LoadUint64(&slot.seq) != l.read+1 {
			// The producer has already wrapped past this slot;
			// the line is lost. Skip forward rather than block.
			if next > ringLines {
				l.read = next - ringLines
			} else {
				l.read = 0
			}
			continue
		}

		fn(string(slot.buf[:slot.len]))
		l.read++
	}
}

// Pending reports how many lines have been appended but not yet drained.
func (l *Logger) Pending() uint64 {
	return atomic.LoadUint64(&l.next) - l.read
}
