// Package history implements the simulator's optional signal-history
// sink: a bounded ring buffer fed by the tick loop and drained by a
// separate worker, plus a waveform trace writer that renders drained
// entries to an LXT-style file for an external viewer.
package history

import (
	"sync"

	"github.com/JohanSmet/dromaius/sched"
	"github.com/JohanSmet/dromaius/signal"
)

// Backpressure selects what Record does once the ring is full.
type Backpressure int

const (
	// DropOldest discards the oldest queued entry to make room for the
	// new one.
	DropOldest Backpressure = iota
	// Stall blocks the producer (the simulator's tick loop) until the
	// consumer drains room, counting as cooperative suspension at the
	// push point.
	Stall
)

// Entry is one signal transition recorded by the simulator's tick loop.
type Entry struct {
	Tick   sched.Tick
	Signal signal.Signal
	Value  bool
}

// Recorder is a bounded single-producer/single-consumer ring buffer of
// Entry values: the simulator (the producer, via sim.HistorySink) pushes
// through Record; a history worker goroutine (the consumer) drains
// through Drain. A mutex and condition variable stand in for a lock-free
// SPSC ring -- an internal implementation choice, not a place to reach
// for a third-party queue (no such library appears anywhere in the
// pack).
type Recorder struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf   []Entry
	head  int // next slot to write
	tail  int // next slot to read
	count int

	backpressure Backpressure
	closed       bool
}

// NewRecorder creates a Recorder with room for capacity entries.
func NewRecorder(capacity int, backpressure Backpressure) *Recorder {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Recorder{
		buf:          make([]Entry, capacity),
		backpressure: backpressure,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Record implements sim.HistorySink. It is called from the simulator's
// tick loop once per changed signal on every merge.
func (r *Recorder) Record(tick sched.Tick, s signal.Signal, value bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	if r.count == len(r.buf) {
		switch r.backpressure {
		case DropOldest:
			r.tail = (r.tail + 1) % len(r.buf)
			r.count--
		case Stall:
			for r.count == len(r.buf) && !r.closed {
				r.cond.Wait()
			}
			if r.closed {
				return
			}
		}
	}

	r.buf[r.head] = Entry{Tick: tick, Signal: s, Value: value}
	r.head = (r.head + 1) % len(r.buf)
	r.count++
	r.cond.Signal()
}

// Drain blocks until at least one entry is queued (or the recorder is
// closed), then returns every entry currently queued, oldest first, and
// empties the ring.
func (r *Recorder) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.cond.Wait()
	}
	if r.count == 0 {
		return nil
	}

	out := make([]Entry, 0, r.count)
	for r.count > 0 {
		out = append(out, r.buf[r.tail])
		r.tail = (r.tail + 1) % len(r.buf)
		r.count--
	}
	r.cond.Signal() // wake a producer stalled on a full ring
	return out
}

// Len reports the number of entries currently queued, for tests and
// diagnostics.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close unblocks any goroutine waiting in Record or Drain. Once closed,
// Record silently discards further entries and Drain returns any
// remaining queued entries once, then nil forever after.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}
