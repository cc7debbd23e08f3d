package history

import (
	"bufio"
	"fmt"
	"io"

	"github.com/JohanSmet/dromaius/sched"
	"github.com/JohanSmet/dromaius/signal"
)

// Writer emits an LXT-style waveform trace: a preamble declaring one
// 1-bit symbol per traced signal, followed by (timestamp_ps, symbol_id,
// value) body tuples in non-decreasing timestamp order. The consumer (an
// external viewer) is responsible for rendering; this package only
// produces the wire format described by spec.md §6.
type Writer struct {
	w       *bufio.Writer
	ids     map[signal.Signal]uint32
	last    sched.Tick
	started bool
}

// NewWriter creates a Writer over w and immediately emits the preamble,
// one declaration per signal in signals, named from pool (falling back
// to "sigN" for a signal with no registered name).
func NewWriter(w io.Writer, pool *signal.Pool, signals []signal.Signal) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprint(bw, "$date\n$end\n$timescale 1ps $end\n"); err != nil {
		return nil, fmt.Errorf("history: writing LXT header: %w", err)
	}

	ids := make(map[signal.Signal]uint32, len(signals))
	for i, s := range signals {
		id := uint32(i)
		ids[s] = id
		name := pool.SignalName(s)
		if name == "" {
			name = fmt.Sprintf("sig%d", uint32(s))
		}
		if _, err := fmt.Fprintf(bw, "$var wire 1 %d %s $end\n", id, name); err != nil {
			return nil, fmt.Errorf("history: writing LXT symbol %q: %w", name, err)
		}
	}
	if _, err := fmt.Fprint(bw, "$enddefinitions $end\n"); err != nil {
		return nil, fmt.Errorf("history: writing LXT preamble end: %w", err)
	}

	return &Writer{w: bw, ids: ids}, nil
}

// WriteEntry appends one body tuple. Entries must arrive in
// non-decreasing tick order -- the wire format has no way to represent
// time moving backwards -- and reference a signal declared at
// construction.
func (lw *Writer) WriteEntry(e Entry) error {
	if lw.started && e.Tick < lw.last {
		return fmt.Errorf("history: entry tick %d precedes previous tick %d", e.Tick, lw.last)
	}
	id, ok := lw.ids[e.Signal]
	if !ok {
		return fmt.Errorf("history: signal %d was not declared in the preamble", e.Signal)
	}

	bit := byte('0')
	if e.Value {
		bit = '1'
	}
	if _, err := fmt.Fprintf(lw.w, "#%d\n%c%d\n", e.Tick, bit, id); err != nil {
		return fmt.Errorf("history: writing LXT entry: %w", err)
	}
	lw.last = e.Tick
	lw.started = true
	return nil
}

// WriteAll writes a whole batch of entries (e.g. one Recorder.Drain
// result) in order, stopping at the first error.
func (lw *Writer) WriteAll(entries []Entry) error {
	for _, e := range entries {
		if err := lw.WriteEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes any buffered output to the underlying writer.
func (lw *Writer) Flush() error { return lw.w.Flush() }

// WriteLXT is a convenience entry point for the common case: drain
// everything currently queued in r and write it as a complete LXT file
// (preamble declaring signals, body of its entries) to w, then flush.
func WriteLXT(w io.Writer, pool *signal.Pool, signals []signal.Signal, r *Recorder) error {
	lw, err := NewWriter(w, pool, signals)
	if err != nil {
		return err
	}
	if err := lw.WriteAll(r.Drain()); err != nil {
		return err
	}
	return lw.Flush()
}
