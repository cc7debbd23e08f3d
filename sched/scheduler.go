// Package sched implements the simulator's time-ordered wake-up queue: a
// min-heap keyed on (timestamp, chip id) that lets chips request to be
// re-evaluated at a future tick without the simulator having to poll every
// chip on every idle tick.
package sched

import (
	"container/heap"
	"math"
)

// Tick is the simulator's atomic time unit (picoseconds, by convention).
type Tick uint64

// Infinite represents "no event pending" for Scheduler.PeekNext.
const Infinite = Tick(math.MaxUint64)

// ChipID identifies a registered chip (0..63, the width of a dependency
// mask).
type ChipID uint8

type entry struct {
	when  Tick
	chip  ChipID
	index int // heap index, maintained by container/heap callbacks
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].chip < h[j].chip
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is a min-heap of pending chip wake-ups. A chip may have at most
// one pending entry at a time: scheduling it again collapses to the
// earliest of the old and new timestamps.
type Scheduler struct {
	heap    entryHeap
	pending map[ChipID]*entry
}

// New returns an empty scheduler.
func New() *Scheduler {
	return &Scheduler{pending: make(map[ChipID]*entry)}
}

// Schedule requests that chip be woken at (no later than) when. If chip
// already has a pending wake-up, the earlier of the two timestamps wins and
// the existing entry is simply retimed in place.
func (s *Scheduler) Schedule(chip ChipID, when Tick) {
	if e, ok := s.pending[chip]; ok {
		if when < e.when {
			e.when = when
			heap.Fix(&s.heap, e.index)
		}
		return
	}
	e := &entry{when: when, chip: chip}
	s.pending[chip] = e
	heap.Push(&s.heap, e)
}

// Cancel removes any pending wake-up for chip, if one exists.
func (s *Scheduler) Cancel(chip ChipID) {
	e, ok := s.pending[chip]
	if !ok {
		return
	}
	heap.Remove(&s.heap, e.index)
	delete(s.pending, chip)
}

// PopDue removes and returns every chip whose pending wake-up is at or
// before now. Order among chips sharing a timestamp is unspecified; the
// simulator relies on every chip in the batch running before the next
// merge, not on any particular order within it.
func (s *Scheduler) PopDue(now Tick) []ChipID {
	var due []ChipID
	for s.heap.Len() > 0 && s.heap[0].when <= now {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.pending, e.chip)
		due = append(due, e.chip)
	}
	return due
}

// PeekNext returns the timestamp of the earliest pending wake-up, or
// Infinite if the scheduler is empty.
func (s *Scheduler) PeekNext() Tick {
	if s.heap.Len() == 0 {
		return Infinite
	}
	return s.heap[0].when
}

// Len reports the number of chips with a pending wake-up.
func (s *Scheduler) Len() int { return s.heap.Len() }
