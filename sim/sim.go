// Package sim implements the discrete-event core: the chip contract and the
// Simulator that owns the signal pool, the scheduler and the chip registry,
// and drives the tick loop described in the design (merge writes, compute
// the dirty-chip set, invoke exactly the chips that must run).
package sim

import (
	"errors"
	"fmt"

	"github.com/JohanSmet/dromaius/sched"
	"github.com/JohanSmet/dromaius/signal"
)

// Tick is re-exported from sched so callers don't need to import both
// packages for the common case of scheduling a future wake-up.
type Tick = sched.Tick

// ChipID identifies a registered chip. Chips are assigned ids in
// ascending order of registration, 0..63 (the width of a dependency mask).
type ChipID = sched.ChipID

// MaxChips is the hard cap on the number of chips a single Simulator can
// host, set by the width of the uint64 dependency/dirty masks.
const MaxChips = signal.MaxChips

var (
	// ErrTooManyChips is returned by RegisterChip once MaxChips chips have
	// already been registered.
	ErrTooManyChips = errors.New("sim: chip registry full")
	// ErrSealed is returned by RegisterChip and DeviceComplete after
	// DeviceComplete has run. Structural pool operations report
	// signal.ErrSealed instead.
	ErrSealed = errors.New("sim: simulator already sealed")
	// ErrNotSealed is returned by Step/Run if called before DeviceComplete.
	ErrNotSealed = errors.New("sim: device not assembled (call DeviceComplete first)")
	// ErrPastWakeup is a contract violation: a chip asked to be scheduled
	// at a tick that has already passed.
	ErrPastWakeup = errors.New("sim: chip requested a wake-up in the past")
)

// Direction is a bitfield describing how a chip uses one of its pins.
type Direction uint8

const (
	// Input marks a pin whose value the chip reads; it participates in
	// dependency bookkeeping (the chip reruns when it changes).
	Input Direction = 1 << iota
	// Output marks a pin the chip may drive.
	Output
	// Trigger additionally causes the chip to run on any change of the
	// pin, on top of whatever Input/Output bits are also set.
	Trigger
)

// PinDef names one pin of a chip and how the chip uses it.
type PinDef struct {
	Signal signal.Signal
	Dir    Direction
}

// Chip is the uniform contract every device implements. A chip must not
// mutate any other chip's state, hold references across Process calls, or
// assume any particular evaluation order among chips that run in the same
// tick.
type Chip interface {
	// Process is invoked when the chip is due to run: because one of its
	// dependency signals changed on the previous merge, because it asked
	// for a wake-up at this tick, or because it is always-active. It may
	// read the pool (values as of the previous tick), write to its own
	// layer, and request a future wake-up via Simulator.Schedule.
	Process(s *Simulator) error
	// Destroy releases any private resources the chip holds.
	Destroy()
	// Pins lists the chip's pins and their direction.
	Pins() []PinDef
}

// AlwaysActive may optionally be implemented by a chip that must run every
// tick regardless of dependency/wake-up state (e.g. a free-running
// oscillator that schedules its own first wake-up lazily).
type AlwaysActive interface {
	AlwaysActive() bool
}

// HistorySink receives (tick, signal, value) records for every signal that
// changed on a merge, when attached via Simulator.AttachHistory.
type HistorySink interface {
	Record(tick Tick, s signal.Signal, value bool)
}

type registeredChip struct {
	id    ChipID
	name  string
	chip  Chip
	layer uint8
	always bool
}

// Simulator owns the signal pool, the scheduler and the chip registry, and
// drives the tick loop.
type Simulator struct {
	pool  *signal.Pool
	sched *sched.Scheduler

	chips      []*registeredChip
	nextLayer  uint8
	sealed     bool
	current    Tick

	dirty    uint64 // dirty_from_last_merge, computed by the previous Cycle
	always   uint64 // mask of always-active chips

	history HistorySink
}

// New creates an empty Simulator with a fresh signal pool and scheduler.
func New() *Simulator {
	return &Simulator{
		pool:  signal.NewPool(),
		sched: sched.New(),
	}
}

// Pool returns the simulator's signal pool.
func (s *Simulator) Pool() *signal.Pool { return s.pool }

// Now returns the current tick.
func (s *Simulator) Now() Tick { return s.current }

// AttachHistory installs a sink that receives a record for every signal
// that changes on each merge. Pass nil to detach.
func (s *Simulator) AttachHistory(h HistorySink) { s.history = h }

// RegisterChip assigns the chip the next chip id and writer layer, in
// ascending order of registration, and records its pin dependency masks.
// Fails once the simulator is sealed or the chip registry (64 entries) is
// full.
func (s *Simulator) RegisterChip(c Chip, name string) (ChipID, error) {
	if s.sealed {
		return 0, ErrSealed
	}
	if len(s.chips) >= MaxChips {
		return 0, fmt.Errorf("%w: limit %d", ErrTooManyChips, MaxChips)
	}
	id := ChipID(len(s.chips))
	layer := s.nextLayer
	s.nextLayer++
	if err := s.pool.SetLayerCount(s.nextLayer); err != nil {
		return 0, fmt.Errorf("sim: assigning layer %d to chip %q: %w", layer, name, err)
	}

	rc := &registeredChip{id: id, name: name, chip: c, layer: layer}
	if aa, ok := c.(AlwaysActive); ok && aa.AlwaysActive() {
		rc.always = true
		s.always |= uint64(1) << id
	}

	for _, pin := range c.Pins() {
		if pin.Dir&(Input|Trigger) != 0 {
			if err := s.pool.AddDependency(pin.Signal, uint8(id)); err != nil {
				return 0, fmt.Errorf("sim: chip %q pin dependency: %w", name, err)
			}
		}
	}

	s.chips = append(s.chips, rc)
	return id, nil
}

// ChipLayer returns the writer layer assigned to a registered chip. Chips
// use it when calling signal.Pool.Write/ClearWriter on their own pins.
func (s *Simulator) ChipLayer(id ChipID) uint8 {
	return s.chips[id].layer
}

// Schedule requests that chip be re-run no later than tick `when`. Called
// by a chip's Process method (or by device assembly code, e.g. to kick off
// an oscillator). `when` must not be in the past.
func (s *Simulator) Schedule(id ChipID, when Tick) error {
	if when < s.current {
		return fmt.Errorf("%w: chip %d tick %d < current %d", ErrPastWakeup, id, when, s.current)
	}
	s.sched.Schedule(id, when)
	return nil
}

// DeviceComplete seals the pool (freezing layer count, dependency maps and
// defaults), then runs an initial settling pass: every registered chip is
// invoked once and the pool is merged, so the device starts in a
// consistent state before the first real Step.
func (s *Simulator) DeviceComplete() error {
	if s.sealed {
		return ErrSealed
	}
	s.sealed = true
	s.pool.Seal()

	for _, rc := range s.chips {
		if err := rc.chip.Process(s); err != nil {
			return fmt.Errorf("sim: initial settle of chip %q: %w", rc.name, err)
		}
	}
	s.dirty = s.pool.Cycle()
	s.emitHistory()
	return nil
}

// Step advances the simulator by exactly one tick: it jumps to the next
// event time (the later of current+1 and the next scheduled wake-up),
// runs every chip that is dirty, due, or always-active, and merges the
// pool.
func (s *Simulator) Step() error {
	if !s.sealed {
		return ErrNotSealed
	}

	next := s.sched.PeekNext()
	now := s.current + 1
	if next != sched.Infinite && next > now {
		now = next
	}
	s.current = now

	due := s.sched.PopDue(now)
	work := s.dirty | s.always
	for _, id := range due {
		work |= uint64(1) << id
	}

	for work != 0 {
		id := ChipID(lowestSetBit64(work))
		work &^= uint64(1) << id
		if int(id) >= len(s.chips) {
			continue
		}
		rc := s.chips[id]
		if err := rc.chip.Process(s); err != nil {
			return fmt.Errorf("sim: chip %q (id %d) at tick %d: %w", rc.name, id, s.current, err)
		}
	}

	s.dirty = s.pool.Cycle()
	s.emitHistory()
	return nil
}

func (s *Simulator) emitHistory() {
	if s.history == nil {
		return
	}
	for sigID := signal.Signal(1); uint32(sigID) < s.pool.Count(); sigID++ {
		if s.pool.Changed(sigID) {
			s.history.Record(s.current, sigID, s.pool.Read(sigID))
		}
	}
}

// RunUntil repeatedly steps the simulator until predicate returns true.
// predicate is evaluated after every step (including the first).
func (s *Simulator) RunUntil(predicate func(*Simulator) bool) error {
	for {
		if err := s.Step(); err != nil {
			return err
		}
		if predicate(s) {
			return nil
		}
	}
}

// Destroy releases every registered chip's private state.
func (s *Simulator) Destroy() {
	for _, rc := range s.chips {
		rc.chip.Destroy()
	}
}

func lowestSetBit64(v uint64) int {
	for i := 0; i < 64; i++ {
		if v&(uint64(1)<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}
