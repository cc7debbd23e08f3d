// Package clock implements the free-running oscillator chip: it toggles
// its output signal at a configured half-period and schedules its own next
// wake-up, the only mechanism by which "clock edges" exist in a simulator
// that otherwise has no notion of one.
package clock

import (
	"time"

	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

// Signals names the single pin the oscillator drives.
type Signals struct {
	Clock signal.Signal
}

// Chip is a configurable oscillator. Half-period = 10^12 / (2*frequency)
// picoseconds, matching the simulator's picosecond tick resolution.
type Chip struct {
	pool    *signal.Pool
	signals Signals
	id      sim.ChipID

	frequency  uint32
	halfPeriod sim.Tick
	cycles     uint64

	// wall-clock pacing (best-effort only, per spec Non-goals)
	paceStart   time.Time
	paceEnabled bool
}

// New creates an oscillator driving signals.Clock at the given frequency
// (Hz). The clock signal must already be allocated in pool.
func New(pool *signal.Pool, signals Signals, frequencyHz uint32) *Chip {
	halfPeriod := sim.Tick(1_000_000_000_000 / (uint64(frequencyHz) * 2))
	return &Chip{
		pool:       pool,
		signals:    signals,
		halfPeriod: halfPeriod,
		frequency:  frequencyHz,
	}
}

// Pins implements sim.Chip.
func (c *Chip) Pins() []sim.PinDef {
	return []sim.PinDef{{Signal: c.signals.Clock, Dir: sim.Output}}
}

// Destroy implements sim.Chip.
func (c *Chip) Destroy() {}

// SetFrequency reconfigures the half-period used for subsequent
// self-scheduling. Takes effect on the next toggle.
func (c *Chip) SetFrequency(hz uint32) {
	c.frequency = hz
	c.halfPeriod = sim.Tick(1_000_000_000_000 / (uint64(hz) * 2))
}

// Cycles returns the number of completed positive edges.
func (c *Chip) Cycles() uint64 { return c.cycles }

// EnableWallClockPacing marks the start of real time against which the
// oscillator's virtual time is compared; see PaceToWallClock.
func (c *Chip) EnableWallClockPacing() {
	c.paceEnabled = true
	c.paceStart = time.Now()
}

// Bind is called once by device assembly after RegisterChip to remember
// this chip's id (needed to self-schedule) and to prime the first
// wake-up.
func (c *Chip) Bind(s *sim.Simulator, id sim.ChipID) error {
	c.id = id
	return s.Schedule(id, s.Now()+c.halfPeriod)
}

// Process implements sim.Chip: toggle the clock signal, count positive
// edges, and request the next wake-up.
func (c *Chip) Process(s *sim.Simulator) error {
	layer := s.ChipLayer(c.id)
	cur := c.pool.Read(c.signals.Clock)
	next := !cur
	if next {
		c.cycles++
	}
	if err := c.pool.WriteAllowRewrite(c.signals.Clock, layer, next); err != nil {
		return err
	}
	return s.Schedule(c.id, s.Now()+c.halfPeriod)
}

// PaceToWallClock sleeps the calling goroutine if virtual time (expressed
// as elapsed cycles at the configured frequency) is running ahead of real
// time since EnableWallClockPacing was called. Best-effort only -- this is
// explicitly not a guarantee of real-time playback.
func (c *Chip) PaceToWallClock() {
	if !c.paceEnabled || c.frequency == 0 {
		return
	}
	virtualElapsed := time.Duration(c.cycles) * time.Second / time.Duration(c.frequency)
	realElapsed := time.Since(c.paceStart)
	if virtualElapsed > realElapsed {
		time.Sleep(virtualElapsed - realElapsed)
	}
}
