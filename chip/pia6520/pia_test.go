package pia6520

import (
	"testing"

	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

type harness struct {
	t    *testing.T
	s    *sim.Simulator
	pool *signal.Pool
	pia  *Chip
	sigs Signals
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := sim.New()
	pool := s.Pool()

	data, _ := signal.NewGroup(pool, 8, "data")
	portA, _ := signal.NewGroup(pool, 8, "porta")
	portB, _ := signal.NewGroup(pool, 8, "portb")

	sigs := Signals{Data: data, PortA: portA, PortB: portB}
	for _, sig := range []*signal.Signal{
		&sigs.CA1, &sigs.CA2, &sigs.CB1, &sigs.CB2,
		&sigs.IRQAb, &sigs.IRQBb, &sigs.RS0, &sigs.RS1,
		&sigs.RESETb, &sigs.Clock, &sigs.CS0, &sigs.CS1, &sigs.CS2b, &sigs.RW,
	} {
		var err error
		if *sig, err = pool.Create(); err != nil {
			t.Fatalf("Create signal: %v", err)
		}
	}
	pool.SetDefault(sigs.RESETb, true)
	pool.SetDefault(sigs.CA1, false)
	pool.SetDefault(sigs.CA2, false)
	pool.SetDefault(sigs.CB1, false)
	pool.SetDefault(sigs.CB2, false)

	pia := New(pool, sigs)
	id, err := s.RegisterChip(pia, "pia")
	if err != nil {
		t.Fatalf("RegisterChip: %v", err)
	}
	pia.Bind(id, s.ChipLayer(id))

	if err := s.DeviceComplete(); err != nil {
		t.Fatalf("DeviceComplete: %v", err)
	}

	return &harness{t: t, s: s, pool: pool, pia: pia, sigs: sigs}
}

// setClock drives the clock signal to level and runs enough simulator
// steps for the PIA to actually observe the merged value: a freshly
// written signal is only visible to a dependent chip's Process on the
// step *after* the one that merges it, so one write needs two Steps.
func (h *harness) setClock(level bool) {
	h.t.Helper()
	if err := h.pool.WriteAllowRewrite(h.sigs.Clock, 0, level); err != nil {
		h.t.Fatalf("Write Clock: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := h.s.Step(); err != nil {
			h.t.Fatalf("Step: %v", err)
		}
	}
}

// fallingEdge drives the clock high then low, giving Process exactly one
// falling edge (the 6520's edge-evaluation point).
func (h *harness) fallingEdge() {
	h.t.Helper()
	h.setClock(true)
	h.setClock(false)
}

func TestDDRDefaultsToAllInputAndORARoundTrips(t *testing.T) {
	h := newHarness(t)

	h.pia.BusWrite(1, 0x00) // CRA: select DDRA (bit2 clear)
	h.pia.BusWrite(0, 0xFF) // DDRA: all outputs
	h.pia.BusWrite(1, 0x04) // CRA: select ORA
	h.pia.BusWrite(0, 0x5A) // ORA

	h.fallingEdge()

	if got := h.sigs.PortA.Read(h.pool); got != 0x5A {
		t.Fatalf("PortA pins = %#x, want 0x5a", got)
	}
	if got := h.pia.BusRead(0); got != 0x5A {
		t.Fatalf("BusRead(ORA) = %#x, want 0x5a", got)
	}
}

func TestDDRGatesWhichPinsAreDriven(t *testing.T) {
	h := newHarness(t)

	h.pia.BusWrite(1, 0x00)
	h.pia.BusWrite(0, 0x0F) // only the low nibble is an output
	h.pia.BusWrite(1, 0x04)
	h.pia.BusWrite(0, 0xFF) // ORA all-ones

	h.fallingEdge()

	if got := h.sigs.PortA.Read(h.pool); got != 0x0F {
		t.Fatalf("PortA pins = %#x, want 0x0f (only low nibble driven)", got)
	}
}

func TestCA1TransitionSetsIRQ1FlagAndOutput(t *testing.T) {
	h := newHarness(t)

	// CRA: IRQ1 enabled, positive edge selects ORA (bit2), DDR write first.
	h.pia.BusWrite(1, 0x00)
	h.pia.BusWrite(0, 0x00) // DDRA: all inputs
	h.pia.BusWrite(1, crC1Edge|crIRQ1Enable|crDDROrSelect)

	h.fallingEdge() // prime prevCL1 at the idle level (false)

	if err := h.pool.WriteAllowRewrite(h.sigs.CA1, 0, true); err != nil {
		t.Fatalf("Write CA1: %v", err)
	}
	h.fallingEdge() // positive edge on CA1

	if got := h.pia.BusRead(1); got&crIRQ1Flag == 0 {
		t.Fatalf("CRA = %#x, want IRQ1 flag set after a CA1 edge", got)
	}
	if h.pool.Read(h.sigs.IRQAb) {
		t.Fatalf("IRQAb should be asserted (low) once IRQ1 flag and enable are both set")
	}
}

func TestReadingPortAClearsIRQFlags(t *testing.T) {
	h := newHarness(t)
	h.pia.BusWrite(1, 0x00)
	h.pia.BusWrite(0, 0x00)
	h.pia.BusWrite(1, crC1Edge|crIRQ1Enable|crDDROrSelect)
	h.fallingEdge()
	if err := h.pool.WriteAllowRewrite(h.sigs.CA1, 0, true); err != nil {
		t.Fatalf("Write CA1: %v", err)
	}
	h.fallingEdge()
	if got := h.pia.BusRead(1); got&crIRQ1Flag == 0 {
		t.Fatalf("expected IRQ1 flag set before the port read")
	}

	// The port read stays marked until the next falling edge, where
	// runEdgeLogic consumes it and clears the flags.
	h.setClock(true)
	h.pia.BusRead(0) // reading ORA marks the port read, clearing the flag
	h.setClock(false)
	if got := h.pia.BusRead(1); got&crIRQ1Flag != 0 {
		t.Fatalf("CRA = %#x, IRQ1 flag should be cleared after reading the port", got)
	}
}

func TestCL2ManualOutputMode(t *testing.T) {
	h := newHarness(t)
	// CRA: CL2 output (bit5), manual sub-mode (bit4 set), bit3 selects level.
	h.pia.BusWrite(1, crCL2Output|crCL2Bit4|crCL2Bit3)
	h.fallingEdge()
	if !h.pool.Read(h.sigs.CA2) {
		t.Fatalf("CA2 should follow bit3 (high) in manual output mode")
	}

	h.pia.BusWrite(1, crCL2Output|crCL2Bit4)
	h.fallingEdge()
	if h.pool.Read(h.sigs.CA2) {
		t.Fatalf("CA2 should follow bit3 (low) in manual output mode")
	}
}

func TestResetClearsRegisters(t *testing.T) {
	h := newHarness(t)
	h.pia.BusWrite(1, 0x00)
	h.pia.BusWrite(0, 0xFF)
	h.pia.BusWrite(1, 0x04)
	h.pia.BusWrite(0, 0x5A)
	h.fallingEdge()

	if err := h.pool.WriteAllowRewrite(h.sigs.RESETb, 0, false); err != nil {
		t.Fatalf("Write RESETb: %v", err)
	}
	// A freshly written signal only reaches the pool's merged value (and
	// so the chip's dirty set) on the following Step -- one full step to
	// merge, one more for the chip to react.
	if err := h.s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := h.s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if got := h.pia.BusRead(1); got != 0 {
		t.Fatalf("CRA after reset = %#x, want 0", got)
	}
	if !h.pool.Read(h.sigs.IRQAb) || !h.pool.Read(h.sigs.IRQBb) {
		t.Fatalf("IRQ outputs should be deasserted (high) after reset")
	}
}
