// Package pia6520 implements the 6520 Peripheral Interface Adapter: two
// independently configurable 8-bit I/O ports (A and B), each with a pair of
// edge-sensitive control lines (CA1/CB1, CA2/CB2) that can raise an
// interrupt or, for the "2" line, be driven as an output in one of several
// sub-modes.
//
// The register file and Process loop follow the same two-phase
// shadow-register idiom used elsewhere in this simulator's chips: internal
// per-edge state (which transitions happened, whether a port was read or
// written this cycle) is evaluated on every falling PHI2 edge and only the
// final outputs are driven onto the pool.
package pia6520

import (
	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

// Control register bit layout (CRA/CRB), matching the 6520 datasheet.
const (
	crIRQ1Enable  = uint8(1) << 0
	crC1Edge      = uint8(1) << 1 // 0 = negative edge, 1 = positive edge
	crDDROrSelect = uint8(1) << 2 // 0 = DDR visible at reg 0/2, 1 = OR/port visible
	crCL2Bit3     = uint8(1) << 3
	crCL2Bit4     = uint8(1) << 4
	crCL2Output   = uint8(1) << 5 // 0 = CL2 is an interrupt input, 1 = CL2 is an output
	crIRQ2Flag    = uint8(1) << 6
	crIRQ1Flag    = uint8(1) << 7
)

// Signals names the pins of a 6520 PIA. CS0/CS1/CS2b/RS0/RS1/RW mirror the
// real device's chip-select and register-address lines for bus-trace
// fidelity (history, external glue logic observing the bus); actual
// register access happens synchronously through BusRead/BusWrite, called
// directly by the device's CPU-facing Bus adapter rather than decoded
// from these pins on every Process call.
type Signals struct {
	Data   signal.Group // 8-bit, input/output
	PortA  signal.Group // 8-bit, input/output
	PortB  signal.Group // 8-bit, input/output
	CA1    signal.Signal
	CA2    signal.Signal
	CB1    signal.Signal
	CB2    signal.Signal
	IRQAb  signal.Signal
	IRQBb  signal.Signal
	RS0    signal.Signal
	RS1    signal.Signal
	RESETb signal.Signal
	Clock  signal.Signal // PHI2
	CS0    signal.Signal
	CS1    signal.Signal
	CS2b   signal.Signal
	RW     signal.Signal // true = read (pia -> bus), false = write
}

type portState struct {
	prevCL1, prevCL2     bool
	transCL1, transCL2   bool
	readPort, writePort  bool
}

// Chip is a 6520 PIA.
type Chip struct {
	pool    *signal.Pool
	signals Signals
	id      sim.ChipID
	layer   uint8

	ddrA, craReg, oraReg uint8
	ddrB, crbReg, orbReg uint8

	stateA, stateB portState
	internalCA2, internalCB2 bool
	outIRQAb, outIRQBb       bool

	prevClock  bool
	outEnabled bool
	outData    uint8
}

// New creates a PIA chip. Call Bind after registering it with the
// simulator.
func New(pool *signal.Pool, signals Signals) *Chip {
	return &Chip{pool: pool, signals: signals, outIRQAb: true, outIRQBb: true}
}

// Bind remembers the chip id/layer assigned at registration.
func (c *Chip) Bind(id sim.ChipID, layer uint8) { c.id, c.layer = id, layer }

// Pins implements sim.Chip.
func (c *Chip) Pins() []sim.PinDef {
	pins := []sim.PinDef{
		{Signal: c.signals.CA1, Dir: sim.Input},
		{Signal: c.signals.CA2, Dir: sim.Input | sim.Output},
		{Signal: c.signals.CB1, Dir: sim.Input},
		{Signal: c.signals.CB2, Dir: sim.Input | sim.Output},
		{Signal: c.signals.IRQAb, Dir: sim.Output},
		{Signal: c.signals.IRQBb, Dir: sim.Output},
		{Signal: c.signals.RS0, Dir: sim.Input},
		{Signal: c.signals.RS1, Dir: sim.Input},
		{Signal: c.signals.RESETb, Dir: sim.Input},
		{Signal: c.signals.Clock, Dir: sim.Input | sim.Trigger},
		{Signal: c.signals.CS0, Dir: sim.Input},
		{Signal: c.signals.CS1, Dir: sim.Input},
		{Signal: c.signals.CS2b, Dir: sim.Input},
		{Signal: c.signals.RW, Dir: sim.Input},
	}
	for _, s := range c.signals.Data {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input | sim.Output})
	}
	for _, s := range c.signals.PortA {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input | sim.Output})
	}
	for _, s := range c.signals.PortB {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input | sim.Output})
	}
	return pins
}

// Destroy implements sim.Chip.
func (c *Chip) Destroy() {}

// BusWrite writes one of the four RS1:RS0-addressed registers directly,
// bypassing the bus -- the device's CPU-facing Bus adapter calls this
// synchronously on every write cycle targeting the PIA, the same way
// memory.RAM.WriteByte bypasses its own CE_B/WE_B pool gating. The
// register mutation is immediately visible to the edge-detection and
// output logic the next time Process runs within the same tick.
func (c *Chip) BusWrite(rs uint8, data uint8) {
	switch rs & 0x3 {
	case 0:
		if c.craReg&crDDROrSelect != 0 {
			c.oraReg = data
			c.stateA.writePort = true
		} else {
			c.ddrA = data
		}
	case 1:
		c.craReg = (c.craReg & 0xC0) | (data & 0x3F)
		if c.craReg&crCL2Output != 0 && c.craReg&crCL2Bit4 == 0 {
			c.internalCA2 = true
		}
	case 2:
		if c.crbReg&crDDROrSelect != 0 {
			c.orbReg = data
			c.stateB.writePort = true
		} else {
			c.ddrB = data
		}
	case 3:
		c.crbReg = (c.crbReg & 0xC0) | (data & 0x3F)
		if c.crbReg&crCL2Output != 0 && c.crbReg&crCL2Bit4 == 0 {
			c.internalCB2 = true
		}
	}
}

// BusRead reads one of the four RS1:RS0-addressed registers directly,
// bypassing the bus. A read of ORA/ORB (rather than the DDR sharing the
// same address) marks the port as read this cycle, which the next
// falling-edge Process call uses to clear the IRQ flags and drive CL2 handshake/pulse
// output modes, matching real 6520 behavior.
func (c *Chip) BusRead(rs uint8) uint8 {
	var val uint8
	switch rs & 0x3 {
	case 0:
		if c.craReg&crDDROrSelect != 0 {
			c.stateA.readPort = true
			val = uint8(c.signals.PortA.Read(c.pool))
		} else {
			val = c.ddrA
		}
	case 1:
		val = c.craReg
	case 2:
		if c.crbReg&crDDROrSelect != 0 {
			c.stateB.readPort = true
			val = uint8(c.signals.PortB.Read(c.pool))
		} else {
			val = c.ddrB
		}
	case 3:
		val = c.crbReg
	}
	c.outData, c.outEnabled = val, true
	return val
}

// controlRegisterIRQRoutine tracks CL1/CL2 edges and latches the IRQ1/IRQ2
// flags in the control register, following the 6520's exact rule: a read
// of the peripheral port clears both flags, then any active transition of
// CL1/CL2 this cycle re-sets them.
func controlRegisterIRQRoutine(reg *uint8, cl1, cl2 bool, st *portState) {
	irq1Pos := *reg&crC1Edge != 0
	st.transCL1 = (cl1 && !st.prevCL1 && irq1Pos) || (!cl1 && st.prevCL1 && !irq1Pos)

	irq2Pos := *reg&crCL2Bit4 != 0
	st.transCL2 = *reg&crCL2Output == 0 &&
		((cl2 && !st.prevCL2 && irq2Pos) || (!cl2 && st.prevCL2 && !irq2Pos))

	if st.readPort {
		*reg &^= crIRQ1Flag | crIRQ2Flag
	}
	if st.transCL1 {
		*reg |= crIRQ1Flag
	}
	if st.transCL2 {
		*reg |= crIRQ2Flag
	}
	if *reg&crCL2Output != 0 {
		*reg &^= crIRQ2Flag
	}

	st.prevCL1, st.prevCL2 = cl1, cl2
}

// runEdgeLogic updates the IRQ-flag/output state that the real 6520
// re-evaluates on every PHI2 falling edge: CL1/CL2 transition detection,
// the IRQA_B/IRQB_B output levels, and the CL2 output sub-mode. Register
// reads/writes themselves happen synchronously through BusRead/BusWrite
// (see their doc comments); this only reacts to the readPort/writePort
// flags those calls left behind.
func (c *Chip) runEdgeLogic() {
	ca1 := c.pool.Read(c.signals.CA1)
	ca2 := c.pool.Read(c.signals.CA2)
	controlRegisterIRQRoutine(&c.craReg, ca1, ca2, &c.stateA)

	cb1 := c.pool.Read(c.signals.CB1)
	cb2 := c.pool.Read(c.signals.CB2)
	controlRegisterIRQRoutine(&c.crbReg, cb1, cb2, &c.stateB)

	// Bit 3 doubles as the CL2 IRQ enable, but only while CL2 is configured
	// as an interrupt input; in output mode it selects a CL2 sub-mode
	// instead and IRQ2 can never be asserted.
	irq2AEnabled := c.craReg&crCL2Output == 0 && c.craReg&crCL2Bit3 != 0
	c.outIRQAb = !((c.craReg&crIRQ1Flag != 0 && c.craReg&crIRQ1Enable != 0) ||
		(c.craReg&crIRQ2Flag != 0 && irq2AEnabled))
	irq2BEnabled := c.crbReg&crCL2Output == 0 && c.crbReg&crCL2Bit3 != 0
	c.outIRQBb = !((c.crbReg&crIRQ1Flag != 0 && c.crbReg&crIRQ1Enable != 0) ||
		(c.crbReg&crIRQ2Flag != 0 && irq2BEnabled))

	c.updateCL2Output(&c.craReg, &c.internalCA2, c.stateA)
	c.updateCL2Output(&c.crbReg, &c.internalCB2, c.stateB)
}

// updateCL2Output implements the three CL2-as-output sub-modes: manual
// (follows the value held in bit 3), handshake (goes low on a port read,
// returns high on the next active CL1 transition) and pulse (goes low on a
// port read, returns high unconditionally the next cycle).
func (c *Chip) updateCL2Output(reg *uint8, internal *bool, st portState) {
	if *reg&crCL2Output == 0 {
		return
	}
	switch {
	case *reg&crCL2Bit4 != 0:
		*internal = *reg&crCL2Bit3 != 0
	case st.readPort || st.writePort:
		*internal = false
	case *reg&crCL2Bit3 != 0:
		*internal = true
	default:
		*internal = *internal || st.transCL1
	}
}

func (c *Chip) processEnd() error {
	if err := c.pool.WriteAllowRewrite(c.signals.IRQAb, c.layer, c.outIRQAb); err != nil {
		return err
	}
	if err := c.pool.WriteAllowRewrite(c.signals.IRQBb, c.layer, c.outIRQBb); err != nil {
		return err
	}

	if err := c.signals.PortA.WriteAllowRewrite(c.pool, c.layer, uint64(c.oraReg)&uint64(c.ddrA)); err != nil {
		return err
	}
	if err := c.signals.PortB.WriteAllowRewrite(c.pool, c.layer, uint64(c.orbReg)&uint64(c.ddrB)); err != nil {
		return err
	}

	if c.craReg&crCL2Output != 0 {
		if err := c.pool.WriteAllowRewrite(c.signals.CA2, c.layer, c.internalCA2); err != nil {
			return err
		}
	} else if err := c.pool.ClearWriter(c.signals.CA2, c.layer); err != nil {
		return err
	}
	if c.crbReg&crCL2Output != 0 {
		if err := c.pool.WriteAllowRewrite(c.signals.CB2, c.layer, c.internalCB2); err != nil {
			return err
		}
	} else if err := c.pool.ClearWriter(c.signals.CB2, c.layer); err != nil {
		return err
	}

	if c.outEnabled {
		return c.signals.Data.WriteAllowRewrite(c.pool, c.layer, uint64(c.outData))
	}
	return c.signals.Data.ClearWriter(c.pool, c.layer)
}

// Process implements sim.Chip. The PIA is a dependent of PHI2 (Clock) and
// re-evaluates its edge-triggered state on every falling clock transition.
// BusRead/BusWrite (called synchronously by the device's Bus adapter
// earlier in the same tick, since the CPU is always registered before the
// PIA) leave readPort/writePort/outEnabled set. readPort/writePort stay
// set until the next falling edge, whose runEdgeLogic consumes them;
// outEnabled is cleared once this call's output has been driven, so a
// tick with no bus read of this chip releases the data bus.
func (c *Chip) Process(s *sim.Simulator) error {
	if !c.pool.Read(c.signals.RESETb) {
		c.ddrA, c.craReg, c.oraReg = 0, 0, 0
		c.ddrB, c.crbReg, c.orbReg = 0, 0, 0
		c.outIRQAb, c.outIRQBb = true, true
		c.outEnabled = false
		c.stateA.readPort, c.stateA.writePort = false, false
		c.stateB.readPort, c.stateB.writePort = false, false
		return c.processEnd()
	}

	clock := c.pool.Read(c.signals.Clock)
	edge := clock != c.prevClock
	c.prevClock = clock
	if edge && !clock {
		c.runEdgeLogic()
		c.stateA.readPort, c.stateA.writePort = false, false
		c.stateB.readPort, c.stateB.writePort = false, false
	}

	err := c.processEnd()
	c.outEnabled = false
	return err
}
