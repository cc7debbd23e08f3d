// Package cpu6502 implements the MOS 6502 CPU chip: a three-phase
// (Begin/Middle/End), cycle-by-cycle state machine that decodes one opcode
// at a time and drives the address/data/control bus through the signal
// pool while exchanging bytes with memory through a direct Bus interface.
//
// The opcode decode/execute engine -- the per-tick addressing-mode state
// machines, the flag helpers, the instruction bodies -- is carried over
// from a conventional tick-at-a-time 6502 core and adapted onto the bus
// model: instead of calling a memory bank directly, each bus access also
// mirrors the address, data, R/W and SYNC lines onto the pool so other
// chips (chip-select glue, PIA, signal history) can observe real bus
// traffic, while the byte actually moves across a small Bus interface so
// the decode engine doesn't have to wait a full tick for memory to
// respond on every access.
package cpu6502

import (
	"errors"
	"fmt"

	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

// Status register bit positions.
const (
	P_C  = uint8(1) << 0 // carry
	P_Z  = uint8(1) << 1 // zero
	P_I  = uint8(1) << 2 // interrupt disable
	P_D  = uint8(1) << 3 // decimal
	P_B  = uint8(1) << 4 // break (only meaningful in the pushed copy)
	P_S1 = uint8(1) << 5 // unused, always reads 1
	P_V  = uint8(1) << 6 // overflow
	P_N  = uint8(1) << 7 // negative

	vecNMI   = uint16(0xFFFA)
	vecRESET = uint16(0xFFFC)
	vecIRQ   = uint16(0xFFFE)
)

// InvalidState reports the decode engine reaching a tick count an opcode's
// addressing mode doesn't define -- a programming error in the engine, not
// something a running program can trigger.
type InvalidState struct {
	Reason string
}

func (e InvalidState) Error() string { return "cpu6502: invalid state: " + e.Reason }

// Bus is the narrow interface the CPU uses to move bytes to and from
// memory. A device assembles a Bus that decodes the address against its
// memory map (RAM, ROM, PIA registers) and dispatches accordingly.
type Bus interface {
	Read(addr uint16) uint8
	Write(addr uint16, val uint8)
}

// Signals names the pins of a 6502-compatible CPU.
type Signals struct {
	Address signal.Group  // 16 lines, output
	Data    signal.Group  // 8 lines, input/output
	RW      signal.Signal // output: true = read, false = write
	Sync    signal.Signal // output: true during the opcode fetch cycle
	RESETb  signal.Signal // input, active low
	IRQb    signal.Signal // input, active low, level-sensitive
	NMIb    signal.Signal // input, active low, edge-sensitive
	RDY     signal.Signal // input: held low stalls the CPU on a read cycle
	Clock   signal.Signal // input, trigger
}

type irqType int

const (
	irqNone irqType = iota
	irqIRQ
	irqNMI
)

// Chip is a 6502 CPU. It is invoked once per rising clock edge; each
// invocation advances the opcode state machine by exactly one cycle.
type Chip struct {
	pool    *signal.Pool
	signals Signals
	bus     Bus
	id      sim.ChipID
	layer   uint8

	A, X, Y, S uint8
	PC         uint16
	P          uint8

	prevClock bool
	resetting bool
	resetTick int

	op        uint8
	opTick    int
	opVal     uint8
	opAddr    uint16
	addrDone  bool

	irqRaised        irqType
	runningInterrupt bool
	intVector        uint16
	prevSkipInt      bool
	skipInt          bool

	instrStart bool // true on the tick the CPU is about to fetch a new opcode

	// last bus transaction, mirrored onto the pool by driveBus.
	busAddr uint16
	busData uint8
	busRead bool
}

// New creates a CPU wired to bus for data transfer and signals for bus
// observability/control. The chip starts in its reset sequence, which
// brings it to a defined state; pulling RESETb low restarts that sequence.
func New(pool *signal.Pool, signals Signals, bus Bus) *Chip {
	c := &Chip{
		pool:      pool,
		signals:   signals,
		bus:       bus,
		S:         0xFD,
		P:         P_S1 | P_I,
		resetting: true,
	}
	return c
}

// Pins implements sim.Chip.
func (c *Chip) Pins() []sim.PinDef {
	pins := []sim.PinDef{
		{Signal: c.signals.RW, Dir: sim.Output},
		{Signal: c.signals.Sync, Dir: sim.Output},
		{Signal: c.signals.RESETb, Dir: sim.Input},
		{Signal: c.signals.IRQb, Dir: sim.Input},
		{Signal: c.signals.NMIb, Dir: sim.Input},
		{Signal: c.signals.RDY, Dir: sim.Input},
		{Signal: c.signals.Clock, Dir: sim.Input | sim.Trigger},
	}
	for _, s := range c.signals.Address {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Output})
	}
	for _, s := range c.signals.Data {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input | sim.Output})
	}
	return pins
}

// Destroy implements sim.Chip.
func (c *Chip) Destroy() {}

// Bind remembers the chip id/layer assigned at registration.
func (c *Chip) Bind(id sim.ChipID, layer uint8) { c.id, c.layer = id, layer }

// Registers exposes the architectural register file, mainly for monitor
// commands and tests.
func (c *Chip) Registers() (a, x, y, s uint8, pc uint16, p uint8) {
	return c.A, c.X, c.Y, c.S, c.PC, c.P
}

// IsAtStartOfInstruction reports whether the chip is about to fetch a new
// opcode on its next Process invocation (used by the monitor's
// SingleInstruction command to know when to stop).
func (c *Chip) IsAtStartOfInstruction() bool { return c.instrStart }

// OverrideNextInstructionAddress forces PC, used by the monitor/disassembler
// to redirect execution (e.g. after loading a program).
func (c *Chip) OverrideNextInstructionAddress(addr uint16) { c.PC = addr }

// Process implements sim.Chip: advance one cycle on every rising clock edge.
func (c *Chip) Process(s *sim.Simulator) error {
	clock := c.pool.Read(c.signals.Clock)
	rising := clock && !c.prevClock
	c.prevClock = clock
	if !rising {
		return nil
	}

	if !c.pool.Read(c.signals.RESETb) {
		c.beginReset()
		return c.driveBus(s)
	}
	if c.resetting {
		if err := c.stepReset(); err != nil {
			return err
		}
		return c.driveBus(s)
	}

	if !c.pool.Read(c.signals.RDY) && c.instrStart {
		// RDY held low during an opcode fetch stalls the CPU entirely.
		return c.driveBus(s)
	}

	if err := c.step(); err != nil {
		return err
	}
	return c.driveBus(s)
}

// driveBus mirrors the CPU's current address/data/RW/SYNC state onto the
// pool so other chips (memory chip-select glue, PIA, history) see real bus
// traffic even though the byte itself moved through the Bus interface.
func (c *Chip) driveBus(s *sim.Simulator) error {
	if err := c.signals.Address.WriteAllowRewrite(c.pool, c.layer, uint64(c.busAddr)); err != nil {
		return err
	}
	if err := c.pool.WriteAllowRewrite(c.signals.RW, c.layer, c.busRead); err != nil {
		return err
	}
	if err := c.pool.WriteAllowRewrite(c.signals.Sync, c.layer, c.instrStart); err != nil {
		return err
	}
	if c.busRead {
		if err := c.signals.Data.ClearWriter(c.pool, c.layer); err != nil {
			return err
		}
	} else {
		if err := c.signals.Data.WriteAllowRewrite(c.pool, c.layer, uint64(c.busData)); err != nil {
			return err
		}
	}
	return nil
}

// read performs a bus read: fetches through the Bus interface and records
// the transaction so driveBus can mirror it onto the pool.
func (c *Chip) read(addr uint16) uint8 {
	val := c.bus.Read(addr)
	c.busAddr, c.busData, c.busRead = addr, val, true
	return val
}

// write performs a bus write.
func (c *Chip) write(addr uint16, val uint8) {
	c.bus.Write(addr, val)
	c.busAddr, c.busData, c.busRead = addr, val, false
}

func (c *Chip) beginReset() {
	if !c.resetting {
		c.resetting = true
		c.resetTick = 0
	}
}

// stepReset runs the seven-cycle 6502 reset sequence: two dummy reads at
// PC, three dummy stack-pointer decrements (as if pushing PC/P without
// writing, since RESETb forces all bus writes to reads on real silicon),
// then the two-byte vector fetch from 0xFFFC. The first opcode fetch
// follows on the eighth cycle.
func (c *Chip) stepReset() error {
	c.resetTick++
	switch c.resetTick {
	case 1, 2:
		_ = c.read(c.PC)
	case 3, 4, 5:
		_ = c.read(0x0100 + uint16(c.S))
		c.S--
	case 6:
		c.opVal = c.read(vecRESET)
	case 7:
		hi := c.read(vecRESET + 1)
		c.PC = uint16(c.opVal) | (uint16(hi) << 8)
		c.A, c.X, c.Y = 0, 0, 0
		c.S = 0xFD
		c.P = P_S1 | P_I
		c.resetting = false
		c.instrStart = true
		_ = c.read(c.PC)
	default:
		return InvalidState{fmt.Sprintf("reset sequence tick %d", c.resetTick)}
	}
	return nil
}

var (
	// ErrUnimplementedOpcode flags an opcode byte the decode table has no
	// entry for. Real 6502 silicon executes every opcode byte as *some*
	// instruction (official or not); the table holds the documented
	// opcodes only, so every undocumented opcode byte surfaces as this
	// error.
	ErrUnimplementedOpcode = errors.New("cpu6502: unimplemented opcode")
)

// step advances the opcode state machine by one cycle.
func (c *Chip) step() error {
	if c.instrStart {
		return c.fetchOpcode()
	}

	c.opTick++

	if c.runningInterrupt {
		done, err := c.runInterrupt(c.intVector, true)
		if err != nil {
			return err
		}
		if done {
			c.irqRaised = irqNone
			c.runningInterrupt = false
			c.finishInstruction()
		}
		return nil
	}

	entry, ok := opcodes[c.op]
	if !ok {
		return fmt.Errorf("%w: $%02X at $%04X", ErrUnimplementedOpcode, c.op, c.PC-1)
	}

	done, err := entry.run(c)
	if err != nil {
		return err
	}
	if done {
		c.finishInstruction()
	}
	return nil
}

// fetchOpcode performs the universal first cycle of every instruction: for
// a pending, unmasked NMI/IRQ it instead begins the shared interrupt
// service sequence (no opcode byte is consumed). Otherwise it reads the
// opcode byte at PC, bumps PC, and prepares to decode it.
func (c *Chip) fetchOpcode() error {
	c.checkInterrupts()
	c.prevSkipInt = c.skipInt
	c.skipInt = false

	if c.irqRaised != irqNone && !c.prevSkipInt {
		c.instrStart = false
		c.opTick = 1
		c.runningInterrupt = true
		c.intVector = vecIRQ
		if c.irqRaised == irqNMI {
			c.intVector = vecNMI
		}
		_ = c.read(c.PC)
		return nil
	}

	c.instrStart = false
	c.op = c.read(c.PC)
	c.PC++
	c.opTick = 1
	c.addrDone = false
	return nil
}

func (c *Chip) finishInstruction() {
	c.instrStart = true
	c.opTick = 0
}

// checkInterrupts samples NMIb (edge) and IRQb (level, gated by the I
// flag) at the start of every instruction, matching real 6502 interrupt
// polling, which happens during the last cycle of the previous instruction.
func (c *Chip) checkInterrupts() {
	if !c.pool.Read(c.signals.NMIb) {
		c.irqRaised = irqNMI
		return
	}
	if !c.pool.Read(c.signals.IRQb) && c.P&P_I == 0 {
		c.irqRaised = irqIRQ
		return
	}
	if c.irqRaised == irqIRQ && c.pool.Read(c.signals.IRQb) {
		c.irqRaised = irqNone
	}
}
