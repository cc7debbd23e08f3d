// Package device assembles whole, runnable systems out of the chip
// packages: a signal pool, a scheduler-driven Simulator, and a set of
// chips wired together the way a real minimal 6502 board wires its RAM,
// ROM, PIA and oscillator.
package device

import (
	"fmt"

	"github.com/JohanSmet/dromaius/chip/clock"
	"github.com/JohanSmet/dromaius/chip/cpu6502"
	"github.com/JohanSmet/dromaius/chip/memory"
	"github.com/JohanSmet/dromaius/chip/pia6520"
	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

const defaultClockHz = 1_000_000

// romAccessDelay models the ROM's propagation delay: 200 nanoseconds'
// worth of ticks at the simulator's picosecond resolution, comfortably
// inside a 1MHz clock's half-period.
const romAccessDelay = sim.Tick(200_000)

// Minimal6502 is the "pure minimal" board from the original design: 32KB of
// RAM at $0000-$7FFF and 32KB of system ROM at $8000-$FFFF, no PIA. Modeled
// directly on the original's dev_minimal_6502 device.
type Minimal6502 struct {
	Sim *sim.Simulator

	CPU   *cpu6502.Chip
	RAM   *memory.RAM
	ROM   *memory.ROM
	Clock *clock.Chip

	bus *bus
}

// NewMinimal6502 assembles a Minimal6502 with rom preloaded into the top
// 32KB of address space (truncated or zero-padded to fit). clockHz is the
// oscillator frequency driving the CPU; 0 selects a 1MHz default.
func NewMinimal6502(rom []byte, clockHz uint32) (*Minimal6502, error) {
	if clockHz == 0 {
		clockHz = defaultClockHz
	}

	s := sim.New()
	pool := s.Pool()

	address, err := signal.NewGroup(pool, 16, "addr")
	if err != nil {
		return nil, fmt.Errorf("device: allocating address bus: %w", err)
	}
	data, err := signal.NewGroup(pool, 8, "data")
	if err != nil {
		return nil, fmt.Errorf("device: allocating data bus: %w", err)
	}

	sigs, err := newControlSignals(pool)
	if err != nil {
		return nil, err
	}

	ramCEb, ramWEb, ramOEb, err := newMemorySignals(pool, "ram")
	if err != nil {
		return nil, err
	}
	romCEb, err := pool.Create()
	if err != nil {
		return nil, fmt.Errorf("device: allocating rom_ce_b: %w", err)
	}
	if err := pool.Name(romCEb, "rom_ce_b"); err != nil {
		return nil, err
	}

	d := &Minimal6502{Sim: s}

	theBus := &bus{}
	d.CPU = cpu6502.New(pool, cpu6502.Signals{
		Address: address,
		Data:    data,
		RW:      sigs.rw,
		Sync:    sigs.sync,
		RESETb:  sigs.resetB,
		IRQb:    sigs.irqB,
		NMIb:    sigs.nmiB,
		RDY:     sigs.rdy,
		Clock:   sigs.clock,
	}, theBus)
	if err := registerLayered(s, d.CPU, "cpu", d.CPU.Bind); err != nil {
		return nil, err
	}

	d.RAM, err = memory.NewRAM(pool, memory.RAMSignals{
		Address: address,
		Data:    data,
		CEb:     ramCEb,
		WEb:     ramWEb,
		OEb:     ramOEb,
	}, 15)
	if err != nil {
		return nil, fmt.Errorf("device: creating RAM: %w", err)
	}
	if err := registerAndBind(s, d.RAM, "ram", d.RAM.Bind); err != nil {
		return nil, err
	}

	d.ROM, err = memory.NewROM(pool, memory.ROMSignals{
		Address: address,
		Data:    data,
		CEb:     romCEb,
	}, 15, romAccessDelay, rom)
	if err != nil {
		return nil, fmt.Errorf("device: creating ROM: %w", err)
	}
	if err := registerAndBind(s, d.ROM, "rom", d.ROM.Bind); err != nil {
		return nil, err
	}

	dec := &decoder{
		pool:     pool,
		address:  address,
		rw:       sigs.rw,
		ramLimit: 0x7FFF,
		ramCEb:   ramCEb,
		ramWEb:   ramWEb,
		ramOEb:   ramOEb,
		romCEb:   romCEb,
		piaBase:  1, // empty range: base > limit, no PIA on this board
		piaLimit: 0,
	}
	if err := registerLayered(s, dec, "decoder", dec.Bind); err != nil {
		return nil, err
	}

	d.Clock = clock.New(pool, clock.Signals{Clock: sigs.clock}, clockHz)
	clockID, err := s.RegisterChip(d.Clock, "clock")
	if err != nil {
		return nil, fmt.Errorf("device: registering clock: %w", err)
	}
	if err := d.Clock.Bind(s, clockID); err != nil {
		return nil, fmt.Errorf("device: binding clock: %w", err)
	}

	theBus.ram = d.RAM
	theBus.rom = d.ROM
	if err := theBus.validate(); err != nil {
		return nil, err
	}
	d.bus = theBus

	if err := pool.SetDefault(sigs.resetB, true); err != nil {
		return nil, err
	}
	if err := pool.SetDefault(sigs.irqB, true); err != nil {
		return nil, err
	}
	if err := pool.SetDefault(sigs.nmiB, true); err != nil {
		return nil, err
	}
	if err := pool.SetDefault(sigs.rdy, true); err != nil {
		return nil, err
	}

	if err := s.DeviceComplete(); err != nil {
		return nil, fmt.Errorf("device: completing assembly: %w", err)
	}
	return d, nil
}

// controlSignals groups the handful of single-bit lines shared by every
// board variant: the CPU's control pins plus the oscillator output.
type controlSignals struct {
	rw, sync, resetB, irqB, nmiB, rdy, clock signal.Signal
}

func newControlSignals(pool *signal.Pool) (controlSignals, error) {
	names := []string{"rw", "sync", "reset_b", "irq_b", "nmi_b", "rdy", "clock"}
	sigs := make([]signal.Signal, len(names))
	for i, name := range names {
		s, err := pool.Create()
		if err != nil {
			return controlSignals{}, fmt.Errorf("device: allocating %s: %w", name, err)
		}
		if err := pool.Name(s, name); err != nil {
			return controlSignals{}, err
		}
		sigs[i] = s
	}
	return controlSignals{
		rw: sigs[0], sync: sigs[1], resetB: sigs[2], irqB: sigs[3],
		nmiB: sigs[4], rdy: sigs[5], clock: sigs[6],
	}, nil
}

func newMemorySignals(pool *signal.Pool, prefix string) (ceb, web, oeb signal.Signal, err error) {
	ceb, err = pool.Create()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("device: allocating %s_ce_b: %w", prefix, err)
	}
	if err := pool.Name(ceb, prefix+"_ce_b"); err != nil {
		return 0, 0, 0, err
	}
	web, err = pool.Create()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("device: allocating %s_we_b: %w", prefix, err)
	}
	if err := pool.Name(web, prefix+"_we_b"); err != nil {
		return 0, 0, 0, err
	}
	oeb, err = pool.Create()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("device: allocating %s_oe_b: %w", prefix, err)
	}
	if err := pool.Name(oeb, prefix+"_oe_b"); err != nil {
		return 0, 0, 0, err
	}
	return ceb, web, oeb, nil
}

// registerAndBind registers c with the simulator under name, then calls
// bind with the assigned id -- the pattern chips whose Bind takes only a
// ChipID (RAM, ROM) share.
func registerAndBind(s *sim.Simulator, c sim.Chip, name string, bind func(sim.ChipID)) error {
	id, err := s.RegisterChip(c, name)
	if err != nil {
		return fmt.Errorf("device: registering %s: %w", name, err)
	}
	bind(id)
	return nil
}

// registerLayered registers c with the simulator under name, then calls
// bind with both the assigned id and its writer layer -- the pattern
// chips that drive the pool themselves (the CPU, the decoder, the PIA)
// share.
func registerLayered(s *sim.Simulator, c sim.Chip, name string, bind func(sim.ChipID, uint8)) error {
	id, err := s.RegisterChip(c, name)
	if err != nil {
		return fmt.Errorf("device: registering %s: %w", name, err)
	}
	bind(id, s.ChipLayer(id))
	return nil
}

// Reset pulses RESETb low for long enough for the CPU's reset sequence to
// run to completion, then releases it.
func (d *Minimal6502) Reset() error {
	pool := d.Sim.Pool()
	resetB, _ := pool.ByName("reset_b")
	// RESETb is never an output pin for any registered chip, so borrowing
	// the CPU's layer (0, the first chip registered) to drive it here
	// can't collide with a chip-driven write on the same tick.
	layer := uint8(0)
	if err := pool.WriteAllowRewrite(resetB, layer, false); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := d.Sim.Step(); err != nil {
			return err
		}
	}
	if err := pool.WriteAllowRewrite(resetB, layer, true); err != nil {
		return err
	}
	for !d.CPU.IsAtStartOfInstruction() {
		if err := d.Sim.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the simulator by one tick.
func (d *Minimal6502) Step() error { return d.Sim.Step() }

// Run steps the simulator until predicate returns true.
func (d *Minimal6502) Run(predicate func(*sim.Simulator) bool) error {
	return d.Sim.RunUntil(predicate)
}

// ReadMemory reads a byte through the device's memory map, bypassing the
// bus the way a debugger inspecting memory would (not a bus cycle the CPU
// itself performs).
func (d *Minimal6502) ReadMemory(addr uint16) uint8 { return d.bus.Read(addr) }

// WriteMemory writes a byte through the device's memory map, bypassing the
// bus.
func (d *Minimal6502) WriteMemory(addr uint16, val uint8) { d.bus.Write(addr, val) }

// PC returns the CPU's current program counter, for monitor.Target.
func (d *Minimal6502) PC() uint16 {
	_, _, _, _, pc, _ := d.CPU.Registers()
	return pc
}

// SetNextPC overrides the address the CPU will fetch its next opcode
// from, for monitor.Target.
func (d *Minimal6502) SetNextPC(addr uint16) { d.CPU.OverrideNextInstructionAddress(addr) }

// AtInstructionStart reports whether the tick just processed was an
// opcode-fetch (SYNC) cycle, for monitor.Target.
func (d *Minimal6502) AtInstructionStart() bool { return d.CPU.IsAtStartOfInstruction() }

// Minimal6502PIA is the PIA-equipped board variant exercised by the
// original's test harness: 16KB of RAM at $0000-$3FFF, a 6520 PIA at
// $8000-$8003, and 16KB of ROM at $C000-$FFFF.
type Minimal6502PIA struct {
	Sim *sim.Simulator

	CPU   *cpu6502.Chip
	RAM   *memory.RAM
	ROM   *memory.ROM
	PIA   *pia6520.Chip
	Clock *clock.Chip

	bus *bus
}

// NewMinimal6502PIA assembles the PIA-equipped variant. The PIA's port A
// and port B signal groups are allocated unconnected to any peripheral;
// a caller simulating something driving them (a keyboard matrix, a
// cassette interface) can look the groups up by name ("porta0".."porta7",
// "portb0".."portb7") through Sim.Pool().ByName and write them on a layer
// of its own.
func NewMinimal6502PIA(rom []byte, clockHz uint32) (*Minimal6502PIA, error) {
	if clockHz == 0 {
		clockHz = defaultClockHz
	}

	s := sim.New()
	pool := s.Pool()

	address, err := signal.NewGroup(pool, 16, "addr")
	if err != nil {
		return nil, fmt.Errorf("device: allocating address bus: %w", err)
	}
	data, err := signal.NewGroup(pool, 8, "data")
	if err != nil {
		return nil, fmt.Errorf("device: allocating data bus: %w", err)
	}
	portA, err := signal.NewGroup(pool, 8, "porta")
	if err != nil {
		return nil, fmt.Errorf("device: allocating port A: %w", err)
	}
	portB, err := signal.NewGroup(pool, 8, "portb")
	if err != nil {
		return nil, fmt.Errorf("device: allocating port B: %w", err)
	}

	sigs, err := newControlSignals(pool)
	if err != nil {
		return nil, err
	}
	ramCEb, ramWEb, ramOEb, err := newMemorySignals(pool, "ram")
	if err != nil {
		return nil, err
	}
	romCEb, err := pool.Create()
	if err != nil {
		return nil, fmt.Errorf("device: allocating rom_ce_b: %w", err)
	}
	if err := pool.Name(romCEb, "rom_ce_b"); err != nil {
		return nil, err
	}

	piaNames := []string{"ca1", "ca2", "cb1", "cb2", "irqa_b", "irqb_b",
		"rs0", "rs1", "pia_cs0", "pia_cs1", "pia_cs2_b"}
	piaSig := make(map[string]signal.Signal, len(piaNames))
	for _, name := range piaNames {
		sg, err := pool.Create()
		if err != nil {
			return nil, fmt.Errorf("device: allocating %s: %w", name, err)
		}
		if err := pool.Name(sg, name); err != nil {
			return nil, err
		}
		piaSig[name] = sg
	}

	d := &Minimal6502PIA{Sim: s}
	theBus := &bus{}

	d.CPU = cpu6502.New(pool, cpu6502.Signals{
		Address: address,
		Data:    data,
		RW:      sigs.rw,
		Sync:    sigs.sync,
		RESETb:  sigs.resetB,
		IRQb:    sigs.irqB,
		NMIb:    sigs.nmiB,
		RDY:     sigs.rdy,
		Clock:   sigs.clock,
	}, theBus)
	if err := registerLayered(s, d.CPU, "cpu", d.CPU.Bind); err != nil {
		return nil, err
	}

	d.RAM, err = memory.NewRAM(pool, memory.RAMSignals{
		Address: address,
		Data:    data,
		CEb:     ramCEb,
		WEb:     ramWEb,
		OEb:     ramOEb,
	}, 14)
	if err != nil {
		return nil, fmt.Errorf("device: creating RAM: %w", err)
	}
	if err := registerAndBind(s, d.RAM, "ram", d.RAM.Bind); err != nil {
		return nil, err
	}

	d.ROM, err = memory.NewROM(pool, memory.ROMSignals{
		Address: address,
		Data:    data,
		CEb:     romCEb,
	}, 14, romAccessDelay, rom)
	if err != nil {
		return nil, fmt.Errorf("device: creating ROM: %w", err)
	}
	if err := registerAndBind(s, d.ROM, "rom", d.ROM.Bind); err != nil {
		return nil, err
	}

	d.PIA = pia6520.New(pool, pia6520.Signals{
		Data:   data,
		PortA:  portA,
		PortB:  portB,
		CA1:    piaSig["ca1"],
		CA2:    piaSig["ca2"],
		CB1:    piaSig["cb1"],
		CB2:    piaSig["cb2"],
		IRQAb:  piaSig["irqa_b"],
		IRQBb:  piaSig["irqb_b"],
		RS0:    piaSig["rs0"],
		RS1:    piaSig["rs1"],
		RESETb: sigs.resetB,
		Clock:  sigs.clock,
		CS0:    piaSig["pia_cs0"],
		CS1:    piaSig["pia_cs1"],
		CS2b:   piaSig["pia_cs2_b"],
		RW:     sigs.rw,
	})
	if err := registerLayered(s, d.PIA, "pia", d.PIA.Bind); err != nil {
		return nil, err
	}

	dec := &decoder{
		pool:     pool,
		address:  address,
		rw:       sigs.rw,
		ramLimit: 0x3FFF,
		ramCEb:   ramCEb,
		ramWEb:   ramWEb,
		ramOEb:   ramOEb,
		romCEb:   romCEb,
		piaBase:  0x8000,
		piaLimit: 0x8003,
		piaCS0:   piaSig["pia_cs0"],
		piaCS1:   piaSig["pia_cs1"],
		piaCS2b:  piaSig["pia_cs2_b"],
		piaRS0:   piaSig["rs0"],
		piaRS1:   piaSig["rs1"],
	}
	if err := registerLayered(s, dec, "decoder", dec.Bind); err != nil {
		return nil, err
	}

	d.Clock = clock.New(pool, clock.Signals{Clock: sigs.clock}, clockHz)
	clockID, err := s.RegisterChip(d.Clock, "clock")
	if err != nil {
		return nil, fmt.Errorf("device: registering clock: %w", err)
	}
	if err := d.Clock.Bind(s, clockID); err != nil {
		return nil, fmt.Errorf("device: binding clock: %w", err)
	}

	theBus.ram = d.RAM
	theBus.rom = d.ROM
	theBus.pia = d.PIA
	theBus.ioMap = []ioRegion{{base: 0x8000, limit: 0x8003}}
	if err := theBus.validate(); err != nil {
		return nil, err
	}
	d.bus = theBus

	for _, pair := range []struct {
		s signal.Signal
		v bool
	}{
		{sigs.resetB, true}, {sigs.irqB, true}, {sigs.nmiB, true}, {sigs.rdy, true},
		{piaSig["irqa_b"], true}, {piaSig["irqb_b"], true},
	} {
		if err := pool.SetDefault(pair.s, pair.v); err != nil {
			return nil, err
		}
	}

	if err := s.DeviceComplete(); err != nil {
		return nil, fmt.Errorf("device: completing assembly: %w", err)
	}
	return d, nil
}

// Reset pulses RESETb low for long enough for the CPU's reset sequence to
// run to completion, then releases it.
func (d *Minimal6502PIA) Reset() error {
	pool := d.Sim.Pool()
	resetB, _ := pool.ByName("reset_b")
	// See Minimal6502.Reset: layer 0 belongs to the CPU, which never
	// drives RESETb itself.
	layer := uint8(0)
	if err := pool.WriteAllowRewrite(resetB, layer, false); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		if err := d.Sim.Step(); err != nil {
			return err
		}
	}
	if err := pool.WriteAllowRewrite(resetB, layer, true); err != nil {
		return err
	}
	for !d.CPU.IsAtStartOfInstruction() {
		if err := d.Sim.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the simulator by one tick.
func (d *Minimal6502PIA) Step() error { return d.Sim.Step() }

// Run steps the simulator until predicate returns true.
func (d *Minimal6502PIA) Run(predicate func(*sim.Simulator) bool) error {
	return d.Sim.RunUntil(predicate)
}

// ReadMemory reads a byte through the device's memory map, bypassing the
// bus.
func (d *Minimal6502PIA) ReadMemory(addr uint16) uint8 { return d.bus.Read(addr) }

// WriteMemory writes a byte through the device's memory map, bypassing the
// bus.
func (d *Minimal6502PIA) WriteMemory(addr uint16, val uint8) { d.bus.Write(addr, val) }

// PC returns the CPU's current program counter, for monitor.Target.
func (d *Minimal6502PIA) PC() uint16 {
	_, _, _, _, pc, _ := d.CPU.Registers()
	return pc
}

// SetNextPC overrides the address the CPU will fetch its next opcode
// from, for monitor.Target.
func (d *Minimal6502PIA) SetNextPC(addr uint16) { d.CPU.OverrideNextInstructionAddress(addr) }

// AtInstructionStart reports whether the tick just processed was an
// opcode-fetch (SYNC) cycle, for monitor.Target.
func (d *Minimal6502PIA) AtInstructionStart() bool { return d.CPU.IsAtStartOfInstruction() }
