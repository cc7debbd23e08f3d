package device

import (
	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

// decoder is the address-decode glue logic every real minimal-6502 board
// wires out of a handful of 74-series gates: given the address bus and
// R/W level the CPU is driving this cycle, it derives the CE_B/WE_B/OE_B
// inputs of the RAM and ROM banks (and, when a PIA is present, its
// CS0/CS1/CS2_B/RS0/RS1 lines). The actual byte transfer the CPU performs
// bypasses the pool entirely (see chip/cpu6502's package doc); this chip
// exists purely so the bus-select lines read correctly for history and
// any other observer of the pool.
type decoder struct {
	pool    *signal.Pool
	id      sim.ChipID
	layer   uint8
	address signal.Group
	rw      signal.Signal

	ramLimit uint16 // addresses <= ramLimit select RAM
	ramCEb   signal.Signal
	ramWEb   signal.Signal
	ramOEb   signal.Signal

	romCEb signal.Signal

	piaBase, piaLimit uint16 // zero-width (base > limit) if no PIA
	piaCS0            signal.Signal
	piaCS1            signal.Signal
	piaCS2b           signal.Signal
	piaRS0            signal.Signal
	piaRS1            signal.Signal
}

func (d *decoder) Pins() []sim.PinDef {
	pins := []sim.PinDef{
		{Signal: d.rw, Dir: sim.Input},
		{Signal: d.ramCEb, Dir: sim.Output},
		{Signal: d.ramWEb, Dir: sim.Output},
		{Signal: d.ramOEb, Dir: sim.Output},
		{Signal: d.romCEb, Dir: sim.Output},
	}
	for _, s := range d.address {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input})
	}
	if d.hasPIA() {
		pins = append(pins,
			sim.PinDef{Signal: d.piaCS0, Dir: sim.Output},
			sim.PinDef{Signal: d.piaCS1, Dir: sim.Output},
			sim.PinDef{Signal: d.piaCS2b, Dir: sim.Output},
			sim.PinDef{Signal: d.piaRS0, Dir: sim.Output},
			sim.PinDef{Signal: d.piaRS1, Dir: sim.Output},
		)
	}
	return pins
}

func (d *decoder) Destroy()                        {}
func (d *decoder) Bind(id sim.ChipID, layer uint8)  { d.id, d.layer = id, layer }
func (d *decoder) hasPIA() bool                     { return d.piaBase <= d.piaLimit }

func (d *decoder) Process(s *sim.Simulator) error {
	addr := uint16(d.address.Read(d.pool))
	rw := d.pool.Read(d.rw)

	inRAM := addr <= d.ramLimit
	inPIA := d.hasPIA() && addr >= d.piaBase && addr <= d.piaLimit
	inROM := !inRAM && !inPIA

	writes := []decoderWrite{
		{d.ramCEb, !inRAM},
		{d.ramWEb, !(inRAM && !rw)},
		{d.ramOEb, !(inRAM && rw)},
		{d.romCEb, !inROM},
	}
	if d.hasPIA() {
		writes = append(writes,
			decoderWrite{d.piaCS0, inPIA},
			decoderWrite{d.piaCS1, true},
			decoderWrite{d.piaCS2b, !inPIA},
			decoderWrite{d.piaRS0, addr&0x1 != 0},
			decoderWrite{d.piaRS1, addr&0x2 != 0},
		)
	}

	for _, w := range writes {
		if err := d.pool.WriteAllowRewrite(w.sig, d.layer, w.val); err != nil {
			return err
		}
	}
	return nil
}

type decoderWrite struct {
	sig signal.Signal
	val bool
}
