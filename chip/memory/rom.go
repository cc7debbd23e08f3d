package memory

import (
	"fmt"

	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

// ROMSignals names the pins of a ROM chip. ROM has no write-enable pin.
type ROMSignals struct {
	Address signal.Group
	Data    signal.Group
	CEb     signal.Signal
}

// ROM is a read-only, access-delayed memory bank. Every new (address, CEb)
// combination observed while the chip is selected re-arms the access delay
// -- including a CEb re-assertion at the same address, once CEb has gone
// inactive in between (spec §9 open question, resolved this way: the ROM
// always treats a falling-edge-to-falling-edge CE cycle as a fresh
// access).
type ROM struct {
	pool    *signal.Pool
	signals ROMSignals
	id      sim.ChipID
	data    []uint8
	mask    uint64
	delay   sim.Tick

	armed     bool
	armedAddr uint64
	armedTick sim.Tick
	driving   bool
}

// NewROM creates a ROM of 1<<addressLines bytes, preloaded from image
// (truncated or zero-padded to size), with the given access delay in
// ticks.
func NewROM(pool *signal.Pool, signals ROMSignals, addressLines uint8, delay sim.Tick, image []byte) (*ROM, error) {
	if addressLines == 0 || addressLines > 16 {
		return nil, fmt.Errorf("memory: invalid ROM address line count %d", addressLines)
	}
	if int(addressLines) > len(signals.Address) {
		return nil, fmt.Errorf("memory: ROM address group too narrow for %d lines", addressLines)
	}
	size := uint64(1) << addressLines
	data := make([]uint8, size)
	copy(data, image)
	return &ROM{
		pool:    pool,
		signals: signals,
		data:    data,
		mask:    size - 1,
		delay:   delay,
	}, nil
}

// Pins implements sim.Chip.
func (r *ROM) Pins() []sim.PinDef {
	pins := []sim.PinDef{{Signal: r.signals.CEb, Dir: sim.Input}}
	for _, s := range r.signals.Address {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input})
	}
	for _, s := range r.signals.Data {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Output})
	}
	return pins
}

// Destroy implements sim.Chip.
func (r *ROM) Destroy() {}

// Bind remembers the chip id assigned at registration.
func (r *ROM) Bind(id sim.ChipID) { r.id = id }

// Process implements sim.Chip.
func (r *ROM) Process(s *sim.Simulator) error {
	layer := s.ChipLayer(r.id)
	now := s.Now()

	if r.pool.Read(r.signals.CEb) {
		// Deselected: release the bus and disarm so the next select is
		// always treated as a fresh access.
		r.armed = false
		if r.driving {
			if err := r.signals.Data.ClearWriter(r.pool, layer); err != nil {
				return err
			}
			r.driving = false
		}
		return nil
	}

	addr := r.signals.Address.Read(r.pool) & r.mask
	if !r.armed || addr != r.armedAddr {
		r.armed = true
		r.armedAddr = addr
		r.armedTick = now + r.delay
		if r.driving {
			if err := r.signals.Data.ClearWriter(r.pool, layer); err != nil {
				return err
			}
			r.driving = false
		}
		return s.Schedule(r.id, r.armedTick)
	}

	if now >= r.armedTick {
		if err := r.signals.Data.WriteAllowRewrite(r.pool, layer, uint64(r.data[addr])); err != nil {
			return err
		}
		r.driving = true
	}
	return nil
}

// ReadByte reaches directly into the backing store, bypassing the bus.
func (r *ROM) ReadByte(addr uint16) uint8 {
	return r.data[uint64(addr)&r.mask]
}

// Size returns the number of addressable bytes.
func (r *ROM) Size() int { return len(r.data) }
