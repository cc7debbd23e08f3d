// Package memory implements the RAM and ROM chips: 8-bit-wide, up to
// 16-address-line memory modules gated by active-low chip-enable,
// output-enable and (for RAM) write-enable pins.
package memory

import (
	"fmt"

	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

// RAMSignals names the pins of a RAM chip.
type RAMSignals struct {
	Address signal.Group  // up to 16 lines
	Data    signal.Group  // 8 lines
	CEb     signal.Signal // chip enable, active low
	WEb     signal.Signal // write enable, active low
	OEb     signal.Signal // output enable, active low
}

// RAM is an 8-bit-wide, 1<<n-byte memory bank.
type RAM struct {
	pool    *signal.Pool
	signals RAMSignals
	id      sim.ChipID
	data    []uint8
	mask    uint64
	driving bool
}

// NewRAM creates a RAM chip with 1<<addressLines bytes of backing storage.
// addressLines must be <= len(signals.Address) and <= 16.
func NewRAM(pool *signal.Pool, signals RAMSignals, addressLines uint8) (*RAM, error) {
	if addressLines == 0 || addressLines > 16 {
		return nil, fmt.Errorf("memory: invalid RAM address line count %d", addressLines)
	}
	if int(addressLines) > len(signals.Address) {
		return nil, fmt.Errorf("memory: RAM address group too narrow for %d lines", addressLines)
	}
	size := uint64(1) << addressLines
	return &RAM{
		pool:    pool,
		signals: signals,
		data:    make([]uint8, size),
		mask:    size - 1,
	}, nil
}

// Pins implements sim.Chip.
func (r *RAM) Pins() []sim.PinDef {
	pins := []sim.PinDef{
		{Signal: r.signals.CEb, Dir: sim.Input},
		{Signal: r.signals.WEb, Dir: sim.Input},
		{Signal: r.signals.OEb, Dir: sim.Input},
	}
	for _, s := range r.signals.Address {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input})
	}
	for _, s := range r.signals.Data {
		pins = append(pins, sim.PinDef{Signal: s, Dir: sim.Input | sim.Output})
	}
	return pins
}

// Destroy implements sim.Chip.
func (r *RAM) Destroy() {}

// Bind remembers the chip id assigned at registration.
func (r *RAM) Bind(id sim.ChipID) { r.id = id }

// Process implements sim.Chip.
func (r *RAM) Process(s *sim.Simulator) error {
	layer := s.ChipLayer(r.id)
	addr := r.signals.Address.Read(r.pool) & r.mask

	if r.pool.Read(r.signals.CEb) {
		// Not selected: release the data bus.
		if r.driving {
			if err := r.signals.Data.ClearWriter(r.pool, layer); err != nil {
				return err
			}
			r.driving = false
		}
		return nil
	}

	if !r.pool.Read(r.signals.WEb) {
		val := uint8(r.signals.Data.Read(r.pool))
		r.data[addr] = val
	}

	if !r.pool.Read(r.signals.OEb) {
		if err := r.signals.Data.WriteAllowRewrite(r.pool, layer, uint64(r.data[addr])); err != nil {
			return err
		}
		r.driving = true
	} else if r.driving {
		if err := r.signals.Data.ClearWriter(r.pool, layer); err != nil {
			return err
		}
		r.driving = false
	}
	return nil
}

// ReadByte reaches directly into the backing store, bypassing the bus --
// for device read_memory/write_memory helpers (§4.9), not for correctness
// during a running simulation.
func (r *RAM) ReadByte(addr uint16) uint8 {
	return r.data[uint64(addr)&r.mask]
}

// WriteByte reaches directly into the backing store, bypassing the bus.
func (r *RAM) WriteByte(addr uint16, val uint8) {
	r.data[uint64(addr)&r.mask] = val
}

// Size returns the number of addressable bytes.
func (r *RAM) Size() int { return len(r.data) }
