package device

import "fmt"

// bus is the concrete cpu6502.Bus implementation for an assembled device:
// it decodes the 16-bit address against the device's memory map and
// dispatches to the selected chip's direct (bypass-the-pool) accessor,
// the same way the CPU itself bypasses the pool for byte transfer (see
// chip/cpu6502's package doc).
type bus struct {
	ram   ramBank
	rom   romBank
	pia   piaBank // nil if this device has no PIA
	ioMap []ioRegion
}

// ramBank/romBank/piaBank are the narrow slices of memory.RAM/memory.ROM/
// pia6520.Chip the bus needs, kept as interfaces so device tests can
// substitute fakes without pulling in the concrete chip packages.
type ramBank interface {
	ReadByte(addr uint16) uint8
	WriteByte(addr uint16, val uint8)
	Size() int
}

type romBank interface {
	ReadByte(addr uint16) uint8
	Size() int
}

type piaBank interface {
	BusRead(rs uint8) uint8
	BusWrite(rs uint8, val uint8)
}

// ioRegion maps a contiguous address range to a PIA's register file.
type ioRegion struct {
	base, limit uint16 // inclusive
}

func (b *bus) Read(addr uint16) uint8 {
	switch {
	case b.pia != nil && b.inPIARange(addr):
		return b.pia.BusRead(uint8(addr & 0x3))
	case uint32(addr) < uint32(b.ram.Size()):
		return b.ram.ReadByte(addr)
	default:
		return b.rom.ReadByte(addr)
	}
}

func (b *bus) Write(addr uint16, val uint8) {
	switch {
	case b.pia != nil && b.inPIARange(addr):
		b.pia.BusWrite(uint8(addr&0x3), val)
	case uint32(addr) < uint32(b.ram.Size()):
		b.ram.WriteByte(addr, val)
	default:
		// Writes to ROM space are discarded, matching real hardware.
	}
}

func (b *bus) inPIARange(addr uint16) bool {
	for _, r := range b.ioMap {
		if addr >= r.base && addr <= r.limit {
			return true
		}
	}
	return false
}

func (b *bus) validate() error {
	if b.ram == nil {
		return fmt.Errorf("device: bus has no RAM bank")
	}
	if b.rom == nil {
		return fmt.Errorf("device: bus has no ROM bank")
	}
	return nil
}
