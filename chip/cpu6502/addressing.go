package cpu6502

import "fmt"

// mode distinguishes how an addressing-mode helper's final ticks behave:
// a load only reads, a store only computes the address and writes once, an
// RMW reads, dummy-writes the unmodified value, then (via the opFunc) writes
// the modified value.
type mode int

const (
	modeLoad mode = iota
	modeRMW
	modeStore
)

// addrImmediate implements immediate mode - #i: it reads the operand byte
// at PC into c.opVal and advances PC past it.
func (c *Chip) addrImmediate(mode) (bool, error) {
	if c.opTick != 2 {
		return true, InvalidState{fmt.Sprintf("addrImmediate invalid opTick %d", c.opTick)}
	}
	c.opVal = c.read(c.PC)
	c.PC++
	return true, nil
}

// addrZP implements zero page mode - d.
func (c *Chip) addrZP(m mode) (bool, error) {
	switch {
	case c.opTick <= 1 || c.opTick > 4:
		return true, InvalidState{fmt.Sprintf("addrZP invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		c.opAddr = uint16(c.read(c.PC))
		c.PC++
		return m == modeStore, nil
	case c.opTick == 3:
		c.opVal = c.read(c.opAddr)
		return m != modeRMW, nil
	}
	c.write(c.opAddr, c.opVal)
	return true, nil
}

func (c *Chip) addrZPX(m mode) (bool, error) { return c.addrZPXY(m, c.X) }
func (c *Chip) addrZPY(m mode) (bool, error) { return c.addrZPXY(m, c.Y) }

func (c *Chip) addrZPXY(m mode, reg uint8) (bool, error) {
	switch {
	case c.opTick <= 1 || c.opTick > 5:
		return true, InvalidState{fmt.Sprintf("addrZPXY invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		c.opAddr = uint16(c.read(c.PC))
		c.PC++
		return false, nil
	case c.opTick == 3:
		_ = c.read(c.opAddr)
		c.opAddr = uint16(uint8(uint8(c.opAddr) + reg))
		return m == modeStore, nil
	case c.opTick == 4:
		c.opVal = c.read(c.opAddr)
		return m != modeRMW, nil
	}
	c.write(c.opAddr, c.opVal)
	return true, nil
}

func (c *Chip) addrIndirectX(m mode) (bool, error) {
	switch {
	case c.opTick <= 1 || c.opTick > 7:
		return true, InvalidState{fmt.Sprintf("addrIndirectX invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		c.opAddr = uint16(c.read(c.PC))
		c.PC++
		return false, nil
	case c.opTick == 3:
		_ = c.read(c.opAddr)
		c.opAddr = uint16(uint8(c.opAddr) + c.X)
		return false, nil
	case c.opTick == 4:
		lo := c.read(c.opAddr)
		c.opAddr = uint16(uint8(c.opAddr) + 1)
		c.opVal = lo
		return false, nil
	case c.opTick == 5:
		hi := c.read(c.opAddr)
		c.opAddr = (uint16(hi) << 8) | uint16(c.opVal)
		return m == modeStore, nil
	case c.opTick == 6:
		c.opVal = c.read(c.opAddr)
		return m != modeRMW, nil
	}
	c.write(c.opAddr, c.opVal)
	return true, nil
}

func (c *Chip) addrIndirectY(m mode) (bool, error) {
	switch {
	case c.opTick <= 1 || c.opTick > 7:
		return true, InvalidState{fmt.Sprintf("addrIndirectY invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		c.opAddr = uint16(c.read(c.PC))
		c.PC++
		return false, nil
	case c.opTick == 3:
		c.opVal = c.read(c.opAddr)
		c.opAddr = uint16(uint8(c.opAddr) + 1)
		return false, nil
	case c.opTick == 4:
		base := (uint16(c.read(c.opAddr)) << 8) | uint16(c.opVal)
		wrapped := (base & 0xFF00) + uint16(uint8(base)+c.Y)
		c.opVal = 0
		if wrapped != base+uint16(c.Y) {
			c.opVal = 1
		}
		c.opAddr = wrapped
		return false, nil
	case c.opTick == 5:
		crossed := c.opVal != 0
		c.opVal = c.read(c.opAddr)
		done := true
		if crossed {
			c.opAddr += 0x0100
			if m == modeLoad {
				done = false
			}
		}
		if m == modeRMW {
			done = false
		}
		return done, nil
	case c.opTick == 6:
		c.opVal = c.read(c.opAddr)
		return m != modeRMW, nil
	}
	c.write(c.opAddr, c.opVal)
	return true, nil
}

func (c *Chip) addrAbsolute(m mode) (bool, error) {
	switch {
	case c.opTick <= 1 || c.opTick > 5:
		return true, InvalidState{fmt.Sprintf("addrAbsolute invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		c.opAddr = uint16(c.read(c.PC))
		c.PC++
		return false, nil
	case c.opTick == 3:
		hi := c.read(c.PC)
		c.PC++
		c.opAddr |= uint16(hi) << 8
		return m == modeStore, nil
	case c.opTick == 4:
		c.opVal = c.read(c.opAddr)
		return m != modeRMW, nil
	}
	c.write(c.opAddr, c.opVal)
	return true, nil
}

func (c *Chip) addrAbsoluteX(m mode) (bool, error) { return c.addrAbsoluteXY(m, c.X) }
func (c *Chip) addrAbsoluteY(m mode) (bool, error) { return c.addrAbsoluteXY(m, c.Y) }

func (c *Chip) addrAbsoluteXY(m mode, reg uint8) (bool, error) {
	switch {
	case c.opTick <= 1 || c.opTick > 6:
		return true, InvalidState{fmt.Sprintf("addrAbsoluteXY invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		c.opAddr = uint16(c.read(c.PC))
		c.PC++
		return false, nil
	case c.opTick == 3:
		hi := c.read(c.PC)
		c.PC++
		c.opAddr |= uint16(hi) << 8
		wrapped := (c.opAddr & 0xFF00) + uint16(uint8(c.opAddr)+reg)
		c.opVal = 0
		if wrapped != c.opAddr+uint16(reg) {
			c.opVal = 1
		}
		c.opAddr = wrapped
		return false, nil
	case c.opTick == 4:
		crossed := c.opVal != 0
		c.opVal = c.read(c.opAddr)
		done := true
		if crossed {
			c.opAddr += 0x0100
			if m == modeLoad {
				done = false
			}
		}
		if m == modeRMW {
			done = false
		}
		return done, nil
	case c.opTick == 5:
		c.opVal = c.read(c.opAddr)
		return m != modeRMW, nil
	}
	c.write(c.opAddr, c.opVal)
	return true, nil
}

func (c *Chip) pushStack(val uint8) {
	c.write(0x0100+uint16(c.S), val)
	c.S--
}

func (c *Chip) popStack() uint8 {
	c.S++
	return c.read(0x0100 + uint16(c.S))
}

// branchNOP consumes the offset byte of a not-taken branch.
func (c *Chip) branchNOP() (bool, error) {
	if c.opTick <= 1 || c.opTick > 3 {
		return true, InvalidState{fmt.Sprintf("branchNOP invalid opTick %d", c.opTick)}
	}
	c.PC++
	return true, nil
}

// performBranch computes the new PC for a taken branch, charging the extra
// cycle(s) for crossing a page boundary.
func (c *Chip) performBranch() (bool, error) {
	switch {
	case c.opTick <= 1 || c.opTick > 4:
		return true, InvalidState{fmt.Sprintf("performBranch invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		c.opVal = c.read(c.PC)
		c.PC++
		return false, nil
	case c.opTick == 3:
		if !c.prevSkipInt {
			c.skipInt = true
		}
		old := c.PC
		c.opAddr = old
		c.PC = (old & 0xFF00) + uint16(uint8(old)+c.opVal)
		_ = c.read(c.PC)
		return c.PC == old+uint16(int16(int8(c.opVal))), nil
	}
	c.PC = c.opAddr + uint16(int16(int8(c.opVal)))
	_ = c.read(c.PC)
	return true, nil
}

// runInterrupt implements the shared push-PC/push-P/load-vector sequence
// used by BRK, IRQ and NMI.
func (c *Chip) runInterrupt(vector uint16, isIRQ bool) (bool, error) {
	switch {
	case c.opTick < 1 || c.opTick > 7:
		return true, InvalidState{fmt.Sprintf("runInterrupt invalid opTick %d", c.opTick)}
	case c.opTick == 2:
		if !isIRQ {
			c.PC++
		}
		return false, nil
	case c.opTick == 3:
		c.pushStack(uint8(c.PC >> 8))
		return false, nil
	case c.opTick == 4:
		c.pushStack(uint8(c.PC))
		return false, nil
	case c.opTick == 5:
		push := c.P | P_S1 | P_B
		if isIRQ {
			push &^= P_B
		}
		c.P |= P_I
		c.pushStack(push)
		return false, nil
	case c.opTick == 6:
		c.opVal = c.read(vector)
		return false, nil
	}
	hi := c.read(vector + 1)
	c.PC = (uint16(hi) << 8) | uint16(c.opVal)
	if isIRQ && !c.prevSkipInt {
		c.skipInt = true
	}
	return true, nil
}

// iBRK implements the BRK opcode, which shares its push/vector-load
// sequence with hardware interrupt servicing. It advances PC past the
// padding byte and pushes P with B set, unless an IRQ or NMI is already
// pending: then it runs as that interrupt (no PC advance, B clear), and a
// pending NMI also supplies the vector.
func (c *Chip) iBRK() (bool, error) {
	vector := vecIRQ
	if c.irqRaised == irqNMI {
		vector = vecNMI
	}
	isIRQ := c.irqRaised != irqNone
	done, err := c.runInterrupt(vector, isIRQ)
	if done {
		c.irqRaised = irqNone
	}
	return done, err
}
