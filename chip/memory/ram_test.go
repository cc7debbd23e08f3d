package memory

import (
	"testing"

	"github.com/JohanSmet/dromaius/sim"
	"github.com/JohanSmet/dromaius/signal"
)

// harness wires a RAM or ROM chip to a pool and exposes the layer a test
// can use to drive CEb/WEb/OEb/address directly, mimicking what a real bus
// driver (the CPU, a decoder) would do.
type harness struct {
	s        *sim.Simulator
	address  signal.Group
	data     signal.Group
	ceb, web, oeb signal.Signal
	driveLayer uint8
}

func newRAMHarness(t *testing.T, addressLines uint8) (*harness, *RAM) {
	t.Helper()
	s := sim.New()
	pool := s.Pool()
	address, err := signal.NewGroup(pool, 16, "addr")
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	data, err := signal.NewGroup(pool, 8, "data")
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	ceb, _ := pool.Create()
	web, _ := pool.Create()
	oeb, _ := pool.Create()

	ram, err := NewRAM(pool, RAMSignals{Address: address, Data: data, CEb: ceb, WEb: web, OEb: oeb}, addressLines)
	if err != nil {
		t.Fatalf("NewRAM: %v", err)
	}
	id, err := s.RegisterChip(ram, "ram")
	if err != nil {
		t.Fatalf("RegisterChip: %v", err)
	}
	ram.Bind(id)

	if err := pool.SetDefault(ceb, true); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err := pool.SetDefault(web, true); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err := pool.SetDefault(oeb, true); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err := pool.SetLayerCount(2); err != nil {
		t.Fatalf("SetLayerCount: %v", err)
	}
	if err := s.DeviceComplete(); err != nil {
		t.Fatalf("DeviceComplete: %v", err)
	}

	h := &harness{s: s, address: address, data: data, ceb: ceb, web: web, oeb: oeb, driveLayer: 1}
	return h, ram
}

func (h *harness) drive(addr uint16, ceb, web, oeb bool, dataOut *uint8) error {
	pool := h.s.Pool()
	if err := h.address.WriteAllowRewrite(pool, h.driveLayer, uint64(addr)); err != nil {
		return err
	}
	if err := pool.WriteAllowRewrite(h.ceb, h.driveLayer, ceb); err != nil {
		return err
	}
	if err := pool.WriteAllowRewrite(h.web, h.driveLayer, web); err != nil {
		return err
	}
	if err := pool.WriteAllowRewrite(h.oeb, h.driveLayer, oeb); err != nil {
		return err
	}
	if dataOut != nil {
		if err := h.data.WriteAllowRewrite(pool, h.driveLayer, uint64(*dataOut)); err != nil {
			return err
		}
	} else {
		if err := h.data.ClearWriter(pool, h.driveLayer); err != nil {
			return err
		}
	}
	return nil
}

// settle steps the simulator twice: once for a just-driven signal to merge
// into the pool's "current" value, once for the dependent chip to actually
// react to it -- the same one-tick lag every bus participant in this
// simulator observes (see sim.Chip's Process doc comment).
func settle(t *testing.T, s *sim.Simulator) {
	t.Helper()
	if err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := s.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
}

func TestRAMWriteThenReadBack(t *testing.T) {
	h, ram := newRAMHarness(t, 8) // 256 bytes
	val := uint8(0x42)

	// Select, assert WEb low, drive data: write cycle.
	if err := h.drive(0x10, false, false, true, &val); err != nil {
		t.Fatalf("drive: %v", err)
	}
	settle(t, h.s)
	if got := ram.ReadByte(0x10); got != val {
		t.Fatalf("ReadByte(0x10) = %#x, want %#x", got, val)
	}

	// Deselect the write, select a read: OEb low, WEb high.
	if err := h.drive(0x10, false, true, false, nil); err != nil {
		t.Fatalf("drive: %v", err)
	}
	settle(t, h.s)
	if got := h.data.Read(h.s.Pool()); got != uint64(val) {
		t.Fatalf("data bus = %#x, want %#x", got, val)
	}
}

func TestRAMNotSelectedReleasesBus(t *testing.T) {
	h, _ := newRAMHarness(t, 8)
	if err := h.drive(0x00, true, true, true, nil); err != nil {
		t.Fatalf("drive: %v", err)
	}
	settle(t, h.s)
	// Deselected: RAM must not be the one driving the data bus (no writer
	// means the bus floats to its configured default, 0 here).
	if got := h.data.Read(h.s.Pool()); got != 0 {
		t.Fatalf("data bus = %#x while RAM deselected, want 0 (floating)", got)
	}
}

func TestNewRAMRejectsAddressLinesOutOfRange(t *testing.T) {
	pool := signal.NewPool()
	address, _ := signal.NewGroup(pool, 16, "addr")
	data, _ := signal.NewGroup(pool, 8, "data")
	ceb, _ := pool.Create()
	web, _ := pool.Create()
	oeb, _ := pool.Create()

	if _, err := NewRAM(pool, RAMSignals{Address: address, Data: data, CEb: ceb, WEb: web, OEb: oeb}, 0); err == nil {
		t.Fatalf("expected error for 0 address lines")
	}
	if _, err := NewRAM(pool, RAMSignals{Address: address, Data: data, CEb: ceb, WEb: web, OEb: oeb}, 17); err == nil {
		t.Fatalf("expected error for address lines wider than the group")
	}
}
