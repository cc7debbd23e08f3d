package signal

import "testing"

func TestGroupReadWriteRoundTrip(t *testing.T) {
	p := NewPool()
	g, err := NewGroup(p, 8, "data")
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	if g.Len() != 8 {
		t.Fatalf("Len = %d, want 8", g.Len())
	}
	for i, s := range g {
		name, ok := p.ByName("data" + string(rune('0'+i)))
		if !ok || name != s {
			t.Fatalf("bit %d not registered under the expected name", i)
		}
	}

	if err := g.Write(p, 0, 0xA5); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p.Cycle()
	if got := g.Read(p); got != 0xA5 {
		t.Fatalf("Read = %#x, want %#x", got, 0xA5)
	}
}

func TestGroupClearWriterReleasesAllBits(t *testing.T) {
	p := NewPool()
	g, err := NewGroup(p, 4, "")
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	for _, s := range g {
		if err := p.SetDefault(s, true); err != nil {
			t.Fatalf("SetDefault: %v", err)
		}
	}
	if err := g.Write(p, 0, 0x0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	p.Cycle()
	if got := g.Read(p); got != 0 {
		t.Fatalf("Read = %#x, want 0 while driven", got)
	}

	if err := g.ClearWriter(p, 0); err != nil {
		t.Fatalf("ClearWriter: %v", err)
	}
	p.Cycle()
	if got := g.Read(p); got != 0xF {
		t.Fatalf("Read = %#x, want 0xF once released back to default", got)
	}
}

func TestGroupAddDependency(t *testing.T) {
	p := NewPool()
	g, err := NewGroup(p, 2, "addr")
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	if err := g.AddDependency(p, 7); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	for _, s := range g {
		if p.DependencyMask(s)&(uint64(1)<<7) == 0 {
			t.Fatalf("signal %d missing dependency on chip 7", s)
		}
	}
}
