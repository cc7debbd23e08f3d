package signal

import "fmt"

// Group is an ordered sequence of signals treated as a single multi-bit bus
// (e.g. the eight lines of a data bus). Its size is fixed at construction;
// operations on a Group are defined as the bit-wise aggregation of the
// per-signal Pool operations, bit 0 of the group mapping to Group[0].
type Group []Signal

// NewGroup allocates width fresh signals from the pool and returns them as
// a Group, naming each one "<prefix><index>" when prefix is non-empty.
func NewGroup(p *Pool, width int, prefix string) (Group, error) {
	g := make(Group, width)
	for i := 0; i < width; i++ {
		s, err := p.Create()
		if err != nil {
			return nil, fmt.Errorf("signal: group %q bit %d: %w", prefix, i, err)
		}
		if prefix != "" {
			if err := p.Name(s, fmt.Sprintf("%s%d", prefix, i)); err != nil {
				return nil, err
			}
		}
		g[i] = s
	}
	return g, nil
}

// Len reports the bus width.
func (g Group) Len() int { return len(g) }

// Read aggregates the current (previous-tick) value of every signal in the
// group into an unsigned integer, bit i of the result coming from g[i].
func (g Group) Read(p *Pool) uint64 {
	var v uint64
	for i, s := range g {
		if p.Read(s) {
			v |= uint64(1) << uint(i)
		}
	}
	return v
}

// Write drives every signal in the group from the bits of value on the
// given layer.
func (g Group) Write(p *Pool, layer uint8, value uint64) error {
	for i, s := range g {
		if err := p.Write(s, layer, value&(uint64(1)<<uint(i)) != 0); err != nil {
			return err
		}
	}
	return nil
}

// WriteAllowRewrite is the group form of Pool.WriteAllowRewrite.
func (g Group) WriteAllowRewrite(p *Pool, layer uint8, value uint64) error {
	for i, s := range g {
		if err := p.WriteAllowRewrite(s, layer, value&(uint64(1)<<uint(i)) != 0); err != nil {
			return err
		}
	}
	return nil
}

// ClearWriter releases every signal in the group from the given layer.
func (g Group) ClearWriter(p *Pool, layer uint8) error {
	for _, s := range g {
		if err := p.ClearWriter(s, layer); err != nil {
			return err
		}
	}
	return nil
}

// AddDependency registers chipID as a dependent of every signal in the
// group.
func (g Group) AddDependency(p *Pool, chipID uint8) error {
	for _, s := range g {
		if err := p.AddDependency(s, chipID); err != nil {
			return err
		}
	}
	return nil
}
