// Package signal implements the signal pool: the shared memory through which
// every chip in a simulated device communicates. Chips never call each other
// directly -- they read and write named signals, and the pool merges the
// competing writes into a single current value at each tick boundary.
//
// The representation (six 64-bit blocks of up to 64 signals each, addressed
// through up to 32 writer layers) mirrors the C original's block/layer
// bitmap scheme because it is what makes Pool.Cycle cheap: merge cost
// is proportional to the blocks actually touched in a tick, not to pool
// size.
package signal

import (
	"errors"
	"fmt"
)

const (
	// BlockSize is the number of signals packed into a single uint64 block.
	BlockSize = 64
	// Blocks is the number of blocks a pool holds.
	Blocks = 6
	// MaxSignals is the total fixed signal capacity of a pool.
	MaxSignals = BlockSize * Blocks
	// MaxLayers is the number of writer layers a pool supports.
	MaxLayers = 32
	// MaxChips is the width of a chip dependency mask (spec hard cap).
	MaxChips = 64
)

// Signal identifies a single-bit electrical net. Signal 0 is the reserved
// NULL signal used to detect uninitialized references.
type Signal uint32

// Null is the reserved, always-unwritable signal.
const Null Signal = 0

// Level is a three-valued read-out of what a single writer layer is
// currently driving onto a signal: a diagnostic view, never the merged
// current value.
type Level int

const (
	Low Level = iota
	High
	HighZ
)

func (l Level) String() string {
	switch l {
	case Low:
		return "Low"
	case High:
		return "High"
	default:
		return "HighZ"
	}
}

var (
	// ErrPoolExhausted is returned by Create once the fixed signal capacity
	// of the pool has been used up.
	ErrPoolExhausted = errors.New("signal: pool exhausted")
	// ErrSealed is returned when a structural operation (creating a signal,
	// naming one, raising the layer count) is attempted after the pool has
	// been sealed by Simulator.DeviceComplete.
	ErrSealed = errors.New("signal: pool is sealed")
	// ErrOutOfRange is returned for any operation addressing a signal or
	// layer outside the allocated/configured range.
	ErrOutOfRange = errors.New("signal: index out of range")
	// ErrNullSignal flags an attempt to do something meaningful (other than
	// a discarded write) with the reserved NULL signal.
	ErrNullSignal = errors.New("signal: operation on NULL signal")
	// ErrDuplicateName is returned by Name when the text is already bound
	// to a different signal.
	ErrDuplicateName = errors.New("signal: name already registered")
	// ErrDuplicateWriter is returned by Write when the given layer is
	// already actively driving the signal within the current tick -- two
	// writes to the same layer in the same tick is a programming error
	// (spec open question, resolved as a detectable construction error).
	ErrDuplicateWriter = errors.New("signal: layer already drives this signal this tick")
)

// Pool owns the merge state for every signal in a device.
type Pool struct {
	count      uint32
	layerCount uint8
	sealed     bool

	value   [Blocks]uint64
	changed [Blocks]uint64

	nextValue [MaxLayers][Blocks]uint64
	nextMask  [MaxLayers][Blocks]uint64

	def [Blocks]uint64

	// dependents[s] is the bitmask of chip ids that must run when signal s
	// changes.
	dependents [MaxSignals]uint64

	names  map[Signal]string
	byName map[string]Signal

	touched uint32 // bitmask of blocks written to in the current tick
}

// NewPool allocates an empty pool with a single writer layer and the NULL
// signal pre-created at index 0.
func NewPool() *Pool {
	p := &Pool{
		layerCount: 1,
		names:      make(map[Signal]string),
		byName:     make(map[string]Signal),
	}
	// NULL signal: index 0, never assigned meaning.
	if _, err := p.Create(); err != nil {
		panic(fmt.Sprintf("signal: failed to allocate NULL signal: %v", err))
	}
	return p
}

func blockOf(s Signal) int  { return int(s) / BlockSize }
func bitOf(s Signal) uint   { return uint(s) % BlockSize }
func bitMask(s Signal) uint64 { return uint64(1) << bitOf(s) }

// Create allocates a new signal id. It fails once the fixed pool capacity
// is exhausted or the pool has been sealed.
func (p *Pool) Create() (Signal, error) {
	if p.sealed {
		return 0, ErrSealed
	}
	if p.count >= MaxSignals {
		return 0, fmt.Errorf("%w: capacity %d", ErrPoolExhausted, MaxSignals)
	}
	s := Signal(p.count)
	p.count++
	return s, nil
}

// SetLayerCount raises the number of writer layers the pool reserves space
// for. Must happen before the pool is sealed.
func (p *Pool) SetLayerCount(n uint8) error {
	if p.sealed {
		return ErrSealed
	}
	if n == 0 || int(n) > MaxLayers {
		return fmt.Errorf("%w: layer count %d", ErrOutOfRange, n)
	}
	p.layerCount = n
	return nil
}

// Seal freezes the pool's structural state (signal count, layer count,
// dependency maps, defaults). After sealing, Create/Name/SetLayerCount all
// fail; reads and writes continue to work for the lifetime of the device.
func (p *Pool) Seal() {
	p.sealed = true
}

// Sealed reports whether the pool has been sealed.
func (p *Pool) Sealed() bool { return p.sealed }

// Count returns the number of signals allocated so far (including NULL).
func (p *Pool) Count() uint32 { return p.count }

func (p *Pool) checkSignal(s Signal) error {
	if uint32(s) >= p.count {
		return fmt.Errorf("%w: signal %d", ErrOutOfRange, s)
	}
	return nil
}

func (p *Pool) checkLayer(layer uint8) error {
	if layer >= p.layerCount {
		return fmt.Errorf("%w: layer %d", ErrOutOfRange, layer)
	}
	return nil
}

// Name binds a human-readable name to a signal. Fails if the pool is
// sealed, the signal is out of range, or the name is already bound to a
// different signal.
func (p *Pool) Name(s Signal, text string) error {
	if p.sealed {
		return ErrSealed
	}
	if err := p.checkSignal(s); err != nil {
		return err
	}
	if existing, ok := p.byName[text]; ok && existing != s {
		return fmt.Errorf("%w: %q", ErrDuplicateName, text)
	}
	p.names[s] = text
	p.byName[text] = s
	return nil
}

// ByName looks up a previously named signal. The second return value is
// false if no signal was registered under that name.
func (p *Pool) ByName(text string) (Signal, bool) {
	s, ok := p.byName[text]
	return s, ok
}

// SignalName returns the human name of a signal, or "" if unnamed.
func (p *Pool) SignalName(s Signal) string {
	return p.names[s]
}

// SetDefault fixes the pull-up/pull-down value a signal settles to when no
// writer layer actively drives it.
func (p *Pool) SetDefault(s Signal, value bool) error {
	if p.sealed {
		return ErrSealed
	}
	if err := p.checkSignal(s); err != nil {
		return err
	}
	blk, mask := blockOf(s), bitMask(s)
	if value {
		p.def[blk] |= mask
	} else {
		p.def[blk] &^= mask
	}
	// Mark the block so the next Cycle merges it and an undriven signal
	// takes the new default.
	p.touched |= 1 << uint(blk)
	return nil
}

// AddDependency unions chipID into the set of chips woken up when s
// changes value. chipID must be in [0, MaxChips).
func (p *Pool) AddDependency(s Signal, chipID uint8) error {
	if err := p.checkSignal(s); err != nil {
		return err
	}
	if chipID >= MaxChips {
		return fmt.Errorf("%w: chip id %d", ErrOutOfRange, chipID)
	}
	if s == Null {
		// The NULL signal's dependency mask is always empty.
		return nil
	}
	p.dependents[s] |= uint64(1) << chipID
	return nil
}

// DependencyMask returns the chip dependency mask for a signal.
func (p *Pool) DependencyMask(s Signal) uint64 {
	if uint32(s) >= p.count {
		return 0
	}
	return p.dependents[s]
}

// Read returns the merged value of a signal as of the end of the previous
// tick. It is constant for the duration of the current tick.
func (p *Pool) Read(s Signal) bool {
	if s == Null {
		return false
	}
	blk, mask := blockOf(s), bitMask(s)
	return p.value[blk]&mask != 0
}

// Changed reports whether a signal's merged value differs from its value
// at the start of the current tick (i.e. it changed on the most recent
// Cycle).
func (p *Pool) Changed(s Signal) bool {
	if s == Null {
		return false
	}
	blk, mask := blockOf(s), bitMask(s)
	return p.changed[blk]&mask != 0
}

// Write sets the given writer layer's next-value bit for s and marks the
// layer active. Writing to the NULL signal is silently discarded.
// Returns ErrDuplicateWriter if the layer already actively drives s this
// tick (two writers sharing one layer is a programming error).
func (p *Pool) Write(s Signal, layer uint8, value bool) error {
	if s == Null {
		return nil
	}
	if err := p.checkSignal(s); err != nil {
		return err
	}
	if err := p.checkLayer(layer); err != nil {
		return err
	}
	blk, mask := blockOf(s), bitMask(s)
	if p.nextMask[layer][blk]&mask != 0 {
		return fmt.Errorf("%w: signal %d layer %d", ErrDuplicateWriter, s, layer)
	}
	if value {
		p.nextValue[layer][blk] |= mask
	} else {
		p.nextValue[layer][blk] &^= mask
	}
	p.nextMask[layer][blk] |= mask
	p.touched |= 1 << uint(blk)
	return nil
}

// WriteAllowRewrite behaves like Write but permits a chip to overwrite its
// own pending drive value within the same tick (used internally by helpers
// that recompute a value before the merge without re-reading the mask).
func (p *Pool) WriteAllowRewrite(s Signal, layer uint8, value bool) error {
	if s == Null {
		return nil
	}
	if err := p.checkSignal(s); err != nil {
		return err
	}
	if err := p.checkLayer(layer); err != nil {
		return err
	}
	blk, mask := blockOf(s), bitMask(s)
	if value {
		p.nextValue[layer][blk] |= mask
	} else {
		p.nextValue[layer][blk] &^= mask
	}
	p.nextMask[layer][blk] |= mask
	p.touched |= 1 << uint(blk)
	return nil
}

// ClearWriter deactivates a writer layer's drive of a signal (releases the
// bus: the layer is no longer considered when merging).
func (p *Pool) ClearWriter(s Signal, layer uint8) error {
	if s == Null {
		return nil
	}
	if err := p.checkSignal(s); err != nil {
		return err
	}
	if err := p.checkLayer(layer); err != nil {
		return err
	}
	blk, mask := blockOf(s), bitMask(s)
	p.nextMask[layer][blk] &^= mask
	p.touched |= 1 << uint(blk)
	return nil
}

// ReadNextAtChip is a diagnostic readout of what a single writer layer is
// currently driving onto a signal: HighZ if the layer isn't actively
// driving it this tick.
func (p *Pool) ReadNextAtChip(s Signal, layer uint8) Level {
	if s == Null || uint32(s) >= p.count || layer >= p.layerCount {
		return HighZ
	}
	blk, mask := blockOf(s), bitMask(s)
	if p.nextMask[layer][blk]&mask == 0 {
		return HighZ
	}
	if p.nextValue[layer][blk]&mask != 0 {
		return High
	}
	return Low
}

// Cycle merges every touched block's writer layers into a new current
// value, following the open-drain rule: a signal reads low if any active
// layer drives it low, high only if every active layer drives it high, and
// its configured default if no layer drives it at all. It returns the
// accumulated dependency mask of every chip that must be woken because one
// of its dependency signals changed.
func (p *Pool) Cycle() uint64 {
	for i := range p.changed {
		p.changed[i] = 0
	}
	var dirty uint64

	touched := p.touched
	for touched != 0 {
		blk := lowestSetBit(touched)
		touched &= touched - 1

		var newValue, combinedMask uint64
		for layer := uint8(0); layer < p.layerCount; layer++ {
			newValue |= ^p.nextValue[layer][blk] & p.nextMask[layer][blk]
			combinedMask |= p.nextMask[layer][blk]
		}
		newValue = (^newValue & combinedMask) | (p.def[blk] &^ combinedMask)

		changed := p.value[blk] ^ newValue
		p.changed[blk] = changed
		p.value[blk] = newValue

		for changed != 0 {
			bit := lowestSetBit64(changed)
			changed &= changed - 1
			sig := Signal(blk*BlockSize + bit)
			dirty |= p.dependents[sig]
		}
	}

	p.touched = 0
	return dirty
}

func lowestSetBit(v uint32) int {
	for i := 0; i < 32; i++ {
		if v&(1<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}

func lowestSetBit64(v uint64) int {
	for i := 0; i < 64; i++ {
		if v&(uint64(1)<<uint(i)) != 0 {
			return i
		}
	}
	return -1
}
