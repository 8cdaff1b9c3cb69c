// Package mem implements the kernel region allocator: a first-fit block list
// over a fixed physical range, backed by a byte arena.
package mem

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultBase is the first managed physical address.
	DefaultBase uint32 = 0x100000
	// DefaultSize is the size of the managed range in bytes.
	DefaultSize uint32 = 0x100000

	// Overhead is the per-block metadata cost. A free block is split only
	// when it exceeds the request by more than this.
	Overhead uint32 = 44

	// OwnerFree tags every unallocated block.
	OwnerFree = "FREE"

	maxOwnerLen = 31
)

var (
	ErrOutOfMemory    = errors.New("out of memory")
	ErrInvalidPointer = errors.New("invalid pointer")
	ErrInvalidSize    = errors.New("invalid allocation size")
	ErrBadAddress     = errors.New("address outside managed memory")
)

// Block is one contiguous region of managed memory.
type Block struct {
	Start     uint32
	Size      uint32
	Allocated bool
	Owner     string
}

// End returns the first address past the block.
func (b Block) End() uint32 { return b.Start + b.Size }

// Config sizes the managed range.
type Config struct {
	Base uint32
	Size uint32
}

// Manager owns the block list. Callers only ever see addresses.
type Manager struct {
	mu     sync.Mutex
	base   uint32
	total  uint32
	used   uint32
	blocks []Block
	ram    []byte
	log    *zap.Logger
}

// New creates a manager with a single free block covering the range.
func New(cfg Config, log *zap.Logger) (*Manager, error) {
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Base == 0 {
		cfg.Base = DefaultBase
	}
	if uint64(cfg.Base)+uint64(cfg.Size) > 1<<32 {
		return nil, fmt.Errorf("memory range base=%#x size=%#x: %w", cfg.Base, cfg.Size, ErrBadAddress)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		base:   cfg.Base,
		total:  cfg.Size,
		blocks: []Block{{Start: cfg.Base, Size: cfg.Size, Owner: OwnerFree}},
		ram:    make([]byte, cfg.Size),
		log:    log,
	}, nil
}

// Allocate returns the start address of a block of exactly size bytes
// (or slightly more when the remainder is too small to split off).
func (m *Manager) Allocate(size uint32, owner string) (uint32, error) {
	if size == 0 {
		return 0, ErrInvalidSize
	}
	owner = clampOwner(owner)

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.blocks {
		b := &m.blocks[i]
		if b.Allocated || b.Size < size {
			continue
		}
		if b.Size > size+Overhead {
			rest := Block{Start: b.Start + size, Size: b.Size - size, Owner: OwnerFree}
			b.Size = size
			m.insert(i+1, rest)
			b = &m.blocks[i]
		}
		b.Allocated = true
		b.Owner = owner
		m.used += b.Size
		m.log.Debug("allocate",
			zap.Uint32("addr", b.Start),
			zap.Uint32("size", b.Size),
			zap.String("owner", owner))
		return b.Start, nil
	}
	m.log.Warn("allocation failed",
		zap.Uint32("size", size),
		zap.String("owner", owner),
		zap.Uint32("used", m.used))
	return 0, fmt.Errorf("allocate %d bytes for %s: %w", size, owner, ErrOutOfMemory)
}

// Free releases the allocated block starting at addr and merges it with
// free neighbours.
func (m *Manager) Free(addr uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.find(addr)
	if i < 0 || !m.blocks[i].Allocated {
		return fmt.Errorf("free %#x: %w", addr, ErrInvalidPointer)
	}

	b := &m.blocks[i]
	m.used -= b.Size
	m.log.Debug("free", zap.Uint32("addr", addr), zap.Uint32("size", b.Size), zap.String("owner", b.Owner))
	b.Allocated = false
	b.Owner = OwnerFree

	if i+1 < len(m.blocks) && !m.blocks[i+1].Allocated {
		b.Size += m.blocks[i+1].Size
		m.remove(i + 1)
	}
	if i > 0 && !m.blocks[i-1].Allocated {
		m.blocks[i-1].Size += m.blocks[i].Size
		m.remove(i)
	}
	return nil
}

// Usage reports allocated and total bytes.
func (m *Manager) Usage() (used, total uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used, m.total
}

// Base returns the first managed address.
func (m *Manager) Base() uint32 { return m.base }

// Blocks returns a copy of the block list in address order.
func (m *Manager) Blocks() []Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Block, len(m.blocks))
	copy(out, m.blocks)
	return out
}

// Check verifies the block list invariants.
func (m *Manager) Check() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.base
	var sum, used uint32
	for i, b := range m.blocks {
		if b.Start != next {
			return fmt.Errorf("block %d starts at %#x, want %#x", i, b.Start, next)
		}
		if b.Size == 0 {
			return fmt.Errorf("block %d at %#x is empty", i, b.Start)
		}
		if !b.Allocated && b.Owner != OwnerFree {
			return fmt.Errorf("free block %d at %#x owned by %q", i, b.Start, b.Owner)
		}
		if i > 0 && !b.Allocated && !m.blocks[i-1].Allocated {
			return fmt.Errorf("blocks %d and %d are both free", i-1, i)
		}
		if b.Allocated {
			used += b.Size
		}
		sum += b.Size
		next = b.End()
	}
	if sum != m.total {
		return fmt.Errorf("blocks cover %d bytes, want %d", sum, m.total)
	}
	if used != m.used {
		return fmt.Errorf("used counter %d, blocks say %d", m.used, used)
	}
	return nil
}

func (m *Manager) find(addr uint32) int {
	lo, hi := 0, len(m.blocks)
	for lo < hi {
		mid := (lo + hi) / 2
		switch s := m.blocks[mid].Start; {
		case s == addr:
			return mid
		case s < addr:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return -1
}

func (m *Manager) insert(i int, b Block) {
	m.blocks = append(m.blocks, Block{})
	copy(m.blocks[i+1:], m.blocks[i:])
	m.blocks[i] = b
}

func (m *Manager) remove(i int) {
	copy(m.blocks[i:], m.blocks[i+1:])
	m.blocks = m.blocks[:len(m.blocks)-1]
}

func clampOwner(s string) string {
	if len(s) > maxOwnerLen {
		return s[:maxOwnerLen]
	}
	return s
}
