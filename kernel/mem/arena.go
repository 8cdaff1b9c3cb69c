package mem

import (
	"bytes"
	"fmt"
)

// ReadAt copies managed memory starting at addr into p.
// Reads are clipped at the end of the managed range.
func (m *Manager) ReadAt(p []byte, addr uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.offset(addr)
	if err != nil {
		return 0, fmt.Errorf("read at %#x: %w", addr, err)
	}
	return copy(p, m.ram[off:]), nil
}

// WriteAt copies p into managed memory starting at addr.
// Writes that would run past the managed range are rejected whole.
func (m *Manager) WriteAt(p []byte, addr uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.offset(addr)
	if err != nil {
		return 0, fmt.Errorf("write at %#x: %w", addr, err)
	}
	if uint64(off)+uint64(len(p)) > uint64(len(m.ram)) {
		return 0, fmt.Errorf("write %d bytes at %#x: %w", len(p), addr, ErrBadAddress)
	}
	return copy(m.ram[off:], p), nil
}

// CString reads a NUL-terminated string of at most max bytes at addr.
func (m *Manager) CString(addr, max uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	off, err := m.offset(addr)
	if err != nil {
		return "", fmt.Errorf("cstring at %#x: %w", addr, err)
	}
	end := uint64(off) + uint64(max)
	if end > uint64(len(m.ram)) {
		end = uint64(len(m.ram))
	}
	buf := m.ram[off:end]
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

func (m *Manager) offset(addr uint32) (uint32, error) {
	if addr < m.base || addr-m.base >= m.total {
		return 0, ErrBadAddress
	}
	return addr - m.base, nil
}
