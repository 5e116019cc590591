// Package backend provides namespace media for the simulated controller
package backend

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-nvmecheck/internal/interfaces"
)

// Memory provides RAM-based namespace media
type Memory struct {
	data   []byte
	size   int64
	mu     sync.RWMutex
	reads  atomic.Uint64
	writes atomic.Uint64
}

// NewMemory creates a new memory backend of the specified size
func NewMemory(size int64) *Memory {
	return &Memory{
		data: make([]byte, size),
		size: size,
	}
}

func (m *Memory) check(n int, off int64) error {
	if off < 0 || off+int64(n) > m.size {
		return fmt.Errorf("range [%d,%d) outside media of %d bytes", off, off+int64(n), m.size)
	}
	return nil
}

// ReadAt implements the Backend interface
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return 0, io.ErrClosedPipe
	}
	if err := m.check(len(p), off); err != nil {
		return 0, err
	}
	m.reads.Add(1)
	return copy(p, m.data[off:]), nil
}

// WriteAt implements the Backend interface
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return 0, io.ErrClosedPipe
	}
	if err := m.check(len(p), off); err != nil {
		return 0, err
	}
	m.writes.Add(1)
	return copy(m.data[off:], p), nil
}

// Size implements the Backend interface
func (m *Memory) Size() int64 {
	return m.size
}

// Close implements the Backend interface
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	return nil
}

// Flush implements the Backend interface
func (m *Memory) Flush() error {
	return nil
}

// WriteZeroes implements the WriteZeroesBackend interface
func (m *Memory) WriteZeroes(offset, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(int(length), offset); err != nil {
		return err
	}
	clear(m.data[offset : offset+length])
	return nil
}

// Stats implements the StatBackend interface
func (m *Memory) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":   "memory",
		"size":   m.size,
		"reads":  m.reads.Load(),
		"writes": m.writes.Load(),
	}
}

// Compile-time interface checks
var (
	_ interfaces.Backend            = (*Memory)(nil)
	_ interfaces.WriteZeroesBackend = (*Memory)(nil)
	_ interfaces.StatBackend        = (*Memory)(nil)
)
