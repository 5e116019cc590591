// Package memory provides page-aligned, device-visible buffers.
//
// Every Buffer is an anonymous mmap region registered in a process-wide DMA
// table under its bus address, so a device model living in the same process
// can resolve PRP and queue base addresses the way hardware would.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
)

// MaxContiguous is the largest single region Alloc will hand out
const MaxContiguous = 16 * 1024 * 1024

// PageSize is the host page size used for alignment and PRP math
var PageSize = unix.Getpagesize()

// Buffer is a device-visible byte region
type Buffer struct {
	mapped []byte // full mapping, page multiple
	size   int    // requested size
	addr   uint64
	freed  bool
}

// Alloc maps a zeroed, page-aligned region of at least size bytes
func Alloc(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, errs.Newf("Alloc", errs.CodeAllocation, "invalid buffer size %d", size)
	}
	if size > MaxContiguous {
		return nil, errs.Newf("Alloc", errs.CodeAllocation,
			"%s exceeds contiguous limit %s", humanize.IBytes(uint64(size)), humanize.IBytes(MaxContiguous))
	}

	mapLen := (size + PageSize - 1) &^ (PageSize - 1)
	mapped, err := unix.Mmap(-1, 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errs.WrapCode("Alloc", errs.CodeAllocation, fmt.Errorf("mmap %d bytes: %w", mapLen, err))
	}

	b := &Buffer{
		mapped: mapped,
		size:   size,
		addr:   uint64(uintptr(unsafe.Pointer(&mapped[0]))),
	}
	table.add(b)

	logging.Default().Debug("allocated device buffer",
		"size", humanize.IBytes(uint64(size)), "addr", fmt.Sprintf("%#x", b.addr))
	return b, nil
}

// MustAlloc is Alloc for sizes known to be valid; it panics on failure
func MustAlloc(size int) *Buffer {
	b, err := Alloc(size)
	if err != nil {
		panic(err)
	}
	return b
}

// Free unmaps the region and drops it from the DMA table. Safe to call twice.
func (b *Buffer) Free() error {
	if b == nil || b.freed {
		return nil
	}
	b.freed = true
	table.remove(b)
	return unix.Munmap(b.mapped)
}

// Freed reports whether Free was called
func (b *Buffer) Freed() bool { return b.freed }

// Len returns the requested size
func (b *Buffer) Len() int { return b.size }

// Addr returns the bus address of the first byte
func (b *Buffer) Addr() uint64 { return b.addr }

// Bytes returns the usable region
func (b *Buffer) Bytes() []byte { return b.mapped[:b.size] }

// Pages returns how many host pages the region spans
func (b *Buffer) Pages() int { return len(b.mapped) / PageSize }

// ReadAt implements io.ReaderAt
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(b.size) {
		return 0, errs.Newf("ReadAt", errs.CodeInvalidParameters,
			"range [%d,%d) outside buffer of %d bytes", off, off+int64(len(p)), b.size)
	}
	return copy(p, b.mapped[off:]), nil
}

// WriteAt implements io.WriterAt
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(b.size) {
		return 0, errs.Newf("WriteAt", errs.CodeInvalidParameters,
			"range [%d,%d) outside buffer of %d bytes", off, off+int64(len(p)), b.size)
	}
	return copy(b.mapped[off:], p), nil
}

// Zero clears the whole region
func (b *Buffer) Zero() {
	clear(b.mapped)
}

// Compare returns the offset of the first differing byte, or -1 when both
// buffers hold identical contents of identical length.
func (b *Buffer) Compare(other *Buffer) int {
	x, y := b.Bytes(), other.Bytes()
	n := min(len(x), len(y))
	for i := 0; i < n; i++ {
		if x[i] != y[i] {
			return i
		}
	}
	if len(x) != len(y) {
		return n
	}
	return -1
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer{addr=%#x size=%s}", b.addr, humanize.IBytes(uint64(b.size)))
}

// dmaTable maps bus addresses back to live buffers, ordered by address
type dmaTable struct {
	mu      sync.RWMutex
	regions []*Buffer
}

var table dmaTable

func (t *dmaTable) add(b *Buffer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := sort.Search(len(t.regions), func(i int) bool { return t.regions[i].addr >= b.addr })
	t.regions = append(t.regions, nil)
	copy(t.regions[i+1:], t.regions[i:])
	t.regions[i] = b
}

func (t *dmaTable) remove(b *Buffer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.regions {
		if r == b {
			t.regions = append(t.regions[:i], t.regions[i+1:]...)
			return
		}
	}
}

// Resolve returns the n bytes at bus address addr, or false when the range
// is not fully inside one live buffer.
func Resolve(addr uint64, n int) ([]byte, bool) {
	table.mu.RLock()
	defer table.mu.RUnlock()

	i := sort.Search(len(table.regions), func(i int) bool { return table.regions[i].addr > addr })
	if i == 0 {
		return nil, false
	}
	r := table.regions[i-1]
	off := addr - r.addr
	if off+uint64(n) > uint64(len(r.mapped)) {
		return nil, false
	}
	return r.mapped[off : off+uint64(n)], true
}

// Live returns the number of buffers not yet freed
func Live() int {
	table.mu.RLock()
	defer table.mu.RUnlock()
	return len(table.regions)
}
