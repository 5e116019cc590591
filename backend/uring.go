//go:build giouring
// +build giouring

package backend

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"github.com/pkg/errors"

	"github.com/ehrlich-b/go-nvmecheck/internal/interfaces"
)

const uringEntries = 64

// URing serves namespace media from a file or block device through io_uring
type URing struct {
	f    *os.File
	ring *giouring.Ring
	size int64
	mu   sync.Mutex
}

// NewURing opens path and sizes it to size bytes when it is a regular file
func NewURing(path string, size int64) (interfaces.Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.WithMessage(err, "open uring media")
	}
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() && st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.WithMessage(err, "size uring media")
		}
	}

	ring, err := giouring.CreateRing(uringEntries)
	if err != nil {
		f.Close()
		return nil, errors.WithMessage(err, "create io_uring")
	}
	return &URing{f: f, ring: ring, size: size}, nil
}

// rw submits one read or write and waits for it
func (u *URing) rw(write bool, p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > u.size {
		return 0, fmt.Errorf("range [%d,%d) outside media of %d bytes", off, off+int64(len(p)), u.size)
	}
	if len(p) == 0 {
		return 0, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	sqe := u.ring.GetSQE()
	if sqe == nil {
		return 0, errors.New("io_uring submission queue full")
	}
	buf := uintptr(unsafe.Pointer(&p[0]))
	if write {
		sqe.PrepareWrite(int(u.f.Fd()), buf, uint32(len(p)), uint64(off))
	} else {
		sqe.PrepareRead(int(u.f.Fd()), buf, uint32(len(p)), uint64(off))
	}

	if _, err := u.ring.Submit(); err != nil {
		return 0, errors.WithMessage(err, "io_uring submit")
	}
	cqe, err := u.ring.WaitCQE()
	if err != nil {
		return 0, errors.WithMessage(err, "io_uring wait")
	}
	res := cqe.Res
	u.ring.CQESeen(cqe)

	if res < 0 {
		return 0, syscall.Errno(-res)
	}
	if int(res) < len(p) {
		return int(res), fmt.Errorf("short io_uring transfer: %d of %d bytes", res, len(p))
	}
	return int(res), nil
}

// ReadAt implements the Backend interface
func (u *URing) ReadAt(p []byte, off int64) (int, error) {
	return u.rw(false, p, off)
}

// WriteAt implements the Backend interface
func (u *URing) WriteAt(p []byte, off int64) (int, error) {
	return u.rw(true, p, off)
}

// Size implements the Backend interface
func (u *URing) Size() int64 {
	return u.size
}

// Flush implements the Backend interface
func (u *URing) Flush() error {
	return u.f.Sync()
}

// Close implements the Backend interface
func (u *URing) Close() error {
	u.ring.QueueExit()
	return u.f.Close()
}

var _ interfaces.Backend = (*URing)(nil)
