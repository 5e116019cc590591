package memory

import "sync"

// Scratch buffers for entry-sized temporaries on the submit and reap paths.
// Size buckets match the fixed protocol records: completion entries,
// submission entries and Identify pages. Requests above the largest bucket
// are served by make and never pooled.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

const (
	size16 = 16
	size64 = 64
	size4k = 4096
)

var scratchPool = struct {
	pool16 sync.Pool
	pool64 sync.Pool
	pool4k sync.Pool
}{
	pool16: sync.Pool{New: func() any { b := make([]byte, size16); return &b }},
	pool64: sync.Pool{New: func() any { b := make([]byte, size64); return &b }},
	pool4k: sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
}

// GetScratch returns a zeroed buffer of the requested size.
// Caller should call PutScratch when done.
func GetScratch(size int) []byte {
	var buf []byte
	switch {
	case size <= size16:
		buf = (*scratchPool.pool16.Get().(*[]byte))[:size]
	case size <= size64:
		buf = (*scratchPool.pool64.Get().(*[]byte))[:size]
	case size <= size4k:
		buf = (*scratchPool.pool4k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
	clear(buf)
	return buf
}

// PutScratch returns a buffer to the pool.
// The buffer's capacity determines which pool it goes to.
func PutScratch(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size16:
		scratchPool.pool16.Put(&buf)
	case size64:
		scratchPool.pool64.Put(&buf)
	case size4k:
		scratchPool.pool4k.Put(&buf)
	}
}
