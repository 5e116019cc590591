package backend

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"github.com/ehrlich-b/go-nvmecheck/internal/interfaces"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
)

// Badger stores namespace media as one key per block. Blocks never written
// read back as zeroes. An empty dir keeps everything in memory.
type Badger struct {
	db        *badger.DB
	size      int64
	blockSize int64
	inMemory  bool
	reads     atomic.Uint64
	writes    atomic.Uint64
}

// NewBadger opens (or creates) a badger store in dir with the given
// capacity and block size
func NewBadger(dir string, size int64, blockSize int64) (*Badger, error) {
	if blockSize <= 0 || size%blockSize != 0 {
		return nil, fmt.Errorf("size %d is not a multiple of block size %d", size, blockSize)
	}

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(logging.Default().WithGroup("badger"))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithMessage(err, "open badger media")
	}
	return &Badger{db: db, size: size, blockSize: blockSize, inMemory: dir == ""}, nil
}

func blockKey(n int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(n))
	return k[:]
}

func (b *Badger) check(n int, off int64) error {
	if off < 0 || off+int64(n) > b.size {
		return fmt.Errorf("range [%d,%d) outside media of %d bytes", off, off+int64(n), b.size)
	}
	return nil
}

// readBlock copies block n into dst, zero-filling when absent
func readBlock(txn *badger.Txn, n int64, dst []byte) error {
	item, err := txn.Get(blockKey(n))
	if err == badger.ErrKeyNotFound {
		clear(dst)
		return nil
	}
	if err != nil {
		return err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	copy(dst, val)
	return nil
}

// ReadAt implements the Backend interface
func (b *Badger) ReadAt(p []byte, off int64) (int, error) {
	if err := b.check(len(p), off); err != nil {
		return 0, err
	}
	b.reads.Add(1)

	block := make([]byte, b.blockSize)
	done := 0
	err := b.db.View(func(txn *badger.Txn) error {
		for done < len(p) {
			pos := off + int64(done)
			n, inner := pos/b.blockSize, pos%b.blockSize
			if err := readBlock(txn, n, block); err != nil {
				return err
			}
			done += copy(p[done:], block[inner:])
		}
		return nil
	})
	if err != nil {
		return done, errors.WithMessage(err, "badger read")
	}
	return done, nil
}

// WriteAt implements the Backend interface
func (b *Badger) WriteAt(p []byte, off int64) (int, error) {
	if err := b.check(len(p), off); err != nil {
		return 0, err
	}
	b.writes.Add(1)

	done := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		for done < len(p) {
			pos := off + int64(done)
			n, inner := pos/b.blockSize, pos%b.blockSize
			block := make([]byte, b.blockSize)
			if inner != 0 || int64(len(p)-done) < b.blockSize {
				if err := readBlock(txn, n, block); err != nil {
					return err
				}
			}
			c := copy(block[inner:], p[done:])
			if err := txn.Set(blockKey(n), block); err != nil {
				return err
			}
			done += c
		}
		return nil
	})
	if err != nil {
		return 0, errors.WithMessage(err, "badger write")
	}
	return done, nil
}

// Size implements the Backend interface
func (b *Badger) Size() int64 {
	return b.size
}

// Flush implements the Backend interface
func (b *Badger) Flush() error {
	if b.inMemory {
		return nil
	}
	if err := b.db.Sync(); err != nil {
		return errors.WithMessage(err, "badger sync")
	}
	return nil
}

// Close implements the Backend interface
func (b *Badger) Close() error {
	return b.db.Close()
}

// WriteZeroes implements the WriteZeroesBackend interface. Whole blocks
// are dropped; partial blocks are rewritten.
func (b *Badger) WriteZeroes(offset, length int64) error {
	if err := b.check(int(length), offset); err != nil {
		return err
	}
	end := offset + length
	return b.db.Update(func(txn *badger.Txn) error {
		for pos := offset; pos < end; {
			n, inner := pos/b.blockSize, pos%b.blockSize
			span := min(b.blockSize-inner, end-pos)
			if inner == 0 && span == b.blockSize {
				if err := txn.Delete(blockKey(n)); err != nil {
					return err
				}
			} else {
				block := make([]byte, b.blockSize)
				if err := readBlock(txn, n, block); err != nil {
					return err
				}
				clear(block[inner : inner+span])
				if err := txn.Set(blockKey(n), block); err != nil {
					return err
				}
			}
			pos += span
		}
		return nil
	})
}

// Stats implements the StatBackend interface
func (b *Badger) Stats() map[string]interface{} {
	lsm, vlog := b.db.Size()
	return map[string]interface{}{
		"type":       "badger",
		"size":       b.size,
		"block_size": b.blockSize,
		"reads":      b.reads.Load(),
		"writes":     b.writes.Load(),
		"lsm_bytes":  lsm,
		"vlog_bytes": vlog,
	}
}

var (
	_ interfaces.Backend            = (*Badger)(nil)
	_ interfaces.WriteZeroesBackend = (*Badger)(nil)
	_ interfaces.StatBackend        = (*Badger)(nil)
)
