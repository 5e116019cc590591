// Package queue models submission and completion queues as doorbell-driven
// ring buffers on top of a channel.Channel.
package queue

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
)

// Kind distinguishes the two ring variants
type Kind int

const (
	KindSQ Kind = iota
	KindCQ
)

func (k Kind) String() string {
	if k == KindSQ {
		return "SQ"
	}
	return "CQ"
}

// Observer receives queue activity for metrics collection
type Observer interface {
	ObserveSubmit(qid uint16, opcode uint8)
	ObserveDoorbell(qid uint16, kind channel.DoorbellKind, value uint32)
	ObserveReap(qid uint16, n uint32, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveSubmit(uint16, uint8)                          {}
func (nopObserver) ObserveDoorbell(uint16, channel.DoorbellKind, uint32) {}
func (nopObserver) ObserveReap(uint16, uint32, time.Duration)            {}

// Config describes one queue
type Config struct {
	Channel    channel.Channel
	ID         uint16
	Depth      uint32
	EntrySize  uint32
	Contiguous bool
	Logger     *logging.Logger
	Observer   Observer
}

// Metrics is a point-in-time snapshot of the ring pointers
type Metrics struct {
	Head uint32
	Tail uint32
}

// Queue is the ring state shared by SQ and CQ
type Queue struct {
	ch         channel.Channel
	kind       Kind
	id         uint16
	depth      uint32
	entrySize  uint32
	contiguous bool
	mem        *memory.Buffer
	head       uint32
	tail       uint32
	logger     *logging.Logger
	observer   Observer
}

func newQueue(kind Kind, cfg Config) (*Queue, error) {
	op := "Create" + kind.String()
	if cfg.Channel == nil {
		return nil, errs.New(op, errs.CodeInvalidParameters, "nil channel")
	}
	if cfg.Depth < constants.MinQueueDepth {
		return nil, errs.NewQueueError(op, cfg.ID, errs.CodeAllocation,
			fmt.Sprintf("depth %d below hardware minimum %d", cfg.Depth, constants.MinQueueDepth))
	}
	if cfg.EntrySize == 0 {
		return nil, errs.NewQueueError(op, cfg.ID, errs.CodeInvalidParameters, "zero entry size")
	}
	if !cfg.Contiguous {
		return nil, errs.NewQueueError(op, cfg.ID, errs.CodeUnsupported,
			"discontiguous rings need a PRP list")
	}

	mem, err := memory.Alloc(int(cfg.Depth * cfg.EntrySize))
	if err != nil {
		return nil, errs.Wrap(op, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	q := &Queue{
		ch:         cfg.Channel,
		kind:       kind,
		id:         cfg.ID,
		depth:      cfg.Depth,
		entrySize:  cfg.EntrySize,
		contiguous: cfg.Contiguous,
		mem:        mem,
		logger:     logger.WithQueue(kind.String(), cfg.ID),
		observer:   observer,
	}
	q.logger.Debug("queue allocated", "depth", cfg.Depth, "entry_size", cfg.EntrySize, "mem", mem.String())
	return q, nil
}

func (q *Queue) Kind() Kind               { return q.kind }
func (q *Queue) ID() uint16               { return q.id }
func (q *Queue) Depth() uint32            { return q.depth }
func (q *Queue) EntrySize() uint32        { return q.entrySize }
func (q *Queue) Contiguous() bool         { return q.contiguous }
func (q *Queue) Memory() *memory.Buffer   { return q.mem }
func (q *Queue) Logger() *logging.Logger  { return q.logger }
func (q *Queue) Channel() channel.Channel { return q.ch }

// Metrics returns (head, tail) without changing any state
func (q *Queue) Metrics() Metrics {
	return Metrics{Head: q.head, Tail: q.tail}
}

func (q *Queue) next(p uint32) uint32 {
	return (p + 1) % q.depth
}

func (q *Queue) slot(i uint32) []byte {
	off := i * q.entrySize
	return q.mem.Bytes()[off : off+q.entrySize]
}

// PeekEntryAt returns a copy of ring slot index without moving any pointer
func (q *Queue) PeekEntryAt(index uint32) ([]byte, error) {
	if index >= q.depth {
		return nil, errs.NewQueueError("PeekEntryAt", q.id, errs.CodeInvalidParameters,
			fmt.Sprintf("index %d outside depth %d", index, q.depth))
	}
	out := make([]byte, q.entrySize)
	copy(out, q.slot(index))
	return out, nil
}

func (q *Queue) ring(kind channel.DoorbellKind, value uint32) error {
	// Entry stores must be visible before the device sees the doorbell
	channel.Sfence()
	if err := q.ch.RingDoorbell(q.id, kind, value); err != nil {
		return errs.WrapCode("RingDoorbell", errs.CodeTransport, err)
	}
	q.observer.ObserveDoorbell(q.id, kind, value)
	return nil
}

// Free releases the ring memory. The queue must already be deleted on the
// device side.
func (q *Queue) Free() error {
	return q.mem.Free()
}

func (q *Queue) String() string {
	return fmt.Sprintf("%s%d{depth=%d head=%d tail=%d}", q.kind, q.id, q.depth, q.head, q.tail)
}
