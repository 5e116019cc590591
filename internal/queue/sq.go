package queue

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/command"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
)

// SQ is a submission queue.
//
// The ring is full when the outstanding count (entries appended but not yet
// reported consumed through a CE's SQHD) reaches depth-1; head == tail then
// always means empty.
type SQ struct {
	*Queue
	cqID        uint16
	outstanding uint32
	nextCID     uint16
	inflight    map[uint16]command.Command
}

// NewSQ allocates an SQ ring paired with completion queue cqID. It does not
// create the queue on the device.
func NewSQ(cfg Config, cqID uint16) (*SQ, error) {
	q, err := newQueue(KindSQ, cfg)
	if err != nil {
		return nil, err
	}
	return &SQ{
		Queue:    q,
		cqID:     cqID,
		inflight: make(map[uint16]command.Command),
	}, nil
}

// CQID returns the id of the paired completion queue
func (sq *SQ) CQID() uint16 { return sq.cqID }

// Outstanding returns entries not yet consumed by the device
func (sq *SQ) Outstanding() uint32 { return sq.outstanding }

// Inflight returns commands sent but not yet completed
func (sq *SQ) Inflight() int { return len(sq.inflight) }

// Command returns the in-flight command for cid
func (sq *SQ) Command(cid uint16) (command.Command, bool) {
	c, ok := sq.inflight[cid]
	return c, ok
}

// AppendEntry writes one encoded entry at the tail and advances it
func (sq *SQ) AppendEntry(entry []byte) error {
	if uint32(len(entry)) != sq.entrySize {
		return errs.NewMismatch("AppendEntry", sq.id, errs.CodeInvalidParameters, sq.entrySize, len(entry))
	}
	if sq.outstanding >= sq.depth-1 {
		return errs.NewQueueError("AppendEntry", sq.id, errs.CodeQueueFull, "submission queue full")
	}

	copy(sq.slot(sq.tail), entry)
	if err := sq.ch.SubmitRaw(sq.id, entry); err != nil {
		return errs.WrapCode("AppendEntry", errs.CodeTransport, err)
	}
	sq.tail = sq.next(sq.tail)
	sq.outstanding++
	return nil
}

// Send stamps a fresh command identifier into cmd and appends it. The
// doorbell is not rung.
func (sq *SQ) Send(cmd command.Command) (uint16, error) {
	if cmd.ExpectedEntrySize() != sq.entrySize {
		return 0, errs.NewMismatch("Send", sq.id, errs.CodeInvalidParameters, sq.entrySize, cmd.ExpectedEntrySize())
	}
	if cmd.Admin() != (sq.id == constants.AdminQueueID) {
		return 0, errs.NewQueueError("Send", sq.id, errs.CodeInvalidParameters,
			cmd.Name()+" submitted to the wrong queue type")
	}

	cid := sq.allocCID()
	if err := sq.AppendEntry(cmd.Serialize(cid)); err != nil {
		return 0, err
	}
	sq.inflight[cid] = cmd
	sq.logger.CommandSubmitted(cmd.Name(), cmd.Opcode(), cid, sq.tail)
	sq.observer.ObserveSubmit(sq.id, cmd.Opcode())
	return cid, nil
}

func (sq *SQ) allocCID() uint16 {
	for {
		cid := sq.nextCID
		sq.nextCID++
		if _, busy := sq.inflight[cid]; !busy {
			return cid
		}
	}
}

// Reset returns the ring to its just-created state after a controller
// reset discarded the device side
func (sq *SQ) Reset() {
	sq.head, sq.tail, sq.outstanding = 0, 0, 0
	sq.inflight = make(map[uint16]command.Command)
	sq.mem.Zero()
}

// RingDoorbell publishes the current tail
func (sq *SQ) RingDoorbell() error {
	return sq.ring(channel.DoorbellSQTail, sq.tail)
}

// consumed applies a completion's SQHD and CID to the ring state
func (sq *SQ) consumed(sqhd uint16, cid uint16) {
	delete(sq.inflight, cid)

	if uint32(sqhd) >= sq.depth {
		sq.logger.Warn("SQHD outside ring", "sqhd", sqhd, "depth", sq.depth)
		return
	}
	n := (uint32(sqhd) + sq.depth - sq.head) % sq.depth
	if n > sq.outstanding {
		sq.logger.Warn("SQHD beyond submitted entries", "sqhd", sqhd, "head", sq.head, "outstanding", sq.outstanding)
		return
	}
	sq.head = uint32(sqhd)
	sq.outstanding -= n
}
