package queue

import (
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/command"
	"github.com/ehrlich-b/go-nvmecheck/internal/completion"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// NewACQ allocates the admin completion queue and programs ACQ and AQA.
// The controller must be disabled.
func NewACQ(cfg Config) (*CQ, error) {
	cfg.ID = constants.AdminQueueID
	cfg.EntrySize = nvme.CompletionEntrySize
	cfg.Contiguous = true
	cq, err := NewCQ(cfg, true, 0)
	if err != nil {
		return nil, err
	}
	if err := programAdmin(cfg.Channel, channel.RegACQ, cq.mem.Addr(), 0, cq.depth); err != nil {
		cq.Free()
		return nil, err
	}
	return cq, nil
}

// NewASQ allocates the admin submission queue, programs ASQ and AQA and
// attaches it to acq. The controller must be disabled.
func NewASQ(cfg Config, acq *CQ) (*SQ, error) {
	cfg.ID = constants.AdminQueueID
	cfg.EntrySize = nvme.SubmissionEntrySize
	cfg.Contiguous = true
	sq, err := NewSQ(cfg, constants.AdminQueueID)
	if err != nil {
		return nil, err
	}
	if err := programAdmin(cfg.Channel, channel.RegASQ, sq.mem.Addr(), sq.depth, 0); err != nil {
		sq.Free()
		return nil, err
	}
	if err := acq.Attach(sq); err != nil {
		sq.Free()
		return nil, err
	}
	return sq, nil
}

// programAdmin writes a base register and merges one size into AQA
func programAdmin(ch channel.Channel, base channel.Register, addr uint64, asqEntries, acqEntries uint32) error {
	if err := ch.WriteRegister(base, addr); err != nil {
		return errs.WrapCode("ProgramAdmin", errs.CodeTransport, err)
	}
	aqa, err := ch.ReadRegister(channel.RegAQA)
	if err != nil {
		return errs.WrapCode("ProgramAdmin", errs.CodeTransport, err)
	}
	asq, acq := nvme.SplitAdminQueueAttributes(uint32(aqa))
	if asqEntries != 0 {
		asq = asqEntries
	}
	if acqEntries != 0 {
		acq = acqEntries
	}
	if err := ch.WriteRegister(channel.RegAQA, uint64(nvme.AdminQueueAttributes(asq, acq))); err != nil {
		return errs.WrapCode("ProgramAdmin", errs.CodeTransport, err)
	}
	return nil
}

// ExecAdmin sends one admin command, rings, reaps its completion and
// requires a successful status with a matching command identifier.
func ExecAdmin(asq *SQ, acq *CQ, cmd command.Command, timeout time.Duration) (nvme.CompletionEntry, error) {
	var ce nvme.CompletionEntry
	op := "Exec" + cmd.Name()

	cid, err := asq.Send(cmd)
	if err != nil {
		return ce, errs.Wrap(op, err)
	}
	if err := asq.RingDoorbell(); err != nil {
		return ce, errs.Wrap(op, err)
	}
	ces, err := acq.ReapEntries(1, timeout)
	if err != nil {
		return ce, errs.Wrap(op, err)
	}
	if len(ces) == 0 {
		return ce, errs.NewQueueError(op, acq.id, errs.CodeTimeout, "no completion within "+timeout.String())
	}
	ce = ces[0]

	if err := completion.Check(ce, completion.Expect{
		Status: nvme.StatusSuccess,
		SQID:   completion.Want(asq.id),
		CID:    completion.Want(cid),
	}); err != nil {
		return ce, errs.Wrap(op, err)
	}
	return ce, nil
}

// CreateIOCQContig allocates a contiguous IO CQ and creates it on the device
// through the admin queue pair.
func CreateIOCQContig(asq *SQ, acq *CQ, cfg Config, irqEnable bool, vector uint16, timeout time.Duration) (*CQ, error) {
	cfg.EntrySize = nvme.CompletionEntrySize
	cfg.Contiguous = true
	cq, err := NewCQ(cfg, irqEnable, vector)
	if err != nil {
		return nil, err
	}

	cmd, err := command.NewCreateIOCQ(cq.id, cq.depth, cq.mem, irqEnable, vector)
	if err != nil {
		cq.Free()
		return nil, err
	}
	if _, err := ExecAdmin(asq, acq, cmd, timeout); err != nil {
		cq.Free()
		return nil, err
	}
	cq.logger.Info("IO completion queue created", "depth", cq.depth)
	return cq, nil
}

// CreateIOSQContig allocates a contiguous IO SQ bound to cq, creates it on
// the device and attaches it to cq.
func CreateIOSQContig(asq *SQ, acq *CQ, cfg Config, cq *CQ, priority uint8, timeout time.Duration) (*SQ, error) {
	cfg.EntrySize = nvme.SubmissionEntrySize
	cfg.Contiguous = true
	sq, err := NewSQ(cfg, cq.id)
	if err != nil {
		return nil, err
	}

	cmd, err := command.NewCreateIOSQ(sq.id, sq.depth, cq.id, priority, sq.mem)
	if err != nil {
		sq.Free()
		return nil, err
	}
	if _, err := ExecAdmin(asq, acq, cmd, timeout); err != nil {
		sq.Free()
		return nil, err
	}
	if err := cq.Attach(sq); err != nil {
		return nil, err
	}
	sq.logger.Info("IO submission queue created", "depth", sq.depth, "cqid", cq.id)
	return sq, nil
}

// DeleteIOQ deletes sq then cq on the device and frees their rings
func DeleteIOQ(asq *SQ, acq *CQ, sq *SQ, cq *CQ, timeout time.Duration) error {
	if sq != nil {
		if _, err := ExecAdmin(asq, acq, command.NewDeleteIOSQ(sq.id), timeout); err != nil {
			return err
		}
		if cq != nil {
			cq.Detach(sq.id)
		}
		sq.Free()
	}
	if cq != nil {
		if _, err := ExecAdmin(asq, acq, command.NewDeleteIOCQ(cq.id), timeout); err != nil {
			return err
		}
		cq.Free()
	}
	return nil
}
