package command

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// NewIdentify reads one Identify structure (CNS) into buf
func NewIdentify(cns uint8, nsid uint32, buf *memory.Buffer) (*Cmd, error) {
	if buf == nil || buf.Len() < nvme.IdentifySize {
		return nil, errs.New("NewIdentify", errs.CodeInvalidParameters, "identify needs a 4KiB buffer")
	}
	c := newCmd(KindIdentify, nvme.AdminIdentify, nsid)
	c.entry.CDW10 = uint32(cns)
	if err := c.attach("NewIdentify", Payload{Mask: MaskPRPAll, Data: buf}); err != nil {
		return nil, err
	}
	return c, nil
}

// NewGetFeatures queries feature fid; the value arrives in CE DW0
func NewGetFeatures(fid uint8) *Cmd {
	c := newCmd(KindGetFeatures, nvme.AdminGetFeatures, 0)
	c.entry.CDW10 = uint32(fid)
	return c
}

// NewSetFeatures sets feature fid to value (CDW11)
func NewSetFeatures(fid uint8, value uint32) *Cmd {
	c := newCmd(KindSetFeatures, nvme.AdminSetFeatures, 0)
	c.entry.CDW10 = uint32(fid)
	c.entry.CDW11 = value
	return c
}

// NewSetNumberOfQueues requests nsq submission and ncq completion IO queues
func NewSetNumberOfQueues(nsq, ncq uint16) *Cmd {
	return NewSetFeatures(nvme.FeatureNumberOfQueues, uint32(nsq-1)|uint32(ncq-1)<<16)
}

func checkQueueParams(op string, qid uint16, depth uint32, ring *memory.Buffer) error {
	if qid == 0 {
		return errs.New(op, errs.CodeInvalidParameters, "queue id 0 is reserved for the admin queues")
	}
	if depth < 2 || depth > 1<<16 {
		return errs.Newf(op, errs.CodeInvalidParameters, "queue depth %d out of range", depth)
	}
	if ring == nil {
		return errs.New(op, errs.CodeInvalidParameters, "missing ring memory")
	}
	return nil
}

// NewCreateIOCQ creates a physically contiguous IO completion queue
func NewCreateIOCQ(qid uint16, depth uint32, ring *memory.Buffer, irqEnable bool, vector uint16) (*Cmd, error) {
	if err := checkQueueParams("NewCreateIOCQ", qid, depth, ring); err != nil {
		return nil, err
	}
	c := newCmd(KindCreateIOCQ, nvme.AdminCreateIOCQ, 0)
	c.entry.CDW10 = (depth-1)<<16 | uint32(qid)
	c.entry.CDW11 = uint32(vector)<<16 | 0x1 // PC
	if irqEnable {
		c.entry.CDW11 |= 0x2
	}
	c.entry.PRP1 = ring.Addr()
	c.data = ring
	return c, nil
}

// NewCreateIOSQ creates a physically contiguous IO submission queue bound to cqid
func NewCreateIOSQ(qid uint16, depth uint32, cqid uint16, priority uint8, ring *memory.Buffer) (*Cmd, error) {
	if err := checkQueueParams("NewCreateIOSQ", qid, depth, ring); err != nil {
		return nil, err
	}
	c := newCmd(KindCreateIOSQ, nvme.AdminCreateIOSQ, 0)
	c.entry.CDW10 = (depth-1)<<16 | uint32(qid)
	c.entry.CDW11 = uint32(cqid)<<16 | uint32(priority&0x3)<<1 | 0x1
	c.entry.PRP1 = ring.Addr()
	c.data = ring
	return c, nil
}

func NewDeleteIOCQ(qid uint16) *Cmd {
	c := newCmd(KindDeleteIOCQ, nvme.AdminDeleteIOCQ, 0)
	c.entry.CDW10 = uint32(qid)
	return c
}

func NewDeleteIOSQ(qid uint16) *Cmd {
	c := newCmd(KindDeleteIOSQ, nvme.AdminDeleteIOSQ, 0)
	c.entry.CDW10 = uint32(qid)
	return c
}
