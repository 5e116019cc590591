package command

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// MaxBlocks is the largest block count a single Read/Write can carry
const MaxBlocks = 1 << 16

func newRW(op string, kind Kind, opcode uint8, nsid uint32, slba uint64, nlb uint32, p Payload) (*Cmd, error) {
	if nlb == 0 || nlb > MaxBlocks {
		return nil, errs.Newf(op, errs.CodeInvalidParameters, "block count %d out of range", nlb)
	}
	if p.Data == nil {
		return nil, errs.New(op, errs.CodeInvalidParameters, "missing data buffer")
	}
	c := newCmd(kind, opcode, nsid)
	c.entry.CDW10 = uint32(slba)
	c.entry.CDW11 = uint32(slba >> 32)
	c.entry.CDW12 = nlb - 1
	if err := c.attach(op, p); err != nil {
		return nil, err
	}
	return c, nil
}

// NewWrite writes nlb blocks starting at slba from p.Data (and p.Meta)
func NewWrite(nsid uint32, slba uint64, nlb uint32, p Payload) (*Cmd, error) {
	return newRW("NewWrite", KindWrite, nvme.NVMWrite, nsid, slba, nlb, p)
}

// NewRead reads nlb blocks starting at slba into p.Data (and p.Meta)
func NewRead(nsid uint32, slba uint64, nlb uint32, p Payload) (*Cmd, error) {
	return newRW("NewRead", KindRead, nvme.NVMRead, nsid, slba, nlb, p)
}

func NewFlush(nsid uint32) *Cmd {
	return newCmd(KindFlush, nvme.NVMFlush, nsid)
}
