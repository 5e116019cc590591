// Package command describes protocol commands as immutable values that
// serialize into 64-byte submission entries.
package command

import (
	"fmt"

	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// Command is what a submission queue accepts
type Command interface {
	Name() string
	Opcode() uint8
	Admin() bool
	NSID() uint32
	// Serialize encodes the entry with cid stamped into DW0
	Serialize(cid uint16) []byte
	ExpectedEntrySize() uint32
	DataBuffer() *memory.Buffer
	MetaBuffer() *memory.Buffer
}

// Kind tags the closed set of supported command variants
type Kind int

const (
	KindIdentify Kind = iota
	KindGetFeatures
	KindSetFeatures
	KindCreateIOCQ
	KindCreateIOSQ
	KindDeleteIOCQ
	KindDeleteIOSQ
	KindWrite
	KindRead
	KindFlush
)

var kindNames = map[Kind]string{
	KindIdentify:    "Identify",
	KindGetFeatures: "GetFeatures",
	KindSetFeatures: "SetFeatures",
	KindCreateIOCQ:  "CreateIOCQ",
	KindCreateIOSQ:  "CreateIOSQ",
	KindDeleteIOCQ:  "DeleteIOCQ",
	KindDeleteIOSQ:  "DeleteIOSQ",
	KindWrite:       "Write",
	KindRead:        "Read",
	KindFlush:       "Flush",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Admin reports whether the variant belongs on the admin queue
func (k Kind) Admin() bool {
	return k < KindWrite
}

// Cmd is the concrete tagged command. All fields are fixed at construction.
type Cmd struct {
	kind  Kind
	entry nvme.SubmissionEntry
	data  *memory.Buffer
	meta  *memory.Buffer
}

var _ Command = (*Cmd)(nil)

func newCmd(kind Kind, opcode uint8, nsid uint32) *Cmd {
	return &Cmd{
		kind:  kind,
		entry: nvme.SubmissionEntry{Opcode: opcode, NSID: nsid},
	}
}

func (c *Cmd) Kind() Kind                 { return c.kind }
func (c *Cmd) Name() string               { return c.kind.String() }
func (c *Cmd) Opcode() uint8              { return c.entry.Opcode }
func (c *Cmd) Admin() bool                { return c.kind.Admin() }
func (c *Cmd) NSID() uint32               { return c.entry.NSID }
func (c *Cmd) DataBuffer() *memory.Buffer { return c.data }
func (c *Cmd) MetaBuffer() *memory.Buffer { return c.meta }

// Entry returns a copy of the unstamped submission entry
func (c *Cmd) Entry() nvme.SubmissionEntry { return c.entry }

// ExpectedEntrySize is the submission entry size this command encodes to
func (c *Cmd) ExpectedEntrySize() uint32 { return nvme.SubmissionEntrySize }

func (c *Cmd) Serialize(cid uint16) []byte {
	e := c.entry
	e.CID = cid
	return nvme.Marshal(&e)
}

func (c *Cmd) String() string {
	return fmt.Sprintf("%s(opc=%#02x nsid=%d)", c.Name(), c.entry.Opcode, c.entry.NSID)
}

// Payload is the memory descriptor attached to data-moving commands
type Payload struct {
	Mask PrpMask
	Data *memory.Buffer
	Meta *memory.Buffer
}

func (c *Cmd) attach(op string, p Payload) error {
	if p.Data != nil {
		if err := SetPrpBuffer(&c.entry, p.Mask, p.Data); err != nil {
			return errs.Wrap(op, err)
		}
		c.data = p.Data
	}
	if p.Meta != nil {
		if p.Mask&MaskMPTR == 0 {
			return errs.New(op, errs.CodeInvalidParameters, "meta buffer supplied without MPTR in mask")
		}
		c.entry.MPTR = p.Meta.Addr()
		c.meta = p.Meta
	}
	return nil
}
