package command

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// PrpMask states which pointer fields a command may populate
type PrpMask uint8

const (
	MaskPRP1Page PrpMask = 1 << iota
	MaskPRP2Page
	MaskPRP2List
	MaskMPTR
)

// MaskPRPAll allows PRP1 and a second page entry
const MaskPRPAll = MaskPRP1Page | MaskPRP2Page

// SetPrpBuffer points PRP1 (and PRP2 for a two-page buffer) at buf.
// Buffers spanning more than two pages would need a PRP list, which is not
// built here.
func SetPrpBuffer(e *nvme.SubmissionEntry, mask PrpMask, buf *memory.Buffer) error {
	if mask&MaskPRP1Page == 0 {
		return errs.New("SetPrpBuffer", errs.CodeInvalidParameters, "mask does not allow PRP1")
	}

	e.PRP1 = buf.Addr()
	e.PRP2 = 0

	page := memory.PageSize
	switch {
	case buf.Len() <= page:
		return nil
	case buf.Len() <= 2*page:
		if mask&MaskPRP2Page == 0 {
			return errs.Newf("SetPrpBuffer", errs.CodeInvalidParameters,
				"buffer of %d bytes needs PRP2 but mask is %#x", buf.Len(), mask)
		}
		e.PRP2 = buf.Addr() + uint64(page)
		return nil
	default:
		return errs.Newf("SetPrpBuffer", errs.CodeUnsupported,
			"buffer of %d bytes needs a PRP list", buf.Len())
	}
}
