package sim

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

func (c *Controller) execNVM(e *nvme.SubmissionEntry) (uint32, uint16) {
	ns := c.namespace(e.NSID)
	if ns == nil {
		return 0, nvme.StatusInvalidNamespace
	}
	if c.cfg.Faults.FailStatus != nvme.StatusSuccess {
		return 0, c.cfg.Faults.FailStatus
	}

	switch e.Opcode {
	case nvme.NVMFlush:
		if err := ns.media.Flush(); err != nil {
			c.logger.Error("media flush failed", "nsid", ns.id, "error", err)
			return 0, nvme.StatusInternalError
		}
		return 0, nvme.StatusSuccess
	case nvme.NVMWrite:
		return 0, c.write(ns, e)
	case nvme.NVMRead:
		return 0, c.read(ns, e)
	default:
		return 0, nvme.StatusInvalidOpcode
	}
}

func lbaRange(ns *namespace, e *nvme.SubmissionEntry) (slba, nlb uint64, ok bool) {
	slba = uint64(e.CDW10) | uint64(e.CDW11)<<32
	nlb = uint64(e.CDW12&0xFFFF) + 1
	return slba, nlb, slba < ns.desc.Blocks && nlb <= ns.desc.Blocks-slba
}

func (c *Controller) write(ns *namespace, e *nvme.SubmissionEntry) uint16 {
	slba, nlb, ok := lbaRange(ns, e)
	if !ok {
		return nvme.StatusLBAOutOfRange
	}
	bs := ns.blockSize()

	var meta []byte
	if ns.desc.MS > 0 {
		if e.MPTR == 0 {
			return nvme.StatusInvalidField
		}
		if meta, ok = memory.Resolve(e.MPTR, int(nlb)*int(ns.desc.MS)); !ok {
			return nvme.StatusDataXferError
		}
	}

	data, st := dmaFromHost(e, int(int64(nlb)*bs))
	if st != nvme.StatusSuccess {
		return st
	}
	if _, err := ns.media.WriteAt(data, int64(slba)*bs); err != nil {
		c.logger.Error("media write failed", "nsid", ns.id, "slba", slba, "error", err)
		return nvme.StatusInternalError
	}

	if c.cfg.Faults.DropMetadata {
		return nvme.StatusSuccess
	}
	ms := int(ns.desc.MS)
	for i := uint64(0); meta != nil && i < nlb; i++ {
		ns.meta[slba+i] = append([]byte(nil), meta[int(i)*ms:int(i+1)*ms]...)
	}
	return nvme.StatusSuccess
}

func (c *Controller) read(ns *namespace, e *nvme.SubmissionEntry) uint16 {
	slba, nlb, ok := lbaRange(ns, e)
	if !ok {
		return nvme.StatusLBAOutOfRange
	}
	bs := ns.blockSize()

	var meta []byte
	if ns.desc.MS > 0 {
		if e.MPTR == 0 {
			return nvme.StatusInvalidField
		}
		if meta, ok = memory.Resolve(e.MPTR, int(nlb)*int(ns.desc.MS)); !ok {
			return nvme.StatusDataXferError
		}
	}

	data := make([]byte, int64(nlb)*bs)
	if _, err := ns.media.ReadAt(data, int64(slba)*bs); err != nil {
		c.logger.Error("media read failed", "nsid", ns.id, "slba", slba, "error", err)
		return nvme.StatusInternalError
	}
	if st := dmaToHost(e, data); st != nvme.StatusSuccess {
		return st
	}

	ms := int(ns.desc.MS)
	for i := uint64(0); meta != nil && i < nlb; i++ {
		dst := meta[int(i)*ms : int(i+1)*ms]
		if stored, ok := ns.meta[slba+i]; ok {
			copy(dst, stored)
		} else {
			clear(dst)
		}
	}
	return nvme.StatusSuccess
}
