package sim

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

func (c *Controller) execAdmin(e *nvme.SubmissionEntry) (uint32, uint16) {
	switch e.Opcode {
	case nvme.AdminIdentify:
		return 0, c.identify(e)
	case nvme.AdminGetFeatures:
		return c.getFeatures(e)
	case nvme.AdminSetFeatures:
		return c.setFeatures(e)
	case nvme.AdminCreateIOCQ:
		return 0, c.createIOCQ(e)
	case nvme.AdminCreateIOSQ:
		return 0, c.createIOSQ(e)
	case nvme.AdminDeleteIOSQ:
		return 0, c.deleteIOSQ(e)
	case nvme.AdminDeleteIOCQ:
		return 0, c.deleteIOCQ(e)
	default:
		c.logger.Debug("unsupported admin opcode", "opcode", e.Opcode)
		return 0, nvme.StatusInvalidOpcode
	}
}

func (c *Controller) identify(e *nvme.SubmissionEntry) uint16 {
	var data []byte
	switch uint8(e.CDW10) {
	case nvme.CNSController:
		data = nvme.Marshal(&nvme.IdentifyController{
			VID:          0x1d1d,
			SerialNumber: "NVMECHECK0001",
			ModelNumber:  "nvmecheck simulated controller",
			FirmwareRev:  "1.0",
			SQES:         c.cfg.SQES<<4 | c.cfg.SQES,
			CQES:         c.cfg.CQES<<4 | c.cfg.CQES,
			NN:           uint32(len(c.namespaces)),
		})
	case nvme.CNSNamespace:
		ns := c.namespace(e.NSID)
		if ns == nil {
			return nvme.StatusInvalidNamespace
		}
		id := &nvme.IdentifyNamespace{
			NSZE: ns.desc.Blocks,
			NCAP: ns.desc.Blocks,
			NUSE: ns.desc.Blocks,
			DPS:  ns.desc.DPS,
		}
		if pt := ns.desc.DPS & nvme.DPSTypeMask; pt >= 1 && pt <= 3 {
			id.DPC = 1 << (pt - 1)
		}
		id.LBAF[0] = nvme.LBAFormat{MS: ns.desc.MS, LBADS: ns.desc.LBADS}
		data = nvme.Marshal(id)
	default:
		return nvme.StatusInvalidField
	}
	return dmaToHost(e, data)
}

func (c *Controller) getFeatures(e *nvme.SubmissionEntry) (uint32, uint16) {
	if uint8(e.CDW10) != nvme.FeatureNumberOfQueues {
		return 0, nvme.StatusInvalidField
	}
	return c.granted, nvme.StatusSuccess
}

func (c *Controller) setFeatures(e *nvme.SubmissionEntry) (uint32, uint16) {
	if uint8(e.CDW10) != nvme.FeatureNumberOfQueues {
		return 0, nvme.StatusInvalidField
	}
	nsq, ncq := uint16(e.CDW11), uint16(e.CDW11>>16)
	if nsq == 0xFFFF || ncq == 0xFFFF {
		return 0, nvme.StatusInvalidField
	}
	limit := c.cfg.MaxIOQueues - 1
	c.granted = uint32(min(nsq, limit)) | uint32(min(ncq, limit))<<16
	return c.granted, nvme.StatusSuccess
}

func (c *Controller) queueParams(e *nvme.SubmissionEntry, maxID uint16) (qid uint16, depth uint32, status uint16) {
	qid = uint16(e.CDW10)
	depth = e.CDW10>>16 + 1
	if qid == 0 || qid > maxID {
		return 0, 0, nvme.StatusInvalidQueueID
	}
	if depth < 2 || depth > uint32(c.cap.MQES())+1 {
		return 0, 0, nvme.StatusInvalidQueueSize
	}
	if e.CDW11&0x1 == 0 {
		// CAP.CQR is set: only physically contiguous queues
		return 0, 0, nvme.StatusInvalidField
	}
	return qid, depth, nvme.StatusSuccess
}

func (c *Controller) createIOCQ(e *nvme.SubmissionEntry) uint16 {
	qid, depth, st := c.queueParams(e, uint16(c.granted>>16)+1)
	if st != nvme.StatusSuccess {
		return st
	}
	if _, exists := c.cqs[qid]; exists {
		return nvme.StatusInvalidQueueID
	}
	if c.cc.IOCQES() != nvme.CQESLog2 {
		return nvme.StatusInvalidField
	}
	if _, ok := memory.Resolve(e.PRP1, int(depth)*nvme.CompletionEntrySize); !ok {
		return nvme.StatusInvalidField
	}
	c.cqs[qid] = &cqState{id: qid, base: e.PRP1, depth: depth, phase: 1}
	c.logger.Debug("IO CQ created", "qid", qid, "depth", depth)
	return nvme.StatusSuccess
}

func (c *Controller) createIOSQ(e *nvme.SubmissionEntry) uint16 {
	qid, depth, st := c.queueParams(e, uint16(c.granted)+1)
	if st != nvme.StatusSuccess {
		return st
	}
	if _, exists := c.sqs[qid]; exists {
		return nvme.StatusInvalidQueueID
	}
	cqid := uint16(e.CDW11 >> 16)
	if _, ok := c.cqs[cqid]; !ok || cqid == 0 {
		return nvme.StatusCQInvalid
	}
	if c.cc.IOSQES() != nvme.SQESLog2 {
		return nvme.StatusInvalidField
	}
	if _, ok := memory.Resolve(e.PRP1, int(depth)*nvme.SubmissionEntrySize); !ok {
		return nvme.StatusInvalidField
	}
	c.sqs[qid] = &sqState{id: qid, cqid: cqid, base: e.PRP1, depth: depth}
	c.logger.Debug("IO SQ created", "qid", qid, "depth", depth, "cqid", cqid)
	return nvme.StatusSuccess
}

func (c *Controller) deleteIOSQ(e *nvme.SubmissionEntry) uint16 {
	qid := uint16(e.CDW10)
	if _, ok := c.sqs[qid]; !ok || qid == 0 {
		return nvme.StatusInvalidQueueID
	}
	delete(c.sqs, qid)
	return nvme.StatusSuccess
}

func (c *Controller) deleteIOCQ(e *nvme.SubmissionEntry) uint16 {
	qid := uint16(e.CDW10)
	if _, ok := c.cqs[qid]; !ok || qid == 0 {
		return nvme.StatusInvalidQueueID
	}
	for _, sq := range c.sqs {
		if sq.cqid == qid {
			return nvme.StatusInvalidQueueDelete
		}
	}
	delete(c.cqs, qid)
	return nvme.StatusSuccess
}
