package sim

import (
	"bytes"

	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// processSQ fetches every entry between the device head and the doorbell
// tail and completes it
func (c *Controller) processSQ(sq *sqState) {
	for sq.head != sq.tail {
		slot, ok := memory.Resolve(sq.base+uint64(sq.head)*nvme.SubmissionEntrySize, nvme.SubmissionEntrySize)
		if !ok {
			c.logger.Error("submission ring not addressable", "sqid", sq.id, "base", sq.base)
			c.csts |= nvme.CSTSFatal
			return
		}
		raw := append([]byte(nil), slot...)
		if len(sq.shadow) > 0 {
			if !bytes.Equal(sq.shadow[0], raw) {
				c.logger.Warn("ring slot differs from submitted entry", "sqid", sq.id, "slot", sq.head)
			}
			sq.shadow = sq.shadow[1:]
		}
		sq.head = (sq.head + 1) % sq.depth
		c.stats.Fetched++

		var e nvme.SubmissionEntry
		if err := nvme.Unmarshal(raw, &e); err != nil {
			c.logger.Error("undecodable submission entry", "sqid", sq.id, "error", err)
			continue
		}

		var dw0 uint32
		var status uint16
		if sq.id == 0 {
			dw0, status = c.execAdmin(&e)
		} else {
			dw0, status = c.execNVM(&e)
		}

		ce := nvme.CompletionEntry{
			DW0:  dw0,
			SQHD: uint16(sq.head),
			SQID: sq.id,
			CID:  e.CID,
		}
		if sq.id != 0 && c.cfg.Faults.CorruptSQHD {
			ce.SQHD = uint16((sq.head + 1) % sq.depth)
		}
		if sq.id != 0 && c.cfg.Faults.CorruptSQID {
			ce.SQID ^= 1
		}
		ce.SetStatus(status, status != nvme.StatusSuccess)

		cq, ok := c.cqs[sq.cqid]
		if !ok {
			c.logger.Warn("completion dropped, CQ gone", "sqid", sq.id, "cqid", sq.cqid)
			continue
		}
		c.post(cq, ce)
	}
}

// post delivers ce if the CQ has room, otherwise queues it until the host
// frees a slot through the head doorbell
func (c *Controller) post(cq *cqState, ce nvme.CompletionEntry) {
	if len(cq.backlog) > 0 || (cq.tail+1)%cq.depth == cq.head {
		cq.backlog = append(cq.backlog, ce)
		return
	}
	c.deliver(cq, ce)
}

func (c *Controller) deliver(cq *cqState, ce nvme.CompletionEntry) {
	ce.SetPhase(cq.phase)
	cq.posted = append(cq.posted, nvme.Marshal(&ce))
	cq.tail = (cq.tail + 1) % cq.depth
	if cq.tail == 0 {
		cq.phase ^= 1
	}
	c.stats.Posted++
}

func (c *Controller) drainBacklog(cq *cqState) {
	for len(cq.backlog) > 0 && (cq.tail+1)%cq.depth != cq.head {
		ce := cq.backlog[0]
		cq.backlog = cq.backlog[1:]
		c.deliver(cq, ce)
	}
}

// prpSegments resolves a transfer of n bytes described by PRP1/PRP2.
// Transfers needing a PRP list are not supported.
func prpSegments(prp1, prp2 uint64, n int) ([][]byte, bool) {
	page := uint64(memory.PageSize)
	first := min(uint64(n), page-prp1%page)
	seg1, ok := memory.Resolve(prp1, int(first))
	if !ok {
		return nil, false
	}
	rest := uint64(n) - first
	if rest == 0 {
		return [][]byte{seg1}, true
	}
	if prp2 == 0 || rest > page {
		return nil, false
	}
	seg2, ok := memory.Resolve(prp2, int(rest))
	if !ok {
		return nil, false
	}
	return [][]byte{seg1, seg2}, true
}

func dmaToHost(e *nvme.SubmissionEntry, data []byte) uint16 {
	segs, ok := prpSegments(e.PRP1, e.PRP2, len(data))
	if !ok {
		return nvme.StatusDataXferError
	}
	off := 0
	for _, s := range segs {
		off += copy(s, data[off:])
	}
	return nvme.StatusSuccess
}

func dmaFromHost(e *nvme.SubmissionEntry, n int) ([]byte, uint16) {
	segs, ok := prpSegments(e.PRP1, e.PRP2, n)
	if !ok {
		return nil, nvme.StatusDataXferError
	}
	out := make([]byte, 0, n)
	for _, s := range segs {
		out = append(out, s...)
	}
	return out, nvme.StatusSuccess
}
