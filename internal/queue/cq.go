package queue

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// CQ is a completion queue.
//
// Entries handed back by the channel are stored at the device-side tail of
// the ring, exactly where the controller would have written them. Reaping
// walks from head while the phase tag matches the expected phase, which
// starts at 1 and flips every time head wraps.
type CQ struct {
	*Queue
	phase    uint8
	irq      bool
	vector   uint16
	attached map[uint16]*SQ
	lastReap time.Time
}

// NewCQ allocates a CQ ring. It does not create the queue on the device.
func NewCQ(cfg Config, irqEnable bool, vector uint16) (*CQ, error) {
	q, err := newQueue(KindCQ, cfg)
	if err != nil {
		return nil, err
	}
	return &CQ{
		Queue:    q,
		phase:    1,
		irq:      irqEnable,
		vector:   vector,
		attached: make(map[uint16]*SQ),
	}, nil
}

// Phase returns the phase tag expected at head
func (cq *CQ) Phase() uint8 { return cq.phase }

// IRQEnabled reports whether the queue was created with interrupts enabled
func (cq *CQ) IRQEnabled() bool { return cq.irq }

// Vector returns the interrupt vector
func (cq *CQ) Vector() uint16 { return cq.vector }

// Attach links sq so that reaped SQHD values update its head. The CQ does
// not own the SQ.
func (cq *CQ) Attach(sq *SQ) error {
	if sq.cqID != cq.id {
		return errs.NewMismatch("Attach", sq.id, errs.CodeInvalidParameters, cq.id, sq.cqID)
	}
	cq.attached[sq.id] = sq
	return nil
}

// Detach removes the link set up by Attach
func (cq *CQ) Detach(sqID uint16) {
	delete(cq.attached, sqID)
}

// Outstanding returns CEs delivered to the ring but not yet reaped
func (cq *CQ) Outstanding() uint32 {
	return cq.arrived()
}

// pump moves CEs from the channel into the ring, waiting at most wait for
// the first one. It reports whether anything arrived.
func (cq *CQ) pump(wait time.Duration) (bool, error) {
	got := false
	for {
		raw, err := cq.ch.PollCompletion(cq.id, wait)
		if err != nil {
			return got, errs.WrapCode("PollCompletion", errs.CodeTransport, err)
		}
		if raw == nil {
			return got, nil
		}
		if uint32(len(raw)) != cq.entrySize {
			return got, errs.NewMismatch("PollCompletion", cq.id, errs.CodeTransport, cq.entrySize, len(raw))
		}
		if (cq.tail+1)%cq.depth == cq.head {
			return got, errs.NewQueueError("PollCompletion", cq.id, errs.CodeTransport,
				"device posted into a full completion queue")
		}
		copy(cq.slot(cq.tail), raw)
		cq.tail = cq.next(cq.tail)
		got = true
		wait = 0
	}
}

// arrived counts consecutive entries from head whose phase tag is current
func (cq *CQ) arrived() uint32 {
	var n uint32
	i, p := cq.head, cq.phase
	for n < cq.depth-1 {
		if nvme.CompletionPhase(cq.slot(i)) != p {
			break
		}
		n++
		i++
		if i == cq.depth {
			i, p = 0, p^1
		}
	}
	return n
}

// ReapInquiry waits until at least want entries are ready to reap or timeout
// passes, and returns how many are ready. Running out of time is not an
// error.
func (cq *CQ) ReapInquiry(timeout time.Duration, want uint32) (uint32, error) {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := cq.pump(0); err != nil {
			return cq.arrived(), err
		}
		n := cq.arrived()
		if n >= want {
			return n, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return n, nil
		}
		step := min(remaining, constants.CompletionPollInterval)
		start := time.Now()
		got, err := cq.pump(step)
		if err != nil {
			return cq.arrived(), err
		}
		if !got {
			if rest := step - time.Since(start); rest > 0 {
				time.Sleep(rest)
			}
		}
	}
}

// Reap waits up to timeout for maxEntries entries, then consumes up to
// maxEntries of those available, copying them into dst when dst is non-nil. Each
// consumed entry advances head; the head doorbell is rung once afterwards.
// A zero count with a nil error means nothing arrived in time.
func (cq *CQ) Reap(dst []byte, maxEntries uint32, timeout time.Duration) (uint32, error) {
	if maxEntries == 0 {
		return 0, nil
	}
	if dst != nil && uint32(len(dst)) < maxEntries*cq.entrySize {
		return 0, errs.NewMismatch("Reap", cq.id, errs.CodeInvalidParameters, maxEntries*cq.entrySize, len(dst))
	}

	start := time.Now()
	ready, err := cq.ReapInquiry(timeout, maxEntries)
	if err != nil {
		return 0, err
	}
	n := min(ready, maxEntries)
	if n == 0 {
		return 0, nil
	}

	for i := uint32(0); i < n; i++ {
		raw := cq.slot(cq.head)
		if dst != nil {
			copy(dst[i*cq.entrySize:], raw)
		}

		var ce nvme.CompletionEntry
		if err := nvme.Unmarshal(raw, &ce); err != nil {
			return i, errs.WrapCode("Reap", errs.CodeTransport, err)
		}
		if sq, ok := cq.attached[ce.SQID]; ok {
			sq.consumed(ce.SQHD, ce.CID)
		} else {
			cq.logger.Warn("completion for unattached SQ", "sqid", ce.SQID, "cid", ce.CID)
		}

		cq.head = cq.next(cq.head)
		if cq.head == 0 {
			cq.phase ^= 1
		}
		cq.logger.CompletionReaped(ce.CID, ce.SQID, ce.SQHD, ce.StatusValue(), cq.head)
	}

	cq.lastReap = time.Now()
	cq.observer.ObserveReap(cq.id, n, cq.lastReap.Sub(start))
	if err := cq.RingDoorbell(); err != nil {
		return n, err
	}
	return n, nil
}

// ReapEntries is Reap returning decoded entries
func (cq *CQ) ReapEntries(maxEntries uint32, timeout time.Duration) ([]nvme.CompletionEntry, error) {
	if maxEntries == 0 {
		return nil, nil
	}
	buf := make([]byte, maxEntries*cq.entrySize)
	n, err := cq.Reap(buf, maxEntries, timeout)
	out := make([]nvme.CompletionEntry, n)
	for i := range out {
		if uerr := nvme.Unmarshal(buf[uint32(i)*cq.entrySize:], &out[i]); uerr != nil && err == nil {
			err = errs.WrapCode("ReapEntries", errs.CodeTransport, uerr)
		}
	}
	return out, err
}

// PeekCE decodes ring slot index without moving any pointer
func (cq *CQ) PeekCE(index uint32) (nvme.CompletionEntry, error) {
	var ce nvme.CompletionEntry
	raw, err := cq.PeekEntryAt(index)
	if err != nil {
		return ce, err
	}
	if err := nvme.Unmarshal(raw, &ce); err != nil {
		return ce, errs.WrapCode("PeekCE", errs.CodeTransport, fmt.Errorf("slot %d: %w", index, err))
	}
	return ce, nil
}

// Reset returns the ring to its just-created state after a controller
// reset discarded the device side
func (cq *CQ) Reset() {
	cq.head, cq.tail, cq.phase = 0, 0, 1
	cq.mem.Zero()
}

// RingDoorbell publishes the current head
func (cq *CQ) RingDoorbell() error {
	return cq.ring(channel.DoorbellCQHead, cq.head)
}
