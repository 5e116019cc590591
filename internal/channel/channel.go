// Package channel defines the byte-level device channel the queue engine
// is built on. A channel carries raw submission entries towards the device,
// publishes doorbells and hands back completion entries; it never
// interprets either.
package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// Channel provides the device operations needed by the queue engine
type Channel interface {
	// SubmitRaw hands one encoded submission entry for queue qid to the
	// transport. The entry is not visible to the device until the tail
	// doorbell covering it is rung.
	SubmitRaw(qid uint16, entry []byte) error

	// RingDoorbell publishes an SQ tail or CQ head value. There is no
	// acknowledgement.
	RingDoorbell(qid uint16, kind DoorbellKind, value uint32) error

	// PollCompletion returns the next completion entry posted to CQ qid,
	// waiting at most timeout. A nil slice with a nil error means nothing
	// arrived.
	PollCompletion(qid uint16, timeout time.Duration) ([]byte, error)

	// SetControllerState drives CC.EN and waits for CSTS.RDY to follow
	SetControllerState(state State) error

	// ConfigureQueueEntrySizes programs CC.IOSQES and CC.IOCQES (log2 sizes)
	ConfigureQueueEntrySizes(sqes, cqes uint8) error

	ReadRegister(reg Register) (uint64, error)
	WriteRegister(reg Register, value uint64) error

	// Close releases the transport
	Close() error
}

// DoorbellKind selects the tail (SQ) or head (CQ) doorbell of a queue pair
type DoorbellKind int

const (
	DoorbellSQTail DoorbellKind = iota
	DoorbellCQHead
)

func (k DoorbellKind) String() string {
	if k == DoorbellSQTail {
		return "sq-tail"
	}
	return "cq-head"
}

// Register names a controller register by its offset
type Register uint32

const (
	RegCAP  Register = nvme.RegCAP
	RegVS   Register = nvme.RegVS
	RegCC   Register = nvme.RegCC
	RegCSTS Register = nvme.RegCSTS
	RegAQA  Register = nvme.RegAQA
	RegASQ  Register = nvme.RegASQ
	RegACQ  Register = nvme.RegACQ
)

func (r Register) String() string {
	switch r {
	case RegCAP:
		return "CAP"
	case RegVS:
		return "VS"
	case RegCC:
		return "CC"
	case RegCSTS:
		return "CSTS"
	case RegAQA:
		return "AQA"
	case RegASQ:
		return "ASQ"
	case RegACQ:
		return "ACQ"
	default:
		return fmt.Sprintf("REG(%#x)", uint32(r))
	}
}

// State is a controller enable state
type State int

const (
	// StateDisable clears CC.EN, dropping every queue on the device
	StateDisable State = iota
	// StateDisableCompletely additionally resets admin queue attributes
	StateDisableCompletely
	// StateEnable sets CC.EN
	StateEnable
)

func (s State) String() string {
	switch s {
	case StateDisable:
		return "disable"
	case StateDisableCompletely:
		return "disable-completely"
	case StateEnable:
		return "enable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Capabilities reads and decodes CAP
func Capabilities(ch Channel) (nvme.Capabilities, error) {
	v, err := ch.ReadRegister(RegCAP)
	if err != nil {
		return 0, errs.Wrap("Capabilities", err)
	}
	return nvme.Capabilities(v), nil
}

// WaitReady polls CSTS.RDY until it equals ready, ctx ends or timeout
// passes. Transports that drive CC.EN directly use it to implement
// SetControllerState.
func WaitReady(ctx context.Context, ch Channel, ready bool, timeout time.Duration) error {
	logger := logging.Default()
	deadline := time.Now().Add(timeout)

	for {
		csts, err := ch.ReadRegister(RegCSTS)
		if err != nil {
			return errs.Wrap("WaitReady", err)
		}
		if csts&nvme.CSTSFatal != 0 {
			return errs.New("WaitReady", errs.CodeTransport, "controller fatal status")
		}
		if (csts&nvme.CSTSReady != 0) == ready {
			return nil
		}
		if time.Now().After(deadline) {
			logger.Error("controller did not reach ready state", "want_ready", ready, "timeout", timeout)
			return errs.Newf("WaitReady", errs.CodeTimeout, "CSTS.RDY != %v after %v", ready, timeout)
		}

		select {
		case <-ctx.Done():
			return errs.WrapCode("WaitReady", errs.CodeTimeout, ctx.Err())
		case <-time.After(constants.ReadyPollInterval):
		}
	}
}
