package testcase

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/command"
	"github.com/ehrlich-b/go-nvmecheck/internal/completion"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/namespace"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
	"github.com/ehrlich-b/go-nvmecheck/internal/registry"
)

// IOQRollChkSame verifies doorbell rollover of an IO queue pair whose SQ
// and CQ have the same depth
type IOQRollChkSame struct{}

func (IOQRollChkSame) Name() string { return "IOQRollChkSame" }

func (IOQRollChkSame) Desc() Desc {
	return Desc{
		Compliance: "revision 1.0b, section 4",
		Short:      "Validate IOQ doorbell rollover when IOQ's same size",
		Long: "Select the first bare, else meta, else E2E namespace. Create an " +
			"IOSQ/IOCQ pair of size 2 and of CAP.MQES. Issue (Q size plus 2) " +
			"single block writes to LBA 0, reaping each CE as its command is " +
			"submitted and verifying CE.SQID and CE.SQHD. Finally verify the " +
			"IOSQ tail and IOCQ head both equal (Q size + 2) mod Q size.",
	}
}

func (t IOQRollChkSame) RunCoreTest(ctx context.Context, env *Env) error {
	caps, err := channel.Capabilities(env.Channel)
	if err != nil {
		return err
	}

	// IO Q min size
	if err := t.rollover(ctx, env, constants.MinQueueDepth); err != nil {
		return err
	}
	// IO Q max size
	mqes := uint32(caps.MQES())
	if mqes < constants.MinQueueDepth {
		env.logger().InfoContext(ctx, "CAP.MQES below the ring minimum, max size case skipped", "mqes", mqes)
		return nil
	}
	return t.rollover(ctx, env, mqes)
}

func (t IOQRollChkSame) rollover(ctx context.Context, env *Env, depth uint32) error {
	asq, acq, release, err := adminQueues(env)
	if err != nil {
		return err
	}
	defer release()

	if err := resetController(ctx, env, asq, acq); err != nil {
		return err
	}
	if err := configureIOEntrySizes(env); err != nil {
		return err
	}

	sq, cq, teardown, err := createIOPair(env, asq, acq, depth)
	if err != nil {
		return err
	}
	defer teardown()
	env.logger().InfoContext(ctx, "IO queue pair created", "iocq_depth", cq.Depth(), "iosq_depth", sq.Depth())

	cmd, cleanup, err := newWriteCmd(env, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	total := depth + 2
	env.logger().DebugContext(ctx, "sending commands", "count", total, "sqid", sq.ID())
	for i := uint32(0); i < total; i++ {
		if _, err := sq.Send(cmd); err != nil {
			return err
		}
		if err := sq.RingDoorbell(); err != nil {
			return err
		}
		if err := reapAndVerifyCE(env, sq, cq, uint16((i+1)%depth)); err != nil {
			return err
		}
	}
	if err := verifyQPointers(env, sq, cq); err != nil {
		return err
	}
	return queue.DeleteIOQ(asq, acq, sq, cq, env.cmdWait())
}

// createIOPair creates and registers IO queue pair constants.IOQueueID. The
// returned teardown unregisters both, which frees their rings.
func createIOPair(env *Env, asq *queue.SQ, acq *queue.CQ, depth uint32) (*queue.SQ, *queue.CQ, func(), error) {
	cq, err := queue.CreateIOCQContig(asq, acq, env.queueConfig(constants.IOQueueID, depth), false, 0, env.cmdWait())
	if err != nil {
		return nil, nil, nil, err
	}
	if _, err := env.Registry.Register(constants.IOCQContigGroupID, registry.KindIOCQ, cq); err != nil {
		cq.Free()
		return nil, nil, nil, err
	}

	sq, err := queue.CreateIOSQContig(asq, acq, env.queueConfig(constants.IOQueueID, depth), cq, 0, env.cmdWait())
	if err != nil {
		env.Registry.Unregister(constants.IOCQContigGroupID)
		return nil, nil, nil, err
	}
	if _, err := env.Registry.Register(constants.IOSQContigGroupID, registry.KindIOSQ, sq); err != nil {
		sq.Free()
		env.Registry.Unregister(constants.IOCQContigGroupID)
		return nil, nil, nil, err
	}

	teardown := func() {
		for _, id := range []string{constants.IOSQContigGroupID, constants.IOCQContigGroupID} {
			if err := env.Registry.Unregister(id); err != nil {
				env.logger().Warn("unregister failed", "group_id", id, "error", err)
			}
		}
	}
	return sq, cq, teardown, nil
}

// newWriteCmd builds a single block write to slba of the preferred
// namespace. E2E namespaces would need protection information generated
// for the data pattern, which is not supported.
func newWriteCmd(env *Env, slba uint64) (*command.Cmd, func(), error) {
	ns, err := env.Info.FirstOfPreference()
	if err != nil {
		return nil, nil, err
	}
	env.logger().Debug("write command namespace", "ns", ns.String())
	if ns.Tag == namespace.E2E {
		return nil, nil, errs.Newf("NewWriteCmd", errs.CodeUnsupported,
			"namespace %d requires end-to-end protection information", ns.ID)
	}

	data, err := memory.Alloc(int(ns.LBADataSize))
	if err != nil {
		return nil, nil, err
	}
	data.SetDataPattern(memory.DataPatInc16Bit, 0)

	payload := command.Payload{
		Mask: command.MaskPRP1Page | command.MaskPRP2Page | command.MaskPRP2List,
		Data: data,
	}
	if ns.Tag == namespace.Meta {
		if err := env.Registry.SetMetaAllocSize(uint32(ns.MetaSize)); err != nil {
			data.Free()
			return nil, nil, err
		}
		meta, err := env.Registry.AllocMetaBuffer()
		if err != nil {
			data.Free()
			return nil, nil, err
		}
		meta.SetDataPattern(memory.DataPatInc32Bit, 0x4D455441)
		payload.Meta = meta
		payload.Mask |= command.MaskMPTR
	}

	cmd, err := command.NewWrite(ns.ID, slba, 1, payload)
	if err != nil {
		data.Free()
		if payload.Meta != nil {
			payload.Meta.Free()
		}
		return nil, nil, err
	}
	cleanup := func() {
		data.Free()
		if payload.Meta != nil {
			payload.Meta.Free()
		}
	}
	return cmd, cleanup, nil
}

func reapAndVerifyCE(env *Env, sq *queue.SQ, cq *queue.CQ, expectedSQHD uint16) error {
	n, err := cq.ReapInquiry(env.cmdWait(), 1)
	if err != nil {
		return err
	}
	if n == 0 {
		env.DumpQueue(cq, "iocq", "reapInq", "Unable to see any CE's in IOCQ, dump entire CQ contents")
		return errs.NewQueueError("ReapInquiry", cq.ID(), errs.CodeTimeout, "unable to see completion of cmd")
	}
	if n != 1 {
		return errs.NewMismatch("ReapInquiry", cq.ID(), errs.CodeTransport, uint32(1), n)
	}

	head := cq.Metrics().Head
	reaped, err := cq.Reap(nil, 1, 0)
	if err != nil {
		return err
	}
	if reaped != 1 {
		return errs.Newf("Reap", errs.CodeFrameworkBug, "verified there was 1 CE, but reaping produced %d", reaped)
	}

	ce, err := cq.PeekCE(head)
	if err != nil {
		return err
	}
	return completion.CheckAndDump(ce, completion.Expect{
		Status: nvme.StatusSuccess,
		SQID:   completion.Want(sq.ID()),
		SQHD:   completion.Want(expectedSQHD),
	}, env.dumper(), env.DumpPath("iocq", fmt.Sprintf("CE%d", head)), cq)
}

func verifyQPointers(env *Env, sq *queue.SQ, cq *queue.CQ) error {
	expected := (sq.Depth() + 2) % sq.Depth()

	if tail := sq.Metrics().Tail; tail != expected {
		env.DumpQueue(sq, "iosq", "tail_ptr", "SQ Metrics Tail Pointer Inconsistent")
		return errs.NewMismatch("VerifyQPointers", sq.ID(), errs.CodeHeadPointer, expected, tail)
	}
	if head := cq.Metrics().Head; head != expected {
		env.DumpQueue(cq, "iocq", "head_ptr", "CQ Metrics Head Pointer Inconsistent")
		return errs.NewMismatch("VerifyQPointers", cq.ID(), errs.CodeHeadPointer, expected, head)
	}
	return nil
}
