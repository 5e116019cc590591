package testcase

import (
	"context"

	"github.com/ehrlich-b/go-nvmecheck/internal/command"
	"github.com/ehrlich-b/go-nvmecheck/internal/completion"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
	"github.com/ehrlich-b/go-nvmecheck/internal/registry"
)

// WriteReadVerify writes a data pattern to the preferred namespace, flushes,
// reads it back and compares data and metadata
type WriteReadVerify struct {
	// SLBA is the block written; 0 when unset
	SLBA uint64
}

func (WriteReadVerify) Name() string { return "WriteReadVerify" }

func (WriteReadVerify) Desc() Desc {
	return Desc{
		Compliance: "revision 1.0b, section 6",
		Short:      "Write, flush and read back one block",
		Long: "Select the first bare, else meta namespace. Write one block of " +
			"an incrementing pattern, flush, read the block into a zeroed " +
			"buffer and require the data and any metadata to match.",
	}
}

func (t WriteReadVerify) RunCoreTest(ctx context.Context, env *Env) error {
	asq, acq, release, err := adminQueues(env)
	if err != nil {
		return err
	}
	defer release()

	if err := configureIOEntrySizes(env); err != nil {
		return err
	}
	sq, cq, teardown, err := createIOPair(env, asq, acq, constants.MinQueueDepth*2)
	if err != nil {
		return err
	}
	defer teardown()

	write, cleanup, err := newWriteCmd(env, t.SLBA)
	if err != nil {
		return err
	}
	defer cleanup()
	if _, err := env.Registry.Register(constants.WriteCmdGroupID, registry.KindCommand, write); err != nil {
		return err
	}
	defer env.Registry.Unregister(constants.WriteCmdGroupID)

	cmd, h, err := registry.LookupAs[*command.Cmd](env.Registry, constants.WriteCmdGroupID, registry.KindCommand)
	if err != nil {
		return err
	}
	defer h.Release()

	if err := submitOne(env, sq, cq, cmd); err != nil {
		return err
	}
	if err := submitOne(env, sq, cq, command.NewFlush(cmd.NSID())); err != nil {
		return err
	}

	wdata, wmeta := cmd.DataBuffer(), cmd.MetaBuffer()
	rdata, err := memory.Alloc(wdata.Len())
	if err != nil {
		return err
	}
	defer rdata.Free()
	payload := command.Payload{Mask: command.MaskPRPAll, Data: rdata}
	if wmeta != nil {
		rmeta, err := memory.Alloc(wmeta.Len())
		if err != nil {
			return err
		}
		defer rmeta.Free()
		payload.Meta = rmeta
		payload.Mask |= command.MaskMPTR
	}

	read, err := command.NewRead(cmd.NSID(), t.SLBA, 1, payload)
	if err != nil {
		return err
	}
	if err := submitOne(env, sq, cq, read); err != nil {
		return err
	}

	if off := wdata.Compare(rdata); off >= 0 {
		env.DumpQueue(sq, "iosq", "miscompare", "Data read back differs from data written")
		return errs.NewMismatch("CompareData", sq.ID(), errs.CodeUnexpectedStatus,
			wdata.Bytes()[off], rdata.Bytes()[off])
	}
	if wmeta != nil {
		if off := wmeta.Compare(payload.Meta); off >= 0 {
			return errs.NewMismatch("CompareMeta", sq.ID(), errs.CodeUnexpectedStatus,
				wmeta.Bytes()[off], payload.Meta.Bytes()[off])
		}
	}
	env.logger().InfoContext(ctx, "block verified", "nsid", cmd.NSID(), "slba", t.SLBA, "bytes", wdata.Len())

	return queue.DeleteIOQ(asq, acq, sq, cq, env.cmdWait())
}

// submitOne sends cmd, rings and requires one successful CE for it
func submitOne(env *Env, sq *queue.SQ, cq *queue.CQ, cmd command.Command) error {
	cid, err := sq.Send(cmd)
	if err != nil {
		return err
	}
	if err := sq.RingDoorbell(); err != nil {
		return err
	}
	ces, err := cq.ReapEntries(1, env.cmdWait())
	if err != nil {
		return err
	}
	if len(ces) == 0 {
		env.DumpQueue(cq, "iocq", "reap", "No CE for "+cmd.Name())
		return errs.NewQueueError("Reap", cq.ID(), errs.CodeTimeout, "no completion for "+cmd.Name())
	}
	return completion.CheckAndDump(ces[0], completion.Expect{
		Status: nvme.StatusSuccess,
		SQID:   completion.Want(sq.ID()),
		CID:    completion.Want(cid),
	}, env.dumper(), env.DumpPath("iocq", cmd.Name()), cq)
}
