package testcase

import (
	"context"

	"github.com/ehrlich-b/go-nvmecheck/internal/command"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
)

// InformativeDump reloads identification data, reports how every namespace
// classifies and cross-checks Get Features Number of Queues
type InformativeDump struct{}

func (InformativeDump) Name() string { return "InformativeDump" }

func (InformativeDump) Desc() Desc {
	return Desc{
		Compliance: "revision 1.0b, section 5",
		Short:      "Dump identify data and the number of queues feature",
		Long: "Issue Identify controller and Identify namespace for every " +
			"namespace, classify each namespace as bare, meta or E2E, then " +
			"issue Get Features Number of Queues and compare it against the " +
			"value cached for the run.",
	}
}

func (InformativeDump) RunCoreTest(ctx context.Context, env *Env) error {
	asq, acq, release, err := adminQueues(env)
	if err != nil {
		return err
	}
	defer release()

	if err := env.Info.Load(ctx, asq, acq, env.cmdWait()); err != nil {
		return err
	}
	ctrl, err := env.Info.IdentifyController()
	if err != nil {
		return err
	}
	env.logger().InfoContext(ctx, "identify controller",
		"vid", ctrl.VID, "model", ctrl.ModelNumber, "serial", ctrl.SerialNumber,
		"sqes", ctrl.SQES, "cqes", ctrl.CQES, "nn", ctrl.NN)

	all, err := env.Info.ClassifyAll()
	if err != nil {
		return err
	}
	for _, c := range all {
		d, err := env.Info.Describe(c.ID)
		if err != nil {
			return err
		}
		env.logger().InfoContext(ctx, "namespace", "nsid", d.ID, "tag", d.Tag.String(),
			"lba_size", d.LBADataSize, "meta_size", d.MetaSize, "nsze", d.Identify.NSZE)
	}

	ce, err := queue.ExecAdmin(asq, acq, command.NewGetFeatures(nvme.FeatureNumberOfQueues), env.cmdWait())
	if err != nil {
		return err
	}
	if ce.DW0 != env.Info.NumQueues() {
		env.DumpQueue(acq, "acq", "GetFeatures", "Number of Queues changed between reads")
		return errs.NewMismatch("GetFeaturesNumOfQueues", acq.ID(), errs.CodeUnexpectedStatus,
			env.Info.NumQueues(), ce.DW0)
	}
	env.logger().InfoContext(ctx, "number of queues", "io_sqs", env.Info.NumIOSQs(), "io_cqs", env.Info.NumIOCQs())
	return nil
}
