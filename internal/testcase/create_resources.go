package testcase

import (
	"context"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
	"github.com/ehrlich-b/go-nvmecheck/internal/registry"
)

// CreateResources resets the controller, creates the admin queue pair and
// shares it with the rest of the group
type CreateResources struct{}

func (CreateResources) Name() string { return "CreateResources" }

func (CreateResources) Desc() Desc {
	return Desc{
		Compliance: "revision 1.0b, section 7",
		Short:      "Create resources needed by subsequent tests",
		Long: "Completely disable the controller, create an ASQ/ACQ pair, " +
			"enable the controller and register both queues for the group.",
	}
}

func (CreateResources) RunCoreTest(ctx context.Context, env *Env) error {
	if err := env.Channel.SetControllerState(channel.StateDisableCompletely); err != nil {
		return errs.Wrap("CreateResources", err)
	}

	depth := env.AdminQueueDepth
	if depth == 0 {
		depth = constants.DefaultAdminQueueDepth
	}
	acq, err := queue.NewACQ(env.queueConfig(constants.AdminQueueID, depth))
	if err != nil {
		return err
	}
	if _, err := env.Registry.Register(constants.ACQGroupID, registry.KindACQ, acq); err != nil {
		acq.Free()
		return err
	}
	asq, err := queue.NewASQ(env.queueConfig(constants.AdminQueueID, depth), acq)
	if err != nil {
		return err
	}
	if _, err := env.Registry.Register(constants.ASQGroupID, registry.KindASQ, asq); err != nil {
		asq.Free()
		return err
	}

	if err := enable(ctx, env); err != nil {
		return err
	}

	if !env.Info.Loaded() {
		if err := env.Info.Load(ctx, asq, acq, env.cmdWait()); err != nil {
			return err
		}
	}
	env.logger().InfoContext(ctx, "admin queues ready", "depth", depth)
	return nil
}

// enable brings the controller up and waits for CSTS.RDY
func enable(ctx context.Context, env *Env) error {
	if err := env.Channel.SetControllerState(channel.StateEnable); err != nil {
		return errs.Wrap("Enable", err)
	}
	caps, err := channel.Capabilities(env.Channel)
	if err != nil {
		return err
	}
	return channel.WaitReady(ctx, env.Channel, true, caps.Timeout())
}

// resetController disables and re-enables the controller; the host side of
// the admin queues is rewound to match
func resetController(ctx context.Context, env *Env, asq *queue.SQ, acq *queue.CQ) error {
	if err := env.Channel.SetControllerState(channel.StateDisable); err != nil {
		return errs.Wrap("Disable", err)
	}
	asq.Reset()
	acq.Reset()
	return enable(ctx, env)
}

// configureIOEntrySizes programs CC.IOSQES/IOCQES from Identify controller
func configureIOEntrySizes(env *Env) error {
	ctrl, err := env.Info.IdentifyController()
	if err != nil {
		return err
	}
	sqes, cqes := ctrl.RequiredSQES(), ctrl.RequiredCQES()
	if sqes != nvme.SQESLog2 || cqes != nvme.CQESLog2 {
		return errs.NewMismatch("ConfigureQueueEntrySizes", constants.AdminQueueID, errs.CodeUnsupported,
			[2]uint8{nvme.SQESLog2, nvme.CQESLog2}, [2]uint8{sqes, cqes})
	}
	if err := env.Channel.ConfigureQueueEntrySizes(sqes, cqes); err != nil {
		return errs.Wrap("ConfigureQueueEntrySizes", err)
	}
	return nil
}
