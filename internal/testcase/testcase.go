// Package testcase holds the compliance test cases and the groups they are
// organized in for each protocol revision.
package testcase

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/dump"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/namespace"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
	"github.com/ehrlich-b/go-nvmecheck/internal/registry"
)

// SpecRev is a protocol revision test groups are written against
type SpecRev string

const SpecRev10b SpecRev = "1.0b"

// Desc documents a test case
type Desc struct {
	Compliance string
	Short      string
	Long       string
}

// Test is one compliance test case
type Test interface {
	Name() string
	Desc() Desc
	RunCoreTest(ctx context.Context, env *Env) error
}

// Env is everything a test case may touch. Registry and Info persist
// across test cases of one run.
type Env struct {
	Channel         channel.Channel
	Registry        *registry.Registry
	Info            *namespace.Informative
	Dump            dump.Service
	Logger          *logging.Logger
	Observer        queue.Observer
	CmdWait         time.Duration
	AdminQueueDepth uint32
	Group           string
	Test            string
}

// ForTest returns a copy of e scoped to test t of group
func (e *Env) ForTest(group string, t Test) *Env {
	c := *e
	c.Group = group
	c.Test = t.Name()
	c.Logger = e.logger().WithGroup(group).WithTest(t.Name())
	return &c
}

func (e *Env) logger() *logging.Logger {
	if e.Logger == nil {
		return logging.Default()
	}
	return e.Logger
}

func (e *Env) dumper() dump.Service {
	if e.Dump == nil {
		return dump.Discard
	}
	return e.Dump
}

func (e *Env) cmdWait() time.Duration {
	if e.CmdWait <= 0 {
		return constants.DefaultCmdWait
	}
	return e.CmdWait
}

// DumpPath names a diagnostic artifact for obj produced by the current test
func (e *Env) DumpPath(obj, qualifier string) string {
	return dump.FileName(e.Group, e.Test, obj, qualifier)
}

// DumpQueue writes a diagnostic dump and logs, rather than returns, any
// failure to do so
func (e *Env) DumpQueue(q dump.Dumpable, obj, qualifier, reason string) {
	if err := e.dumper().DumpQueue(q, e.DumpPath(obj, qualifier), reason); err != nil {
		e.logger().Warn("queue dump failed", "obj", obj, "error", err)
	}
}

func (e *Env) queueConfig(id uint16, depth uint32) queue.Config {
	return queue.Config{
		Channel:  e.Channel,
		ID:       id,
		Depth:    depth,
		Logger:   e.logger(),
		Observer: e.Observer,
	}
}

// Group is an ordered list of test cases sharing registry resources
type Group struct {
	Name  string
	Desc  string
	Tests []Test
}

// Groups returns every group for rev in execution order
func Groups(rev SpecRev) ([]Group, error) {
	switch rev {
	case SpecRev10b:
		return []Group{
			{
				Name:  "GrpInformative",
				Desc:  "Dump controller and namespace identification",
				Tests: []Test{CreateResources{}, InformativeDump{}},
			},
			{
				Name:  "GrpQueues",
				Desc:  "IO queue creation and doorbell behavior",
				Tests: []Test{CreateResources{}, IOQRollChkSame{}},
			},
			{
				Name:  "GrpNVMReadWrite",
				Desc:  "NVM write and read data integrity",
				Tests: []Test{CreateResources{}, WriteReadVerify{}},
			},
		}, nil
	default:
		return nil, errs.Newf("Groups", errs.CodeFrameworkBug, "unknown NVMe revision %q", rev)
	}
}

// FindGroup returns the group called name for rev
func FindGroup(rev SpecRev, name string) (Group, error) {
	groups, err := Groups(rev)
	if err != nil {
		return Group{}, err
	}
	for _, g := range groups {
		if g.Name == name {
			return g, nil
		}
	}
	return Group{}, errs.Newf("FindGroup", errs.CodeNotFound, "no group %q in revision %s", name, rev)
}

// adminQueues looks up the admin pair registered by CreateResources. The
// returned release drops both references.
func adminQueues(env *Env) (*queue.SQ, *queue.CQ, func(), error) {
	asq, hs, err := registry.LookupAs[*queue.SQ](env.Registry, constants.ASQGroupID, registry.KindASQ)
	if err != nil {
		return nil, nil, nil, err
	}
	acq, hc, err := registry.LookupAs[*queue.CQ](env.Registry, constants.ACQGroupID, registry.KindACQ)
	if err != nil {
		hs.Release()
		return nil, nil, nil, err
	}
	release := func() {
		hc.Release()
		hs.Release()
	}
	return asq, acq, release, nil
}
