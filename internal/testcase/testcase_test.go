package testcase_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/dump"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/namespace"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/registry"
	"github.com/ehrlich-b/go-nvmecheck/internal/sim"
	"github.com/ehrlich-b/go-nvmecheck/internal/testcase"
)

// runGroup runs the tests of g in order and stops at the first failure
func runGroup(env *testcase.Env, g testcase.Group) error {
	defer env.Registry.ReleaseAll()
	for _, t := range g.Tests {
		if err := t.RunCoreTest(context.Background(), env.ForTest(g.Name, t)); err != nil {
			return err
		}
	}
	return nil
}

func group(name string) testcase.Group {
	g, err := testcase.FindGroup(testcase.SpecRev10b, name)
	Expect(err).NotTo(HaveOccurred())
	return g
}

var _ = Describe("Groups", func() {
	It("lists the 1.0b groups in order", func() {
		groups, err := testcase.Groups(testcase.SpecRev10b)
		Expect(err).NotTo(HaveOccurred())
		var names []string
		for _, g := range groups {
			names = append(names, g.Name)
			Expect(g.Tests[0].Name()).To(Equal("CreateResources"))
			for _, t := range g.Tests {
				Expect(t.Desc().Short).NotTo(BeEmpty())
			}
		}
		Expect(names).To(Equal([]string{"GrpInformative", "GrpQueues", "GrpNVMReadWrite"}))
	})

	It("rejects an unknown revision as a framework bug", func() {
		_, err := testcase.Groups("1.1")
		Expect(errs.IsCode(err, errs.CodeFrameworkBug)).To(BeTrue())
	})

	It("reports a missing group", func() {
		_, err := testcase.FindGroup(testcase.SpecRev10b, "GrpNope")
		Expect(errs.IsCode(err, errs.CodeNotFound)).To(BeTrue())
	})
})

var _ = Describe("Compliance scenarios", func() {
	var (
		cfg     sim.Config
		ctrl    *sim.Controller
		env     *testcase.Env
		dumpDir string
	)

	BeforeEach(func() {
		cfg = sim.DefaultConfig()
		cfg.MQES = 7
		cfg.Logger = logging.Nop()
		dumpDir = filepath.Join(os.TempDir(), "nvmecheck-dumps-"+time.Now().Format("150405.000000000"))
	})

	JustBeforeEach(func() {
		var err error
		ctrl, err = sim.New(cfg)
		Expect(err).NotTo(HaveOccurred())

		files, err := dump.NewFileService(dumpDir)
		Expect(err).NotTo(HaveOccurred())

		reg := registry.New(logging.Nop())
		Expect(reg.Init()).To(Succeed())

		env = &testcase.Env{
			Channel:  ctrl,
			Registry: reg,
			Info:     namespace.New(logging.Nop()),
			Dump:     files,
			Logger:   logging.Nop(),
			CmdWait:  time.Second,
		}
	})

	AfterEach(func() {
		Expect(env.Registry.Shutdown()).To(Succeed())
		Expect(ctrl.Close()).To(Succeed())
		os.RemoveAll(dumpDir)
	})

	Context("with a well behaved controller", func() {
		It("creates and shares the admin queues", func() {
			g := group("GrpInformative")
			e := env.ForTest(g.Name, g.Tests[0])
			Expect(g.Tests[0].RunCoreTest(context.Background(), e)).To(Succeed())
			Expect(env.Registry.GroupIDs()).To(ConsistOf(constants.ASQGroupID, constants.ACQGroupID))
			Expect(env.Info.Loaded()).To(BeTrue())
			Expect(env.Registry.ReleaseAll()).To(Succeed())
		})

		It("passes every group", func() {
			groups, err := testcase.Groups(testcase.SpecRev10b)
			Expect(err).NotTo(HaveOccurred())
			for _, g := range groups {
				Expect(runGroup(env, g)).To(Succeed(), g.Name)
			}
			Expect(env.Registry.GroupIDs()).To(BeEmpty())
			Expect(ctrl.Stats().Fetched).To(Equal(ctrl.Stats().Posted))
		})

		It("needs CreateResources before rollover", func() {
			t := testcase.IOQRollChkSame{}
			err := t.RunCoreTest(context.Background(), env.ForTest("GrpQueues", t))
			Expect(errs.IsCode(err, errs.CodeNotFound)).To(BeTrue())
		})
	})

	Context("when the minimum queue size is the maximum", func() {
		BeforeEach(func() {
			cfg.MQES = 1
		})

		It("still verifies the minimum size rollover", func() {
			Expect(runGroup(env, group("GrpQueues"))).To(Succeed())
		})
	})

	Context("when only metadata namespaces exist", func() {
		BeforeEach(func() {
			cfg.Namespaces = []sim.Namespace{{Blocks: 64, LBADS: 12, MS: 16}}
		})

		It("writes and reads back data and metadata", func() {
			Expect(runGroup(env, group("GrpNVMReadWrite"))).To(Succeed())
			Expect(env.Registry.MetaAllocSize()).To(Equal(uint32(16)))
		})

		It("rolls over with metadata attached", func() {
			Expect(runGroup(env, group("GrpQueues"))).To(Succeed())
		})

		Context("and the controller drops metadata on write", func() {
			BeforeEach(func() {
				cfg.Faults.DropMetadata = true
			})

			It("detects the metadata miscompare", func() {
				err := runGroup(env, group("GrpNVMReadWrite"))
				Expect(errs.IsCode(err, errs.CodeUnexpectedStatus)).To(BeTrue(), "%v", err)
				var e *errs.Error
				Expect(errors.As(err, &e)).To(BeTrue())
				Expect(e.Op).To(Equal("CompareMeta"))
			})
		})
	})

	Context("when only E2E namespaces exist", func() {
		BeforeEach(func() {
			cfg.Namespaces = []sim.Namespace{{Blocks: 64, LBADS: 9, MS: 8, DPS: 1}}
		})

		It("fails fast as unsupported", func() {
			err := runGroup(env, group("GrpQueues"))
			Expect(errs.IsCode(err, errs.CodeUnsupported)).To(BeTrue(), "%v", err)
		})
	})

	Context("when the controller requires larger IO SQ entries", func() {
		BeforeEach(func() {
			cfg.SQES = 7
		})

		It("rejects the entry size as unsupported", func() {
			err := runGroup(env, group("GrpQueues"))
			Expect(errs.IsCode(err, errs.CodeUnsupported)).To(BeTrue(), "%v", err)
			var e *errs.Error
			Expect(errors.As(err, &e)).To(BeTrue())
			Expect(e.Op).To(Equal("ConfigureQueueEntrySizes"))
		})
	})

	Context("when no namespace exists", func() {
		BeforeEach(func() {
			cfg.Namespaces = nil
		})

		It("has no suitable namespace", func() {
			err := runGroup(env, group("GrpNVMReadWrite"))
			Expect(errs.IsCode(err, errs.CodeNoSuitableNamspc)).To(BeTrue(), "%v", err)
		})
	})

	Context("when the controller reports a wrong SQHD", func() {
		BeforeEach(func() {
			cfg.Faults.CorruptSQHD = true
		})

		It("fails with a head pointer mismatch and dumps the IOCQ", func() {
			err := runGroup(env, group("GrpQueues"))
			Expect(errs.IsCode(err, errs.CodeHeadPointer)).To(BeTrue(), "%v", err)

			var ve *errs.Error
			Expect(errors.As(err, &ve)).To(BeTrue())
			Expect(ve.Expected).To(Equal(uint16(1)))
			Expect(ve.Actual).To(Equal(uint16(0)))

			path := filepath.Join(dumpDir, "GrpQueues.IOQRollChkSame.iocq.CE0")
			Expect(path).To(BeAnExistingFile())
			sum, err := dump.ReadSummary(path + ".json")
			Expect(err).NotTo(HaveOccurred())
			Expect(sum.Reason).To(ContainSubstring("head pointer mismatch"))
		})
	})

	Context("when the controller reports a wrong SQID", func() {
		BeforeEach(func() {
			cfg.Faults.CorruptSQID = true
		})

		It("fails with a queue identity mismatch", func() {
			err := runGroup(env, group("GrpQueues"))
			Expect(errs.IsCode(err, errs.CodeQueueIdentity)).To(BeTrue(), "%v", err)
		})
	})

	Context("when NVM commands fail", func() {
		BeforeEach(func() {
			cfg.Faults.FailStatus = nvme.StatusInternalError
		})

		It("fails with an unexpected status", func() {
			err := runGroup(env, group("GrpNVMReadWrite"))
			Expect(errs.IsCode(err, errs.CodeUnexpectedStatus)).To(BeTrue(), "%v", err)
		})
	})
})
