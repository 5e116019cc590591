package namespace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
	"github.com/ehrlich-b/go-nvmecheck/internal/sim"
)

func identify(ms uint16, dps uint8) *nvme.IdentifyNamespace {
	id := &nvme.IdentifyNamespace{NSZE: 1024, NCAP: 1024, DPS: dps}
	id.LBAF[0] = nvme.LBAFormat{MS: ms, LBADS: 9}
	return id
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ms   uint16
		dps  uint8
		want Tag
	}{
		{"no metadata", 0, 0, Bare},
		{"no metadata, DPS ignored", 0, 3, Bare},
		{"metadata", 512, 0, Meta},
		{"metadata, first-bytes bit only", 512, 0x08, Meta},
		{"protection type 1", 8, 1, E2E},
		{"protection type 3", 512, 3, E2E},
		{"protection type 5", 512, 5, E2E},
		{"protection type 7, first-bytes bit", 16, 0x0F, E2E},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(identify(tt.ms, tt.dps))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Classify(nil)
	assert.True(t, errs.IsCode(err, errs.CodeFrameworkBug))
}

func TestClassifyAllNonZeroProtection(t *testing.T) {
	for dps := uint8(1); dps <= 7; dps++ {
		inf := New(logging.Nop())
		inf.Set(&nvme.IdentifyController{NN: 2},
			[]*nvme.IdentifyNamespace{identify(512, dps), identify(512, 0)}, 0)

		got, err := inf.ClassifyAll()
		require.NoError(t, err, "dps %d", dps)
		assert.Equal(t, []Classified{{ID: 1, Tag: E2E}, {ID: 2, Tag: Meta}}, got, "dps %d", dps)
		assert.Equal(t, []uint32{1}, inf.E2E(), "dps %d", dps)
	}

	inf := New(logging.Nop())
	inf.Set(&nvme.IdentifyController{NN: 1}, []*nvme.IdentifyNamespace{identify(8, 6)}, 0)
	d, err := inf.FirstOfPreference()
	require.NoError(t, err)
	assert.Equal(t, E2E, d.Tag)
	assert.EqualValues(t, 1, d.ID)
}

func TestNotLoaded(t *testing.T) {
	inf := New(logging.Nop())
	_, err := inf.IdentifyController()
	assert.True(t, errs.IsCode(err, errs.CodeFrameworkBug))
	assert.Nil(t, inf.IdentifyNamespace(1))

	_, err = inf.FirstOfPreference()
	assert.True(t, errs.IsCode(err, errs.CodeNoSuitableNamspc))
}

func TestPreferenceOrder(t *testing.T) {
	inf := New(logging.Nop())
	inf.Set(&nvme.IdentifyController{NN: 4},
		[]*nvme.IdentifyNamespace{identify(8, 2), identify(16, 0), identify(0, 0), identify(16, 0)},
		3|1<<16)

	assert.Equal(t, []uint32{3}, inf.Bare())
	assert.Equal(t, []uint32{2, 4}, inf.Meta())
	assert.Equal(t, []uint32{1}, inf.E2E())
	assert.Equal(t, uint32(4), inf.NumIOSQs())
	assert.Equal(t, uint32(2), inf.NumIOCQs())
	assert.Nil(t, inf.IdentifyNamespace(0))
	assert.Nil(t, inf.IdentifyNamespace(5))

	d, err := inf.FirstOfPreference()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), d.ID)
	assert.Equal(t, Bare, d.Tag)
	assert.Equal(t, uint32(512), d.LBADataSize)

	all, err := inf.ClassifyAll()
	require.NoError(t, err)
	assert.Equal(t, []Classified{{1, E2E}, {2, Meta}, {3, Bare}, {4, Meta}}, all)

	inf.Set(&nvme.IdentifyController{NN: 2}, []*nvme.IdentifyNamespace{identify(8, 1), identify(16, 0)}, 0)
	d, err = inf.FirstOfPreference()
	require.NoError(t, err)
	assert.Equal(t, Descriptor{ID: 2, Tag: Meta, LBADataSize: 512, MetaSize: 16, Identify: inf.IdentifyNamespace(2)}, d)

	inf.Set(&nvme.IdentifyController{NN: 2}, []*nvme.IdentifyNamespace{identify(0, 0), nil}, 0)
	_, err = inf.ClassifyAll()
	assert.True(t, errs.IsCode(err, errs.CodeFrameworkBug), "got %v", err)
	assert.Contains(t, err.Error(), "namespace 2")
}

func TestLoadFromController(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.Namespaces = append(cfg.Namespaces, sim.Namespace{Blocks: 128, LBADS: 12, MS: 8, DPS: 1})
	cfg.MaxIOQueues = 4
	cfg.Logger = logging.Nop()
	ctrl, err := sim.New(cfg)
	require.NoError(t, err)
	defer ctrl.Close()

	qcfg := queue.Config{Channel: ctrl, Depth: 8, Logger: logging.Nop()}
	acq, err := queue.NewACQ(qcfg)
	require.NoError(t, err)
	defer acq.Free()
	asq, err := queue.NewASQ(qcfg, acq)
	require.NoError(t, err)
	defer asq.Free()
	require.NoError(t, ctrl.ConfigureQueueEntrySizes(nvme.SQESLog2, nvme.CQESLog2))
	require.NoError(t, ctrl.SetControllerState(channel.StateEnable))

	inf := New(logging.Nop())
	require.NoError(t, inf.Load(context.Background(), asq, acq, time.Second))
	assert.True(t, inf.Loaded())

	id, err := inf.IdentifyController()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), id.NN)
	assert.Equal(t, uint32(4), inf.NumIOSQs())

	all, err := inf.ClassifyAll()
	require.NoError(t, err)
	assert.Equal(t, []Classified{{1, Bare}, {2, Meta}, {3, E2E}}, all)

	d, err := inf.Describe(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), d.LBADataSize)
	assert.Equal(t, uint64(128), d.Identify.NSZE)

	_, err = inf.Describe(9)
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))
}
