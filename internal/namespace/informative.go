// Package namespace loads the controller's identification data once per
// run and classifies namespaces by their data layout.
package namespace

import (
	"context"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/command"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/memory"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
	"github.com/ehrlich-b/go-nvmecheck/internal/queue"
)

// Tag is a namespace's data layout class
type Tag int

const (
	// Bare namespaces carry no metadata
	Bare Tag = iota
	// Meta namespaces carry metadata without end-to-end protection
	Meta
	// E2E namespaces carry protection information
	E2E
)

func (t Tag) String() string {
	switch t {
	case Bare:
		return "bare"
	case Meta:
		return "meta"
	case E2E:
		return "e2e"
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// Descriptor is one classified namespace
type Descriptor struct {
	ID          uint32
	Tag         Tag
	LBADataSize uint32
	MetaSize    uint16
	Identify    *nvme.IdentifyNamespace
}

func (d Descriptor) String() string {
	return fmt.Sprintf("ns%d{%s lba=%d ms=%d}", d.ID, d.Tag, d.LBADataSize, d.MetaSize)
}

// Classified pairs a namespace id with its tag
type Classified struct {
	ID  uint32
	Tag Tag
}

// Classify determines the tag from the formatted LBA format and the low
// three bits of DPS. Any nonzero protection type with metadata is E2E.
func Classify(id *nvme.IdentifyNamespace) (Tag, error) {
	if id == nil {
		return 0, errs.New("Classify", errs.CodeFrameworkBug, "nil identify namespace data")
	}
	switch {
	case id.FormattedLBA().MS == 0:
		return Bare, nil
	case id.ProtectionType() == 0:
		return Meta, nil
	default:
		return E2E, nil
	}
}

// Informative caches Identify controller, Identify namespace and Number of
// Queues data for the run
type Informative struct {
	ctrl       *nvme.IdentifyController
	namespaces []*nvme.IdentifyNamespace // index nsid-1
	numQueues  uint32
	loaded     bool
	logger     *logging.Logger
}

// New creates an empty Informative; Load fills it
func New(logger *logging.Logger) *Informative {
	if logger == nil {
		logger = logging.Default()
	}
	return &Informative{logger: logger.WithGroup("informative")}
}

// Load issues Identify controller, Identify namespace for every nsid and
// Get Features Number of Queues through the admin queue pair
func (inf *Informative) Load(ctx context.Context, asq *queue.SQ, acq *queue.CQ, timeout time.Duration) error {
	inf.Clear()

	buf, err := memory.Alloc(nvme.IdentifySize)
	if err != nil {
		return errs.Wrap("Load", err)
	}
	defer buf.Free()

	cmd, err := command.NewIdentify(nvme.CNSController, 0, buf)
	if err != nil {
		return err
	}
	if _, err := queue.ExecAdmin(asq, acq, cmd, timeout); err != nil {
		return err
	}
	ctrl := &nvme.IdentifyController{}
	if err := nvme.Unmarshal(buf.Bytes(), ctrl); err != nil {
		return errs.WrapCode("Load", errs.CodeTransport, err)
	}
	inf.logger.Info("controller identified",
		"model", ctrl.ModelNumber, "serial", ctrl.SerialNumber, "fw", ctrl.FirmwareRev, "nn", ctrl.NN)

	namespaces := make([]*nvme.IdentifyNamespace, 0, ctrl.NN)
	for nsid := uint32(1); nsid <= ctrl.NN; nsid++ {
		if err := ctx.Err(); err != nil {
			return errs.WrapCode("Load", errs.CodeTimeout, err)
		}
		buf.Zero()
		cmd, err := command.NewIdentify(nvme.CNSNamespace, nsid, buf)
		if err != nil {
			return err
		}
		if _, err := queue.ExecAdmin(asq, acq, cmd, timeout); err != nil {
			return err
		}
		ns := &nvme.IdentifyNamespace{}
		if err := nvme.Unmarshal(buf.Bytes(), ns); err != nil {
			return errs.WrapCode("Load", errs.CodeTransport, err)
		}
		namespaces = append(namespaces, ns)
	}

	ce, err := queue.ExecAdmin(asq, acq, command.NewGetFeatures(nvme.FeatureNumberOfQueues), timeout)
	if err != nil {
		return err
	}

	inf.ctrl = ctrl
	inf.namespaces = namespaces
	inf.numQueues = ce.DW0
	inf.loaded = true
	inf.logger.Info("informative loaded",
		"namespaces", len(namespaces), "io_sqs", inf.NumIOSQs(), "io_cqs", inf.NumIOCQs())
	return nil
}

// Set installs identification data directly
func (inf *Informative) Set(ctrl *nvme.IdentifyController, namespaces []*nvme.IdentifyNamespace, numQueues uint32) {
	inf.ctrl = ctrl
	inf.namespaces = namespaces
	inf.numQueues = numQueues
	inf.loaded = ctrl != nil
}

// Clear forgets everything loaded
func (inf *Informative) Clear() {
	inf.ctrl = nil
	inf.namespaces = nil
	inf.numQueues = 0
	inf.loaded = false
}

func (inf *Informative) Loaded() bool { return inf.loaded }

// IdentifyController returns the cached Identify controller data
func (inf *Informative) IdentifyController() (*nvme.IdentifyController, error) {
	if !inf.loaded {
		return nil, errs.New("IdentifyController", errs.CodeFrameworkBug, "identify data not loaded")
	}
	return inf.ctrl, nil
}

// IdentifyNamespace returns nil for nsid 0 or beyond NN
func (inf *Informative) IdentifyNamespace(nsid uint32) *nvme.IdentifyNamespace {
	if nsid == 0 || int(nsid) > len(inf.namespaces) {
		return nil
	}
	return inf.namespaces[nsid-1]
}

// NumQueues is the raw Number of Queues feature value
func (inf *Informative) NumQueues() uint32 { return inf.numQueues }

// NumIOSQs returns the granted IO submission queue count
func (inf *Informative) NumIOSQs() uint32 { return inf.numQueues&0xFFFF + 1 }

// NumIOCQs returns the granted IO completion queue count
func (inf *Informative) NumIOCQs() uint32 { return inf.numQueues>>16 + 1 }

func (inf *Informative) ids(tag Tag) []uint32 {
	var out []uint32
	for i, ns := range inf.namespaces {
		if t, err := Classify(ns); err == nil && t == tag {
			out = append(out, uint32(i+1))
		}
	}
	return out
}

func (inf *Informative) Bare() []uint32 { return inf.ids(Bare) }
func (inf *Informative) Meta() []uint32 { return inf.ids(Meta) }
func (inf *Informative) E2E() []uint32  { return inf.ids(E2E) }

// ClassifyAll classifies every namespace in nsid order
func (inf *Informative) ClassifyAll() ([]Classified, error) {
	out := make([]Classified, 0, len(inf.namespaces))
	for i, ns := range inf.namespaces {
		tag, err := Classify(ns)
		if err != nil {
			e := errs.Wrap("ClassifyAll", err)
			e.Msg = fmt.Sprintf("namespace %d: %s", i+1, e.Msg)
			return nil, e
		}
		out = append(out, Classified{ID: uint32(i + 1), Tag: tag})
	}
	return out, nil
}

// Describe builds the descriptor of nsid
func (inf *Informative) Describe(nsid uint32) (Descriptor, error) {
	id := inf.IdentifyNamespace(nsid)
	if id == nil {
		return Descriptor{}, errs.Newf("Describe", errs.CodeNotFound, "namespace %d does not exist", nsid)
	}
	tag, err := Classify(id)
	if err != nil {
		return Descriptor{}, err
	}
	lbaf := id.FormattedLBA()
	return Descriptor{
		ID:          nsid,
		Tag:         tag,
		LBADataSize: lbaf.DataSize(),
		MetaSize:    lbaf.MS,
		Identify:    id,
	}, nil
}

// FirstOfPreference returns the first bare namespace, else the first meta
// namespace, else the first E2E namespace
func (inf *Informative) FirstOfPreference() (Descriptor, error) {
	for _, ids := range [][]uint32{inf.Bare(), inf.Meta(), inf.E2E()} {
		if len(ids) > 0 {
			return inf.Describe(ids[0])
		}
	}
	return Descriptor{}, errs.New("FirstOfPreference", errs.CodeNoSuitableNamspc, "no bare, meta or E2E namespace")
}
