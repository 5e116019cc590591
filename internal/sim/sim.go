// Package sim is an in-process NVMe controller model implementing
// channel.Channel. It fetches submission entries from host ring memory
// only when a tail doorbell is rung, executes them against per-namespace
// media and posts completions while respecting completion queue space.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/backend"
	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/interfaces"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// Namespace describes one simulated namespace using its formatted LBA
// format and data protection settings
type Namespace struct {
	Blocks uint64 // NSZE
	LBADS  uint8  // log2 of the LBA data size
	MS     uint16 // metadata bytes per LBA
	DPS    uint8
}

// Faults injects controller misbehaviour for negative testing. Admin
// queues are never affected.
type Faults struct {
	// CorruptSQHD reports SQHD one past the real head
	CorruptSQHD bool
	// CorruptSQID reports the SQ id xor 1
	CorruptSQID bool
	// FailStatus, when non-zero, completes every NVM command with this status
	FailStatus uint16
	// DropMetadata completes writes without storing their metadata
	DropMetadata bool
}

// MediaFactory creates the backend for namespace nsid
type MediaFactory func(nsid uint32, size int64, blockSize int64) (interfaces.Backend, error)

// MemoryMedia backs every namespace with RAM
func MemoryMedia(nsid uint32, size int64, blockSize int64) (interfaces.Backend, error) {
	return backend.NewMemory(size), nil
}

// Config describes the simulated controller
type Config struct {
	MQES        uint16 // 0-based maximum queue entries
	Timeout     uint8  // CAP.TO in 500ms units
	MaxIOQueues uint16 // IO SQ/CQ pairs the controller can grant
	SQES        uint8  // required IO SQ entry size, log2 (default: 6)
	CQES        uint8  // required IO CQ entry size, log2 (default: 4)
	Namespaces  []Namespace
	Media       MediaFactory
	Faults      Faults
	Logger      *logging.Logger
}

// DefaultConfig returns a controller with one bare and one metadata
// namespace
func DefaultConfig() Config {
	return Config{
		MQES:        63,
		Timeout:     20,
		MaxIOQueues: 8,
		Namespaces: []Namespace{
			{Blocks: 2048, LBADS: 9},
			{Blocks: 2048, LBADS: 9, MS: 8},
		},
	}
}

type sqState struct {
	id     uint16
	cqid   uint16
	base   uint64
	depth  uint32
	head   uint32
	tail   uint32
	shadow [][]byte // entries handed over by SubmitRaw, not yet fetched
}

type cqState struct {
	id      uint16
	base    uint64
	depth   uint32
	tail    uint32 // next slot the controller posts to
	head    uint32 // last head doorbell
	phase   uint8
	posted  [][]byte // delivered to the ring, awaiting PollCompletion
	backlog []nvme.CompletionEntry
}

type namespace struct {
	id    uint32
	desc  Namespace
	media interfaces.Backend
	meta  map[uint64][]byte
}

func (ns *namespace) blockSize() int64 { return 1 << ns.desc.LBADS }

// Controller is the simulated device
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	logger *logging.Logger

	cap  nvme.Capabilities
	cc   nvme.ControllerConfig
	csts uint32
	aqa  uint32
	asqb uint64
	acqb uint64

	sqs        map[uint16]*sqState
	cqs        map[uint16]*cqState
	namespaces []*namespace
	granted    uint32 // Number of Queues feature value, 0-based halves
	closed     bool
	stats      Stats
}

// Stats counts controller activity
type Stats struct {
	Fetched   uint64
	Posted    uint64
	Doorbells uint64
}

var _ channel.Channel = (*Controller)(nil)

// New builds a controller and its namespace media
func New(cfg Config) (*Controller, error) {
	if cfg.MQES < 1 {
		return nil, errs.New("sim.New", errs.CodeInvalidParameters, "MQES must allow at least 2 entries")
	}
	if cfg.MaxIOQueues == 0 {
		cfg.MaxIOQueues = 1
	}
	if cfg.SQES == 0 {
		cfg.SQES = nvme.SQESLog2
	}
	if cfg.CQES == 0 {
		cfg.CQES = nvme.CQESLog2
	}
	if cfg.Media == nil {
		cfg.Media = MemoryMedia
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	c := &Controller{
		cfg:    cfg,
		logger: logger.WithGroup("sim"),
		cap:    nvme.NewCapabilities(cfg.MQES, cfg.Timeout, true),
		sqs:    make(map[uint16]*sqState),
		cqs:    make(map[uint16]*cqState),
	}
	c.granted = uint32(cfg.MaxIOQueues-1) | uint32(cfg.MaxIOQueues-1)<<16

	for i, d := range cfg.Namespaces {
		if d.LBADS < 9 || d.Blocks == 0 {
			c.Close()
			return nil, errs.Newf("sim.New", errs.CodeInvalidParameters, "namespace %d: invalid geometry %+v", i+1, d)
		}
		bs := int64(1) << d.LBADS
		media, err := cfg.Media(uint32(i+1), int64(d.Blocks)*bs, bs)
		if err != nil {
			c.Close()
			return nil, errs.WrapCode("sim.New", errs.CodeAllocation, err)
		}
		c.namespaces = append(c.namespaces, &namespace{
			id:    uint32(i + 1),
			desc:  d,
			media: media,
			meta:  make(map[uint64][]byte),
		})
	}

	c.logger.Info("simulated controller ready",
		"mqes", cfg.MQES, "namespaces", len(c.namespaces), "max_io_queues", cfg.MaxIOQueues)
	return c, nil
}

// Stats returns a copy of the activity counters
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Media returns the backend of namespace nsid
func (c *Controller) Media(nsid uint32) (interfaces.Backend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.namespace(nsid)
	if ns == nil {
		return nil, false
	}
	return ns.media, true
}

// SetFaults replaces the injected faults
func (c *Controller) SetFaults(f Faults) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Faults = f
}

func (c *Controller) namespace(nsid uint32) *namespace {
	if nsid == 0 || int(nsid) > len(c.namespaces) {
		return nil
	}
	return c.namespaces[nsid-1]
}

func (c *Controller) checkOpen(op string) error {
	if c.closed {
		return errs.New(op, errs.CodeTransport, "controller closed")
	}
	return nil
}

// SubmitRaw implements channel.Channel
func (c *Controller) SubmitRaw(qid uint16, entry []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("SubmitRaw"); err != nil {
		return err
	}

	sq, ok := c.sqs[qid]
	if !ok {
		return errs.NewQueueError("SubmitRaw", qid, errs.CodeTransport, "no such submission queue")
	}
	if len(entry) != nvme.SubmissionEntrySize {
		return errs.NewMismatch("SubmitRaw", qid, errs.CodeTransport, nvme.SubmissionEntrySize, len(entry))
	}
	sq.shadow = append(sq.shadow, append([]byte(nil), entry...))
	return nil
}

// RingDoorbell implements channel.Channel
func (c *Controller) RingDoorbell(qid uint16, kind channel.DoorbellKind, value uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("RingDoorbell"); err != nil {
		return err
	}
	if !c.cc.Enabled() {
		return errs.New("RingDoorbell", errs.CodeTransport, "controller disabled")
	}
	c.stats.Doorbells++

	switch kind {
	case channel.DoorbellSQTail:
		sq, ok := c.sqs[qid]
		if !ok {
			return errs.NewQueueError("RingDoorbell", qid, errs.CodeTransport, "no such submission queue")
		}
		if value >= sq.depth {
			return errs.NewMismatch("RingDoorbell", qid, errs.CodeTransport, fmt.Sprintf("< %d", sq.depth), value)
		}
		sq.tail = value
		c.processSQ(sq)
	case channel.DoorbellCQHead:
		cq, ok := c.cqs[qid]
		if !ok {
			return errs.NewQueueError("RingDoorbell", qid, errs.CodeTransport, "no such completion queue")
		}
		if value >= cq.depth {
			return errs.NewMismatch("RingDoorbell", qid, errs.CodeTransport, fmt.Sprintf("< %d", cq.depth), value)
		}
		cq.head = value
		c.drainBacklog(cq)
	}
	return nil
}

// PollCompletion implements channel.Channel. Commands execute synchronously
// on the doorbell, so there is never anything worth waiting for.
func (c *Controller) PollCompletion(qid uint16, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("PollCompletion"); err != nil {
		return nil, err
	}

	cq, ok := c.cqs[qid]
	if !ok {
		return nil, errs.NewQueueError("PollCompletion", qid, errs.CodeTransport, "no such completion queue")
	}
	if len(cq.posted) == 0 {
		return nil, nil
	}
	raw := cq.posted[0]
	cq.posted = cq.posted[1:]
	return raw, nil
}

// SetControllerState implements channel.Channel
func (c *Controller) SetControllerState(state channel.State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("SetControllerState"); err != nil {
		return err
	}

	switch state {
	case channel.StateEnable:
		return c.enable()
	case channel.StateDisable, channel.StateDisableCompletely:
		c.disable(state == channel.StateDisableCompletely)
		return nil
	default:
		return errs.Newf("SetControllerState", errs.CodeInvalidParameters, "unknown state %v", state)
	}
}

func (c *Controller) enable() error {
	if c.cc.Enabled() {
		return nil
	}
	if c.asqb == 0 || c.acqb == 0 {
		return errs.New("SetControllerState", errs.CodeTransport, "admin queue base addresses not programmed")
	}
	asqs, acqs := nvme.SplitAdminQueueAttributes(c.aqa)
	if asqs < 2 || acqs < 2 {
		return errs.New("SetControllerState", errs.CodeTransport, "admin queue sizes not programmed")
	}
	c.cqs[0] = &cqState{id: 0, base: c.acqb, depth: acqs, phase: 1}
	c.sqs[0] = &sqState{id: 0, cqid: 0, base: c.asqb, depth: asqs}
	c.cc = c.cc.WithEnable(true)
	c.csts |= nvme.CSTSReady
	c.logger.Info("controller enabled", "asq_entries", asqs, "acq_entries", acqs)
	return nil
}

func (c *Controller) disable(completely bool) {
	c.cc = c.cc.WithEnable(false)
	c.csts &^= nvme.CSTSReady
	c.sqs = make(map[uint16]*sqState)
	c.cqs = make(map[uint16]*cqState)
	c.granted = uint32(c.cfg.MaxIOQueues-1) | uint32(c.cfg.MaxIOQueues-1)<<16
	if completely {
		c.aqa, c.asqb, c.acqb = 0, 0, 0
	}
	c.logger.Info("controller disabled", "completely", completely)
}

// ConfigureQueueEntrySizes implements channel.Channel
func (c *Controller) ConfigureQueueEntrySizes(sqes, cqes uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("ConfigureQueueEntrySizes"); err != nil {
		return err
	}
	c.cc = c.cc.WithEntrySizes(sqes, cqes)
	return nil
}

// ReadRegister implements channel.Channel
func (c *Controller) ReadRegister(reg channel.Register) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch reg {
	case channel.RegCAP:
		return uint64(c.cap), nil
	case channel.RegVS:
		return 0x00010000, nil // 1.0
	case channel.RegCC:
		return uint64(c.cc), nil
	case channel.RegCSTS:
		return uint64(c.csts), nil
	case channel.RegAQA:
		return uint64(c.aqa), nil
	case channel.RegASQ:
		return c.asqb, nil
	case channel.RegACQ:
		return c.acqb, nil
	}
	return 0, errs.Newf("ReadRegister", errs.CodeInvalidParameters, "unknown register %v", reg)
}

// WriteRegister implements channel.Channel
func (c *Controller) WriteRegister(reg channel.Register, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch reg {
	case channel.RegCC:
		cc := nvme.ControllerConfig(value)
		if cc.Enabled() != c.cc.Enabled() {
			if cc.Enabled() {
				c.cc = cc.WithEnable(false)
				return c.enable()
			}
			c.disable(false)
		}
		c.cc = cc
		return nil
	case channel.RegAQA:
		c.aqa = uint32(value)
	case channel.RegASQ:
		c.asqb = value
	case channel.RegACQ:
		c.acqb = value
	default:
		return errs.Newf("WriteRegister", errs.CodeInvalidParameters, "register %v is read-only", reg)
	}
	return nil
}

// Close implements channel.Channel
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var first error
	for _, ns := range c.namespaces {
		if err := ns.media.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
