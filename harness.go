// Package nvmecheck drives an NVMe controller through its submission and
// completion queue protocol and checks that its behavior matches a
// protocol revision, one compliance test group at a time.
package nvmecheck

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-nvmecheck/internal/channel"
	"github.com/ehrlich-b/go-nvmecheck/internal/constants"
	"github.com/ehrlich-b/go-nvmecheck/internal/dump"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/journal"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/namespace"
	"github.com/ehrlich-b/go-nvmecheck/internal/registry"
	"github.com/ehrlich-b/go-nvmecheck/internal/testcase"
)

// Logger is the structured logger every harness component writes to
type Logger = logging.Logger

// LogConfig configures NewLogger
type LogConfig = logging.Config

// NewLogger creates a structured logger
func NewLogger(cfg *LogConfig) *Logger {
	return logging.NewLogger(cfg)
}

// Channel is the byte-level path to the controller under test
type Channel = channel.Channel

// Config contains parameters for a harness run
type Config struct {
	// CmdWait bounds the wait for each expected completion (default: 2s)
	CmdWait time.Duration

	// AdminQueueDepth is the ASQ/ACQ depth CreateResources uses (default: 16)
	AdminQueueDepth uint32

	// DumpDir receives queue dumps on validation failures. Empty disables
	// dumping.
	DumpDir string

	// JournalPath is the directory of the run journal. Empty disables it.
	JournalPath string

	// SpecRev selects the test groups (default: "1.0b")
	SpecRev string

	// Logger for harness and queue activity (if nil, the default logger)
	Logger *Logger

	// Observer additionally receives queue activity. Run metrics are
	// always collected.
	Observer Observer
}

// DefaultConfig returns default run parameters
func DefaultConfig() Config {
	return Config{
		CmdWait:         constants.DefaultCmdWait,
		AdminQueueDepth: constants.DefaultAdminQueueDepth,
		SpecRev:         DefaultSpecRev,
	}
}

// Result is the outcome of one test case
type Result struct {
	Group    string
	Test     string
	Passed   bool
	Skipped  bool // an earlier test of the group failed
	Err      error
	Code     ErrorCode
	Duration time.Duration
}

// Harness is one compliance run against a controller. The resource
// registry and namespace information live from Init to Shutdown and are
// shared by every test case run in between.
type Harness struct {
	cfg     Config
	ch      Channel
	logger  *Logger
	metrics *Metrics

	reg     *registry.Registry
	info    *namespace.Informative
	journal *journal.Journal
	env     *testcase.Env

	initialized bool
}

// New creates a harness for the controller behind ch
func New(cfg Config, ch Channel) (*Harness, error) {
	if ch == nil {
		return nil, NewError("New", ErrCodeInvalidParameters, "nil channel")
	}
	if cfg.CmdWait <= 0 {
		cfg.CmdWait = constants.DefaultCmdWait
	}
	if cfg.AdminQueueDepth == 0 {
		cfg.AdminQueueDepth = constants.DefaultAdminQueueDepth
	}
	if cfg.AdminQueueDepth < constants.MinQueueDepth {
		return nil, errs.Newf("New", ErrCodeInvalidParameters, "admin queue depth %d below minimum %d",
			cfg.AdminQueueDepth, constants.MinQueueDepth)
	}
	if cfg.SpecRev == "" {
		cfg.SpecRev = DefaultSpecRev
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Harness{
		cfg:     cfg,
		ch:      ch,
		logger:  logger,
		metrics: NewMetrics(),
	}, nil
}

// Init creates the run-scoped resources: registry, namespace information,
// dump service and journal
func (h *Harness) Init() error {
	if h.initialized {
		return NewError("Init", ErrCodeFrameworkBug, "harness already initialized")
	}
	if _, err := testcase.Groups(testcase.SpecRev(h.cfg.SpecRev)); err != nil {
		return err
	}

	reg := registry.New(h.logger)
	if err := reg.Init(); err != nil {
		return err
	}

	var dumper dump.Service = dump.Discard
	if h.cfg.DumpDir != "" {
		fs, err := dump.NewFileService(h.cfg.DumpDir)
		if err != nil {
			return errs.WrapCode("Init", ErrCodeAllocation, err)
		}
		dumper = fs
	}

	if h.cfg.JournalPath != "" {
		j, err := journal.Open(h.cfg.JournalPath)
		if err != nil {
			return errs.WrapCode("Init", ErrCodeAllocation, err)
		}
		h.journal = j
	}

	var observer Observer = NewMetricsObserver(h.metrics)
	if h.cfg.Observer != nil {
		observer = multiObserver{observer, h.cfg.Observer}
	}

	h.reg = reg
	h.info = namespace.New(h.logger)
	h.env = &testcase.Env{
		Channel:         h.ch,
		Registry:        reg,
		Info:            h.info,
		Dump:            dumper,
		Logger:          h.logger,
		Observer:        observer,
		CmdWait:         h.cfg.CmdWait,
		AdminQueueDepth: h.cfg.AdminQueueDepth,
	}
	h.initialized = true

	h.logger.Info("harness initialized",
		"spec_rev", h.cfg.SpecRev,
		"dump_dir", h.cfg.DumpDir,
		"journal", h.cfg.JournalPath)
	return nil
}

// GroupNames lists the groups of the configured revision in run order
func (h *Harness) GroupNames() ([]string, error) {
	groups, err := testcase.Groups(testcase.SpecRev(h.cfg.SpecRev))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	return names, nil
}

// Run executes the named groups, or every group of the revision when none
// are named. Test cases run one at a time; the first failure in a group
// skips the rest of that group and the run moves on to the next group.
// The returned error is non-nil only when the run itself could not
// proceed. Test failures are reported through the results.
func (h *Harness) Run(ctx context.Context, groups ...string) ([]Result, error) {
	if !h.initialized {
		return nil, NewError("Run", ErrCodeFrameworkBug, "harness not initialized")
	}

	selected, err := h.selectGroups(groups)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, g := range selected {
		if err := ctx.Err(); err != nil {
			return results, errs.WrapCode("Run", ErrCodeTimeout, err)
		}
		results = append(results, h.runGroup(ctx, g)...)
	}
	return results, nil
}

func (h *Harness) selectGroups(names []string) ([]testcase.Group, error) {
	rev := testcase.SpecRev(h.cfg.SpecRev)
	if len(names) == 0 {
		return testcase.Groups(rev)
	}
	out := make([]testcase.Group, 0, len(names))
	for _, name := range names {
		g, err := testcase.FindGroup(rev, name)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (h *Harness) runGroup(ctx context.Context, g testcase.Group) []Result {
	log := h.logger.WithGroup(g.Name)
	log.Info("group starting", "desc", g.Desc, "tests", len(g.Tests))

	defer func() {
		if err := h.reg.ReleaseAll(); err != nil {
			log.Warn("group resources not released cleanly", "error", err)
		}
	}()

	results := make([]Result, 0, len(g.Tests))
	failed := false
	for _, t := range g.Tests {
		r := Result{Group: g.Name, Test: t.Name()}
		started := time.Now()

		if failed {
			r.Skipped = true
			log.WithTest(t.Name()).Warn("test skipped after earlier failure")
		} else {
			err := t.RunCoreTest(ctx, h.env.ForTest(g.Name, t))
			r.Duration = time.Since(started)
			r.Passed = err == nil
			if err != nil {
				r.Err = err
				r.Code = CodeOf(err)
				if r.Code == "" {
					r.Code = ErrCodeTransport
				}
				failed = true
				log.WithTest(t.Name()).WithError(err).Error("test failed", "code", string(r.Code))
			} else {
				log.WithTest(t.Name()).Info("test passed", "duration", r.Duration)
			}
		}

		h.metrics.RecordTest(r.Passed, r.Skipped)
		h.record(r, started)
		results = append(results, r)
	}
	return results
}

func (h *Harness) record(r Result, started time.Time) {
	if h.journal == nil {
		return
	}
	rec := &journal.Record{
		Group:         r.Group,
		Test:          r.Test,
		Passed:        r.Passed,
		ErrCode:       string(r.Code),
		DurationNs:    r.Duration.Nanoseconds(),
		StartedUnixNs: started.UnixNano(),
	}
	switch {
	case r.Skipped:
		rec.Message = "skipped"
	case r.Err != nil:
		rec.Message = r.Err.Error()
	}
	if err := h.journal.Append(rec); err != nil {
		h.logger.WithError(err).Error("journal append failed", "group", r.Group, "test", r.Test)
	}
}

// Metrics returns the live run metrics
func (h *Harness) Metrics() *Metrics {
	return h.metrics
}

// Registry exposes the run's resource registry
func (h *Harness) Registry() *registry.Registry {
	return h.reg
}

// Namespaces exposes the namespace information loaded during the run
func (h *Harness) Namespaces() *namespace.Informative {
	return h.info
}

// Shutdown releases every run-scoped resource. Registry entries still
// referenced at this point are leaks and are reported as a cleanup error
// after being freed.
func (h *Harness) Shutdown() error {
	if !h.initialized {
		return nil
	}
	h.initialized = false
	h.metrics.Stop()

	var first error
	if err := h.reg.Shutdown(); err != nil {
		first = err
	}
	if h.journal != nil {
		if err := h.journal.Sync(); err != nil && first == nil {
			first = errs.WrapCode("Shutdown", ErrCodeCleanup, err)
		}
		if err := h.journal.Close(); err != nil && first == nil {
			first = errs.WrapCode("Shutdown", ErrCodeCleanup, err)
		}
		h.journal = nil
	}

	snap := h.metrics.Snapshot()
	h.logger.Info("harness shut down",
		"passed", snap.TestsPassed,
		"failed", snap.TestsFailed,
		"skipped", snap.TestsSkipped,
		"commands", snap.TotalCmds)
	return first
}
