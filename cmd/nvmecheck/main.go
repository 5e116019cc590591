// nvmecheck runs the NVMe compliance test groups against a simulated
// controller and reviews the outcomes recorded in a run journal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/ehrlich-b/go-nvmecheck"
	"github.com/ehrlich-b/go-nvmecheck/backend"
	"github.com/ehrlich-b/go-nvmecheck/internal/interfaces"
	"github.com/ehrlich-b/go-nvmecheck/internal/journal"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

var (
	allFaults   = []string{"corrupt-sqhd", "corrupt-sqid", "fail-status", "drop-meta"}
	allMedia    = []string{"mem", "badger", "uring"}
	allLevels   = []string{"debug", "info", "warn", "error"}
	allFormats  = []string{"text", "json"}
	errTestFail = errors.New("one or more test cases failed")
)

type runArgs struct {
	mqes       uint16
	namespaces []string
	blocks     uint64
	media      string
	mediaPath  string
	dumpDir    string
	journal    string
	logLevel   string
	logFormat  string
	faults     []string
	groups     []string
	cmdWait    time.Duration
	adminDepth uint32
}

type arguments struct {
	command string
	run     runArgs
	journal string
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("nvmecheck", "NVMe queue protocol compliance harness.")

	run := app.Command("run", "Run compliance test groups against a simulated controller.")
	mqes := run.Flag("mqes", "CAP.MQES of the simulated controller (0-based maximum queue entries).").Default("63").Uint16()
	namespaces := run.Flag("ns", "Namespace as MS:LBADS:DPS, may be repeated (default: one bare and one metadata namespace).").Strings()
	blocks := run.Flag("ns-blocks", "Logical blocks per namespace.").Default("2048").Uint64()
	media := run.Flag("media", "Namespace media backend.").Default("mem").Enum(allMedia...)
	mediaPath := run.Flag("media-path", "Directory for badger or uring media (badger runs in memory when empty).").String()
	dumpDir := run.Flag("dump-dir", "Directory receiving queue dumps of failed validations.").String()
	journalPath := run.Flag("journal", "Directory of the run journal to append results to.").String()
	logLevel := run.Flag("log-level", "Log level.").Default("info").Enum(allLevels...)
	logFormat := run.Flag("log-format", "Log format.").Default("text").Enum(allFormats...)
	faults := run.Flag("fault", "Inject a controller fault, may be repeated.").Enums(allFaults...)
	groups := run.Flag("group", "Run only this group, may be repeated.").Strings()
	cmdWait := run.Flag("cmd-wait", "Wait for each expected completion.").Default(nvmecheck.DefaultCmdWait.String()).Duration()
	adminDepth := run.Flag("admin-depth", "ASQ/ACQ depth.").Default(strconv.Itoa(nvmecheck.DefaultAdminQueueDepth)).Uint32()

	show := app.Command("journal", "Print the results recorded in a run journal.")
	showPath := show.Arg("path", "Journal directory.").Required().String()

	command, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	return &arguments{
		command: command,
		run: runArgs{
			mqes:       *mqes,
			namespaces: *namespaces,
			blocks:     *blocks,
			media:      *media,
			mediaPath:  *mediaPath,
			dumpDir:    *dumpDir,
			journal:    *journalPath,
			logLevel:   *logLevel,
			logFormat:  *logFormat,
			faults:     *faults,
			groups:     *groups,
			cmdWait:    *cmdWait,
			adminDepth: *adminDepth,
		},
		journal: *showPath,
	}, nil
}

// parseNamespace decodes MS:LBADS:DPS
func parseNamespace(s string, blocks uint64) (nvmecheck.SimNamespace, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return nvmecheck.SimNamespace{}, errors.Errorf("namespace %q: want MS:LBADS:DPS", s)
	}
	ms, err := strconv.ParseUint(parts[0], 0, 16)
	if err != nil {
		return nvmecheck.SimNamespace{}, errors.WithMessagef(err, "namespace %q: bad MS", s)
	}
	lbads, err := strconv.ParseUint(parts[1], 0, 8)
	if err != nil {
		return nvmecheck.SimNamespace{}, errors.WithMessagef(err, "namespace %q: bad LBADS", s)
	}
	if lbads < 9 || lbads > 16 {
		return nvmecheck.SimNamespace{}, errors.Errorf("namespace %q: LBADS %d outside 9..16", s, lbads)
	}
	dps, err := strconv.ParseUint(parts[2], 0, 8)
	if err != nil {
		return nvmecheck.SimNamespace{}, errors.WithMessagef(err, "namespace %q: bad DPS", s)
	}
	return nvmecheck.SimNamespace{
		Blocks: blocks,
		LBADS:  uint8(lbads),
		MS:     uint16(ms),
		DPS:    uint8(dps),
	}, nil
}

func mediaFactory(kind, dir string) (func(nsid uint32, size, blockSize int64) (interfaces.Backend, error), error) {
	switch kind {
	case "mem":
		return func(nsid uint32, size, blockSize int64) (interfaces.Backend, error) {
			return backend.NewMemory(size), nil
		}, nil
	case "badger":
		return func(nsid uint32, size, blockSize int64) (interfaces.Backend, error) {
			path := ""
			if dir != "" {
				path = filepath.Join(dir, fmt.Sprintf("ns%d", nsid))
			}
			return backend.NewBadger(path, size, blockSize)
		}, nil
	case "uring":
		if dir == "" {
			return nil, errors.New("--media uring requires --media-path")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WithMessage(err, "create media directory")
		}
		return func(nsid uint32, size, blockSize int64) (interfaces.Backend, error) {
			return backend.NewURing(filepath.Join(dir, fmt.Sprintf("ns%d.img", nsid)), size)
		}, nil
	default:
		return nil, errors.Errorf("unknown media %q", kind)
	}
}

func simConfig(a runArgs, logger *logging.Logger) (nvmecheck.SimConfig, error) {
	cfg := nvmecheck.DefaultSimConfig()
	cfg.MQES = a.mqes
	cfg.Logger = logger

	if len(a.namespaces) > 0 {
		cfg.Namespaces = cfg.Namespaces[:0]
		for _, s := range a.namespaces {
			ns, err := parseNamespace(s, a.blocks)
			if err != nil {
				return cfg, err
			}
			cfg.Namespaces = append(cfg.Namespaces, ns)
		}
	} else {
		for i := range cfg.Namespaces {
			cfg.Namespaces[i].Blocks = a.blocks
		}
	}

	media, err := mediaFactory(a.media, a.mediaPath)
	if err != nil {
		return cfg, err
	}
	cfg.Media = media

	for _, f := range a.faults {
		switch f {
		case "corrupt-sqhd":
			cfg.Faults.CorruptSQHD = true
		case "corrupt-sqid":
			cfg.Faults.CorruptSQID = true
		case "fail-status":
			cfg.Faults.FailStatus = nvme.StatusDataXferError
		case "drop-meta":
			cfg.Faults.DropMetadata = true
		}
	}
	return cfg, nil
}

func runCmd(ctx context.Context, a runArgs, output io.Writer) error {
	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(a.logLevel)
	logConfig.Format = a.logFormat
	logConfig.Sync = true
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	simCfg, err := simConfig(a, logger)
	if err != nil {
		return err
	}
	for i, ns := range simCfg.Namespaces {
		logger.Info("simulated namespace",
			"nsid", i+1,
			"size", humanize.IBytes(ns.Blocks<<ns.LBADS),
			"ms", ns.MS,
			"dps", ns.DPS)
	}

	cfg := nvmecheck.DefaultConfig()
	cfg.CmdWait = a.cmdWait
	cfg.AdminQueueDepth = a.adminDepth
	cfg.DumpDir = a.dumpDir
	cfg.JournalPath = a.journal
	cfg.Logger = logger

	h, ctrl, err := nvmecheck.NewSimHarness(cfg, simCfg)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	results, runErr := h.Run(ctx, a.groups...)
	shutdownErr := h.Shutdown()

	failed := 0
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(output, "SKIP %s.%s\n", r.Group, r.Test)
		case r.Passed:
			fmt.Fprintf(output, "PASS %s.%s (%s)\n", r.Group, r.Test, r.Duration)
		default:
			failed++
			fmt.Fprintf(output, "FAIL %s.%s (%s): %v\n", r.Group, r.Test, r.Duration, r.Err)
		}
	}

	snap := h.Metrics().Snapshot()
	fmt.Fprintf(output, "\n%d passed, %d failed, %d skipped; %s commands, %s completions, reap p99 %s\n",
		snap.TestsPassed, snap.TestsFailed, snap.TestsSkipped,
		humanize.Comma(int64(snap.TotalCmds)), humanize.Comma(int64(snap.ReapedCEs)),
		time.Duration(snap.LatencyP99Ns))

	if runErr != nil {
		return runErr
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	if failed > 0 {
		return errTestFail
	}
	return nil
}

func journalCmd(path string, output io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return errors.WithMessage(err, "journal not found")
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.Records()
	if err != nil {
		return err
	}
	for _, r := range recs {
		result := "PASS"
		switch {
		case r.Message == "skipped":
			result = "SKIP"
		case !r.Passed:
			result = "FAIL"
		}
		fmt.Fprintf(output, "%6d %-14s %s %s.%s %s", r.Seq, humanize.Time(r.Started()), result, r.Group, r.Test, r.Duration())
		if r.ErrCode != "" {
			fmt.Fprintf(output, " [%s] %s", r.ErrCode, r.Message)
		}
		fmt.Fprintln(output)
	}
	fmt.Fprintf(output, "%s records\n", humanize.Comma(int64(len(recs))))
	return nil
}

func main() {
	kingpin.Version("0.1.0")
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args.command {
	case "run":
		err = runCmd(ctx, args.run, os.Stdout)
	case "journal":
		err = journalCmd(args.journal, os.Stdout)
	}
	if err != nil {
		stop()
		kingpin.Fatalf("%s", err)
	}
}
