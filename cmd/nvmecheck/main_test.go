package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvmecheck"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

func TestParseArgsDefaults(t *testing.T) {
	args, err := parseArgs([]string{"run"})
	require.NoError(t, err)

	assert.Equal(t, "run", args.command)
	assert.EqualValues(t, 63, args.run.mqes)
	assert.Equal(t, "mem", args.run.media)
	assert.Equal(t, 2*time.Second, args.run.cmdWait)
	assert.EqualValues(t, 16, args.run.adminDepth)
	assert.Empty(t, args.run.namespaces)
}

func TestParseArgsRun(t *testing.T) {
	args, err := parseArgs([]string{"run",
		"--mqes", "7",
		"--ns", "0:9:0", "--ns", "8:12:0",
		"--fault", "corrupt-sqhd", "--fault", "fail-status",
		"--group", "GrpQueues",
		"--log-format", "json",
	})
	require.NoError(t, err)

	assert.EqualValues(t, 7, args.run.mqes)
	assert.Equal(t, []string{"0:9:0", "8:12:0"}, args.run.namespaces)
	assert.Equal(t, []string{"corrupt-sqhd", "fail-status"}, args.run.faults)
	assert.Equal(t, []string{"GrpQueues"}, args.run.groups)
	assert.Equal(t, "json", args.run.logFormat)

	_, err = parseArgs([]string{"run", "--media", "tape"})
	assert.Error(t, err)
	_, err = parseArgs([]string{"journal"})
	assert.Error(t, err, "journal path is required")
}

func TestParseNamespace(t *testing.T) {
	tests := []struct {
		in      string
		want    nvmecheck.SimNamespace
		wantErr bool
	}{
		{in: "0:9:0", want: nvmecheck.SimNamespace{Blocks: 64, LBADS: 9}},
		{in: "8:12:1", want: nvmecheck.SimNamespace{Blocks: 64, LBADS: 12, MS: 8, DPS: 1}},
		{in: "0x10:9:0", want: nvmecheck.SimNamespace{Blocks: 64, LBADS: 9, MS: 16}},
		{in: "0:9", wantErr: true},
		{in: "x:9:0", wantErr: true},
		{in: "0:8:0", wantErr: true},
		{in: "0:9:300", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNamespace(tt.in, 64)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimConfig(t *testing.T) {
	cfg, err := simConfig(runArgs{
		mqes:   15,
		blocks: 128,
		media:  "mem",
		faults: []string{"corrupt-sqid", "fail-status", "drop-meta"},
	}, logging.Nop())
	require.NoError(t, err)

	assert.EqualValues(t, 15, cfg.MQES)
	require.Len(t, cfg.Namespaces, 2)
	for _, ns := range cfg.Namespaces {
		assert.EqualValues(t, 128, ns.Blocks)
	}
	assert.True(t, cfg.Faults.CorruptSQID)
	assert.False(t, cfg.Faults.CorruptSQHD)
	assert.Equal(t, nvme.StatusDataXferError, cfg.Faults.FailStatus)
	assert.True(t, cfg.Faults.DropMetadata)

	_, err = simConfig(runArgs{media: "uring"}, logging.Nop())
	assert.Error(t, err, "uring media needs a path")
}

func TestRunAndJournal(t *testing.T) {
	dir := t.TempDir()
	a := runArgs{
		mqes:       7,
		blocks:     256,
		media:      "badger",
		dumpDir:    filepath.Join(dir, "dumps"),
		journal:    filepath.Join(dir, "journal"),
		logLevel:   "error",
		logFormat:  "text",
		cmdWait:    time.Second,
		adminDepth: 16,
	}

	var out bytes.Buffer
	require.NoError(t, runCmd(context.Background(), a, &out))
	assert.Contains(t, out.String(), "PASS GrpQueues.IOQRollChkSame")
	assert.Contains(t, out.String(), "PASS GrpNVMReadWrite.WriteReadVerify")
	assert.Contains(t, out.String(), "6 passed, 0 failed, 0 skipped")

	// A faulty controller fails the run and the failures land in the journal
	a.faults = []string{"corrupt-sqhd"}
	a.groups = []string{"GrpQueues"}
	out.Reset()
	err := runCmd(context.Background(), a, &out)
	assert.Equal(t, errTestFail, err)
	assert.Contains(t, out.String(), "FAIL GrpQueues.IOQRollChkSame")

	out.Reset()
	require.NoError(t, journalCmd(a.journal, &out))
	assert.Contains(t, out.String(), "8 records")
	assert.Contains(t, out.String(), "FAIL GrpQueues.IOQRollChkSame")
	assert.Contains(t, out.String(), "[head pointer mismatch]")

	assert.Error(t, journalCmd(filepath.Join(dir, "missing"), &out))
}
