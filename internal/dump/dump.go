// Package dump writes diagnostic artifacts for failed validations: a text
// rendering of each queue involved and a JSON summary next to it.
package dump

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sugawarayuuta/sonnet"

	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
)

// Dumpable is a queue that can render itself
type Dumpable interface {
	Dump(w io.Writer) error
	Snapshot() any
}

// Service persists queue dumps
type Service interface {
	DumpQueue(q Dumpable, path, reason string) error
}

// Discard drops every dump
var Discard Service = discard{}

type discard struct{}

func (discard) DumpQueue(Dumpable, string, string) error { return nil }

// Summary is the JSON document written beside each text dump
type Summary struct {
	Reason  string    `json:"reason"`
	Written time.Time `json:"written"`
	Queue   any       `json:"queue"`
	Bytes   int       `json:"dump_bytes"`
}

// FileService writes dumps under Dir
type FileService struct {
	Dir string
}

// NewFileService creates dir if needed
func NewFileService(dir string) (*FileService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithMessage(err, "create dump directory")
	}
	return &FileService{Dir: dir}, nil
}

// FileName joins the artifact name for obj produced by test in group,
// e.g. "queues.IOQRollChkSame.IOCQ.fail". An empty qualifier is omitted.
func FileName(group, test, obj, qualifier string) string {
	parts := []string{sanitize(group), sanitize(test), sanitize(obj)}
	if qualifier != "" {
		parts = append(parts, sanitize(qualifier))
	}
	return strings.Join(parts, ".")
}

// PrepLogFile returns FileName under Dir
func (s *FileService) PrepLogFile(group, test, obj, qualifier string) string {
	return filepath.Join(s.Dir, FileName(group, test, obj, qualifier))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, s)
}

// DumpQueue writes path (text) and path.json (summary)
func (s *FileService) DumpQueue(q Dumpable, path, reason string) error {
	if !filepath.IsAbs(path) && !strings.HasPrefix(path, s.Dir) {
		path = filepath.Join(s.Dir, path)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", reason)
	if err := q.Dump(&buf); err != nil {
		return errors.WithMessage(err, "render queue")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.WithMessage(err, "write queue dump")
	}

	summary, err := sonnet.Marshal(Summary{
		Reason:  reason,
		Written: time.Now().UTC(),
		Queue:   q.Snapshot(),
		Bytes:   buf.Len(),
	})
	if err != nil {
		return errors.WithMessage(err, "encode dump summary")
	}
	if err := os.WriteFile(path+".json", summary, 0o644); err != nil {
		return errors.WithMessage(err, "write dump summary")
	}

	logging.Default().Info("queue dumped", "path", path, "size", humanize.Bytes(uint64(buf.Len())))
	return nil
}

// ReadSummary loads a summary written by DumpQueue
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "read dump summary")
	}
	var s Summary
	if err := sonnet.Unmarshal(data, &s); err != nil {
		return nil, errors.WithMessage(err, "decode dump summary")
	}
	return &s, nil
}
