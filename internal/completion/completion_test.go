package completion

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-nvmecheck/internal/dump"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

func ce(sqid, sqhd, cid, status uint16) nvme.CompletionEntry {
	e := nvme.CompletionEntry{SQID: sqid, SQHD: sqhd, CID: cid}
	e.SetPhase(1)
	e.SetStatus(status, false)
	return e
}

func TestValidators(t *testing.T) {
	e := ce(1, 3, 9, nvme.StatusSuccess)

	assert.NoError(t, Validate(e, nvme.StatusSuccess))
	assert.NoError(t, ValidateOriginQueue(e, 1))
	assert.NoError(t, ValidateHeadPointer(e, 3))
	assert.NoError(t, ValidateCommandID(e, 9))

	err := Validate(e, nvme.StatusInvalidField)
	assert.True(t, errs.IsCode(err, errs.CodeUnexpectedStatus))

	err = ValidateOriginQueue(e, 2)
	require.True(t, errs.IsCode(err, errs.CodeQueueIdentity))
	var ve *errs.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, uint16(2), ve.Expected)
	assert.Equal(t, uint16(1), ve.Actual)

	assert.True(t, errs.IsCode(ValidateHeadPointer(e, 0), errs.CodeHeadPointer))
	assert.True(t, errs.IsCode(ValidateCommandID(e, 8), errs.CodeCommandID))
}

func TestCheckOrder(t *testing.T) {
	// Status is reported before any field mismatch
	e := ce(2, 0, 1, nvme.StatusInternalError)
	err := Check(e, Expect{Status: nvme.StatusSuccess, SQID: Want(1), SQHD: Want(1)})
	assert.True(t, errs.IsCode(err, errs.CodeUnexpectedStatus))

	e = ce(1, 0, 1, nvme.StatusSuccess)
	err = Check(e, Expect{SQID: Want(1), SQHD: Want(1)})
	assert.True(t, errs.IsCode(err, errs.CodeHeadPointer))

	assert.NoError(t, Check(e, Expect{SQID: Want(1), SQHD: Want(0), CID: Want(1)}))
}

type recorder struct {
	paths   []string
	reasons []string
}

func (r *recorder) DumpQueue(q dump.Dumpable, path, reason string) error {
	r.paths = append(r.paths, path)
	r.reasons = append(r.reasons, reason)
	return nil
}

type nopQueue struct{}

func (nopQueue) Dump(io.Writer) error { return nil }
func (nopQueue) Snapshot() any        { return nil }

func TestCheckAndDump(t *testing.T) {
	rec := &recorder{}
	e := ce(1, 1, 0, nvme.StatusSuccess)

	require.NoError(t, CheckAndDump(e, Expect{SQHD: Want(1)}, rec, "p", nopQueue{}))
	assert.Empty(t, rec.paths, "passing check must not dump")

	err := CheckAndDump(e, Expect{SQHD: Want(0)}, rec, "p", nopQueue{}, nopQueue{})
	assert.True(t, errs.IsCode(err, errs.CodeHeadPointer))
	assert.Equal(t, []string{"p.0", "p.1"}, rec.paths)
	assert.Contains(t, rec.reasons[0], "head pointer mismatch")

	// nil service falls back to discard
	err = CheckAndDump(e, Expect{SQID: Want(5)}, nil, "p", nopQueue{})
	assert.True(t, errs.IsCode(err, errs.CodeQueueIdentity))
}
