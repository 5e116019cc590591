// Package completion validates reaped completion entries against what a
// test expects. Validators never touch queue state; on failure the caller
// dumps the queues involved and aborts the test.
package completion

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-nvmecheck/internal/dump"
	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/nvme"
)

// Validate requires the CE status (SCT and SC) to equal expected
func Validate(ce nvme.CompletionEntry, expected uint16) error {
	if got := ce.StatusValue(); got != expected {
		return errs.NewMismatch("Validate", ce.SQID, errs.CodeUnexpectedStatus,
			fmt.Sprintf("%#03x", expected), fmt.Sprintf("%#03x", got))
	}
	return nil
}

// ValidateOriginQueue requires the CE to report the SQ it was submitted on
func ValidateOriginQueue(ce nvme.CompletionEntry, expectedSQID uint16) error {
	if ce.SQID != expectedSQID {
		return errs.NewMismatch("ValidateOriginQueue", ce.SQID, errs.CodeQueueIdentity, expectedSQID, ce.SQID)
	}
	return nil
}

// ValidateHeadPointer requires the reported SQ head pointer to equal expected
func ValidateHeadPointer(ce nvme.CompletionEntry, expectedSQHD uint16) error {
	if ce.SQHD != expectedSQHD {
		return errs.NewMismatch("ValidateHeadPointer", ce.SQID, errs.CodeHeadPointer, expectedSQHD, ce.SQHD)
	}
	return nil
}

// ValidateCommandID requires the CE to answer command cid
func ValidateCommandID(ce nvme.CompletionEntry, cid uint16) error {
	if ce.CID != cid {
		return errs.NewMismatch("ValidateCommandID", ce.SQID, errs.CodeCommandID, cid, ce.CID)
	}
	return nil
}

// Expect groups the checks applied by Check. Nil pointers are not checked;
// Status always is.
type Expect struct {
	Status uint16
	SQID   *uint16
	SQHD   *uint16
	CID    *uint16
}

// Want returns a pointer for optional Expect fields
func Want(v uint16) *uint16 {
	return &v
}

// Check applies the validators selected by want, status first
func Check(ce nvme.CompletionEntry, want Expect) error {
	if err := Validate(ce, want.Status); err != nil {
		return err
	}
	if want.SQID != nil {
		if err := ValidateOriginQueue(ce, *want.SQID); err != nil {
			return err
		}
	}
	if want.SQHD != nil {
		if err := ValidateHeadPointer(ce, *want.SQHD); err != nil {
			return err
		}
	}
	if want.CID != nil {
		if err := ValidateCommandID(ce, *want.CID); err != nil {
			return err
		}
	}
	return nil
}

// CheckAndDump runs Check and, on failure, logs the mismatch and dumps
// every queue in qs through svc before returning the validation error.
// Dump failures are logged, never returned in place of the validation
// error.
func CheckAndDump(ce nvme.CompletionEntry, want Expect, svc dump.Service, path string, qs ...dump.Dumpable) error {
	err := Check(ce, want)
	if err == nil {
		return nil
	}

	logger := logging.Default()
	var ve *errs.Error
	if errors.As(err, &ve) {
		logger.ValidationFailed(ve.Op, ve.Expected, ve.Actual)
	}

	if svc == nil {
		svc = dump.Discard
	}
	reason := err.Error()
	for i, q := range qs {
		p := path
		if len(qs) > 1 {
			p = fmt.Sprintf("%s.%d", path, i)
		}
		if derr := svc.DumpQueue(q, p, reason); derr != nil {
			logger.WithError(derr).Warn("queue dump failed", "path", p)
		}
	}
	return err
}
