// Package journal is an append-only record of test case outcomes, one
// protobuf-wire encoded entry per executed test case.
package journal

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"
	"google.golang.org/protobuf/encoding/protowire"
)

// Record is the outcome of one test case
type Record struct {
	Seq           uint64
	Group         string
	Test          string
	Passed        bool
	ErrCode       string
	Message       string
	DurationNs    int64
	StartedUnixNs int64
}

// Duration returns DurationNs as a time.Duration
func (r *Record) Duration() time.Duration { return time.Duration(r.DurationNs) }

// Started returns StartedUnixNs as a time.Time
func (r *Record) Started() time.Time { return time.Unix(0, r.StartedUnixNs) }

const (
	fieldSeq protowire.Number = iota + 1
	fieldGroup
	fieldTest
	fieldPassed
	fieldErrCode
	fieldMessage
	fieldDuration
	fieldStarted
)

func (r *Record) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Seq)
	b = protowire.AppendTag(b, fieldGroup, protowire.BytesType)
	b = protowire.AppendString(b, r.Group)
	b = protowire.AppendTag(b, fieldTest, protowire.BytesType)
	b = protowire.AppendString(b, r.Test)
	b = protowire.AppendTag(b, fieldPassed, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.Passed))
	if r.ErrCode != "" {
		b = protowire.AppendTag(b, fieldErrCode, protowire.BytesType)
		b = protowire.AppendString(b, r.ErrCode)
	}
	if r.Message != "" {
		b = protowire.AppendTag(b, fieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	b = protowire.AppendTag(b, fieldDuration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.DurationNs))
	b = protowire.AppendTag(b, fieldStarted, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.StartedUnixNs))
	return b
}

func (r *Record) unmarshal(b []byte) error {
	*r = Record{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldSeq || num == fieldPassed || num == fieldDuration || num == fieldStarted):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldSeq:
				r.Seq = v
			case fieldPassed:
				r.Passed = protowire.DecodeBool(v)
			case fieldDuration:
				r.DurationNs = int64(v)
			case fieldStarted:
				r.StartedUnixNs = int64(v)
			}
		case typ == protowire.BytesType && (num == fieldGroup || num == fieldTest || num == fieldErrCode || num == fieldMessage):
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldGroup:
				r.Group = v
			case fieldTest:
				r.Test = v
			case fieldErrCode:
				r.ErrCode = v
			case fieldMessage:
				r.Message = v
			}
		default:
			// unknown field from a newer writer
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// Journal appends records to a write-ahead log directory
type Journal struct {
	log       *wal.Log
	nextIndex uint64
}

// Open opens or creates the journal at path, continuing after the last
// record already present
func Open(path string) (*Journal, error) {
	log, err := wal.Open(path, &wal.Options{
		NoCopy: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open journal")
	}

	last, err := log.LastIndex()
	if err != nil {
		log.Close()
		return nil, errors.WithMessage(err, "could not read last index")
	}

	return &Journal{
		log:       log,
		nextIndex: last + 1,
	}, nil
}

// Append stamps r.Seq and writes r
func (j *Journal) Append(r *Record) error {
	r.Seq = j.nextIndex
	if err := j.log.Write(j.nextIndex, r.marshal()); err != nil {
		return errors.WithMessagef(err, "could not append record %d", r.Seq)
	}
	j.nextIndex++
	return nil
}

// Records reads every record in sequence order
func (j *Journal) Records() ([]Record, error) {
	first, err := j.log.FirstIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "could not read first index")
	}
	last, err := j.log.LastIndex()
	if err != nil {
		return nil, errors.WithMessage(err, "could not read last index")
	}
	if first == 0 {
		return nil, nil
	}

	out := make([]Record, 0, last-first+1)
	for i := first; i <= last; i++ {
		data, err := j.log.Read(i)
		if err != nil {
			return nil, errors.WithMessagef(err, "could not read index %d", i)
		}
		var r Record
		if err := r.unmarshal(data); err != nil {
			return nil, errors.WithMessagef(err, "could not decode index %d, is the journal corrupt?", i)
		}
		out = append(out, r)
	}
	return out, nil
}

// Sync flushes appended records to disk
func (j *Journal) Sync() error {
	return errors.WithMessage(j.log.Sync(), "could not sync journal")
}

func (j *Journal) Close() error {
	return errors.WithMessage(j.log.Close(), "could not close journal")
}
