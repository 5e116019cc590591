package nvme

import (
	"encoding/binary"
	"strings"
)

// Identify data offsets
const (
	idCtrlVID  = 0
	idCtrlSN   = 4
	idCtrlMN   = 24
	idCtrlFR   = 64
	idCtrlSQES = 512
	idCtrlCQES = 513
	idCtrlNN   = 516

	idNsNSZE  = 0
	idNsNCAP  = 8
	idNsNUSE  = 16
	idNsNLBAF = 25
	idNsFLBAS = 26
	idNsDPC   = 28
	idNsDPS   = 29
	idNsLBAF  = 128

	// IdentifySize is the size of every Identify data structure
	IdentifySize = 4096
)

// Marshal converts a protocol structure to its little-endian wire layout
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *SubmissionEntry:
		buf := make([]byte, SubmissionEntrySize)
		PutSubmission(buf, val)
		return buf
	case *CompletionEntry:
		buf := make([]byte, CompletionEntrySize)
		PutCompletion(buf, val)
		return buf
	case *IdentifyController:
		return marshalIdentifyController(val)
	case *IdentifyNamespace:
		return marshalIdentifyNamespace(val)
	default:
		return nil
	}
}

// Unmarshal decodes a little-endian wire layout into a protocol structure
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *SubmissionEntry:
		return unmarshalSubmission(data, val)
	case *CompletionEntry:
		return unmarshalCompletion(data, val)
	case *IdentifyController:
		return unmarshalIdentifyController(data, val)
	case *IdentifyNamespace:
		return unmarshalIdentifyNamespace(data, val)
	default:
		return ErrUnsupportedType
	}
}

// PutSubmission encodes e into buf, which must hold SubmissionEntrySize bytes
func PutSubmission(buf []byte, e *SubmissionEntry) {
	_ = buf[SubmissionEntrySize-1]
	buf[0] = e.Opcode
	buf[1] = e.Flags
	binary.LittleEndian.PutUint16(buf[2:4], e.CID)
	binary.LittleEndian.PutUint32(buf[4:8], e.NSID)
	binary.LittleEndian.PutUint32(buf[8:12], e.CDW2)
	binary.LittleEndian.PutUint32(buf[12:16], e.CDW3)
	binary.LittleEndian.PutUint64(buf[16:24], e.MPTR)
	binary.LittleEndian.PutUint64(buf[24:32], e.PRP1)
	binary.LittleEndian.PutUint64(buf[32:40], e.PRP2)
	binary.LittleEndian.PutUint32(buf[40:44], e.CDW10)
	binary.LittleEndian.PutUint32(buf[44:48], e.CDW11)
	binary.LittleEndian.PutUint32(buf[48:52], e.CDW12)
	binary.LittleEndian.PutUint32(buf[52:56], e.CDW13)
	binary.LittleEndian.PutUint32(buf[56:60], e.CDW14)
	binary.LittleEndian.PutUint32(buf[60:64], e.CDW15)
}

func unmarshalSubmission(data []byte, e *SubmissionEntry) error {
	if len(data) < SubmissionEntrySize {
		return ErrInsufficientData
	}

	e.Opcode = data[0]
	e.Flags = data[1]
	e.CID = binary.LittleEndian.Uint16(data[2:4])
	e.NSID = binary.LittleEndian.Uint32(data[4:8])
	e.CDW2 = binary.LittleEndian.Uint32(data[8:12])
	e.CDW3 = binary.LittleEndian.Uint32(data[12:16])
	e.MPTR = binary.LittleEndian.Uint64(data[16:24])
	e.PRP1 = binary.LittleEndian.Uint64(data[24:32])
	e.PRP2 = binary.LittleEndian.Uint64(data[32:40])
	e.CDW10 = binary.LittleEndian.Uint32(data[40:44])
	e.CDW11 = binary.LittleEndian.Uint32(data[44:48])
	e.CDW12 = binary.LittleEndian.Uint32(data[48:52])
	e.CDW13 = binary.LittleEndian.Uint32(data[52:56])
	e.CDW14 = binary.LittleEndian.Uint32(data[56:60])
	e.CDW15 = binary.LittleEndian.Uint32(data[60:64])

	return nil
}

// PutCompletion encodes ce into buf, which must hold CompletionEntrySize bytes
func PutCompletion(buf []byte, ce *CompletionEntry) {
	_ = buf[CompletionEntrySize-1]
	binary.LittleEndian.PutUint32(buf[0:4], ce.DW0)
	binary.LittleEndian.PutUint32(buf[4:8], ce.DW1)
	binary.LittleEndian.PutUint16(buf[8:10], ce.SQHD)
	binary.LittleEndian.PutUint16(buf[10:12], ce.SQID)
	binary.LittleEndian.PutUint16(buf[12:14], ce.CID)
	binary.LittleEndian.PutUint16(buf[14:16], ce.Status)
}

func unmarshalCompletion(data []byte, ce *CompletionEntry) error {
	if len(data) < CompletionEntrySize {
		return ErrInsufficientData
	}

	ce.DW0 = binary.LittleEndian.Uint32(data[0:4])
	ce.DW1 = binary.LittleEndian.Uint32(data[4:8])
	ce.SQHD = binary.LittleEndian.Uint16(data[8:10])
	ce.SQID = binary.LittleEndian.Uint16(data[10:12])
	ce.CID = binary.LittleEndian.Uint16(data[12:14])
	ce.Status = binary.LittleEndian.Uint16(data[14:16])

	return nil
}

// CompletionPhase reads the phase tag straight from an encoded entry
func CompletionPhase(data []byte) uint8 {
	return data[14] & 0x1
}

func putString(dst []byte, s string) {
	// Identify strings are ASCII, space padded
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}

func getString(src []byte) string {
	return strings.TrimRight(string(src), " \x00")
}

func marshalIdentifyController(c *IdentifyController) []byte {
	buf := make([]byte, IdentifySize)

	binary.LittleEndian.PutUint16(buf[idCtrlVID:], c.VID)
	putString(buf[idCtrlSN:idCtrlMN], c.SerialNumber)
	putString(buf[idCtrlMN:idCtrlFR], c.ModelNumber)
	putString(buf[idCtrlFR:idCtrlFR+8], c.FirmwareRev)
	buf[idCtrlSQES] = c.SQES
	buf[idCtrlCQES] = c.CQES
	binary.LittleEndian.PutUint32(buf[idCtrlNN:], c.NN)

	return buf
}

func unmarshalIdentifyController(data []byte, c *IdentifyController) error {
	if len(data) < IdentifySize {
		return ErrInsufficientData
	}

	c.VID = binary.LittleEndian.Uint16(data[idCtrlVID:])
	c.SerialNumber = getString(data[idCtrlSN:idCtrlMN])
	c.ModelNumber = getString(data[idCtrlMN:idCtrlFR])
	c.FirmwareRev = getString(data[idCtrlFR : idCtrlFR+8])
	c.SQES = data[idCtrlSQES]
	c.CQES = data[idCtrlCQES]
	c.NN = binary.LittleEndian.Uint32(data[idCtrlNN:])

	return nil
}

func marshalIdentifyNamespace(ns *IdentifyNamespace) []byte {
	buf := make([]byte, IdentifySize)

	binary.LittleEndian.PutUint64(buf[idNsNSZE:], ns.NSZE)
	binary.LittleEndian.PutUint64(buf[idNsNCAP:], ns.NCAP)
	binary.LittleEndian.PutUint64(buf[idNsNUSE:], ns.NUSE)
	buf[idNsNLBAF] = ns.NLBAF
	buf[idNsFLBAS] = ns.FLBAS
	buf[idNsDPC] = ns.DPC
	buf[idNsDPS] = ns.DPS
	for i, f := range ns.LBAF {
		off := idNsLBAF + 4*i
		binary.LittleEndian.PutUint16(buf[off:], f.MS)
		buf[off+2] = f.LBADS
		buf[off+3] = f.RP & 0x3
	}

	return buf
}

func unmarshalIdentifyNamespace(data []byte, ns *IdentifyNamespace) error {
	if len(data) < IdentifySize {
		return ErrInsufficientData
	}

	ns.NSZE = binary.LittleEndian.Uint64(data[idNsNSZE:])
	ns.NCAP = binary.LittleEndian.Uint64(data[idNsNCAP:])
	ns.NUSE = binary.LittleEndian.Uint64(data[idNsNUSE:])
	ns.NLBAF = data[idNsNLBAF]
	ns.FLBAS = data[idNsFLBAS]
	ns.DPC = data[idNsDPC]
	ns.DPS = data[idNsDPS]
	for i := range ns.LBAF {
		off := idNsLBAF + 4*i
		ns.LBAF[i] = LBAFormat{
			MS:    binary.LittleEndian.Uint16(data[off:]),
			LBADS: data[off+2],
			RP:    data[off+3] & 0x3,
		}
	}

	return nil
}

// Error constants
const (
	ErrInsufficientData = MarshalError("insufficient data for unmarshaling")
	ErrUnsupportedType  = MarshalError("unsupported type for unmarshaling")
)

// MarshalError is a constant error type for layout decoding
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}
