package nvme

import (
	"time"
	"unsafe"
)

// SubmissionEntry is the 64-byte command layout shared by admin and NVM
// commands. Command-specific dwords are carried raw in CDW10..CDW15.
type SubmissionEntry struct {
	Opcode uint8
	Flags  uint8 // FUSE bits 1:0, PSDT bits 7:6
	CID    uint16
	NSID   uint32
	CDW2   uint32
	CDW3   uint32
	MPTR   uint64
	PRP1   uint64
	PRP2   uint64
	CDW10  uint32
	CDW11  uint32
	CDW12  uint32
	CDW13  uint32
	CDW14  uint32
	CDW15  uint32
}

var _ [SubmissionEntrySize]byte = [unsafe.Sizeof(SubmissionEntry{})]byte{}

// CompletionEntry is the 16-byte completion layout.
// Status holds DW3 bits 31:16: phase in bit 0, SC 8:1, SCT 11:9, CRD 13:12,
// More 14 and DNR 15.
type CompletionEntry struct {
	DW0    uint32
	DW1    uint32
	SQHD   uint16
	SQID   uint16
	CID    uint16
	Status uint16
}

var _ [CompletionEntrySize]byte = [unsafe.Sizeof(CompletionEntry{})]byte{}

// Phase returns the phase tag of the entry
func (ce *CompletionEntry) Phase() uint8 {
	return uint8(ce.Status & 0x1)
}

// SetPhase replaces the phase tag
func (ce *CompletionEntry) SetPhase(p uint8) {
	ce.Status = ce.Status&^0x1 | uint16(p&0x1)
}

// SC returns the status code
func (ce *CompletionEntry) SC() uint8 {
	return uint8(ce.Status >> 1)
}

// SCT returns the status code type
func (ce *CompletionEntry) SCT() uint8 {
	return uint8(ce.Status>>9) & 0x7
}

// More reports the M bit
func (ce *CompletionEntry) More() bool {
	return ce.Status&(1<<14) != 0
}

// DNR reports the do-not-retry bit
func (ce *CompletionEntry) DNR() bool {
	return ce.Status&(1<<15) != 0
}

// StatusValue returns (SCT << 8) | SC, comparable against the Status* constants
func (ce *CompletionEntry) StatusValue() uint16 {
	return uint16(ce.SCT())<<8 | uint16(ce.SC())
}

// SetStatus stores a (SCT << 8) | SC value, keeping the phase tag
func (ce *CompletionEntry) SetStatus(v uint16, dnr bool) {
	field := uint16(v&0xFF)<<1 | uint16((v>>8)&0x7)<<9
	if dnr {
		field |= 1 << 15
	}
	ce.Status = field | ce.Status&0x1
}

// Capabilities is the 64-bit CAP register
type Capabilities uint64

// MQES is the 0-based maximum queue entries supported
func (c Capabilities) MQES() uint16 {
	return uint16(c & CAPMQESMask)
}

// ContiguousRequired reports CAP.CQR
func (c Capabilities) ContiguousRequired() bool {
	return c&CAPCQR != 0
}

// Timeout is the worst-case CSTS.RDY transition time (CAP.TO, 500ms units)
func (c Capabilities) Timeout() time.Duration {
	return time.Duration((c&CAPTOMask)>>CAPTOShift) * 500 * time.Millisecond
}

// SupportsNVM reports whether the NVM command set bit is set in CAP.CSS
func (c Capabilities) SupportsNVM() bool {
	return c&CAPCSSNVM != 0
}

// NewCapabilities builds a CAP value with the NVM command set advertised
func NewCapabilities(mqes uint16, timeoutUnits uint8, contiguous bool) Capabilities {
	c := Capabilities(mqes) | Capabilities(timeoutUnits)<<CAPTOShift | CAPCSSNVM
	if contiguous {
		c |= CAPCQR
	}
	return c
}

// ControllerConfig is the 32-bit CC register
type ControllerConfig uint32

func (c ControllerConfig) Enabled() bool { return c&CCEnable != 0 }

func (c ControllerConfig) IOSQES() uint8 {
	return uint8((c & CCIOSQESMask) >> CCIOSQESShift)
}

func (c ControllerConfig) IOCQES() uint8 {
	return uint8((c & CCIOCQESMask) >> CCIOCQESShift)
}

// WithEntrySizes returns c with IOSQES/IOCQES replaced by the given log2 sizes
func (c ControllerConfig) WithEntrySizes(sqes, cqes uint8) ControllerConfig {
	c &^= CCIOSQESMask | CCIOCQESMask
	return c | ControllerConfig(sqes&0xF)<<CCIOSQESShift | ControllerConfig(cqes&0xF)<<CCIOCQESShift
}

// WithEnable returns c with CC.EN set or cleared
func (c ControllerConfig) WithEnable(on bool) ControllerConfig {
	if on {
		return c | CCEnable
	}
	return c &^ CCEnable
}

// AdminQueueAttributes packs AQA from 1-based ASQ/ACQ sizes
func AdminQueueAttributes(asqEntries, acqEntries uint32) uint32 {
	return (asqEntries-1)&0xFFF | ((acqEntries-1)&0xFFF)<<16
}

// SplitAdminQueueAttributes returns the 1-based ASQ and ACQ sizes from AQA
func SplitAdminQueueAttributes(aqa uint32) (asqEntries, acqEntries uint32) {
	return aqa&0xFFF + 1, (aqa>>16)&0xFFF + 1
}

// IdentifyController holds the Identify Controller fields the harness consumes
type IdentifyController struct {
	VID          uint16
	SerialNumber string
	ModelNumber  string
	FirmwareRev  string
	SQES         uint8 // bits 3:0 required, 7:4 maximum (log2)
	CQES         uint8
	NN           uint32
}

// RequiredSQES returns the minimum submission entry size (log2)
func (c *IdentifyController) RequiredSQES() uint8 { return c.SQES & 0xF }

// RequiredCQES returns the minimum completion entry size (log2)
func (c *IdentifyController) RequiredCQES() uint8 { return c.CQES & 0xF }

// LBAFormat is one entry of the namespace LBA format table
type LBAFormat struct {
	MS    uint16 // metadata bytes per LBA
	LBADS uint8  // log2 of the LBA data size
	RP    uint8  // relative performance
}

// DataSize returns the LBA data size in bytes
func (f LBAFormat) DataSize() uint32 {
	if f.LBADS == 0 {
		return 0
	}
	return 1 << f.LBADS
}

// IdentifyNamespace holds the Identify Namespace fields the harness consumes
type IdentifyNamespace struct {
	NSZE  uint64
	NCAP  uint64
	NUSE  uint64
	NLBAF uint8 // 0-based count of LBA formats
	FLBAS uint8
	DPC   uint8
	DPS   uint8
	LBAF  [16]LBAFormat
}

// FormattedLBA returns the LBA format selected by FLBAS
func (ns *IdentifyNamespace) FormattedLBA() LBAFormat {
	return ns.LBAF[ns.FLBAS&0xF]
}

// ProtectionType returns the DPS protection type (bits 2:0)
func (ns *IdentifyNamespace) ProtectionType() uint8 {
	return ns.DPS & DPSTypeMask
}
