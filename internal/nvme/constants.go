// Package nvme provides the protocol-defined layouts used by the queue engine:
// submission and completion entries, controller registers and Identify data.
package nvme

// Entry sizes as log2 values carried in CC.IOSQES/IOCQES and Identify SQES/CQES
const (
	SQESLog2 = 6 // 64-byte submission entries
	CQESLog2 = 4 // 16-byte completion entries

	SubmissionEntrySize = 1 << SQESLog2
	CompletionEntrySize = 1 << CQESLog2
)

// Admin command opcodes
const (
	AdminDeleteIOSQ  = 0x00
	AdminCreateIOSQ  = 0x01
	AdminGetLogPage  = 0x02
	AdminDeleteIOCQ  = 0x04
	AdminCreateIOCQ  = 0x05
	AdminIdentify    = 0x06
	AdminAbort       = 0x08
	AdminSetFeatures = 0x09
	AdminGetFeatures = 0x0A
)

// NVM command set opcodes
const (
	NVMFlush              = 0x00
	NVMWrite              = 0x01
	NVMRead               = 0x02
	NVMWriteUncorrectable = 0x04
	NVMCompare            = 0x05
)

// Identify CNS values
const (
	CNSNamespace  = 0x00
	CNSController = 0x01
)

// Feature identifiers
const (
	FeatureNumberOfQueues = 0x07
)

// Status values are (SCT << 8) | SC, i.e. the status field without phase,
// CRD, More and DNR bits.
const (
	StatusSuccess            uint16 = 0x000
	StatusInvalidOpcode      uint16 = 0x001
	StatusInvalidField       uint16 = 0x002
	StatusCIDConflict        uint16 = 0x003
	StatusDataXferError      uint16 = 0x004
	StatusInternalError      uint16 = 0x006
	StatusInvalidNamespace   uint16 = 0x00B
	StatusLBAOutOfRange      uint16 = 0x080
	StatusCQInvalid          uint16 = 0x100
	StatusInvalidQueueID     uint16 = 0x101
	StatusInvalidQueueSize   uint16 = 0x102
	StatusInvalidQueueDelete uint16 = 0x10C
)

// Controller register offsets
const (
	RegCAP  = 0x00
	RegVS   = 0x08
	RegCC   = 0x14
	RegCSTS = 0x1C
	RegAQA  = 0x24
	RegASQ  = 0x28
	RegACQ  = 0x30
)

// CAP fields
const (
	CAPMQESMask = 0xFFFF
	CAPCQR      = 1 << 16
	CAPTOShift  = 24
	CAPTOMask   = 0xFF << CAPTOShift
	CAPCSSNVM   = 1 << 37
)

// CC fields
const (
	CCEnable      = 1 << 0
	CCCSSShift    = 4
	CCCSSMask     = 0x7 << CCCSSShift
	CCIOSQESShift = 16
	CCIOSQESMask  = 0xF << CCIOSQESShift
	CCIOCQESShift = 20
	CCIOCQESMask  = 0xF << CCIOCQESShift
)

// CSTS fields
const (
	CSTSReady = 1 << 0
	CSTSFatal = 1 << 1
)

// Data protection settings
const (
	DPSTypeMask = 0x07
)
