package constants

import "time"

// Queue identifiers
const (
	// AdminQueueID is reserved for the admin submission/completion pair
	AdminQueueID = 0

	// IOQueueID is the IO queue id used by the compliance cases
	IOQueueID = 1

	// MinQueueDepth is the hardware ring minimum
	MinQueueDepth = 2

	// DefaultAdminQueueDepth is the number of entries in ASQ and ACQ
	DefaultAdminQueueDepth = 16
)

// Resource registry group ids shared across test cases in one run
const (
	ASQGroupID        = "ASQ_GROUP_ID"
	ACQGroupID        = "ACQ_GROUP_ID"
	IOSQContigGroupID = "IOSQ_CONTIG_GROUP_ID"
	IOCQContigGroupID = "IOCQ_CONTIG_GROUP_ID"
	WriteCmdGroupID   = "WRITE_CMD_GROUP_ID"
)

// Timing constants
const (
	// DefaultCmdWait bounds how long a test waits for a single completion
	DefaultCmdWait = 2 * time.Second

	// CompletionPollInterval is the sleep between empty completion polls
	CompletionPollInterval = 100 * time.Microsecond

	// ReadyPollInterval is the interval to check CSTS.RDY transitions
	ReadyPollInterval = time.Millisecond
)

// Memory allocation constants
const (
	// MaxMetaAllocSize caps the per-command metadata buffer
	MaxMetaAllocSize = 64 * 1024

	// IdentifyDataSize is the size of every Identify data structure
	IdentifyDataSize = 4096
)
