package nvmecheck

import "github.com/ehrlich-b/go-nvmecheck/internal/constants"

// Re-export constants for public API
const (
	DefaultCmdWait         = constants.DefaultCmdWait
	DefaultAdminQueueDepth = constants.DefaultAdminQueueDepth
	MinQueueDepth          = constants.MinQueueDepth
	MaxMetaAllocSize       = constants.MaxMetaAllocSize
)

// DefaultSpecRev is the protocol revision groups are selected from when
// Config.SpecRev is empty
const DefaultSpecRev = "1.0b"
