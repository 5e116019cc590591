package nvmecheck

import "github.com/ehrlich-b/go-nvmecheck/internal/errs"

// Error is a classified harness error carrying the failed operation, the
// queue it concerns and, for validation failures, expected and actual
// values. Internal packages build the same type, so errors.As works on
// anything the harness returns.
type Error = errs.Error

// ErrorCode represents high-level error categories
type ErrorCode = errs.Code

const (
	ErrCodeAllocation        = errs.CodeAllocation
	ErrCodeQueueFull         = errs.CodeQueueFull
	ErrCodeTransport         = errs.CodeTransport
	ErrCodeUnexpectedStatus  = errs.CodeUnexpectedStatus
	ErrCodeQueueIdentity     = errs.CodeQueueIdentity
	ErrCodeHeadPointer       = errs.CodeHeadPointer
	ErrCodeCommandID         = errs.CodeCommandID
	ErrCodeNotFound          = errs.CodeNotFound
	ErrCodeDuplicateID       = errs.CodeDuplicateID
	ErrCodeNoSuitableNamspc  = errs.CodeNoSuitableNamspc
	ErrCodeUnsupported       = errs.CodeUnsupported
	ErrCodeFrameworkBug      = errs.CodeFrameworkBug
	ErrCodeCleanup           = errs.CodeCleanup
	ErrCodeTimeout           = errs.CodeTimeout
	ErrCodeInvalidParameters = errs.CodeInvalidParameters
)

// Sentinel errors for errors.Is comparisons. A classified error matches
// the sentinel of its code whatever context it carries.
var (
	ErrAllocation       = errs.ErrAllocation
	ErrQueueFull        = errs.ErrQueueFull
	ErrTransport        = errs.ErrTransport
	ErrUnexpectedStatus = errs.ErrUnexpectedStatus
	ErrQueueIdentity    = errs.ErrQueueIdentity
	ErrHeadPointer      = errs.ErrHeadPointer
	ErrCommandID        = errs.ErrCommandID
	ErrNotFound         = errs.ErrNotFound
	ErrDuplicateID      = errs.ErrDuplicateID
	ErrNoSuitableNamspc = errs.ErrNoSuitableNamspc
	ErrUnsupported      = errs.ErrUnsupported
	ErrFrameworkBug     = errs.ErrFrameworkBug
	ErrCleanup          = errs.ErrCleanup
	ErrTimeout          = errs.ErrTimeout
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return errs.New(op, code, msg)
}

// WrapError wraps an existing error with context. Classified errors keep
// their code, anything else becomes a transport error.
func WrapError(op string, inner error) *Error {
	return errs.Wrap(op, inner)
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	return errs.IsCode(err, code)
}

// CodeOf returns the classification of err, or "" for unclassified errors
func CodeOf(err error) ErrorCode {
	return errs.CodeOf(err)
}
