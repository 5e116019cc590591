// Package errs defines the classified error taxonomy shared by the queue
// engine, the registry and the compliance test cases.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents a high-level error category
type Code string

const (
	CodeAllocation        Code = "allocation"
	CodeQueueFull         Code = "queue full"
	CodeTransport         Code = "transport"
	CodeUnexpectedStatus  Code = "unexpected status"
	CodeQueueIdentity     Code = "queue identity mismatch"
	CodeHeadPointer       Code = "head pointer mismatch"
	CodeCommandID         Code = "command id mismatch"
	CodeNotFound          Code = "not found"
	CodeDuplicateID       Code = "duplicate id"
	CodeNoSuitableNamspc  Code = "no suitable namespace"
	CodeUnsupported       Code = "unsupported feature"
	CodeFrameworkBug      Code = "framework bug"
	CodeCleanup           Code = "cleanup"
	CodeTimeout           Code = "timeout"
	CodeInvalidParameters Code = "invalid parameters"
)

// NoQueue marks an error that is not tied to a particular queue.
const NoQueue = -1

// Error represents a classified harness error with expected/actual context
type Error struct {
	Op       string // Operation that failed (e.g., "Reap", "Register")
	Code     Code   // Classification
	Queue    int    // Queue id (NoQueue if not applicable)
	Expected any    // Expected value for validation failures
	Actual   any    // Observed value for validation failures
	Msg      string // Human-readable message
	Inner    error  // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.Expected != nil || e.Actual != nil {
		parts = append(parts, fmt.Sprintf("expected=%v actual=%v", e.Expected, e.Actual))
	}

	msg := e.Msg
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("nvmecheck: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("nvmecheck: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches another *Error by code, so sentinels like ErrQueueFull work
// with errors.Is regardless of the context they carry.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// Sentinels for errors.Is comparisons
var (
	ErrAllocation       = &Error{Code: CodeAllocation, Queue: NoQueue}
	ErrQueueFull        = &Error{Code: CodeQueueFull, Queue: NoQueue}
	ErrTransport        = &Error{Code: CodeTransport, Queue: NoQueue}
	ErrUnexpectedStatus = &Error{Code: CodeUnexpectedStatus, Queue: NoQueue}
	ErrQueueIdentity    = &Error{Code: CodeQueueIdentity, Queue: NoQueue}
	ErrHeadPointer      = &Error{Code: CodeHeadPointer, Queue: NoQueue}
	ErrCommandID        = &Error{Code: CodeCommandID, Queue: NoQueue}
	ErrNotFound         = &Error{Code: CodeNotFound, Queue: NoQueue}
	ErrDuplicateID      = &Error{Code: CodeDuplicateID, Queue: NoQueue}
	ErrNoSuitableNamspc = &Error{Code: CodeNoSuitableNamspc, Queue: NoQueue}
	ErrUnsupported      = &Error{Code: CodeUnsupported, Queue: NoQueue}
	ErrFrameworkBug     = &Error{Code: CodeFrameworkBug, Queue: NoQueue}
	ErrCleanup          = &Error{Code: CodeCleanup, Queue: NoQueue}
	ErrTimeout          = &Error{Code: CodeTimeout, Queue: NoQueue}
)

// New creates a new classified error
func New(op string, code Code, msg string) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Queue: NoQueue,
		Msg:   msg,
	}
}

// Newf creates a new classified error with a formatted message
func Newf(op string, code Code, format string, args ...any) *Error {
	return New(op, code, fmt.Sprintf(format, args...))
}

// NewQueueError creates a new queue-specific error
func NewQueueError(op string, queue uint16, code Code, msg string) *Error {
	return &Error{
		Op:    op,
		Code:  code,
		Queue: int(queue),
		Msg:   msg,
	}
}

// NewMismatch creates a validation error carrying expected and actual values
func NewMismatch(op string, queue uint16, code Code, expected, actual any) *Error {
	return &Error{
		Op:       op,
		Code:     code,
		Queue:    int(queue),
		Expected: expected,
		Actual:   actual,
	}
}

// Wrap wraps an existing error with context. An already classified error
// keeps its code; anything else is treated as a transport failure.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ce *Error
	if errors.As(inner, &ce) {
		return &Error{
			Op:       op,
			Code:     ce.Code,
			Queue:    ce.Queue,
			Expected: ce.Expected,
			Actual:   ce.Actual,
			Msg:      ce.Msg,
			Inner:    ce.Inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  CodeTransport,
		Queue: NoQueue,
		Inner: inner,
	}
}

// WrapCode wraps an error under an explicit classification
func WrapCode(op string, code Code, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{
		Op:    op,
		Code:  code,
		Queue: NoQueue,
		Inner: inner,
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf returns the classification of err, or "" when err is not classified
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
