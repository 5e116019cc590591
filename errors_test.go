package nvmecheck

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/ehrlich-b/go-nvmecheck/internal/errs"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Register", ErrCodeDuplicateID, "group id already registered")

	if err.Op != "Register" {
		t.Errorf("Expected Op=Register, got %s", err.Op)
	}

	if err.Code != ErrCodeDuplicateID {
		t.Errorf("Expected Code=ErrCodeDuplicateID, got %s", err.Code)
	}

	expected := "nvmecheck: group id already registered (op=Register)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestMismatchError(t *testing.T) {
	err := errs.NewMismatch("ValidateHeadPointer", 1, ErrCodeHeadPointer, uint16(3), uint16(4))

	expected := "nvmecheck: head pointer mismatch (op=ValidateHeadPointer, queue=1, expected=3 actual=4)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}

	var ce *Error
	if !errors.As(fmt.Errorf("case failed: %w", err), &ce) {
		t.Fatal("errors.As should find *Error through fmt wrapping")
	}
	if ce.Expected != uint16(3) || ce.Actual != uint16(4) {
		t.Errorf("Expected 3/4, got %v/%v", ce.Expected, ce.Actual)
	}
}

func TestWrapError(t *testing.T) {
	err := WrapError("PollCompletion", io.ErrUnexpectedEOF)

	if err.Code != ErrCodeTransport {
		t.Errorf("Expected Code=ErrCodeTransport, got %s", err.Code)
	}

	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Expected wrapped error to satisfy errors.Is for the inner error")
	}

	// A classified inner error keeps its code under the new op
	inner := errs.NewQueueError("AppendEntry", 2, ErrCodeQueueFull, "ring full")
	rewrapped := WrapError("Send", inner)
	if rewrapped.Code != ErrCodeQueueFull || rewrapped.Op != "Send" || rewrapped.Queue != 2 {
		t.Errorf("Unexpected rewrap %+v", rewrapped)
	}

	if WrapError("nothing", nil) != nil {
		t.Error("Wrapping nil should return nil")
	}
}

func TestSentinelErrors(t *testing.T) {
	var sentinelErr error = ErrNotFound

	structuredErr := NewError("Lookup", ErrCodeNotFound, "no group ASQ_GROUP_ID")
	if !errors.Is(structuredErr, ErrNotFound) {
		t.Error("Structured error should match sentinel via errors.Is")
	}

	if errors.Is(structuredErr, ErrDuplicateID) {
		t.Error("Structured error should not match a sentinel of another code")
	}

	if sentinelErr.Error() != "nvmecheck: not found" {
		t.Errorf("Expected sentinel error message, got %q", sentinelErr.Error())
	}

	wrappedErr := fmt.Errorf("group setup: %w", structuredErr)
	if !errors.Is(wrappedErr, ErrNotFound) {
		t.Error("Wrapped error should match sentinel")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Reap", ErrCodeTimeout, "no completion")

	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode should return true for matching code")
	}

	if IsCode(err, ErrCodeTransport) {
		t.Error("IsCode should return false for non-matching code")
	}

	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode should return false for nil error")
	}

	if IsCode(io.EOF, ErrCodeTransport) {
		t.Error("IsCode should return false for an unclassified error")
	}
}

func TestCodeOf(t *testing.T) {
	testCases := []struct {
		err      error
		expected ErrorCode
	}{
		{nil, ""},
		{io.EOF, ""},
		{ErrCleanup, ErrCodeCleanup},
		{fmt.Errorf("x: %w", ErrFrameworkBug), ErrCodeFrameworkBug},
		{errs.WrapCode("Free", ErrCodeCleanup, io.ErrClosedPipe), ErrCodeCleanup},
	}

	for _, tc := range testCases {
		if code := CodeOf(tc.err); code != tc.expected {
			t.Errorf("CodeOf(%v) = %q, want %q", tc.err, code, tc.expected)
		}
	}
}
