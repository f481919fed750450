package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Subsystem errors wrap one of these so callers can
// classify failures with errors.Is without knowing the subsystem.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrCancelled    = fmt.Errorf("cancelled")
	ErrClosed       = fmt.Errorf("closed")
)

// Sentinel errors for the message pipeline.
var (
	ErrNoMatch          = fmt.Errorf("no listener matched: %w", ErrNotFound)
	ErrCommandNotFound  = fmt.Errorf("command: %w", ErrNotFound)
	ErrCommandExists    = fmt.Errorf("command already registered: %w", ErrDuplicate)
	ErrCommandName      = fmt.Errorf("invalid command name: %w", ErrInvalidInput)
	ErrParamUnresolved  = fmt.Errorf("parameter cannot be resolved: %w", ErrInvalidInput)
	ErrDecode           = fmt.Errorf("decode failed: %w", ErrInvalidInput)
	ErrChannelClosed    = fmt.Errorf("channel: %w", ErrClosed)
	ErrChannelUnhealthy = fmt.Errorf("channel circuit open")
	ErrWaitTimeout      = fmt.Errorf("wait: %w", ErrTimeout)
	ErrWaitCancelled    = fmt.Errorf("wait: %w", ErrCancelled)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Collection.Register")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCancellation reports whether err is an expected control-flow abort
// rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeCancelled        ErrorCode = "CANCELLED"
	CodeClosed           ErrorCode = "CLOSED"
	CodeNoMatch          ErrorCode = "NO_MATCH"
	CodeCommandNotFound  ErrorCode = "COMMAND_NOT_FOUND"
	CodeCommandExists    ErrorCode = "COMMAND_EXISTS"
	CodeCommandName      ErrorCode = "COMMAND_NAME"
	CodeParamUnresolved  ErrorCode = "PARAM_UNRESOLVED"
	CodeDecode           ErrorCode = "DECODE"
	CodeChannelClosed    ErrorCode = "CHANNEL_CLOSED"
	CodeChannelUnhealthy ErrorCode = "CHANNEL_UNHEALTHY"
	CodeWaitTimeout      ErrorCode = "WAIT_TIMEOUT"
	CodeWaitCancelled    ErrorCode = "WAIT_CANCELLED"
)

// errorCodes is ordered most specific first; ErrorCodeOf returns the first match.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrNoMatch, CodeNoMatch},
	{ErrCommandNotFound, CodeCommandNotFound},
	{ErrCommandExists, CodeCommandExists},
	{ErrCommandName, CodeCommandName},
	{ErrParamUnresolved, CodeParamUnresolved},
	{ErrDecode, CodeDecode},
	{ErrChannelClosed, CodeChannelClosed},
	{ErrChannelUnhealthy, CodeChannelUnhealthy},
	{ErrWaitTimeout, CodeWaitTimeout},
	{ErrWaitCancelled, CodeWaitCancelled},

	// Category sentinels (fallback codes).
	{ErrNotFound, CodeNotFound},
	{ErrDuplicate, CodeDuplicate},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrCancelled, CodeCancelled},
	{ErrClosed, CodeClosed},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}
