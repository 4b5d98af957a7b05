package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinels for the orchestration core.
var (
	ErrConfiguration         = fmt.Errorf("configuration error")
	ErrUnauthorized          = fmt.Errorf("unauthorized conversation")
	ErrAgentInvocation       = fmt.Errorf("agent invocation failed")
	ErrPersistence           = fmt.Errorf("persistence failed")
	ErrDelivery              = fmt.Errorf("delivery failed")
	ErrUnsupportedCapability = fmt.Errorf("unsupported capability")
	ErrInvalidTrigger        = fmt.Errorf("invalid trigger expression")
	ErrCircuitOpen           = fmt.Errorf("agent runner circuit open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "History.Append")
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

// ErrorCode is a machine-parseable error category for logs.
type ErrorCode string

const (
	CodeUnknown               ErrorCode = "UNKNOWN"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInvalidInput          ErrorCode = "INVALID_INPUT"
	CodeConfiguration         ErrorCode = "CONFIGURATION"
	CodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	CodeAgentInvocation       ErrorCode = "AGENT_INVOCATION"
	CodePersistence           ErrorCode = "PERSISTENCE"
	CodeDelivery              ErrorCode = "DELIVERY"
	CodeUnsupportedCapability ErrorCode = "UNSUPPORTED_CAPABILITY"
	CodeInvalidTrigger        ErrorCode = "INVALID_TRIGGER"
	CodeCircuitOpen           ErrorCode = "CIRCUIT_OPEN"
)

// codeOrder is checked in order so that more specific sentinels win when an
// error wraps several of them (an open circuit is also an invocation failure).
var codeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrCircuitOpen, CodeCircuitOpen},
	{ErrUnsupportedCapability, CodeUnsupportedCapability},
	{ErrInvalidTrigger, CodeInvalidTrigger},
	{ErrConfiguration, CodeConfiguration},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrAgentInvocation, CodeAgentInvocation},
	{ErrPersistence, CodePersistence},
	{ErrDelivery, CodeDelivery},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
}

// ErrorCodeOf returns the machine-parseable error code for err, or
// CodeUnknown if no sentinel in its chain is recognized.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, c := range codeOrder {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
