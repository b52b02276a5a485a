package models

import "fmt"

// Code is a machine-readable error code.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeNotFound           Code = "NOT_FOUND"
	CodeNotJoinable        Code = "NOT_JOINABLE"
	CodeOutOfRange         Code = "OUT_OF_RANGE"
	CodeConflict           Code = "CONFLICT"
	CodeInsufficientItems  Code = "INSUFFICIENT_ITEMS"
	CodeRejected           Code = "REJECTED"
	CodeTransactionTimeout Code = "TRANSACTION_TIMEOUT"
	CodeInvalidState       Code = "INVALID_STATE"
)

// Error is the domain error type. Two errors are equal under errors.Is when
// their codes match, so the sentinels below can be compared against errors
// that carry more specific messages and metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

var (
	ErrValidation         = NewError(CodeValidation, "invalid request")
	ErrNotFound           = NewError(CodeNotFound, "wager not found")
	ErrNotJoinable        = NewError(CodeNotJoinable, "wager is not open")
	ErrOutOfRange         = NewError(CodeOutOfRange, "wagered value outside accepted range")
	ErrConflict           = NewError(CodeConflict, "wager was modified concurrently")
	ErrInsufficientItems  = NewError(CodeInsufficientItems, "items not held by party")
	ErrRejected           = NewError(CodeRejected, "operation rejected")
	ErrTransactionTimeout = NewError(CodeTransactionTimeout, "transaction timed out")
	ErrInvalidState       = NewError(CodeInvalidState, "invalid state transition")
)

// CodeOf returns the code of the first *Error in err's chain, or "" when
// err carries none.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
