package transfer

import (
	"errors"
	"fmt"
)

// Error is returned by every failing easy handle operation. It carries the result code
// the failing step produced together with its description.
type Error struct {
	Op      string // Operation that failed (e.g. "perform", "setopt")
	Code    Code   // Result code of the failing step
	Message string // Human-readable explanation, defaults to the code text
	Err     error  // Underlying error, if any
}

// NewError builds an Error for op. An empty message falls back to the code text.
func NewError(op string, code Code, msg string, cause error) *Error {
	if msg == "" {
		msg = code.String()
	}

	return &Error{Op: op, Code: code, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s (code %d)", e.Message, int(e.Code))
	}

	return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Message, int(e.Code))
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error or a bare Code with the same value.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.Code == t
	case *Error:
		return t != nil && e.Code == t.Code
	}

	return false
}

// MultiError is returned by every failing multi handle operation.
type MultiError struct {
	Op      string
	Code    MultiCode
	Message string
	Err     error
}

// NewMultiError builds a MultiError for op. An empty message falls back to the code text.
func NewMultiError(op string, code MultiCode, msg string, cause error) *MultiError {
	if msg == "" {
		msg = code.String()
	}

	return &MultiError{Op: op, Code: code, Message: msg, Err: cause}
}

func (e *MultiError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s (code %d)", e.Message, int(e.Code))
	}

	return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Message, int(e.Code))
}

func (e *MultiError) Unwrap() error {
	return e.Err
}

func (e *MultiError) Is(target error) bool {
	switch t := target.(type) {
	case MultiCode:
		return e.Code == t
	case *MultiError:
		return t != nil && e.Code == t.Code
	}

	return false
}

// CodeOf extracts the easy result code from err. A nil error is CodeOK, an error
// without a code is reported as CodeRecvError.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	var c Code
	if errors.As(err, &c) {
		return c
	}

	return CodeRecvError
}

// MultiCodeOf extracts the multi result code from err. A nil error is MultiOK, an error
// without a code is reported as MultiInternalError.
func MultiCodeOf(err error) MultiCode {
	if err == nil {
		return MultiOK
	}

	var e *MultiError
	if errors.As(err, &e) {
		return e.Code
	}

	var c MultiCode
	if errors.As(err, &c) {
		return c
	}

	return MultiInternalError
}
