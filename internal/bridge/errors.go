package bridge

import (
	"errors"
	"fmt"
)

const (
	CodeValidation        = "VALIDATION"
	CodeTransport         = "TRANSPORT"
	CodeApplication       = "APPLICATION"
	CodeNavigationTimeout = "NAVIGATION_TIMEOUT"
	CodeSizeExceeded      = "SIZE_EXCEEDED"
	CodeTabNotFound       = "TAB_NOT_FOUND"
	CodeInjectionFailed   = "INJECTION_FAILED"
	CodeHostUnavailable   = "HOST_UNAVAILABLE"
	CodeNotFound          = "NOT_FOUND"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a CodedError for packages layered on the bridge.
func NewError(code, msg string, cause error) error { return newError(code, msg, cause) }

// ErrorCode returns the code of the first CodedError in err's chain, or "".
func ErrorCode(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool { return ErrorCode(err) == code }

// Message returns the human-readable part of err: the page's own message
// for application errors, the message and cause otherwise.
func Message(err error) string {
	var ce *CodedError
	if !errors.As(err, &ce) {
		return err.Error()
	}
	if ce.Cause == nil {
		return ce.Message
	}
	return ce.Message + ": " + ce.Cause.Error()
}
