package cas

import (
	"errors"
	"fmt"
)

// ErrorCode is one of the five wire-level error codes defined by the CAS
// protocol. The Response Renderer emits these verbatim.
type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST" // A required parameter is missing
	CodeInvalidTicket  ErrorCode = "INVALID_TICKET"  // Ticket malformed, unknown, consumed, expired, or not primary on renew
	CodeInvalidService ErrorCode = "INVALID_SERVICE" // Service not authorized, or origin mismatch against the ticket's service
	CodeInternalError  ErrorCode = "INTERNAL_ERROR"  // Callback verification or store failure
	CodeBadPGT         ErrorCode = "BAD_PGT"         // Proxy-granting ticket not found
)

// Error is a protocol-level validation failure. All five kinds are expected,
// recoverable conditions: they are returned as values, never panicked, and
// the renderer maps them onto the wire without further interpretation.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func newInvalidRequest(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func newInvalidTicket(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidTicket, Message: fmt.Sprintf(format, args...)}
}

func newInvalidService(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidService, Message: fmt.Sprintf(format, args...)}
}

func newInternalError(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInternalError, Message: fmt.Sprintf(format, args...)}
}

func newBadPGT(format string, args ...interface{}) *Error {
	return &Error{Code: CodeBadPGT, Message: fmt.Sprintf(format, args...)}
}

// AsError returns err as a protocol *Error if it is one, else nil.
// A nil result for a non-nil err means the error is not a protocol
// condition (for example a fatal misconfiguration), and must not be
// rendered as one of the five wire codes.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

var (
	// NOTE: These 'base' error strings may not be prefixes of each other,
	// otherwise it violates our NewError() concept, which ensures that
	// any error from this package starts with one of these *unique* prefixes
	ErrConnect               = errors.New("Connect failed")
	ErrUnsupported           = errors.New("Unsupported operation")
	ErrTicketNotFound        = errors.New("Ticket not found")
	ErrIdentityNotFound      = errors.New("Identity not found")
	ErrIdentityEmpty         = errors.New("Identity may not be empty")
	ErrIdentityExists        = errors.New("Identity already exists")
	ErrInvalidPassword       = errors.New("Invalid password")
	ErrAuthorizerCapability  = errors.New("Authorization backend is missing a required capability")
	ErrAttributeCallback     = errors.New("Unknown attribute callback")
	ErrAttributeFormat       = errors.New("Unrecognized attribute format")
	ErrServicePatternInvalid = errors.New("Invalid service pattern")
)

// NewError is to be used whenever you return one of the non-protocol errors
// above. We rely upon the prefix of the error string to identify the broad
// category of the error.
func NewError(base error, detail string) error {
	return errors.New(base.Error() + ": " + detail)
}
