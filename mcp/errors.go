package mcp

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 error codes plus the MCP specific ones.
const (
	ErrorCodeParseError       = -32700
	ErrorCodeInvalidRequest   = -32600
	ErrorCodeMethodNotFound   = -32601
	ErrorCodeInvalidParams    = -32602
	ErrorCodeInternal         = -32603
	ErrorCodeResourceNotFound = -32002
	ErrorCodeNotInitialized   = -32000
)

// ErrorKind classifies every failure the dispatch core can produce.
type ErrorKind string

const (
	DuplicateRegistration   ErrorKind = "duplicate_registration"
	AmbiguousRegistration   ErrorKind = "ambiguous_registration"
	InvalidRegistration     ErrorKind = "invalid_registration"
	ResourceNotFound        ErrorKind = "resource_not_found"
	ToolNotFound            ErrorKind = "tool_not_found"
	PromptNotFound          ErrorKind = "prompt_not_found"
	MissingArgument         ErrorKind = "missing_argument"
	TypeMismatch            ErrorKind = "type_mismatch"
	UnknownArgument         ErrorKind = "unknown_argument"
	DomainValidation        ErrorKind = "domain_validation"
	ProtocolError           ErrorKind = "protocol_error"
	LifecycleAcquireFailure ErrorKind = "lifecycle_acquire_failure"
	HandlerFailure          ErrorKind = "handler_failure"
)

// Sentinels for errors.Is comparisons by kind.
var (
	ErrDuplicateRegistration   = &Error{Kind: DuplicateRegistration}
	ErrAmbiguousRegistration   = &Error{Kind: AmbiguousRegistration}
	ErrInvalidRegistration     = &Error{Kind: InvalidRegistration}
	ErrResourceNotFound        = &Error{Kind: ResourceNotFound}
	ErrToolNotFound            = &Error{Kind: ToolNotFound}
	ErrPromptNotFound          = &Error{Kind: PromptNotFound}
	ErrMissingArgument         = &Error{Kind: MissingArgument}
	ErrTypeMismatch            = &Error{Kind: TypeMismatch}
	ErrUnknownArgument         = &Error{Kind: UnknownArgument}
	ErrDomainValidation        = &Error{Kind: DomainValidation}
	ErrProtocol                = &Error{Kind: ProtocolError}
	ErrLifecycleAcquireFailure = &Error{Kind: LifecycleAcquireFailure}
	ErrHandlerFailure          = &Error{Kind: HandlerFailure}
)

// Error is both the internal error value and the JSON-RPC error object.
type Error struct {
	Kind    ErrorKind   `json:"-"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

// WithData attaches structured data sent alongside the message on the wire.
func (e *Error) WithData(data interface{}) *Error {
	e.Data = data
	return e
}

// Errorf builds an *Error of the given kind with the JSON-RPC code derived
// from it. A %w verb in format is preserved for errors.Unwrap.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{
		Kind:    kind,
		Code:    codeFor(kind),
		Message: wrapped.Error(),
		cause:   errors.Unwrap(wrapped),
	}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ValidationError is the error domain handlers return for rejected input.
func ValidationError(format string, args ...interface{}) *Error {
	return Errorf(DomainValidation, format, args...)
}

func codeFor(kind ErrorKind) int {
	switch kind {
	case ResourceNotFound:
		return ErrorCodeResourceNotFound
	case ToolNotFound, PromptNotFound, MissingArgument, TypeMismatch, UnknownArgument, DomainValidation:
		return ErrorCodeInvalidParams
	case ProtocolError:
		return ErrorCodeNotInitialized
	default:
		return ErrorCodeInternal
	}
}
