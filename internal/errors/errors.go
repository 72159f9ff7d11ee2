// Package errors defines the error kinds surfaced by the file storage core.
package errors

import "fmt"

// Error is a storage error with a machine-readable code, a human-readable
// message, the HTTP status used by the server layer, and an optional cause.
//
// Two errors are considered the same kind when their codes match, so a copy
// produced by WithCause or WithMessage still satisfies errors.Is against the
// predeclared value.
type Error struct {
	// Code identifies the error kind (e.g. "VariantNotFound").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the status code the HTTP layer responds with.
	HTTPStatus int
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMessage returns a copy of the error with a formatted message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Predeclared error kinds.
var (
	// ErrInvalidStream is returned when a non-stream or unreadable value is
	// attached as the pending resource of a file.
	ErrInvalidStream = &Error{
		Code:       "InvalidStream",
		Message:    "The given resource is not an open readable stream",
		HTTPStatus: 400,
	}

	// ErrPathNotSet is returned when the path of a file is read before a path
	// builder or caller assigned it.
	ErrPathNotSet = &Error{
		Code:       "PathNotSet",
		Message:    "Path has not been set",
		HTTPStatus: 500,
	}

	// ErrVariantNotFound is returned when a variant name does not exist.
	ErrVariantNotFound = &Error{
		Code:       "VariantNotFound",
		Message:    "The specified variant does not exist",
		HTTPStatus: 404,
	}

	// ErrVariantMissingPath is returned when deleting a variant that was never
	// persisted.
	ErrVariantMissingPath = &Error{
		Code:       "VariantMissingPath",
		Message:    "The specified variant is missing a path",
		HTTPStatus: 409,
	}

	// ErrInvalidHookType is returned for an unrecognized lifecycle phase.
	ErrInvalidHookType = &Error{
		Code:       "InvalidHookType",
		Message:    "The hook type is invalid",
		HTTPStatus: 500,
	}

	// ErrUnknownStorage is returned when a storage name has no configured backend.
	ErrUnknownStorage = &Error{
		Code:       "UnknownStorage",
		Message:    "The specified storage is not configured",
		HTTPStatus: 400,
	}

	// ErrBackendWrite wraps a failed write on a storage backend.
	ErrBackendWrite = &Error{
		Code:       "BackendWrite",
		Message:    "Writing to the storage backend failed",
		HTTPStatus: 502,
	}

	// ErrBackendDelete wraps a failed delete on a storage backend.
	ErrBackendDelete = &Error{
		Code:       "BackendDelete",
		Message:    "Deleting from the storage backend failed",
		HTTPStatus: 502,
	}

	// ErrBackendRead wraps a failed read on a storage backend.
	ErrBackendRead = &Error{
		Code:       "BackendRead",
		Message:    "Reading from the storage backend failed",
		HTTPStatus: 502,
	}

	// ErrIO is returned when a local file cannot be opened.
	ErrIO = &Error{
		Code:       "IOError",
		Message:    "The local file could not be opened",
		HTTPStatus: 400,
	}

	// ErrNoStream is returned when storing a file without a pending stream.
	ErrNoStream = &Error{
		Code:       "NoStream",
		Message:    "The file has no stream attached",
		HTTPStatus: 400,
	}

	// ErrFileNotFound is returned when a stored file or file record does not exist.
	ErrFileNotFound = &Error{
		Code:       "FileNotFound",
		Message:    "The specified file does not exist",
		HTTPStatus: 404,
	}

	// ErrInvalidAttributes is returned when a file is created from invalid attributes.
	ErrInvalidAttributes = &Error{
		Code:       "InvalidAttributes",
		Message:    "The file attributes are invalid",
		HTTPStatus: 400,
	}

	// ErrUnauthenticated is returned when an API request carries no valid
	// credentials.
	ErrUnauthenticated = &Error{
		Code:       "Unauthenticated",
		Message:    "A valid API key is required",
		HTTPStatus: 401,
	}

	// ErrAccessDenied is returned when a signed request fails verification.
	ErrAccessDenied = &Error{
		Code:       "AccessDenied",
		Message:    "Access Denied",
		HTTPStatus: 403,
	}

	// ErrInternal is returned for unexpected internal failures.
	ErrInternal = &Error{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
