// Package errors provides error code definitions shared across the sync client.
package errors

import "fmt"

// ErrorCode identifies a failure class so callers can route on it without
// string matching.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Transport errors: network failure, timeout, or a non-2xx status.
	// A sync round hit by one of these aborts with local state untouched.
	ErrTransport    ErrorCode = "TRANSPORT_ERROR"
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"

	// Application errors: the server answered but reported success=false.
	ErrApplication ErrorCode = "APPLICATION_ERROR"

	// Sync errors
	ErrSyncInProgress     ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncFailed         ErrorCode = "SYNC_FAILED"
	ErrConflictDescriptor ErrorCode = "CONFLICT_DESCRIPTOR_INVALID"
	ErrConflictUnresolved ErrorCode = "CONFLICT_UNRESOLVED"

	// Local store errors
	ErrStoreCorruption ErrorCode = "STORE_CORRUPTION"
	ErrStoreIO         ErrorCode = "STORE_IO_ERROR"

	// Device identity errors
	ErrDeviceNotRegistered ErrorCode = "DEVICE_NOT_REGISTERED"
)

// AppError carries a code, a human-readable message and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			if appErr.Code == code {
				return true
			}
			err = appErr.Err
			continue
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Code extracts the ErrorCode from an error, or ErrInternal when the error
// carries none.
func Code(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ErrInternal
}
