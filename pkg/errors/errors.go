package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code. This lets callers match
// on the predefined sentinels after Clone or Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if e == nil || !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrValidation             = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrDuplicateIdentity      = New("DUPLICATE_IDENTITY", http.StatusConflict, "identity already exists")
	ErrConfiguration          = New("CONFIGURATION_ERROR", http.StatusPreconditionFailed, "dojo configuration incomplete")
	ErrCriticalPartialFailure = New("CRITICAL_PARTIAL_FAILURE", http.StatusInternalServerError, "operation stopped after an irreversible step")
	ErrNotFound               = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrProfileUnresolved      = New("PROFILE_UNRESOLVED", http.StatusForbidden, "profile could not be resolved")
	ErrOrphanedAccount        = New("ORPHANED_ACCOUNT", http.StatusConflict, "account has no dojo association")
	ErrStore                  = New("STORE_ERROR", http.StatusBadGateway, "record store error")
	ErrSessionLost            = New("SESSION_LOST", http.StatusUnauthorized, "session could not be restored, reload and sign in again")
	ErrInvalidCredentials     = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrUnauthorized           = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden              = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrPreconditionFailed     = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrInternal               = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss              = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// CloneWrap is Clone with a wrapped cause.
func CloneWrap(template *Error, err error, message string) *Error {
	clone := Clone(template, message)
	if clone != nil {
		clone.Err = err
	}
	return clone
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code string) bool {
	return errors.Is(err, &Error{Code: code})
}
