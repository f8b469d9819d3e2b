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

// Is reports whether target carries the same error code, so clones with
// custom messages still match their predefined kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
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

// Generic errors.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Term registry errors.
var (
	ErrInvalidRange    = New("INVALID_RANGE", http.StatusUnprocessableEntity, "end must be after start")
	ErrInvalidWindow   = New("INVALID_WINDOW", http.StatusUnprocessableEntity, "invalid enrollment window")
	ErrInvalidSequence = New("INVALID_SEQUENCE", http.StatusUnprocessableEntity, "quarter windows are out of sequence")
	ErrTermInactive    = New("TERM_INACTIVE", http.StatusPreconditionFailed, "term is not active")
	ErrTermInUse       = New("TERM_IN_USE", http.StatusConflict, "term is referenced by other records")
)

// Capacity ledger errors.
var (
	ErrOverCapacity           = New("OVER_CAPACITY", http.StatusConflict, "faculty has reached the maximum number of loads")
	ErrScheduleConflict       = New("SCHEDULE_CONFLICT", http.StatusConflict, "faculty already has a load in this time slot")
	ErrAdviserAlreadyAssigned = New("ADVISER_ALREADY_ASSIGNED", http.StatusConflict, "section already has an adviser for this term")
)

// Grade workflow errors.
var (
	ErrInvalidBatchState  = New("INVALID_BATCH_STATE", http.StatusConflict, "every grade in the batch must be submitted for approval")
	ErrRequestExpired     = New("REQUEST_EXPIRED", http.StatusForbidden, "grade input request has expired")
	ErrRequestNotApproved = New("REQUEST_NOT_APPROVED", http.StatusForbidden, "no approved grade input request for this class and quarter")
	ErrGradeLocked        = New("GRADE_LOCKED", http.StatusConflict, "grade record is not editable in its current status")
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

// Internal wraps an unexpected failure with the provided message.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}
