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
	ErrNotFound    = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict    = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation  = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal    = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss   = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrUnknownTag  = New("UNKNOWN_TAG", http.StatusNotFound, "rfid tag is not registered")
	ErrUnknownDev  = New("UNKNOWN_DEVICE", http.StatusNotFound, "device is not registered")
	ErrGateClosed  = New("GATE_CLOSED", http.StatusForbidden, "school is closed")
	ErrWrongClass  = New("WRONG_CLASS", http.StatusForbidden, "student does not belong to this class")
	ErrNoSlot      = New("NO_SCHEDULED_SLOT", http.StatusNotFound, "no scheduled slot for this scan")
	ErrDuplicate   = New("DUPLICATE_CHECKIN", http.StatusConflict, "teacher already checked in")
	ErrExists      = New("ATTENDANCE_EXISTS", http.StatusConflict, "attendance already recorded")
	ErrVerified    = New("ALREADY_VERIFIED", http.StatusConflict, "attendance already verified")
	ErrScanOutside = New("SCAN_OUTSIDE_FIRST", http.StatusPreconditionFailed, "scan outside the room first")
	ErrTeacherDoor = New("TEACHER_WRONG_DOOR", http.StatusForbidden, "teachers must check in at the outside reader")
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

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
