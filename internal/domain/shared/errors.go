package shared

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes surfaced to bridge callers and the control API
const (
	CodeLocationNull     = "LOCATION_NULL"
	CodeLocationError    = "LOCATION_ERROR"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeGeneric          = "ERROR"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeStorage          = "STORAGE"
	CodeSync             = "SYNC"
	CodeNotFound         = "NOT_FOUND"
)

// NewDomainError creates a new domain error using oops
func NewDomainError(code string, message string) error {
	return oops.
		Code(code).
		In("domain").
		Errorf("%s", message)
}

// NewDomainErrorf creates a new domain error with formatted message
func NewDomainErrorf(code string, format string, args ...interface{}) error {
	return oops.
		Code(code).
		In("domain").
		Errorf(format, args...)
}

// WrapDomainError wraps an existing error with domain context
func WrapDomainError(err error, code string, message string) error {
	return oops.
		Code(code).
		In("domain").
		Wrapf(err, "%s", message)
}

// CodeOf returns the code carried by err, or CodeGeneric when it has none
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil {
			if s := fmt.Sprint(code); s != "" {
				return s
			}
		}
	}
	return CodeGeneric
}

// HasCode reports whether err carries the given code
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// Common domain error builders

func ErrInvalidInput(msg string) error {
	return NewDomainError(CodeInvalidInput, msg)
}

func ErrNotFound(resource string) error {
	return NewDomainErrorf(CodeNotFound, "%s not found", resource)
}

func ErrLocationNull() error {
	return NewDomainError(CodeLocationNull, "Location not available. Please ensure GPS is on.")
}

func ErrLocationError(err error) error {
	return WrapDomainError(err, CodeLocationError, "Failed to get location")
}

func ErrPermissionDenied(err error) error {
	if err == nil {
		err = errors.New("Location permission not granted")
	}
	return WrapDomainError(err, CodePermissionDenied, "Location permission denied")
}

func ErrStorage(err error, op string) error {
	return oops.
		Code(CodeStorage).
		In("storage").
		With("operation", op).
		Wrapf(err, "storage %s failed", op)
}

func ErrSync(err error, recordID int64) error {
	return oops.
		Code(CodeSync).
		In("sync").
		With("record_id", recordID).
		Wrapf(err, "upload of record %d failed", recordID)
}
