package lifecycle

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error code surfaced to callers.
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeCardNotFound         Code = "CARD_NOT_FOUND"
	CodeCardInactive         Code = "CARD_INACTIVE"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeRoleNotAllowed       Code = "ROLE_NOT_ALLOWED"
	CodeLoopTypeIncompatible Code = "LOOP_TYPE_INCOMPATIBLE"
	CodeMethodNotAllowed     Code = "METHOD_NOT_ALLOWED"
	CodePreconditionFailed   Code = "PRECONDITION_FAILED"
	CodeTenantMismatch       Code = "TENANT_MISMATCH"
	CodeScanConflict         Code = "SCAN_CONFLICT"
	CodeDuplicateScan        Code = "DUPLICATE_SCAN"
	// CodeUnknown classifies failures that are not domain errors.
	CodeUnknown Code = "UNKNOWN_ERROR"
)

// Category groups codes into the error taxonomy.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not_found"
	CategoryInvalidState  Category = "invalid_state"
	CategoryAuthorization Category = "authorization"
	CategoryIncompatible  Category = "incompatible"
	CategoryPrecondition  Category = "precondition_failed"
	CategoryConflict      Category = "conflict"
	CategoryDuplicate     Category = "duplicate"
	CategoryInternal      Category = "internal"
)

func (c Code) Category() Category {
	switch c {
	case CodeCardNotFound:
		return CategoryNotFound
	case CodeCardInactive, CodeInvalidTransition:
		return CategoryInvalidState
	case CodeRoleNotAllowed, CodeTenantMismatch:
		return CategoryAuthorization
	case CodeLoopTypeIncompatible, CodeMethodNotAllowed:
		return CategoryIncompatible
	case CodePreconditionFailed:
		return CategoryPrecondition
	case CodeScanConflict:
		return CategoryConflict
	case CodeDuplicateScan:
		return CategoryDuplicate
	case CodeUnknown:
		return CategoryInternal
	default:
		return CategoryValidation
	}
}

func (c Code) HTTPStatus() int {
	switch c.Category() {
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryAuthorization:
		return http.StatusForbidden
	case CategoryConflict, CategoryDuplicate:
		return http.StatusConflict
	case CategoryInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// Error is a domain failure. It is returned verbatim to callers and never retried internally.
type Error struct {
	Code    Code
	Message string

	// Field names the missing or invalid input for validation and precondition errors.
	Field string
	// Resolution is set on CodeScanConflict.
	Resolution ConflictResolution
	// ExistingStatus is the claim status on CodeDuplicateScan.
	ExistingStatus string
}

func (e *Error) Error() string {
	if e.Resolution != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Resolution, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus is the response status for this error. card_inactive is the only 400-class conflict.
func (e *Error) HTTPStatus() int {
	if e.Code == CodeScanConflict && e.Resolution == ConflictCardInactive {
		return http.StatusBadRequest
	}
	return e.Code.HTTPStatus()
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the domain code from err.
func CodeOf(err error) (Code, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// IsCode reports whether err is a domain error with the given code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

var (
	// ErrCardNotFound is returned by Store lookups when no card matches.
	ErrCardNotFound = errors.New("card not found")
	// ErrStageChanged is returned by Store.ApplyTransition when the card left the expected stage
	// before the write committed.
	ErrStageChanged = errors.New("card stage changed concurrently")
)
