package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API clients and asserted by tests.
const (
	CodeValidation      = "VALIDATION_FAILED"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeStateConflict   = "STATE_CONFLICT"
	CodeInvalidTransit  = "INVALID_TRANSITION"
	CodeNotOpen         = "NOT_OPEN"
	CodeAlreadyAssigned = "ALREADY_ASSIGNED"
	CodeExpired         = "CODE_EXPIRED"
	CodeMismatch        = "CODE_MISMATCH"
	CodeTooManyAttempts = "CODE_TOO_MANY_ATTEMPTS"
	CodeAlreadyConsumed = "CODE_ALREADY_CONSUMED"
	CodeInternal        = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewStateConflict signals an approval-gate guard violation: the ticket is
// not in the approval state the operation requires.
func NewStateConflict(message string, details map[string]any) error {
	return NewDomainError(CodeStateConflict, message, http.StatusConflict, details)
}

// NewInvalidTransition signals a status edge outside the lifecycle machine.
func NewInvalidTransition(from, to string) error {
	return NewDomainError(CodeInvalidTransit, "invalid status transition", http.StatusConflict, map[string]any{
		"from": from,
		"to":   to,
	})
}

// NewNotOpen signals an assignment attempt on a ticket no longer OPEN.
func NewNotOpen(ticketID string) error {
	return NewDomainError(CodeNotOpen, "ticket is not open", http.StatusConflict, map[string]any{
		"ticket_id": ticketID,
	})
}

// NewAlreadyAssigned signals a lost self-assignment race.
func NewAlreadyAssigned(ticketID string) error {
	return NewDomainError(CodeAlreadyAssigned, "ticket already assigned", http.StatusConflict, map[string]any{
		"ticket_id": ticketID,
	})
}

func NewCodeExpired() error {
	return NewDomainError(CodeExpired, "code expired", http.StatusUnprocessableEntity, nil)
}

func NewCodeMismatch(attempts int) error {
	return NewDomainError(CodeMismatch, "code does not match", http.StatusUnprocessableEntity, map[string]any{
		"attempts": attempts,
	})
}

func NewCodeTooManyAttempts() error {
	return NewDomainError(CodeTooManyAttempts, "too many verification attempts", http.StatusUnprocessableEntity, nil)
}

func NewCodeAlreadyConsumed() error {
	return NewDomainError(CodeAlreadyConsumed, "code already consumed", http.StatusUnprocessableEntity, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// HasCode reports whether err is a DomainError carrying the given code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}
