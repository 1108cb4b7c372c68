// Package apperr carries the stable error codes returned across the API
// boundary. Domain packages keep their own sentinel errors and wrap them in
// an *Error so callers can match on either.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code is a language-neutral error code.
type Code string

const (
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeProtectedRole     Code = "PROTECTED_ROLE"
	CodeRoleInUse         Code = "ROLE_IN_USE"
	CodeVersionConflict   Code = "VERSION_CONFLICT"
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
	CodeInternal          Code = "INTERNAL"
)

// Code sentinels. errors.Is(err, ErrNotFound) matches any *Error carrying
// CodeNotFound.
var (
	ErrPermissionDenied  = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid transition"}
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrProtectedRole     = &Error{Code: CodeProtectedRole, Message: "role is protected"}
	ErrRoleInUse         = &Error{Code: CodeRoleInUse, Message: "role is assigned to users"}
	ErrVersionConflict   = &Error{Code: CodeVersionConflict, Message: "version conflict"}
)

// Error is a typed failure returned to callers of the core.
type Error struct {
	Code    Code
	Message string
	Field   string // set for validation errors
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", e.Field, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by code so that wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the caller may re-read and reapply.
func (e *Error) Retryable() bool { return e.Code == CodeVersionConflict }

// New builds an error with the given code.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation reports an invalid or missing field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Denied reports a failed authorization check.
func Denied(format string, args ...any) *Error {
	return New(CodePermissionDenied, format, args...)
}

// CodeOf extracts the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodePermissionDenied, CodeProtectedRole:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeRoleInUse, CodeVersionConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

type body struct {
	Error payload `json:"error"`
}

type payload struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Write renders err as the JSON error envelope. Internal errors never leak
// their message.
func Write(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	p := payload{Code: code, Message: "internal error"}
	var e *Error
	if errors.As(err, &e) {
		p.Message = e.Message
		p.Field = e.Field
		p.Retryable = e.Retryable()
	}
	if code == CodeInternal {
		p.Message = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(body{Error: p})
}
