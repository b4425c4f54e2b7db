// Package apperr holds the error taxonomy shared by the transform core and
// the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorises an error. A Kind is itself an error so callers can match
// with errors.Is(err, apperr.ErrValidation).
type Kind string

const (
	ErrValidation        Kind = "validation"
	ErrUnsupportedFormat Kind = "unsupported_format"
	ErrDecode            Kind = "decode"
	ErrStorage           Kind = "storage"
	ErrFontResource      Kind = "font_resource"
	ErrNotFound          Kind = "not_found"
	ErrUnauthorized      Kind = "unauthorized"
	ErrForbidden         Kind = "forbidden"
	ErrConflict          Kind = "conflict"
	ErrInternal          Kind = "internal"
)

func (k Kind) Error() string {
	return string(k)
}

// Error is a categorised application error. Key names the offending
// transform key or field when there is one.
type Error struct {
	Kind    Kind
	Key     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = fmt.Sprintf("%s: %s", e.Key, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && kind == e.Kind
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation reports a malformed or out-of-range parameter for key.
func Validation(key, message string) *Error {
	return &Error{Kind: ErrValidation, Key: key, Message: message}
}

func UnsupportedFormat(format string) *Error {
	return &Error{Kind: ErrUnsupportedFormat, Key: "format", Message: fmt.Sprintf("%q is not a recognisable image format", format)}
}

func Decode(cause error) *Error {
	return &Error{Kind: ErrDecode, Message: "input is not a valid image", Cause: cause}
}

func Storage(message string, cause error) *Error {
	return &Error{Kind: ErrStorage, Message: message, Cause: cause}
}

func FontResource(message string, cause error) *Error {
	return &Error{Kind: ErrFontResource, Message: message, Cause: cause}
}

func NotFound(message string) *Error {
	return &Error{Kind: ErrNotFound, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Kind: ErrUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: ErrForbidden, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: ErrConflict, Message: message}
}

// KindOf returns the Kind carried by err, or ErrInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}
	return ErrInternal
}

// StatusCode maps err to the HTTP status the API answers with. Storage and
// font failures are deployment problems, so they surface as 5xx.
func StatusCode(err error) int {
	switch KindOf(err) {
	case ErrValidation, ErrUnsupportedFormat, ErrDecode:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to clients.
func PublicMessage(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) || StatusCode(err) >= http.StatusInternalServerError {
		return http.StatusText(StatusCode(err))
	}
	if appErr.Key != "" {
		return fmt.Sprintf("%s: %s", appErr.Key, appErr.Message)
	}
	return appErr.Message
}
