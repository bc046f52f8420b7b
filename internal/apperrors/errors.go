// Package apperrors carries typed failures across the database, tenant, dns
// and HTTP layers.
package apperrors

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindNotFound      Kind = "not_found"
	KindAccessDenied  Kind = "access_denied"
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
	KindUpstream      Kind = "upstream"
	KindUnauthorized  Kind = "unauthorized"
	KindRateLimited   Kind = "rate_limited"
	KindUnsupported   Kind = "unsupported"
	KindUnavailable   Kind = "unavailable"
	KindInternal      Kind = "internal"
)

// MsgNotFoundOrDenied is shared by every tenant-isolation failure so callers
// cannot tell a missing row from another tenant's row.
const MsgNotFoundOrDenied = "record not found or access denied"

type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind so errors.Is(err, apperrors.New(KindNotFound, "")) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, StatusCode: StatusFor(kind)}
}

// Wrap keeps the kind of an existing *Error in the chain.
func Wrap(err error, kind Kind, msg string) *Error {
	var existing *Error
	if errors.As(err, &existing) {
		kind = existing.Kind
	}
	return &Error{Kind: kind, Message: msg, StatusCode: StatusFor(kind), Err: err}
}

func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func AccessDenied(msg string) *Error { return New(KindAccessDenied, msg) }
func Validation(msg string) *Error   { return New(KindValidation, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }
func Upstream(err error, msg string) *Error {
	return &Error{Kind: KindUpstream, Message: msg, StatusCode: StatusFor(KindUpstream), Err: err}
}
func Configuration(msg string) *Error { return New(KindConfiguration, msg) }
func Unsupported(msg string) *Error   { return New(KindUnsupported, msg) }

// NotFoundOrDenied is returned by the tenant-scoping layer for both misses and
// cross-tenant hits.
func NotFoundOrDenied() *Error {
	return New(KindNotFound, MsgNotFoundOrDenied)
}

func HasKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnsupported:
		return http.StatusNotImplemented
	case KindUpstream:
		return http.StatusBadGateway
	case KindUnavailable, KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus resolves the status for any error; unknown errors are 500.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		return StatusFor(e.Kind)
	}
	return http.StatusInternalServerError
}
