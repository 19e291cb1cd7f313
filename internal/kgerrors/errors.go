// Package kgerrors is the single error vocabulary for the engine. Every
// component failure is expressed as an *Error with a Kind, so handlers,
// retry loops and the job runner can branch on classification instead of
// string matching.
package kgerrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for handling and HTTP mapping.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindUnauthorized   Kind = "UNAUTHORIZED"
	KindForbidden      Kind = "FORBIDDEN"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindProvider       Kind = "PROVIDER"
	KindBudgetExceeded Kind = "BUDGET_EXCEEDED"
	KindCancelled      Kind = "CANCELLED"
	KindConsistency    Kind = "CONSISTENCY"
	KindTimeout        Kind = "TIMEOUT"
	KindInternal       Kind = "INTERNAL"
)

// Error is the unified error value.
type Error struct {
	Kind       Kind           `json:"kind"`
	Message    string         `json:"message"`
	Op         string         `json:"operation,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Retryable  bool           `json:"retryable"`
	RetryAfter time.Duration  `json:"-"`
	Cause      error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithOp attaches the failed operation name.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithDetail attaches one key/value of context.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// HTTPStatus maps the kind to a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindProvider:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(resource, id string) *Error {
	return New(KindNotFound, "%s %q not found", resource, id).WithDetail("resource", resource).WithDetail("id", id)
}

func Conflict(format string, args ...any) *Error {
	return New(KindConflict, format, args...)
}

// Provider wraps a provider failure; transient controls retryability.
func Provider(transient bool, cause error, format string, args ...any) *Error {
	e := New(KindProvider, format, args...)
	e.Retryable = transient
	e.Cause = cause
	return e
}

// BudgetExceeded flags a bounded algorithm that hit its cap; callers return
// the partial result alongside.
func BudgetExceeded(format string, args ...any) *Error {
	return New(KindBudgetExceeded, format, args...)
}

func Cancelled(op string) *Error {
	return New(KindCancelled, "operation cancelled").WithOp(op)
}

// Consistency signals an invariant violation (e.g. embedding dimension
// mismatch). Never retryable; aborts the current operation only.
func Consistency(format string, args ...any) *Error {
	return New(KindConsistency, format, args...)
}

func Timeout(op string, d time.Duration) *Error {
	e := New(KindTimeout, "%s exceeded %s", op, d).WithOp(op)
	e.Retryable = true
	return e
}

func Internal(cause error, format string, args ...any) *Error {
	e := New(KindInternal, format, args...)
	e.Cause = cause
	return e
}

// Wrap coerces any error into *Error, preserving an existing classification.
func Wrap(err error, op string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" {
			e.Op = op
		}
		return e
	}
	return Internal(err, "%s", err.Error()).WithOp(op)
}

// KindOf extracts the Kind, defaulting to INTERNAL for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the operation may be retried.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
