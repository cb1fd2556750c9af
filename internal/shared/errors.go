package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so the HTTP edge can pick a status
// without parsing message strings.
type ErrorKind string

const (
	// KindValidation marks malformed or missing input. Caller's fault, never retried.
	KindValidation ErrorKind = "validation"
	// KindAuthorization marks a structurally valid operation performed by an
	// actor without standing (e.g. override-grant priority violation).
	KindAuthorization ErrorKind = "authorization"
	// KindNotFound marks a referenced entity that is absent or soft-deleted.
	KindNotFound ErrorKind = "not_found"
	// KindConflict marks a uniqueness violation ("already assigned").
	KindConflict ErrorKind = "conflict"
	// KindEntitlement marks a denial meaning "your company hasn't purchased this",
	// kept distinct from authorization so the caller can render an upsell instead
	// of a generic 403.
	KindEntitlement ErrorKind = "entitlement"
)

// AppError carries a kind, a user-facing reason, and structured details.
type AppError struct {
	Kind    ErrorKind
	Reason  string
	Details map[string]any
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// WithDetail attaches a structured detail entry and returns the error.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// ValidationError builds a KindValidation error.
func ValidationError(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// AuthorizationError builds a KindAuthorization error.
func AuthorizationError(format string, args ...any) *AppError {
	return &AppError{Kind: KindAuthorization, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError builds a KindNotFound error.
func NotFoundError(format string, args ...any) *AppError {
	return &AppError{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError builds a KindConflict error.
func ConflictError(format string, args ...any) *AppError {
	return &AppError{Kind: KindConflict, Reason: fmt.Sprintf(format, args...)}
}

// EntitlementError builds a KindEntitlement error with noEntitlement set.
func EntitlementError(reason string) *AppError {
	return &AppError{
		Kind:    KindEntitlement,
		Reason:  reason,
		Details: map[string]any{"noEntitlement": true},
	}
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Kind == kind
}

// AsAppError unwraps err into an AppError when possible.
func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	ok := errors.As(err, &ae)
	return ae, ok
}
