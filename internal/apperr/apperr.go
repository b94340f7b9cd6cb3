// Package apperr defines the typed error taxonomy shared by the API.
//
// Every error carries an HTTP-style status code, a severity, a machine-readable
// type tag and optional details. Details are for logs and development builds
// only; use Public to obtain the view that may reach a client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Type is the machine-readable error tag.
type Type string

const (
	TypeValidation      Type = "ValidationError"
	TypeAuthentication  Type = "AuthenticationError"
	TypeAuthorization   Type = "AuthorizationError"
	TypeNotFound        Type = "NotFoundError"
	TypeConflict        Type = "ConflictError"
	TypeDatabase        Type = "DatabaseError"
	TypeExternalService Type = "ExternalServiceError"
	TypeInternal        Type = "InternalError"
)

// Severity ranks how urgently an error needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const genericMessage = "An unexpected error occurred"

// Error is the concrete error value used across the service.
type Error struct {
	Type       Type
	Message    string
	StatusCode int
	Severity   Severity
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same type and, when the target has one,
// the same message. This lets package-level values act as sentinels even
// after details or causes were attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// WithDetails returns a copy of e with the given details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	cp.Details = merged
	return &cp
}

// Wrap returns a copy of e that wraps cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// Internal reports whether the error describes a server-side failure whose
// message should not be shown to end users in production.
func (e *Error) Internal() bool {
	switch e.Type {
	case TypeDatabase, TypeInternal, TypeExternalService:
		return true
	}
	return false
}

// View is the client-facing shape of an error.
type View struct {
	Type       Type           `json:"type"`
	Message    string         `json:"message"`
	StatusCode int            `json:"statusCode"`
	Severity   Severity       `json:"severity"`
	Details    map[string]any `json:"details,omitempty"`
}

// Public renders e for a client. Outside development, server-side failures
// get a generic message and details are always dropped.
func (e *Error) Public(development bool) View {
	v := View{
		Type:       e.Type,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Severity:   e.Severity,
	}
	if development {
		v.Details = e.Details
		if e.Err != nil && e.Internal() {
			v.Message = e.Message + ": " + e.Err.Error()
		}
		return v
	}
	if e.Internal() {
		v.Message = genericMessage
	}
	return v
}

func newError(t Type, status int, sev Severity, msg string) *Error {
	return &Error{Type: t, Message: msg, StatusCode: status, Severity: sev}
}

func Validation(msg string) *Error {
	return newError(TypeValidation, http.StatusBadRequest, SeverityLow, msg)
}

func Authentication(msg string) *Error {
	return newError(TypeAuthentication, http.StatusUnauthorized, SeverityMedium, msg)
}

func Authorization(msg string) *Error {
	return newError(TypeAuthorization, http.StatusForbidden, SeverityMedium, msg)
}

func NotFound(msg string) *Error {
	return newError(TypeNotFound, http.StatusNotFound, SeverityLow, msg)
}

func Conflict(msg string) *Error {
	return newError(TypeConflict, http.StatusConflict, SeverityLow, msg)
}

func Database(msg string, cause error) *Error {
	e := newError(TypeDatabase, http.StatusInternalServerError, SeverityHigh, msg)
	e.Err = cause
	return e
}

func ExternalService(msg string, cause error) *Error {
	e := newError(TypeExternalService, http.StatusBadGateway, SeverityHigh, msg)
	e.Err = cause
	return e
}

func Internal(msg string, cause error) *Error {
	e := newError(TypeInternal, http.StatusInternalServerError, SeverityCritical, msg)
	e.Err = cause
	return e
}

// From returns err as an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", err)
}

// TypeOf returns the type tag of err, or TypeInternal for untyped errors.
func TypeOf(err error) Type {
	return From(err).Type
}
