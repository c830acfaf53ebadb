// Package apperr defines the error taxonomy shared by the access gate, the
// domain services and the HTTP layer, and renders it as JSON responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Kind classifies an error for the caller. The value is part of the response
// body so clients can route on it (e.g. registration vs. pending screen).
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindNoTenant        Kind = "no_tenant"
	KindTenantNotActive Kind = "tenant_not_active"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindInvalid         Kind = "invalid"
	KindConflict        Kind = "conflict"
	KindUpstream        Kind = "upstream_failure"
)

// ErrNotFound is returned by repositories when a lookup matches zero rows.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned by repositories when a conditional write did not
// apply because the row was not in the expected state.
var ErrConflict = errors.New("record state conflict")

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail returns the error with an additional detail key set.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(msg string) *Error { return New(KindUnauthenticated, msg) }
func Forbidden(msg string) *Error       { return New(KindForbidden, msg) }
func NotFound(msg string) *Error        { return New(KindNotFound, msg) }
func Invalid(msg string) *Error         { return New(KindInvalid, msg) }
func Conflict(msg string) *Error        { return New(KindConflict, msg) }

// Upstream wraps a store or external service failure. The message of the
// underlying error is passed through to the client verbatim.
func Upstream(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindUpstream, Message: err.Error(), Err: err}
}

// FromStore maps repository errors: ErrNotFound becomes a not_found error with
// the given message, ErrConflict a conflict, anything else an upstream failure.
func FromStore(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Message: notFoundMsg, Err: err}
	case errors.Is(err, ErrConflict):
		return &Error{Kind: KindConflict, Message: "record was modified concurrently", Err: err}
	default:
		return Upstream(err)
	}
}

// KindOf reports the kind of err, or KindUpstream for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUpstream
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNoTenant, KindTenantNotActive, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalid:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape of every error response.
type Body struct {
	Error   string            `json:"error"`
	Kind    Kind              `json:"kind"`
	Details map[string]string `json:"details,omitempty"`
}

// HTTPErrorHandler renders errors returned by handlers and middleware.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

// StatusOf returns the HTTP status the error handler will use for err.
func StatusOf(err error) int {
	status, _ := render(err)
	return status
}

func render(err error) (int, Body) {
	var ae *Error
	if errors.As(err, &ae) {
		return Status(ae.Kind), Body{Error: ae.Message, Kind: ae.Kind, Details: ae.Details}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		return he.Code, Body{Error: msg, Kind: kindForStatus(he.Code)}
	}

	return http.StatusInternalServerError, Body{Error: err.Error(), Kind: KindUpstream}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthenticated
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	}
	if status < http.StatusInternalServerError {
		return KindInvalid
	}
	return KindUpstream
}
