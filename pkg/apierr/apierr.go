// Package apierr defines the gateway's error taxonomy. Every error that
// crosses the HTTP boundary is one of these kinds; anything else is logged
// and converted to Internal so no raw internal error text leaks to clients.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the taxonomy members.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindBadRequest         Kind = "bad_request"
	KindServiceUnavailable Kind = "service_unavailable"
	KindGatewayTimeout     Kind = "gateway_timeout"
	KindInternal           Kind = "internal_error"
)

// Error is a taxonomy member with a client-safe message.
type Error struct {
	Kind    Kind
	Message string

	// Err is the underlying cause, kept for logs and errors.Is chains,
	// never serialized to clients.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NotFound reports that a requested entity does not exist.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// BadRequest reports a request the gateway refuses to serve as given.
func BadRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg}
}

// ServiceUnavailable reports an unreachable or unhealthy backend.
func ServiceUnavailable(msg string, cause error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: msg, Err: cause}
}

// GatewayTimeout reports a backend that accepted the request but did not
// answer within the read deadline.
func GatewayTimeout(msg string, cause error) *Error {
	return &Error{Kind: KindGatewayTimeout, Message: msg, Err: cause}
}

// Internal wraps an unexpected failure behind a generic client message.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: cause}
}

// From returns err as *Error, converting unknown errors to Internal with a
// generic message. The original error is preserved as the cause.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal("an unexpected error occurred", err)
}
